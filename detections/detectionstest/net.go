// Package detectionstest provides scripted networks for exercising the
// detection pipeline without model files.
package detectionstest

import (
	"sync"

	"github.com/erictom97/gender-age/detections"
	"gocv.io/x/gocv"
)

// Net replays Outputs one per Forward call and repeats the last one after
// that. A nil output produces an empty Mat.
type Net struct {
	Outputs [][]float32

	mu      sync.Mutex
	inputs  int
	forward int
	closed  bool
}

func NewNet(outputs ...[]float32) *Net {
	return &Net{Outputs: outputs}
}

func (n *Net) SetInput(blob gocv.Mat, name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inputs++
}

func (n *Net) Forward(outputName string) gocv.Mat {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.Outputs) == 0 {
		n.forward++
		return gocv.NewMat()
	}
	out := n.Outputs[min(n.forward, len(n.Outputs)-1)]
	n.forward++
	if out == nil {
		return gocv.NewMat()
	}

	m := gocv.NewMatWithSize(1, len(out), gocv.MatTypeCV32F)
	for i, v := range out {
		m.SetFloatAt(0, i, v)
	}
	return m
}

func (n *Net) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

// Calls is the number of Forward calls so far.
func (n *Net) Calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.forward
}

func (n *Net) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// Face builds one SSD detection record with normalised corners.
func Face(confidence, x1, y1, x2, y2 float32) []float32 {
	return []float32{0, 1, confidence, x1, y1, x2, y2}
}

// Records concatenates detection records into one detector output.
func Records(records ...[]float32) []float32 {
	out := make([]float32, 0, len(records)*7)
	for _, r := range records {
		out = append(out, r...)
	}
	return out
}

// OneHot returns n scores with index hot set to 1.
func OneHot(n, hot int) []float32 {
	s := make([]float32, n)
	s[hot] = 1
	return s
}

// Models wires three scripted nets into a model set.
func Models(face, age, gender *Net) *detections.Models {
	return &detections.Models{Face: face, Age: age, Gender: gender}
}
