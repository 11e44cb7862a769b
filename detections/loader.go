package detections

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

var (
	ErrModelNotFound = errors.New("model file not found")
	ErrModelLoad     = errors.New("model could not be loaded")
)

// Net is the part of gocv.Net the pipeline needs. *gocv.Net satisfies it.
type Net interface {
	SetInput(blob gocv.Mat, name string)
	Forward(outputName string) gocv.Mat
	Close() error
}

// ModelPaths holds the topology and weights file of each network.
type ModelPaths struct {
	FaceProto   string
	FaceModel   string
	AgeProto    string
	AgeModel    string
	GenderProto string
	GenderModel string
}

// DefaultModelPaths returns the fixed model file names inside dir.
func DefaultModelPaths(dir string) ModelPaths {
	return ModelPaths{
		FaceProto:   filepath.Join(dir, "opencv_face_detector.pbtxt"),
		FaceModel:   filepath.Join(dir, "opencv_face_detector_uint8.pb"),
		AgeProto:    filepath.Join(dir, "age_deploy.prototxt"),
		AgeModel:    filepath.Join(dir, "age_net.caffemodel"),
		GenderProto: filepath.Join(dir, "gender_deploy.prototxt"),
		GenderModel: filepath.Join(dir, "gender_net.caffemodel"),
	}
}

// ExecutableDir is the directory of the running binary, where the model
// files are expected by default.
func ExecutableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

func (p ModelPaths) files() []string {
	return []string{p.FaceProto, p.FaceModel, p.AgeProto, p.AgeModel, p.GenderProto, p.GenderModel}
}

// Check verifies every model file exists and is a regular file.
func (p ModelPaths) Check() error {
	for _, f := range p.files() {
		info, err := os.Stat(f)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrModelNotFound, f, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%w: %s is a directory", ErrModelNotFound, f)
		}
	}
	return nil
}

// Models is one loaded set of networks. A set must not be used by two
// goroutines at once because a net keeps its input blob as state.
type Models struct {
	Face   Net
	Age    Net
	Gender Net
}

// LoadModels reads all three networks from disk.
func LoadModels(paths ModelPaths) (*Models, error) {
	if err := paths.Check(); err != nil {
		return nil, err
	}

	face, err := readNet(paths.FaceModel, paths.FaceProto)
	if err != nil {
		return nil, err
	}
	age, err := readNet(paths.AgeModel, paths.AgeProto)
	if err != nil {
		face.Close()
		return nil, err
	}
	gender, err := readNet(paths.GenderModel, paths.GenderProto)
	if err != nil {
		face.Close()
		age.Close()
		return nil, err
	}

	return &Models{Face: face, Age: age, Gender: gender}, nil
}

func readNet(model, config string) (*gocv.Net, error) {
	net := gocv.ReadNet(model, config)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("%w: %s (%s)", ErrModelLoad, model, config)
	}
	return &net, nil
}

func (m *Models) Destroy() {
	for _, n := range []Net{m.Face, m.Age, m.Gender} {
		if n != nil {
			n.Close()
		}
	}
}
