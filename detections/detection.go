package detections

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"time"

	"github.com/erictom97/gender-age/models"
	"gocv.io/x/gocv"
)

var ErrInference = errors.New("inference failed")

type ProcessingError struct {
	Stage string
	Cause error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Cause)
	}
	return e.Stage
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

var (
	boxColor   = color.RGBA{G: 255}
	labelColor = color.RGBA{R: 255, G: 255}
)

// OverlayMode selects where result labels are drawn.
type OverlayMode string

const (
	// OverlayPerFace draws each label above its own box.
	OverlayPerFace OverlayMode = "per-face"
	// OverlayFirstBox draws every label above the first box.
	OverlayFirstBox OverlayMode = "first-box"
)

type Options struct {
	Threshold float32
	Overlay   OverlayMode
}

// Result owns Annotated; call Close when done with it.
type Result struct {
	Annotated  gocv.Mat
	Boxes      []models.BoundingBox
	Attributes []models.AttributeResult
}

func (r *Result) Close() error {
	return r.Annotated.Close()
}

// Skipped is the number of boxes whose padded crop was empty.
func (r *Result) Skipped() int {
	return len(r.Boxes) - len(r.Attributes)
}

// ProcessImage runs face location, attribute classification and label
// rendering on img with one model set. img is not modified.
func ProcessImage(ctx context.Context, img gocv.Mat, m *Models, opts Options, timings *models.ProcessingTimings) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	detectStart := time.Now()
	annotated, boxes, err := LocateFaces(m.Face, img, opts.Threshold)
	if err != nil {
		return nil, &ProcessingError{Stage: "locate faces", Cause: err}
	}
	timings.Detect = time.Since(detectStart)

	result := &Result{Annotated: annotated, Boxes: boxes, Attributes: []models.AttributeResult{}}
	if len(boxes) == 0 {
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		result.Close()
		return nil, err
	}

	classifyStart := time.Now()
	attrs, err := ClassifyAttributes(ctx, m.Age, m.Gender, img, boxes)
	if err != nil {
		result.Close()
		return nil, &ProcessingError{Stage: "classify attributes", Cause: err}
	}
	timings.Classify = time.Since(classifyStart)
	result.Attributes = attrs

	renderStart := time.Now()
	DrawLabels(&result.Annotated, attrs, opts.Overlay)
	timings.Render = time.Since(renderStart)

	return result, nil
}

// LocateFaces runs the face detector and returns a copy of img with a green
// rectangle around every face scoring above threshold, plus the boxes in
// detector order. A threshold <= 0 selects DefaultConfidenceThreshold.
func LocateFaces(net Net, img gocv.Mat, threshold float32) (gocv.Mat, []models.BoundingBox, error) {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	if img.Empty() {
		return gocv.NewMat(), nil, fmt.Errorf("%w: empty image", ErrDecode)
	}

	width, height := img.Cols(), img.Rows()

	blob := gocv.BlobFromImage(img, 1.0, image.Pt(FaceInputSize, FaceInputSize),
		gocv.NewScalar(faceMean[0], faceMean[1], faceMean[2], 0), true, false)
	defer blob.Close()

	records, err := forward(net, blob)
	if err != nil {
		return gocv.NewMat(), nil, err
	}

	found := DecodeDetections(records, width, height, threshold)

	annotated := img.Clone()
	thickness := BoxThickness(height)
	boxes := make([]models.BoundingBox, 0, len(found))
	for _, d := range found {
		boxes = append(boxes, d.Box)
		gocv.Rectangle(&annotated, d.Box.Rect(), boxColor, thickness)
	}

	return annotated, boxes, nil
}

// DecodeDetections reads flat SSD output records, keeps those with
// confidence strictly above threshold and scales their normalised corners to
// pixels. A trailing partial record is ignored.
func DecodeDetections(records []float32, width, height int, threshold float32) []models.Detection {
	detections := make([]models.Detection, 0, 8)
	w, h := float32(width), float32(height)

	for i := 0; i+detectionRecordSize <= len(records); i += detectionRecordSize {
		rec := records[i : i+detectionRecordSize]
		confidence := rec[2]
		if !(confidence > threshold) {
			continue
		}
		detections = append(detections, models.Detection{
			Box: models.BoundingBox{
				X1: int(rec[3] * w),
				Y1: int(rec[4] * h),
				X2: int(rec[5] * w),
				Y2: int(rec[6] * h),
			},
			Confidence: confidence,
		})
	}

	return detections
}

// BoxThickness is height/150 rounded half to even, at least one pixel.
func BoxThickness(height int) int {
	return max(1, int(math.RoundToEven(float64(height)/150)))
}

// ClassifyAttributes estimates gender and age for every box. Boxes whose
// padded crop is empty produce no result; the rest keep their input order.
func ClassifyAttributes(ctx context.Context, ageNet, genderNet Net, img gocv.Mat, boxes []models.BoundingBox) ([]models.AttributeResult, error) {
	width, height := img.Cols(), img.Rows()
	results := make([]models.AttributeResult, 0, len(boxes))

	for _, box := range boxes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rect, ok := models.PadBox(box, FacePadding, width, height)
		if !ok {
			continue
		}

		gender, age, err := classifyFace(ageNet, genderNet, img, rect)
		if err != nil {
			return nil, fmt.Errorf("box %v: %w", box, err)
		}
		results = append(results, models.AttributeResult{Box: box, Gender: gender, Age: age})
	}

	return results, nil
}

func classifyFace(ageNet, genderNet Net, img gocv.Mat, rect image.Rectangle) (string, string, error) {
	face := img.Region(rect)
	defer face.Close()

	blob := gocv.BlobFromImage(face, 1.0, image.Pt(AttributeInputSize, AttributeInputSize),
		gocv.NewScalar(attributeMean[0], attributeMean[1], attributeMean[2], 0), false, false)
	defer blob.Close()

	genderScores, err := forward(genderNet, blob)
	if err != nil {
		return "", "", fmt.Errorf("gender: %w", err)
	}
	gender, err := models.GenderLabel(genderScores)
	if err != nil {
		return "", "", err
	}

	ageScores, err := forward(ageNet, blob)
	if err != nil {
		return "", "", fmt.Errorf("age: %w", err)
	}
	age, err := models.AgeLabel(ageScores)
	if err != nil {
		return "", "", err
	}

	return gender, age, nil
}

// forward runs one inference pass and copies the output out of the net's
// buffer, which the next pass overwrites.
func forward(net Net, blob gocv.Mat) ([]float32, error) {
	net.SetInput(blob, "")
	out := net.Forward("")
	defer out.Close()

	if out.Empty() {
		return nil, fmt.Errorf("%w: empty output", ErrInference)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	scores := make([]float32, len(data))
	copy(scores, data)
	return scores, nil
}

// DrawLabels writes "<gender>, <age>" for each result 10px above a box.
func DrawLabels(img *gocv.Mat, results []models.AttributeResult, mode OverlayMode) {
	if len(results) == 0 {
		return
	}
	anchor := results[0].Box
	for _, r := range results {
		box := r.Box
		if mode == OverlayFirstBox {
			box = anchor
		}
		gocv.PutTextWithParams(img, r.Label(), image.Pt(box.X1, box.Y1-10),
			gocv.FontHersheySimplex, 0.8, labelColor, 2, gocv.LineAA, false)
	}
}
