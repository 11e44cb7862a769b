package detections_test

import (
	"context"
	"errors"
	"image"
	"reflect"
	"testing"

	"github.com/erictom97/gender-age/detections"
	"github.com/erictom97/gender-age/detections/detectionstest"
	"github.com/erictom97/gender-age/models"
	"gocv.io/x/gocv"
)

func blankMat(t *testing.T, w, h int) gocv.Mat {
	t.Helper()
	mat, err := gocv.ImageToMatRGB(image.NewRGBA(image.Rect(0, 0, w, h)))
	if err != nil {
		t.Fatalf("failed to build test image: %v", err)
	}
	t.Cleanup(func() { mat.Close() })
	return mat
}

func TestDecodeDetections(t *testing.T) {
	records := detectionstest.Records(
		detectionstest.Face(0.95, 0.125, 0.25, 0.375, 0.5),
		detectionstest.Face(0.70, 0.5, 0.5, 0.625, 0.625),
		detectionstest.Face(0.20, 0, 0, 1, 1),
		detectionstest.Face(0.71, 0.625, 0.125, 0.875, 0.5),
	)
	// trailing partial record
	records = append(records, 0, 1, 0.99)

	got := detections.DecodeDetections(records, 200, 100, 0.7)
	want := []models.Detection{
		{Box: models.BoundingBox{X1: 25, Y1: 25, X2: 75, Y2: 50}, Confidence: 0.95},
		{Box: models.BoundingBox{X1: 125, Y1: 12, X2: 175, Y2: 50}, Confidence: 0.71},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %+v. Got %+v", want, got)
	}
}

func TestDecodeDetectionsEmpty(t *testing.T) {
	got := detections.DecodeDetections(nil, 100, 100, 0.7)
	if got == nil || len(got) != 0 {
		t.Errorf("expected an empty non-nil slice. Got %#v", got)
	}
}

func TestBoxThickness(t *testing.T) {
	cases := map[int]int{
		50:   1,
		200:  1,
		225:  2,
		375:  2, // 2.5 rounds to even
		525:  4, // 3.5 rounds to even
		1080: 7,
	}
	for height, want := range cases {
		if got := detections.BoxThickness(height); got != want {
			t.Errorf("height %d expected thickness %d. Got %d", height, want, got)
		}
	}
}

func TestLocateFacesNoFace(t *testing.T) {
	img := blankMat(t, 120, 80)
	face := detectionstest.NewNet(detectionstest.Records(detectionstest.Face(0.3, 0.125, 0.125, 0.5, 0.5)))

	annotated, boxes, err := detections.LocateFaces(face, img, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer annotated.Close()

	if len(boxes) != 0 {
		t.Errorf("expected no boxes. Got %v", boxes)
	}
	if annotated.Cols() != 120 || annotated.Rows() != 80 {
		t.Errorf("annotated copy has wrong size %dx%d", annotated.Cols(), annotated.Rows())
	}
}

func TestLocateFacesKeepsDetectorOrder(t *testing.T) {
	img := blankMat(t, 100, 100)
	face := detectionstest.NewNet(detectionstest.Records(
		detectionstest.Face(0.80, 0.5, 0.5, 0.875, 0.875),
		detectionstest.Face(0.99, 0.125, 0.125, 0.375, 0.375),
	))

	annotated, boxes, err := detections.LocateFaces(face, img, 0.7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer annotated.Close()

	want := []models.BoundingBox{{X1: 50, Y1: 50, X2: 87, Y2: 87}, {X1: 12, Y1: 12, X2: 37, Y2: 37}}
	if !reflect.DeepEqual(boxes, want) {
		t.Errorf("expected %v. Got %v", want, boxes)
	}
}

func TestLocateFacesDoesNotTouchInput(t *testing.T) {
	img := blankMat(t, 100, 100)
	face := detectionstest.NewNet(detectionstest.Face(0.9, 0.125, 0.125, 0.875, 0.875))

	annotated, _, err := detections.LocateFaces(face, img, 0.7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer annotated.Close()

	if gocv.CountNonZero(channel(t, img, 1)) != 0 {
		t.Errorf("input image was drawn on")
	}
	if gocv.CountNonZero(channel(t, annotated, 1)) == 0 {
		t.Errorf("expected a green rectangle on the annotated copy")
	}
}

func channel(t *testing.T, img gocv.Mat, i int) gocv.Mat {
	t.Helper()
	chans := gocv.Split(img)
	for j := range chans {
		if j != i {
			chans[j].Close()
		}
	}
	t.Cleanup(func() { chans[i].Close() })
	return chans[i]
}

func TestProcessImageNoFaceSkipsClassifier(t *testing.T) {
	img := blankMat(t, 200, 200)
	face := detectionstest.NewNet(detectionstest.Face(0.1, 0.125, 0.125, 0.375, 0.375))
	age := detectionstest.NewNet(detectionstest.OneHot(8, 0))
	gender := detectionstest.NewNet(detectionstest.OneHot(2, 0))

	res, err := detections.ProcessImage(context.Background(), img, detectionstest.Models(face, age, gender),
		detections.Options{}, &models.ProcessingTimings{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Close()

	if len(res.Boxes) != 0 || len(res.Attributes) != 0 {
		t.Errorf("expected empty result. Got %+v", res)
	}
	if age.Calls() != 0 || gender.Calls() != 0 {
		t.Errorf("classifier invoked: age=%d gender=%d", age.Calls(), gender.Calls())
	}
}

func TestProcessImageOneResultPerBox(t *testing.T) {
	img := blankMat(t, 200, 200)
	face := detectionstest.NewNet(detectionstest.Records(
		detectionstest.Face(0.9, 0.125, 0.125, 0.25, 0.25),
		detectionstest.Face(0.8, 0.5, 0.5, 0.75, 0.75),
		detectionstest.Face(0.75, 0.375, 0.625, 0.5, 0.875),
	))
	gender := detectionstest.NewNet(
		detectionstest.OneHot(2, 1),
		detectionstest.OneHot(2, 0),
		detectionstest.OneHot(2, 1),
	)
	age := detectionstest.NewNet(
		detectionstest.OneHot(8, 4),
		detectionstest.OneHot(8, 7),
		detectionstest.OneHot(8, 0),
	)

	res, err := detections.ProcessImage(context.Background(), img, detectionstest.Models(face, age, gender),
		detections.Options{Threshold: 0.7, Overlay: detections.OverlayPerFace}, &models.ProcessingTimings{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Close()

	want := []models.AttributeResult{
		{Box: models.BoundingBox{X1: 25, Y1: 25, X2: 50, Y2: 50}, Gender: "Female", Age: "25-32"},
		{Box: models.BoundingBox{X1: 100, Y1: 100, X2: 150, Y2: 150}, Gender: "Male", Age: "60-100"},
		{Box: models.BoundingBox{X1: 75, Y1: 125, X2: 100, Y2: 175}, Gender: "Female", Age: "0-2"},
	}
	if !reflect.DeepEqual(res.Attributes, want) {
		t.Errorf("expected %+v. Got %+v", want, res.Attributes)
	}
	if res.Skipped() != 0 {
		t.Errorf("expected no skipped boxes. Got %d", res.Skipped())
	}
}

func TestProcessImageDropsDegenerateCrop(t *testing.T) {
	img := blankMat(t, 100, 100)
	face := detectionstest.NewNet(detectionstest.Records(
		// entirely left of the frame, padding cannot rescue it
		detectionstest.Face(0.9, -0.875, 0.125, -0.5, 0.375),
		detectionstest.Face(0.9, 0.25, 0.25, 0.625, 0.625),
	))
	gender := detectionstest.NewNet(detectionstest.OneHot(2, 0))
	age := detectionstest.NewNet(detectionstest.OneHot(8, 3))

	res, err := detections.ProcessImage(context.Background(), img, detectionstest.Models(face, age, gender),
		detections.Options{}, &models.ProcessingTimings{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Close()

	if len(res.Boxes) != 2 {
		t.Fatalf("expected 2 boxes. Got %v", res.Boxes)
	}
	if len(res.Attributes) != 1 || res.Attributes[0].Box != res.Boxes[1] {
		t.Errorf("expected only the second box classified. Got %+v", res.Attributes)
	}
	if res.Skipped() != 1 {
		t.Errorf("expected 1 skipped box. Got %d", res.Skipped())
	}
	if gender.Calls() != 1 || age.Calls() != 1 {
		t.Errorf("expected one pass per net. Got gender=%d age=%d", gender.Calls(), age.Calls())
	}
}

func TestProcessImageIsIdempotent(t *testing.T) {
	img := blankMat(t, 160, 120)
	run := func() *detections.Result {
		face := detectionstest.NewNet(detectionstest.Face(0.9, 0.25, 0.25, 0.625, 0.75))
		gender := detectionstest.NewNet([]float32{0.4, 0.6})
		age := detectionstest.NewNet([]float32{0.1, 0.1, 0.5, 0.1, 0.1, 0.05, 0.05, 0})
		res, err := detections.ProcessImage(context.Background(), img, detectionstest.Models(face, age, gender),
			detections.Options{}, &models.ProcessingTimings{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		t.Cleanup(func() { res.Close() })
		return res
	}

	first, second := run(), run()
	if !reflect.DeepEqual(first.Boxes, second.Boxes) || !reflect.DeepEqual(first.Attributes, second.Attributes) {
		t.Errorf("results differ: %+v vs %+v", first.Attributes, second.Attributes)
	}
	if first.Attributes[0].Gender != "Female" || first.Attributes[0].Age != "8-12" {
		t.Errorf("unexpected result %+v", first.Attributes[0])
	}
}

func TestProcessImageInferenceFailure(t *testing.T) {
	img := blankMat(t, 100, 100)
	face := detectionstest.NewNet(detectionstest.Face(0.9, 0.25, 0.25, 0.625, 0.625))
	gender := detectionstest.NewNet(nil)
	age := detectionstest.NewNet(detectionstest.OneHot(8, 0))

	_, err := detections.ProcessImage(context.Background(), img, detectionstest.Models(face, age, gender),
		detections.Options{}, &models.ProcessingTimings{})
	if !errors.Is(err, detections.ErrInference) {
		t.Fatalf("expected ErrInference. Got %v", err)
	}
	var perr *detections.ProcessingError
	if !errors.As(err, &perr) || perr.Stage != "classify attributes" {
		t.Errorf("expected a classify stage error. Got %v", err)
	}
}

func TestProcessImageCancelled(t *testing.T) {
	img := blankMat(t, 100, 100)
	face := detectionstest.NewNet(detectionstest.Face(0.9, 0.25, 0.25, 0.625, 0.625))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := detections.ProcessImage(ctx, img, detectionstest.Models(face, detectionstest.NewNet(), detectionstest.NewNet()),
		detections.Options{}, &models.ProcessingTimings{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled. Got %v", err)
	}
	if face.Calls() != 0 {
		t.Errorf("detector ran on a cancelled request")
	}
}

func TestDrawLabelsFirstBox(t *testing.T) {
	results := []models.AttributeResult{
		{Box: models.BoundingBox{X1: 10, Y1: 30, X2: 40, Y2: 60}, Gender: "Male", Age: "4-6"},
		{Box: models.BoundingBox{X1: 100, Y1: 130, X2: 140, Y2: 180}, Gender: "Female", Age: "4-6"},
	}

	perFace := blankMat(t, 200, 200)
	detections.DrawLabels(&perFace, results, detections.OverlayPerFace)
	firstBox := blankMat(t, 200, 200)
	detections.DrawLabels(&firstBox, results, detections.OverlayFirstBox)

	// the second label sits on baseline y=120 starting at x=100
	below := image.Rect(95, 95, 200, 129)
	pf := perFace.Region(below)
	defer pf.Close()
	fb := firstBox.Region(below)
	defer fb.Close()

	if gocv.CountNonZero(channel(t, pf, 1)) == 0 {
		t.Errorf("per-face overlay should draw near the second box")
	}
	if gocv.CountNonZero(channel(t, fb, 1)) != 0 {
		t.Errorf("first-box overlay should draw only near the first box")
	}
}
