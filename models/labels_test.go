package models

import (
	"errors"
	"image"
	"testing"
)

func TestArgMax(t *testing.T) {
	cases := []struct {
		name   string
		scores []float32
		want   int
	}{
		{"empty", nil, -1},
		{"single", []float32{0.3}, 0},
		{"last", []float32{0.1, 0.2, 0.7}, 2},
		{"first of tie", []float32{0.1, 0.45, 0.45}, 1},
		{"negative", []float32{-3, -1, -2}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ArgMax(tc.scores); got != tc.want {
				t.Errorf("ArgMax(%v) expected %d. Got %d", tc.scores, tc.want, got)
			}
		})
	}
}

func TestGenderLabel(t *testing.T) {
	got, err := GenderLabel([]float32{0.2, 0.8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Female" {
		t.Errorf("expected Female. Got %s", got)
	}

	got, err = GenderLabel([]float32{0.5, 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Male" {
		t.Errorf("tie should resolve to the first class. Got %s", got)
	}

	if _, err := GenderLabel(nil); !errors.Is(err, ErrUnknownClass) {
		t.Errorf("expected ErrUnknownClass for empty scores. Got %v", err)
	}
	if _, err := GenderLabel([]float32{0, 0, 1}); !errors.Is(err, ErrUnknownClass) {
		t.Errorf("expected ErrUnknownClass for out of range class. Got %v", err)
	}
}

func TestAgeLabelStripsParentheses(t *testing.T) {
	want := []string{"0-2", "4-6", "8-12", "15-20", "25-32", "38-43", "48-53", "60-100"}
	for i, w := range want {
		scores := make([]float32, len(AgeBuckets))
		scores[i] = 1
		got, err := AgeLabel(scores)
		if err != nil {
			t.Fatalf("bucket %d: unexpected error: %v", i, err)
		}
		if got != w {
			t.Errorf("bucket %d expected %q. Got %q", i, w, got)
		}
	}

	if _, err := AgeLabel([]float32{}); !errors.Is(err, ErrUnknownClass) {
		t.Errorf("expected ErrUnknownClass. Got %v", err)
	}
}

func TestAttributeResultText(t *testing.T) {
	r := AttributeResult{Gender: "Male", Age: "25-32"}
	if got := r.Line(); got != "Gender: Male, Age: 25-32 years" {
		t.Errorf("unexpected line %q", got)
	}
	if got := r.Label(); got != "Male, 25-32" {
		t.Errorf("unexpected label %q", got)
	}
}

func TestPadBox(t *testing.T) {
	cases := []struct {
		name   string
		box    BoundingBox
		w, h   int
		want   image.Rectangle
		wantOK bool
	}{
		{"top left corner", BoundingBox{0, 0, 50, 50}, 200, 200, image.Rect(0, 0, 70, 70), true},
		{"centre", BoundingBox{60, 60, 100, 120}, 200, 200, image.Rect(40, 40, 120, 140), true},
		{"bottom right clamps to extent minus one", BoundingBox{150, 150, 200, 200}, 200, 200, image.Rect(130, 130, 199, 199), true},
		{"outside left edge", BoundingBox{-80, 10, -30, 60}, 200, 200, image.Rectangle{}, false},
		{"outside bottom", BoundingBox{10, 230, 60, 280}, 200, 200, image.Rectangle{}, false},
		{"one pixel image", BoundingBox{0, 0, 1, 1}, 1, 1, image.Rectangle{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := PadBox(tc.box, 20, tc.w, tc.h)
			if ok != tc.wantOK {
				t.Fatalf("expected ok=%v. Got %v (%v)", tc.wantOK, ok, got)
			}
			if got != tc.want {
				t.Errorf("expected %v. Got %v", tc.want, got)
			}
			if ok && (got.Min.X < 0 || got.Min.Y < 0) {
				t.Errorf("negative origin %v", got.Min)
			}
		})
	}
}

func TestBoundingBoxRect(t *testing.T) {
	b := BoundingBox{X1: 1, Y1: 2, X2: 30, Y2: 40}
	if got := b.Rect(); got != image.Rect(1, 2, 30, 40) {
		t.Errorf("unexpected rect %v", got)
	}
}
