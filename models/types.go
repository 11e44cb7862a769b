package models

import (
	"image"
	"time"
)

// BoundingBox is a face region in pixel coordinates of the source image.
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (b BoundingBox) Rect() image.Rectangle {
	return image.Rectangle{Min: image.Pt(b.X1, b.Y1), Max: image.Pt(b.X2, b.Y2)}
}

type Detection struct {
	Box        BoundingBox
	Confidence float32
}

// AttributeResult is the estimate for a single classified face.
type AttributeResult struct {
	Box    BoundingBox `json:"box"`
	Gender string      `json:"gender"`
	Age    string      `json:"age"`
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Detect      time.Duration
	Classify    time.Duration
	Render      time.Duration
	Encode      time.Duration
	Total       time.Duration
}
