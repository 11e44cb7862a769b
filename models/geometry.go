package models

import "image"

// PadBox grows box by padding pixels on every side and clamps the result to
// [0, width-1] x [0, height-1]. It reports false when the clamped region has
// no area.
func PadBox(box BoundingBox, padding, width, height int) (image.Rectangle, bool) {
	x1 := max(0, box.X1-padding)
	y1 := max(0, box.Y1-padding)
	x2 := min(box.X2+padding, width-1)
	y2 := min(box.Y2+padding, height-1)

	// image.Rect would silently swap inverted corners.
	if x2 <= x1 || y2 <= y1 {
		return image.Rectangle{}, false
	}
	return image.Rectangle{Min: image.Pt(x1, y1), Max: image.Pt(x2, y2)}, true
}
