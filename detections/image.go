package detections

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

var ErrDecode = errors.New("decode error")

// DecodeImage turns encoded image bytes into a BGR Mat, applying any EXIF
// orientation first so phone camera captures come out upright.
func DecodeImage(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), fmt.Errorf("%w: empty payload", ErrDecode)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrDecode, err)
	}

	// ImageToMatRGB stores pixels in OpenCV's BGR order.
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), fmt.Errorf("%w: image has no pixels", ErrDecode)
	}
	return mat, nil
}

// ReadImageFile loads an image from disk the way OpenCV does.
func ReadImageFile(path string) (gocv.Mat, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), fmt.Errorf("%w: cannot read %s", ErrDecode, path)
	}
	return mat, nil
}

// OutputFormat is the encoding of annotated images returned to clients.
type OutputFormat string

const (
	FormatPNG  OutputFormat = "png"
	FormatJPEG OutputFormat = "jpeg"
)

func (f OutputFormat) ContentType() string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// EncodeImage serialises img in the given format.
func EncodeImage(img gocv.Mat, format OutputFormat) ([]byte, error) {
	ext := gocv.PNGFileExt
	if format == FormatJPEG {
		ext = gocv.JPEGFileExt
	}

	buf, err := gocv.IMEncode(ext, img)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	defer buf.Close()

	native := buf.GetBytes()
	out := make([]byte, len(native))
	copy(out, native)
	return out, nil
}
