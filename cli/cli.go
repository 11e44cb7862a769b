// Package cli implements the one-shot command line mode: detect faces in a
// single image file, print one line per face and show the annotated result.
package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/erictom97/gender-age/detections"
	"github.com/erictom97/gender-age/logger"
	"github.com/erictom97/gender-age/models"
	"gocv.io/x/gocv"
)

const (
	WindowTitle = "Detecting age and gender"
	NoFaceLine  = "No face detected"
)

type Options struct {
	ImagePath string
	// Output, when set, receives the annotated image.
	Output   string
	NoWindow bool
	Pipeline detections.Options
}

// Displayer presents img and returns once the user dismisses it.
type Displayer func(title string, img gocv.Mat)

// ShowWindow opens an OpenCV window and blocks until a key is pressed.
func ShowWindow(title string, img gocv.Mat) {
	window := gocv.NewWindow(title)
	defer window.Close()

	window.IMShow(img)
	window.WaitKey(0)
}

func Run(ctx context.Context, m *detections.Models, opts Options, out io.Writer, show Displayer) error {
	start := time.Now()
	timings := &models.ProcessingTimings{RequestID: opts.ImagePath}

	decodeStart := time.Now()
	img, err := detections.ReadImageFile(opts.ImagePath)
	timings.ImageDecode = time.Since(decodeStart)
	defer img.Close()
	if err != nil {
		return err
	}

	result, err := detections.ProcessImage(ctx, img, m, opts.Pipeline, timings)
	if err != nil {
		return err
	}
	defer result.Close()

	if len(result.Boxes) == 0 {
		fmt.Fprintln(out, NoFaceLine)
		return nil
	}

	if skipped := result.Skipped(); skipped > 0 {
		logger.Warn(logger.Fields{
			"image":   opts.ImagePath,
			"skipped": skipped,
		}, "faces with an empty crop were not classified")
	}

	for _, a := range result.Attributes {
		fmt.Fprintln(out, a.Line())
	}

	if opts.Output != "" {
		encodeStart := time.Now()
		if ok := gocv.IMWrite(opts.Output, result.Annotated); !ok {
			return fmt.Errorf("failed to write %s", opts.Output)
		}
		timings.Encode = time.Since(encodeStart)
	}

	timings.Total = time.Since(start)
	logger.Debug(logger.Fields{
		"image":    opts.ImagePath,
		"detect":   timings.Detect.String(),
		"classify": timings.Classify.String(),
		"render":   timings.Render.String(),
		"total":    timings.Total.String(),
	}, "processing times")

	if !opts.NoWindow && show != nil {
		show(WindowTitle, result.Annotated)
	}
	return nil
}
