// Package redact overwrites regions of a frame with a blurred copy of themselves.
package redact

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// DefaultKernelSize is the side of the averaging window used when none is given
const DefaultKernelSize = 30

// Redactor applies a box blur to rectangular regions of a frame
type Redactor struct {
	Kernel image.Point
}

// New creates a redactor with a size x size averaging kernel
func New(size int) *Redactor {
	if size <= 0 {
		size = DefaultKernelSize
	}
	return &Redactor{Kernel: image.Pt(size, size)}
}

// Clip intersects r with bounds. It reports false when nothing of r is left.
func Clip(r, bounds image.Rectangle) (image.Rectangle, bool) {
	r = r.Canon().Intersect(bounds)
	if r.Empty() {
		return image.Rectangle{}, false
	}
	return r, true
}

// Apply replaces the pixels inside r with their local average.
// r must already be clipped to the frame.
// Pixels outside r are read as blur input near the edges but never written.
func (r *Redactor) Apply(frame *gocv.Mat, rect image.Rectangle) error {
	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
	if rect.Empty() || !rect.In(bounds) {
		return fmt.Errorf("rectangle %v is not inside frame %v", rect, bounds)
	}

	area := frame.Region(rect)
	defer area.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()

	if err := gocv.Blur(area, &blurred, r.Kernel); err != nil {
		return fmt.Errorf("failed to blur %v: %w", rect, err)
	}

	// Region shares memory with frame, so this writes back into the frame
	if err := blurred.CopyTo(&area); err != nil {
		return fmt.Errorf("failed to copy blurred %v: %w", rect, err)
	}
	return nil
}
