package detector

import (
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"
)

// CascadeParams tunes the multi-scale Haar search
type CascadeParams struct {
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int
	MaxSize      int
}

// Cascade is an OpenCV Haar cascade classifier.
// With Mirror set, the frame is also searched flipped horizontally, which lets
// a one-sided profile model find faces turned the other way.
type Cascade struct {
	classifier gocv.CascadeClassifier
	modelPath  string
	params     CascadeParams
	mirror     bool
	flipped    gocv.Mat
}

// NewCascade loads a Haar cascade XML model
func NewCascade(modelPath string, params CascadeParams, mirror bool) (*Cascade, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: cascade model %s: %w", ErrModelLoad, modelPath, err)
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(modelPath) {
		classifier.Close()
		return nil, fmt.Errorf("%w: cascade model %s is not a valid classifier", ErrModelLoad, modelPath)
	}

	if params.ScaleFactor <= 1 {
		params.ScaleFactor = 1.1
	}
	if params.MinNeighbors <= 0 {
		params.MinNeighbors = 3
	}

	c := &Cascade{
		classifier: classifier,
		modelPath:  modelPath,
		params:     params,
		mirror:     mirror,
	}
	if mirror {
		c.flipped = gocv.NewMat()
	}
	return c, nil
}

// Detect finds faces in a greyscale frame
func (c *Cascade) Detect(grey gocv.Mat) ([]image.Rectangle, error) {
	if grey.Empty() {
		return nil, ErrEmptyFrame
	}

	rects := c.detect(grey)
	if !c.mirror {
		return rects, nil
	}

	if err := gocv.Flip(grey, &c.flipped, 1); err != nil {
		return rects, fmt.Errorf("failed to flip frame: %w", err)
	}
	return append(rects, mirrorRects(c.detect(c.flipped), grey.Cols())...), nil
}

// mirrorRects maps rectangles found on a horizontally flipped frame of the
// given width back onto the original frame
func mirrorRects(rects []image.Rectangle, width int) []image.Rectangle {
	out := make([]image.Rectangle, 0, len(rects))
	for _, r := range rects {
		out = append(out, image.Rect(width-r.Max.X, r.Min.Y, width-r.Min.X, r.Max.Y))
	}
	return out
}

func (c *Cascade) detect(grey gocv.Mat) []image.Rectangle {
	return c.classifier.DetectMultiScaleWithParams(
		grey,
		c.params.ScaleFactor,
		c.params.MinNeighbors,
		0,
		image.Pt(c.params.MinSize, c.params.MinSize),
		image.Pt(c.params.MaxSize, c.params.MaxSize),
	)
}

func (c *Cascade) String() string {
	return fmt.Sprintf("Cascade(%s)", c.modelPath)
}

// Close releases the classifier
func (c *Cascade) Close() error {
	if c.mirror {
		c.flipped.Close()
	}
	return c.classifier.Close()
}
