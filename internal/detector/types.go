package detector

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	"gocv.io/x/gocv"
)

var (
	// ErrModelLoad is wrapped by every failure to load a detector model
	ErrModelLoad = errors.New("unable to load detector model")

	// ErrFatal marks a detector error that poisons the detector for all
	// later frames, as opposed to a failure on a single frame
	ErrFatal = errors.New("detector is in a failed state")

	// ErrEmptyFrame is returned when Detect gets an empty image
	ErrEmptyFrame = errors.New("empty frame")
)

// Kind identifies what a detector looks for
type Kind int

const (
	Frontal Kind = iota
	Profile
)

// Kinds returns every detector kind in a stable order
func Kinds() []Kind {
	return []Kind{Frontal, Profile}
}

func (k Kind) String() string {
	switch k {
	case Frontal:
		return "frontal"
	case Profile:
		return "profile"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown detector kind: %q", s)
}

// Detector finds candidate regions in a greyscale frame.
// Implementations keep internal state and must not be called concurrently.
type Detector interface {
	Detect(grey gocv.Mat) ([]image.Rectangle, error)
	Close() error
}

// BoundingBox represents a face bounding box
type BoundingBox struct {
	X1, Y1 float32 // top-left
	X2, Y2 float32 // bottom-right
}

// Width returns box width
func (b BoundingBox) Width() float32 {
	return b.X2 - b.X1
}

// Height returns box height
func (b BoundingBox) Height() float32 {
	return b.Y2 - b.Y1
}

// Area returns box area
func (b BoundingBox) Area() float32 {
	return b.Width() * b.Height()
}

// Rect rounds the box outwards to integer pixel coordinates
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(
		int(math.Floor(float64(b.X1))),
		int(math.Floor(float64(b.Y1))),
		int(math.Ceil(float64(b.X2))),
		int(math.Ceil(float64(b.Y2))),
	)
}

// Face represents a detected face
type Face struct {
	BoundingBox BoundingBox
	Score       float32
}

func facesToRects(faces []Face) []image.Rectangle {
	rects := make([]image.Rectangle, 0, len(faces))
	for _, f := range faces {
		rects = append(rects, f.BoundingBox.Rect())
	}
	return rects
}
