package pipeline

import (
	"context"
	"image"

	"gocv.io/x/gocv"

	"github.com/dudu/faceblur/internal/detector"
	"github.com/dudu/faceblur/internal/frame"
)

// LoadFunc returns a new detector for kind that no other caller shares
type LoadFunc func(kind detector.Kind) (detector.Detector, error)

// Redactor overwrites a clipped region of a frame in place
type Redactor interface {
	Apply(frame *gocv.Mat, rect image.Rectangle) error
}

// Source yields the whole input video as an ordered sequence
type Source interface {
	Load(ctx context.Context) (*frame.Sequence, error)
}

// Sink consumes the processed sequence in index order
type Sink interface {
	Drain(ctx context.Context, seq *frame.Sequence) error
	// Looping reports whether Drain repeats until it is stopped from outside
	Looping() bool
}

// Opener is implemented by sinks that must be opened before any frame is
// loaded, so a bad output fails the run before processing starts
type Opener interface {
	Open(ctx context.Context) error
}

// Recorder persists the outcome of the parallel phase
type Recorder interface {
	Record(ctx context.Context, result *Result) error
}
