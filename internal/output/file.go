package output

import (
	"context"
	"fmt"

	"github.com/facebookincubator/go-belt/tool/logger"
	"gocv.io/x/gocv"

	"github.com/dudu/faceblur/internal/frame"
	"github.com/dudu/faceblur/internal/pipeline"
)

// Writer encodes frames to their destination
type Writer interface {
	Write(mat gocv.Mat) error
	Close() error
}

// OpenFunc creates the Writer of a File sink
type OpenFunc func() (Writer, error)

// File writes every frame exactly once, in index order
type File struct {
	open    OpenFunc
	writer  Writer
	written int
}

var (
	_ pipeline.Sink   = (*File)(nil)
	_ pipeline.Opener = (*File)(nil)
)

// NewFile returns a sink that opens its writer with open
func NewFile(open OpenFunc) *File {
	return &File{open: open}
}

// Open creates the writer. It is safe to call more than once.
func (f *File) Open(ctx context.Context) error {
	if f.writer != nil {
		return nil
	}
	if f.open == nil {
		return fmt.Errorf("%w: no writer configured", pipeline.ErrOutputOpen)
	}

	w, err := f.open()
	if err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrOutputOpen, err)
	}
	f.writer = w
	return nil
}

// Looping is always false for a file
func (f *File) Looping() bool {
	return false
}

// Written returns how many frames have been written
func (f *File) Written() int {
	return f.written
}

// Drain writes the sequence and finalizes the file
func (f *File) Drain(ctx context.Context, seq *frame.Sequence) error {
	if err := f.Open(ctx); err != nil {
		return err
	}

	for i := 0; i < seq.Len(); i++ {
		if err := ctx.Err(); err != nil {
			f.Close()
			return fmt.Errorf("%w: interrupted after %d of %d frames: %w", pipeline.ErrOutput, f.written, seq.Len(), err)
		}

		fr := seq.At(i)
		if err := f.writer.Write(fr.Mat); err != nil {
			f.Close()
			return fmt.Errorf("%w: failed to write frame %d: %w", pipeline.ErrOutput, fr.Index, err)
		}
		f.written++
		logger.Tracef(ctx, "wrote frame %d", fr.Index)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: failed to finalize output: %w", pipeline.ErrOutput, err)
	}
	logger.Infof(ctx, "wrote %d frames", f.written)
	return nil
}

// Close releases the writer
func (f *File) Close() error {
	if f.writer == nil {
		return nil
	}
	err := f.writer.Close()
	f.writer = nil
	return err
}
