package output

import (
	"context"
	"fmt"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"go.uber.org/atomic"
	"gocv.io/x/gocv"

	"github.com/dudu/faceblur/internal/frame"
	"github.com/dudu/faceblur/internal/pipeline"
)

// DefaultDelay is the pause between two displayed frames
const DefaultDelay = 30 * time.Millisecond

const keyEscape = 27

// Surface presents frames to a viewer
type Surface interface {
	Show(frame *gocv.Mat) error
	// WaitKey pauses for delayMs and returns the pressed key or -1
	WaitKey(delayMs int) int
}

// Display shows the sequence over and over until the context is canceled
// or the viewer presses q or ESC.
type Display struct {
	Surface Surface
	Delay   time.Duration

	cycles atomic.Int64
}

var _ pipeline.Sink = (*Display)(nil)

// Looping is always true for a display
func (d *Display) Looping() bool {
	return true
}

// Cycles returns how many full passes over the sequence were shown
func (d *Display) Cycles() int64 {
	return d.cycles.Load()
}

// Drain never writes to the frames it shows
func (d *Display) Drain(ctx context.Context, seq *frame.Sequence) error {
	if d.Surface == nil {
		return fmt.Errorf("%w: display has no surface", pipeline.ErrOutput)
	}
	if seq.Len() == 0 {
		logger.Warnf(ctx, "nothing to display")
		return nil
	}

	delay := d.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	delayMs := max(int(delay.Milliseconds()), 1)

	for {
		for i := 0; i < seq.Len(); i++ {
			if ctx.Err() != nil {
				logger.Debugf(ctx, "display stopped after %d cycles", d.cycles.Load())
				return nil
			}

			f := seq.At(i)
			if err := d.Surface.Show(&f.Mat); err != nil {
				return fmt.Errorf("%w: failed to show frame %d: %w", pipeline.ErrOutput, f.Index, err)
			}
			if quit(d.Surface.WaitKey(delayMs)) {
				logger.Infof(ctx, "display closed by the viewer after %d cycles", d.cycles.Load())
				return nil
			}
		}
		n := d.cycles.Inc()
		logger.Debugf(ctx, "display cycle %d done", n)
	}
}

func quit(key int) bool {
	switch key {
	case 'q', 'Q', keyEscape:
		return true
	default:
		return false
	}
}
