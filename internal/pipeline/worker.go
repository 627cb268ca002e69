package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/observability"
	"gocv.io/x/gocv"

	"github.com/dudu/faceblur/internal/detector"
	"github.com/dudu/faceblur/internal/frame"
	"github.com/dudu/faceblur/internal/redact"
)

// Redaction is one region blurred on one frame
type Redaction struct {
	Frame int
	Kind  detector.Kind
	Rect  image.Rectangle
}

type kindDetector struct {
	kind     detector.Kind
	detector detector.Detector
}

type detection struct {
	rects []image.Rectangle
	err   error
}

// Worker processes the frames of one chunk with detectors nobody else uses.
// It is the only writer of those frames while it runs.
type Worker struct {
	ID    int
	Chunk Chunk

	detectors              []kindDetector
	redactor               Redactor
	maxConsecutiveFailures int
	onFrame                func(index int)

	consecutive map[detector.Kind]int
	redactions  []Redaction
	failures    []*DetectionError
}

// NewWorker loads one detector per kind. A load failure closes the
// detectors already loaded.
func NewWorker(id int, chunk Chunk, load LoadFunc, redactor Redactor) (*Worker, error) {
	w := &Worker{
		ID:          id,
		Chunk:       chunk,
		redactor:    redactor,
		consecutive: map[detector.Kind]int{},
	}
	if chunk.Empty() {
		return w, nil
	}

	for _, kind := range detector.Kinds() {
		d, err := load(kind)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("%w: worker %d: failed to load %s detector: %w", ErrConfiguration, id, kind, err)
		}
		w.detectors = append(w.detectors, kindDetector{kind: kind, detector: d})
	}
	return w, nil
}

// Run processes the chunk in increasing index order. It stops before the
// next frame once ctx is canceled.
func (w *Worker) Run(ctx context.Context, seq *frame.Sequence) error {
	if w.Chunk.Empty() {
		logger.Debugf(ctx, "worker %d: empty chunk", w.ID)
		return nil
	}

	logger.Infof(ctx, "worker %d: processing chunk %s", w.ID, w.Chunk)
	grey := gocv.NewMat()
	defer grey.Close()

	for i := w.Chunk.Start; i < w.Chunk.End; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.processFrame(ctx, seq.At(i), &grey); err != nil {
			return err
		}
		if w.onFrame != nil {
			w.onFrame(i)
		}
	}

	logger.Infof(ctx, "worker %d: chunk %s done, %d redactions, %d detection failures",
		w.ID, w.Chunk, len(w.redactions), len(w.failures))
	return nil
}

func (w *Worker) processFrame(ctx context.Context, f *frame.Frame, grey *gocv.Mat) error {
	logger.Tracef(ctx, "frame %d: converting to greyscale", f.Index)
	if err := gocv.CvtColor(f.Mat, grey, gocv.ColorBGRToGray); err != nil {
		return fmt.Errorf("%w: frame %d cannot be converted to greyscale: %w", ErrInput, f.Index, err)
	}

	results := w.detect(ctx, *grey)

	bounds := image.Rect(0, 0, f.Mat.Cols(), f.Mat.Rows())
	for i, res := range results {
		kind := w.detectors[i].kind
		if res.err != nil {
			if err := w.recordFailure(ctx, f.Index, kind, res.err); err != nil {
				return err
			}
		} else {
			w.consecutive[kind] = 0
		}

		// a failing detector may still have returned regions
		for _, r := range res.rects {
			clipped, ok := redact.Clip(r, bounds)
			if !ok {
				continue
			}
			if err := w.redactor.Apply(&f.Mat, clipped); err != nil {
				return fmt.Errorf("failed to redact %v on frame %d: %w", clipped, f.Index, err)
			}
			w.redactions = append(w.redactions, Redaction{Frame: f.Index, Kind: kind, Rect: clipped})
		}
	}

	logger.Tracef(ctx, "frame %d: done processing", f.Index)
	return nil
}

// detect runs every kind against the same greyscale frame at once and waits for all of them
func (w *Worker) detect(ctx context.Context, grey gocv.Mat) []detection {
	results := make([]detection, len(w.detectors))
	if len(w.detectors) == 1 {
		rects, err := w.detectors[0].detector.Detect(grey)
		results[0] = detection{rects: rects, err: err}
		return results
	}

	var wg sync.WaitGroup
	for i, kd := range w.detectors {
		wg.Add(1)
		observability.Go(ctx, func(ctx context.Context) {
			defer wg.Done()
			rects, err := kd.detector.Detect(grey)
			results[i] = detection{rects: rects, err: err}
		})
	}
	wg.Wait()
	return results
}

func (w *Worker) recordFailure(ctx context.Context, index int, kind detector.Kind, err error) error {
	detErr := &DetectionError{
		Frame: index,
		Chunk: w.Chunk,
		Kind:  kind,
		Err:   err,
	}

	w.consecutive[kind]++
	switch {
	case errors.Is(err, detector.ErrFatal):
		detErr.Fatal = true
	case w.maxConsecutiveFailures > 0 && w.consecutive[kind] >= w.maxConsecutiveFailures:
		detErr.Fatal = true
		detErr.Err = fmt.Errorf("%w: %d consecutive failures, last: %w", detector.ErrFatal, w.consecutive[kind], err)
	}

	if detErr.Fatal {
		logger.Errorf(ctx, "worker %d: %v", w.ID, detErr)
		return detErr
	}

	logger.Warnf(ctx, "worker %d: %v", w.ID, detErr)
	w.failures = append(w.failures, detErr)
	return nil
}

// Close releases the worker's detectors
func (w *Worker) Close() error {
	var errs []error
	for _, kd := range w.detectors {
		if err := kd.detector.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	w.detectors = nil
	return errors.Join(errs...)
}
