package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/observability"
	"go.uber.org/atomic"

	"github.com/dudu/faceblur/internal/frame"
)

// Scheduler splits a sequence into one chunk per worker, runs the workers
// in parallel and waits for all of them.
type Scheduler struct {
	Workers  int
	Load     LoadFunc
	Redactor Redactor

	// MaxConsecutiveFailures escalates a detector kind to fatal after this
	// many failing frames in a row within a chunk. Zero disables it.
	MaxConsecutiveFailures int

	// OnFrame is called from worker goroutines after each processed frame
	OnFrame func(index int)

	processed atomic.Int64
	chunks    []Chunk
}

// Result is the outcome of the parallel phase
type Result struct {
	Frames     int
	Processed  int
	Chunks     []Chunk
	Redactions []Redaction
	Summary    Summary
}

// Plan partitions n frames and builds one worker per non-empty chunk, each
// with freshly loaded detectors. Nothing runs yet.
func (s *Scheduler) Plan(ctx context.Context, n int) ([]*Worker, error) {
	if s.Load == nil || s.Redactor == nil {
		return nil, fmt.Errorf("%w: scheduler needs a detector loader and a redactor", ErrConfiguration)
	}

	chunks, err := Partition(n, s.Workers)
	if err != nil {
		return nil, err
	}
	s.processed.Store(0)
	s.chunks = chunks

	workers := make([]*Worker, 0, min(len(chunks), n))
	for i, chunk := range chunks {
		if chunk.Empty() {
			logger.Debugf(ctx, "worker %d: empty chunk, nothing to run", i)
			continue
		}
		w, err := NewWorker(i, chunk, s.Load, s.Redactor)
		if err != nil {
			closeWorkers(workers)
			return nil, err
		}
		w.maxConsecutiveFailures = s.MaxConsecutiveFailures
		w.onFrame = s.frameDone
		workers = append(workers, w)
		logger.Debugf(ctx, "worker %d: planned chunk %s", i, chunk)
	}
	return workers, nil
}

// Execute launches every worker and blocks until all have returned.
// The first fatal worker error cancels the others; all fatal errors are
// returned joined. Workers are closed before returning.
func (s *Scheduler) Execute(ctx context.Context, seq *frame.Sequence, workers []*Worker) (*Result, error) {
	defer closeWorkers(workers)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make([]error, len(workers))
	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		observability.Go(runCtx, func(ctx context.Context) {
			defer wg.Done()
			if err := w.Run(ctx, seq); err != nil {
				errs[i] = err
				cancel()
			}
		})
	}
	wg.Wait()

	result := s.collect(seq.Len(), workers)

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("processing aborted: %w", err)
	}

	var fatal []error
	for i, err := range errs {
		if err == nil || errors.Is(err, context.Canceled) {
			continue
		}
		fatal = append(fatal, fmt.Errorf("worker %d (chunk %s): %w", workers[i].ID, workers[i].Chunk, err))
	}
	if len(fatal) > 0 {
		return result, errors.Join(fatal...)
	}

	if result.Processed != result.Frames {
		return result, fmt.Errorf("processed %d of %d frames", result.Processed, result.Frames)
	}
	return result, nil
}

// Run plans and executes in one go
func (s *Scheduler) Run(ctx context.Context, seq *frame.Sequence) (*Result, error) {
	workers, err := s.Plan(ctx, seq.Len())
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, seq, workers)
}

// Processed returns how many frames have been fully processed so far
func (s *Scheduler) Processed() int {
	return int(s.processed.Load())
}

func (s *Scheduler) frameDone(index int) {
	s.processed.Inc()
	if s.OnFrame != nil {
		s.OnFrame(index)
	}
}

func (s *Scheduler) collect(n int, workers []*Worker) *Result {
	result := &Result{
		Frames:    n,
		Processed: s.Processed(),
		Chunks:    s.chunks,
	}
	for _, w := range workers {
		result.Redactions = append(result.Redactions, w.redactions...)
		result.Summary.Failures = append(result.Summary.Failures, w.failures...)
	}
	sort.SliceStable(result.Redactions, func(i, j int) bool {
		return result.Redactions[i].Frame < result.Redactions[j].Frame
	})
	sort.SliceStable(result.Summary.Failures, func(i, j int) bool {
		return result.Summary.Failures[i].Frame < result.Summary.Failures[j].Frame
	})
	return result
}

func closeWorkers(workers []*Worker) {
	for _, w := range workers {
		w.Close()
	}
}
