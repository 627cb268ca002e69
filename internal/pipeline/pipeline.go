package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt/tool/logger"

	"github.com/dudu/faceblur/internal/frame"
)

// Timing holds how long each stage of a run took
type Timing struct {
	Loading    time.Duration
	Processing time.Duration
	Draining   time.Duration
}

// Pipeline loads a whole video, redacts it in parallel and hands the
// result to a sink. The sequence is owned by the workers, one chunk each,
// until the barrier; after it the sink only reads it.
type Pipeline struct {
	Source    Source
	Sink      Sink
	Scheduler *Scheduler

	// Recorder is optional
	Recorder Recorder

	phase  phaseTracker
	timing Timing
}

// Phase returns the current state of the run
func (p *Pipeline) Phase() Phase {
	return p.phase.Load()
}

// LastTiming returns the stage durations of the last run
func (p *Pipeline) LastTiming() Timing {
	return p.timing
}

// Run drives one run from Idle to Done. In display mode it returns only
// after ctx is canceled or the viewer quits.
func (p *Pipeline) Run(ctx context.Context) (_ *Result, _err error) {
	defer func() {
		if _err != nil {
			p.phase.fail()
		}
	}()

	if p.Source == nil || p.Sink == nil || p.Scheduler == nil {
		return nil, &StageError{Phase: PhaseIdle, Err: fmt.Errorf("%w: pipeline needs a source, a sink and a scheduler", ErrConfiguration)}
	}

	if opener, ok := p.Sink.(Opener); ok {
		if err := opener.Open(ctx); err != nil {
			return nil, &StageError{Phase: PhaseIdle, Err: err}
		}
	}

	if err := p.phase.advance(PhaseLoading); err != nil {
		return nil, err
	}
	logger.Infof(ctx, "loading video into memory...")
	start := time.Now()
	seq, err := p.Source.Load(ctx)
	if err != nil {
		return nil, &StageError{Phase: PhaseLoading, Err: err}
	}
	defer seq.Close()
	p.timing.Loading = time.Since(start)
	logger.Infof(ctx, "loaded %d frames (%s) in %v", seq.Len(), humanize.Bytes(seq.Bytes()), p.timing.Loading)

	workers, err := p.Scheduler.Plan(ctx, seq.Len())
	if err != nil {
		return nil, &StageError{Phase: PhasePartitioned, Err: err}
	}
	if err := p.phase.advance(PhasePartitioned); err != nil {
		closeWorkers(workers)
		return nil, err
	}

	result, err := p.process(ctx, seq, workers)
	if err != nil {
		return result, err
	}

	if p.Recorder != nil {
		if err := p.Recorder.Record(ctx, result); err != nil {
			logger.Warnf(ctx, "unable to record the run: %v", err)
		}
	}

	if err := p.drain(ctx, seq); err != nil {
		return result, err
	}
	return result, nil
}

func (p *Pipeline) process(ctx context.Context, seq *frame.Sequence, workers []*Worker) (*Result, error) {
	if err := p.phase.advance(PhaseProcessing); err != nil {
		closeWorkers(workers)
		return nil, err
	}

	logger.Infof(ctx, "processing %d frames with %d workers...", seq.Len(), len(workers))
	start := time.Now()
	result, err := p.Scheduler.Execute(ctx, seq, workers)
	p.timing.Processing = time.Since(start)
	if err != nil {
		return result, &StageError{Phase: PhaseProcessing, Err: err}
	}

	if err := p.phase.advance(PhaseBarrier); err != nil {
		return result, err
	}
	logger.Infof(ctx, "processed %d frames in %v: %d regions redacted, %s",
		result.Processed, p.timing.Processing, len(result.Redactions), result.Summary)
	return result, nil
}

func (p *Pipeline) drain(ctx context.Context, seq *frame.Sequence) error {
	if err := p.phase.advance(PhaseDraining); err != nil {
		return err
	}
	if p.Sink.Looping() {
		if err := p.phase.advance(PhaseLoopingDisplay); err != nil {
			return err
		}
	}

	logger.Infof(ctx, "outputting video...")
	start := time.Now()
	if err := p.Sink.Drain(ctx, seq); err != nil {
		return &StageError{Phase: p.Phase(), Err: err}
	}
	p.timing.Draining = time.Since(start)

	return p.phase.advance(PhaseDone)
}
