package pipeline

import (
	"fmt"

	"go.uber.org/atomic"
)

// Phase is the state of a pipeline run
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhasePartitioned
	PhaseProcessing
	PhaseBarrier
	PhaseDraining
	PhaseLoopingDisplay
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhasePartitioned:
		return "partitioned"
	case PhaseProcessing:
		return "processing"
	case PhaseBarrier:
		return "barrier"
	case PhaseDraining:
		return "draining"
	case PhaseLoopingDisplay:
		return "looping display"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Terminal reports whether no further transition is allowed
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

var transitions = map[Phase][]Phase{
	PhaseIdle:        {PhaseLoading},
	PhaseLoading:     {PhasePartitioned},
	PhasePartitioned: {PhaseProcessing},
	PhaseProcessing:  {PhaseBarrier},
	PhaseBarrier:     {PhaseDraining},
	PhaseDraining:    {PhaseLoopingDisplay, PhaseDone},
	// the display loop only ends on an external stop
	PhaseLoopingDisplay: {PhaseDone},
}

type phaseTracker struct {
	current atomic.Int32
}

func (t *phaseTracker) Load() Phase {
	return Phase(t.current.Load())
}

// advance moves to next, failing on transitions the run state machine does not have
func (t *phaseTracker) advance(next Phase) error {
	cur := t.Load()
	for _, allowed := range transitions[cur] {
		if allowed == next {
			if !t.current.CompareAndSwap(int32(cur), int32(next)) {
				return fmt.Errorf("concurrent phase change from %s", cur)
			}
			return nil
		}
	}
	return fmt.Errorf("illegal phase transition %s -> %s", cur, next)
}

func (t *phaseTracker) fail() {
	t.current.Store(int32(PhaseFailed))
}
