package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/dudu/faceblur/internal/detector"
	"github.com/dudu/faceblur/internal/frame"
	"github.com/dudu/faceblur/internal/redact"
)

func TestSchedulerProcessesEveryFrameOnce(t *testing.T) {
	ctx := context.Background()
	seq := newTaggedSequence(t, 10)
	loader := &fakeLoader{}

	var callbacks atomic.Int64
	s := &Scheduler{
		Workers:  3,
		Load:     loader.Load,
		Redactor: &recordingRedactor{},
		OnFrame:  func(int) { callbacks.Inc() },
	}
	result, err := s.Run(ctx, seq)
	require.NoError(t, err)
	require.Equal(t, 10, result.Frames)
	require.Equal(t, 10, result.Processed)
	require.Equal(t, 10, s.Processed())
	require.EqualValues(t, 10, callbacks.Load())
	require.Equal(t, []Chunk{{0, 4}, {4, 7}, {7, 10}}, result.Chunks)

	for _, kind := range detector.Kinds() {
		detectors := loader.byKind(kind)
		require.Len(t, detectors, 3, "one %s detector per worker", kind)

		var all []int
		for _, d := range detectors {
			seen := d.Seen()
			require.True(t, sort.IntsAreSorted(seen), "%s detector saw frames out of order: %v", kind, seen)
			require.False(t, d.shared.Load(), "%s detector used concurrently", kind)
			require.True(t, d.closed.Load())
			all = append(all, seen...)
		}
		sort.Ints(all)
		require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, all)
	}
}

func TestSchedulerMoreWorkersThanFrames(t *testing.T) {
	seq := newTaggedSequence(t, 2)
	loader := &fakeLoader{}
	s := &Scheduler{Workers: 5, Load: loader.Load, Redactor: &recordingRedactor{}}

	result, err := s.Run(context.Background(), seq)
	require.NoError(t, err)
	require.Equal(t, 2, result.Processed)
	require.Len(t, result.Chunks, 5)
	require.Equal(t, 2*len(detector.Kinds()), loader.calls, "empty chunks load no detectors")
}

func TestSchedulerStartsWorkersOnlyForFrames(t *testing.T) {
	seq := newTaggedSequence(t, 3)
	loader := &fakeLoader{}
	s := &Scheduler{Workers: MaxWorkers, Load: loader.Load, Redactor: &recordingRedactor{}}

	workers, err := s.Plan(context.Background(), seq.Len())
	require.NoError(t, err)
	require.Len(t, workers, 3)
	require.Equal(t, []int{0, 1, 2}, []int{workers[0].ID, workers[1].ID, workers[2].ID})

	result, err := s.Execute(context.Background(), seq, workers)
	require.NoError(t, err)
	require.Equal(t, 3, result.Processed)
	require.Len(t, result.Chunks, MaxWorkers)
	require.Equal(t, 3*len(detector.Kinds()), loader.calls)
}

func TestSchedulerEmptySequence(t *testing.T) {
	seq := frame.NewSequence(0)
	loader := &fakeLoader{}
	s := &Scheduler{Workers: 2, Load: loader.Load, Redactor: &recordingRedactor{}}

	result, err := s.Run(context.Background(), seq)
	require.NoError(t, err)
	require.Zero(t, result.Processed)
	require.Zero(t, loader.calls)
}

func TestSchedulerRejectsInvalidWorkerCount(t *testing.T) {
	seq := newTaggedSequence(t, 3)
	s := &Scheduler{Workers: 0, Load: (&fakeLoader{}).Load, Redactor: &recordingRedactor{}}
	_, err := s.Run(context.Background(), seq)
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestSchedulerModelLoadFailure(t *testing.T) {
	seq := newTaggedSequence(t, 6)
	loader := &fakeLoader{
		loadErr: func(call int, kind detector.Kind) error {
			if call == 4 {
				return fmt.Errorf("%w: no such file", detector.ErrModelLoad)
			}
			return nil
		},
	}
	var callbacks atomic.Int64
	s := &Scheduler{
		Workers:  3,
		Load:     loader.Load,
		Redactor: &recordingRedactor{},
		OnFrame:  func(int) { callbacks.Inc() },
	}

	_, err := s.Run(context.Background(), seq)
	require.ErrorIs(t, err, ErrConfiguration)
	require.ErrorIs(t, err, detector.ErrModelLoad)
	require.Zero(t, callbacks.Load(), "no frame may be processed after a load failure")
	for _, d := range loader.detectors {
		require.True(t, d.closed.Load(), "detectors loaded before the failure are released")
	}
}

func TestSchedulerClipsRegionsToFrame(t *testing.T) {
	seq := newTaggedSequence(t, 1)
	redactor := &recordingRedactor{}
	loader := &fakeLoader{
		rects: map[detector.Kind]func(int) []image.Rectangle{
			detector.Frontal: func(int) []image.Rectangle {
				return []image.Rectangle{image.Rect(50, 40, 90, 70), image.Rect(100, 100, 120, 120)}
			},
		},
	}
	s := &Scheduler{Workers: 1, Load: loader.Load, Redactor: redactor}

	result, err := s.Run(context.Background(), seq)
	require.NoError(t, err)
	require.Equal(t, []image.Rectangle{image.Rect(50, 40, 64, 48)}, redactor.rects[0])
	require.Equal(t, []Redaction{{Frame: 0, Kind: detector.Frontal, Rect: image.Rect(50, 40, 64, 48)}}, result.Redactions)
}

func TestSchedulerRecoverableDetectionFailure(t *testing.T) {
	seq := newTaggedSequence(t, 8)
	redactor := &recordingRedactor{}
	face := image.Rect(2, 2, 12, 12)
	loader := &fakeLoader{
		rects: map[detector.Kind]func(int) []image.Rectangle{
			detector.Frontal: func(int) []image.Rectangle { return []image.Rectangle{face} },
		},
		fail: map[detector.Kind]func(int) error{
			detector.Frontal: func(index int) error {
				if index == 3 {
					return errors.New("cascade returned garbage")
				}
				return nil
			},
		},
	}
	s := &Scheduler{Workers: 2, Load: loader.Load, Redactor: redactor, MaxConsecutiveFailures: 3}

	result, err := s.Run(context.Background(), seq)
	require.NoError(t, err)
	require.Equal(t, 8, result.Processed)
	require.Equal(t, []int{3}, result.Summary.Frames())
	require.Len(t, result.Summary.Failures, 1)

	failure := result.Summary.Failures[0]
	require.Equal(t, detector.Frontal, failure.Kind)
	require.Equal(t, Chunk{0, 4}, failure.Chunk)
	require.False(t, failure.Fatal)
	require.ErrorIs(t, failure, ErrDetection)

	require.Empty(t, redactor.rects[3], "failed kind leaves the frame unredacted")
	for _, index := range []int{0, 1, 2, 4, 5, 6, 7} {
		require.Equal(t, []image.Rectangle{face}, redactor.rects[index], "frame %d", index)
	}
}

func TestSchedulerFatalDetectionFailure(t *testing.T) {
	seq := newTaggedSequence(t, 40)
	loader := &fakeLoader{
		fail: map[detector.Kind]func(int) error{
			detector.Profile: func(index int) error {
				if index == 2 {
					return fmt.Errorf("%w: session lost", detector.ErrFatal)
				}
				return nil
			},
		},
	}
	s := &Scheduler{Workers: 2, Load: loader.Load, Redactor: &recordingRedactor{}}

	result, err := s.Run(context.Background(), seq)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrDetection)
	require.ErrorIs(t, err, detector.ErrFatal)

	var detErr *DetectionError
	require.True(t, errors.As(err, &detErr))
	require.True(t, detErr.Fatal)
	require.Equal(t, 2, detErr.Frame)
	require.Equal(t, detector.Profile, detErr.Kind)
	require.Less(t, result.Processed, 40)

	for _, d := range loader.detectors {
		require.True(t, d.closed.Load())
	}
}

func TestSchedulerConsecutiveFailuresEscalate(t *testing.T) {
	seq := newTaggedSequence(t, 10)
	loader := &fakeLoader{
		fail: map[detector.Kind]func(int) error{
			detector.Frontal: func(index int) error {
				if index >= 4 {
					return errors.New("no luck")
				}
				return nil
			},
		},
	}
	s := &Scheduler{Workers: 1, Load: loader.Load, Redactor: &recordingRedactor{}, MaxConsecutiveFailures: 3}

	result, err := s.Run(context.Background(), seq)
	require.ErrorIs(t, err, detector.ErrFatal)

	var detErr *DetectionError
	require.True(t, errors.As(err, &detErr))
	require.Equal(t, 6, detErr.Frame)
	require.Equal(t, []int{4, 5}, result.Summary.Frames())
}

func TestSchedulerConsecutiveCounterResetsOnSuccess(t *testing.T) {
	seq := newTaggedSequence(t, 12)
	loader := &fakeLoader{
		fail: map[detector.Kind]func(int) error{
			detector.Frontal: func(index int) error {
				if index%3 != 0 {
					return errors.New("flaky")
				}
				return nil
			},
		},
	}
	s := &Scheduler{Workers: 1, Load: loader.Load, Redactor: &recordingRedactor{}, MaxConsecutiveFailures: 3}

	result, err := s.Run(context.Background(), seq)
	require.NoError(t, err)
	require.Equal(t, 8, result.Summary.FramesAffected())
}

func TestSchedulerCanceledContext(t *testing.T) {
	seq := newTaggedSequence(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &Scheduler{Workers: 2, Load: (&fakeLoader{}).Load, Redactor: &recordingRedactor{}}
	result, err := s.Run(ctx, seq)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, result.Processed)
}

func TestWorkerLeavesFrameUntouchedWithoutDetections(t *testing.T) {
	seq := frame.NewSequence(1)
	defer seq.Close()
	seq.Append(newNoiseFrame(t, 60, 80))
	before := seq.At(0).Mat.Clone()
	defer before.Close()

	s := &Scheduler{Workers: 1, Load: (&fakeLoader{}).Load, Redactor: redact.New(0)}
	result, err := s.Run(context.Background(), seq)
	require.NoError(t, err)
	require.Empty(t, result.Redactions)
	require.Equal(t, before.ToBytes(), seq.At(0).Mat.ToBytes())
}

func TestWorkerBlursOnlyDetectedRegion(t *testing.T) {
	seq := frame.NewSequence(1)
	defer seq.Close()
	seq.Append(newNoiseFrame(t, 60, 80))
	before := seq.At(0).Mat.Clone()
	defer before.Close()

	face := image.Rect(10, 10, 30, 30)
	loader := &fakeLoader{
		rects: map[detector.Kind]func(int) []image.Rectangle{
			detector.Frontal: func(int) []image.Rectangle { return []image.Rectangle{face} },
		},
	}
	s := &Scheduler{Workers: 1, Load: loader.Load, Redactor: redact.New(0)}
	_, err := s.Run(context.Background(), seq)
	require.NoError(t, err)

	after := seq.At(0).Mat
	changed := false
	for y := 0; y < after.Rows(); y++ {
		for x := 0; x < after.Cols(); x++ {
			got, want := after.GetVecbAt(y, x), before.GetVecbAt(y, x)
			if image.Pt(x, y).In(face) {
				if got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
					changed = true
				}
				continue
			}
			require.Equal(t, want, got, "pixel %d,%d outside the face changed", x, y)
		}
	}
	require.True(t, changed)
}
