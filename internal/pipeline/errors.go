package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dudu/faceblur/internal/detector"
)

var (
	// ErrConfiguration covers invalid worker counts, unreadable models and
	// unopenable outputs. Nothing has been processed when it is returned.
	ErrConfiguration = errors.New("configuration error")

	// ErrInput means the source could not be opened or yielded a malformed frame
	ErrInput = errors.New("input error")

	// ErrDetection is wrapped by every DetectionError
	ErrDetection = errors.New("detection error")

	// ErrOutput means writing the processed frames failed part way
	ErrOutput = errors.New("output error")

	// ErrOutputOpen means the output could not be opened with the input's parameters
	ErrOutputOpen = fmt.Errorf("%w: unable to open output", ErrConfiguration)
)

// StageError names the phase a run failed in
type StageError struct {
	Phase Phase
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Phase, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// DetectionError is a detector failure attributed to a frame and the chunk
// that owns it. Fatal errors abort the run; the others leave the frame
// unredacted for that kind and are reported after the barrier.
type DetectionError struct {
	Frame int
	Chunk Chunk
	Kind  detector.Kind
	Fatal bool
	Err   error
}

func (e *DetectionError) Error() string {
	severity := "recoverable"
	if e.Fatal {
		severity = "fatal"
	}
	return fmt.Sprintf("%s %s detection failure on frame %d (chunk %s): %v",
		severity, e.Kind, e.Frame, e.Chunk, e.Err)
}

func (e *DetectionError) Unwrap() []error {
	return []error{ErrDetection, e.Err}
}

// Summary describes the recoverable detection failures of a run
type Summary struct {
	Failures []*DetectionError
}

// Frames returns the sorted indices of frames with at least one failure
func (s Summary) Frames() []int {
	seen := map[int]struct{}{}
	var frames []int
	for _, f := range s.Failures {
		if _, ok := seen[f.Frame]; ok {
			continue
		}
		seen[f.Frame] = struct{}{}
		frames = append(frames, f.Frame)
	}
	sort.Ints(frames)
	return frames
}

// FramesAffected returns how many distinct frames had a failure
func (s Summary) FramesAffected() int {
	return len(s.Frames())
}

func (s Summary) String() string {
	if len(s.Failures) == 0 {
		return "no detection failures"
	}

	byKind := map[detector.Kind]int{}
	for _, f := range s.Failures {
		byKind[f.Kind]++
	}
	parts := make([]string, 0, len(byKind))
	for _, k := range detector.Kinds() {
		if n := byKind[k]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", k, n))
		}
	}
	return fmt.Sprintf("%d detection failures on %d frames (%s)",
		len(s.Failures), s.FramesAffected(), strings.Join(parts, ", "))
}
