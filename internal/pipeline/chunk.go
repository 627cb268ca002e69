package pipeline

import (
	"fmt"
)

// Chunk is the half-open frame index range [Start, End) owned by one worker
type Chunk struct {
	Start int
	End   int
}

// Len returns the number of frames in the chunk
func (c Chunk) Len() int {
	return c.End - c.Start
}

// Empty reports whether the chunk has no frames
func (c Chunk) Empty() bool {
	return c.End <= c.Start
}

// Contains reports whether index belongs to the chunk
func (c Chunk) Contains(index int) bool {
	return index >= c.Start && index < c.End
}

func (c Chunk) String() string {
	return fmt.Sprintf("[%d, %d)", c.Start, c.End)
}

// MaxWorkers bounds the worker count a run accepts
const MaxWorkers = 4096

// Partition splits [0, n) into exactly workers contiguous, disjoint chunks.
// Sizes differ by at most one: the first n%workers chunks take the extra frame.
// When workers > n the trailing chunks are empty.
func Partition(n, workers int) ([]Chunk, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("%w: worker count must be positive, got %d", ErrConfiguration, workers)
	}
	if workers > MaxWorkers {
		return nil, fmt.Errorf("%w: worker count %d exceeds the limit of %d", ErrConfiguration, workers, MaxWorkers)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative frame count %d", ErrInput, n)
	}

	base, extra := n/workers, n%workers
	chunks := make([]Chunk, workers)
	start := 0
	for i := range chunks {
		size := base
		if i < extra {
			size++
		}
		chunks[i] = Chunk{Start: start, End: start + size}
		start += size
	}
	return chunks, nil
}
