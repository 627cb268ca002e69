package frame

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Frame is a decoded BGR frame and its position in the source video.
// Index never changes once the frame has been loaded.
type Frame struct {
	Index int
	Mat   gocv.Mat
}

// Sequence is the ordered, fully loaded set of frames of one video.
// Frames are never added or removed after Append stops being called;
// only their pixel content is mutated.
type Sequence struct {
	frames []Frame
}

// NewSequence creates an empty sequence with room for capacity frames
func NewSequence(capacity int) *Sequence {
	if capacity < 0 {
		capacity = 0
	}
	return &Sequence{frames: make([]Frame, 0, capacity)}
}

// Append takes ownership of mat and assigns it the next index
func (s *Sequence) Append(mat gocv.Mat) *Frame {
	s.frames = append(s.frames, Frame{Index: len(s.frames), Mat: mat})
	return &s.frames[len(s.frames)-1]
}

// Len returns the number of frames
func (s *Sequence) Len() int {
	return len(s.frames)
}

// At returns the frame with the given index
func (s *Sequence) At(index int) *Frame {
	if index < 0 || index >= len(s.frames) {
		panic(fmt.Sprintf("frame index %d out of range [0, %d)", index, len(s.frames)))
	}
	return &s.frames[index]
}

// Bounds returns the pixel bounds of the frame with the given index
func (s *Sequence) Bounds(index int) image.Rectangle {
	m := s.At(index).Mat
	return image.Rect(0, 0, m.Cols(), m.Rows())
}

// Bytes returns the pixel memory held by the sequence
func (s *Sequence) Bytes() uint64 {
	var total uint64
	for i := range s.frames {
		m := s.frames[i].Mat
		total += uint64(m.Total()) * uint64(m.ElemSize())
	}
	return total
}

// Close releases every frame buffer
func (s *Sequence) Close() error {
	var errs []error
	for i := range s.frames {
		if err := s.frames[i].Mat.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.frames = nil
	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}
