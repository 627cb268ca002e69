package pipeline

import (
	"context"
	"fmt"
	"image"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"gocv.io/x/gocv"

	"github.com/dudu/faceblur/internal/detector"
	"github.com/dudu/faceblur/internal/frame"
)

// newTaggedSequence builds n uniform frames whose pixel value is the frame index,
// so a detector can tell which frame it is looking at from the greyscale image.
func newTaggedSequence(t *testing.T, n int) *frame.Sequence {
	t.Helper()
	require.Less(t, n, 256)
	seq := frame.NewSequence(n)
	for i := 0; i < n; i++ {
		v := float64(i)
		seq.Append(gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, v, v, 0), 48, 64, gocv.MatTypeCV8UC3))
	}
	t.Cleanup(func() { seq.Close() })
	return seq
}

func newNoiseFrame(t *testing.T, rows, cols int) gocv.Mat {
	t.Helper()
	data := make([]byte, rows*cols*3)
	rand.New(rand.NewSource(7)).Read(data)
	view, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8UC3, data)
	require.NoError(t, err)
	defer view.Close()
	return view.Clone()
}

func frameTag(grey gocv.Mat) int {
	return int(grey.GetUCharAt(0, 0))
}

// fakeDetector reads the frame index from the image and answers from its callbacks
type fakeDetector struct {
	kind  detector.Kind
	rects func(index int) []image.Rectangle
	fail  func(index int) error

	mu     sync.Mutex
	seen   []int
	inUse  atomic.Bool
	closed atomic.Bool
	shared atomic.Bool
}

func (d *fakeDetector) Detect(grey gocv.Mat) ([]image.Rectangle, error) {
	if !d.inUse.CompareAndSwap(false, true) {
		d.shared.Store(true)
	}
	defer d.inUse.Store(false)

	index := frameTag(grey)
	d.mu.Lock()
	d.seen = append(d.seen, index)
	d.mu.Unlock()

	if d.fail != nil {
		if err := d.fail(index); err != nil {
			return nil, err
		}
	}
	if d.rects == nil {
		return nil, nil
	}
	return d.rects(index), nil
}

func (d *fakeDetector) Close() error {
	d.closed.Store(true)
	return nil
}

func (d *fakeDetector) Seen() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.seen...)
}

// fakeLoader hands out a new fakeDetector per call and remembers all of them
type fakeLoader struct {
	rects   map[detector.Kind]func(index int) []image.Rectangle
	fail    map[detector.Kind]func(index int) error
	loadErr func(call int, kind detector.Kind) error

	mu        sync.Mutex
	calls     int
	detectors []*fakeDetector
}

func (l *fakeLoader) Load(kind detector.Kind) (detector.Detector, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.loadErr != nil {
		if err := l.loadErr(l.calls, kind); err != nil {
			return nil, err
		}
	}
	d := &fakeDetector{kind: kind, rects: l.rects[kind], fail: l.fail[kind]}
	l.detectors = append(l.detectors, d)
	return d, nil
}

func (l *fakeLoader) byKind(kind detector.Kind) []*fakeDetector {
	l.mu.Lock()
	defer l.mu.Unlock()
	var result []*fakeDetector
	for _, d := range l.detectors {
		if d.kind == kind {
			result = append(result, d)
		}
	}
	return result
}

// recordingRedactor remembers what it was asked to blur without touching pixels
type recordingRedactor struct {
	mu    sync.Mutex
	rects map[int][]image.Rectangle
}

func (r *recordingRedactor) Apply(frame *gocv.Mat, rect image.Rectangle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rects == nil {
		r.rects = map[int][]image.Rectangle{}
	}
	tag := int(frame.GetUCharAt(0, 0))
	r.rects[tag] = append(r.rects[tag], rect)
	return nil
}

type fakeSource struct {
	seq   *frame.Sequence
	err   error
	loads atomic.Int32
}

func (s *fakeSource) Load(ctx context.Context) (*frame.Sequence, error) {
	s.loads.Inc()
	return s.seq, s.err
}

// fakeSink records the tag of every frame it drains, in order
type fakeSink struct {
	looping bool
	openErr error
	tags    []int
	phase   func() Phase
	seen    Phase
	opened  bool
}

func (s *fakeSink) Open(ctx context.Context) error {
	if s.openErr != nil {
		return fmt.Errorf("%w: %w", ErrOutputOpen, s.openErr)
	}
	s.opened = true
	return nil
}

func (s *fakeSink) Drain(ctx context.Context, seq *frame.Sequence) error {
	if s.phase != nil {
		s.seen = s.phase()
	}
	for i := 0; i < seq.Len(); i++ {
		f := seq.At(i)
		s.tags = append(s.tags, int(f.Mat.GetUCharAt(0, 0)))
	}
	return nil
}

func (s *fakeSink) Looping() bool {
	return s.looping
}

type fakeRecorder struct {
	results []*Result
}

func (r *fakeRecorder) Record(ctx context.Context, result *Result) error {
	r.results = append(r.results, result)
	return nil
}
