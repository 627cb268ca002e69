package video

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"gocv.io/x/gocv"

	"github.com/dudu/faceblur/internal/frame"
	"github.com/dudu/faceblur/internal/pipeline"
)

// Properties describes the stream a video was encoded with
type Properties struct {
	Width      int
	Height     int
	FPS        float64
	FourCC     string
	FrameCount int
}

func (p Properties) String() string {
	return fmt.Sprintf("%dx%d @ %.2f fps, codec %q, %d frames", p.Width, p.Height, p.FPS, p.FourCC, p.FrameCount)
}

// Source reads a video file into memory
type Source struct {
	path    string
	capture *gocv.VideoCapture
	props   Properties
	mu      sync.Mutex
}

// OpenSource opens path and reads its stream properties. No frame is decoded yet.
func OpenSource(ctx context.Context, path string) (*Source, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %w", pipeline.ErrInput, path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: failed to open %s", pipeline.ErrInput, path)
	}

	props := Properties{
		Width:      int(capture.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(capture.Get(gocv.VideoCaptureFrameHeight)),
		FPS:        capture.Get(gocv.VideoCaptureFPS),
		FourCC:     strings.TrimRight(capture.CodecString(), "\x00"),
		FrameCount: int(capture.Get(gocv.VideoCaptureFrameCount)),
	}
	logger.Infof(ctx, "input %s: %s", path, props)

	return &Source{
		path:    path,
		capture: capture,
		props:   props,
	}, nil
}

// Properties returns the stream properties read at open time
func (s *Source) Properties() Properties {
	return s.props
}

// Load decodes every frame in order and releases the capture. Frames must
// all share the dimensions of the first one.
func (s *Source) Load(ctx context.Context) (*frame.Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capture == nil {
		return nil, fmt.Errorf("%w: %s was already loaded", pipeline.ErrInput, s.path)
	}
	defer s.closeCapture()

	seq := frame.NewSequence(s.props.FrameCount)
	for {
		if err := ctx.Err(); err != nil {
			seq.Close()
			return nil, err
		}

		mat := gocv.NewMat()
		if ok := s.capture.Read(&mat); !ok || mat.Empty() {
			mat.Close()
			break
		}
		if err := s.check(seq, mat); err != nil {
			mat.Close()
			seq.Close()
			return nil, err
		}

		f := seq.Append(mat)
		logger.Tracef(ctx, "loaded frame %d", f.Index)
	}

	if seq.Len() > 0 && (s.props.Width == 0 || s.props.Height == 0) {
		s.props.Width, s.props.Height = seq.Bounds(0).Dx(), seq.Bounds(0).Dy()
	}
	if err := s.shortRead(seq.Len()); err != nil {
		logger.Warnf(ctx, "%v", err)
	}
	s.props.FrameCount = seq.Len()
	return seq, nil
}

// shortRead reports a stream that ended before the frame count the
// container advertised. Containers that report no count never do.
func (s *Source) shortRead(decoded int) error {
	reported := s.props.FrameCount
	if reported <= 0 || decoded >= reported {
		return nil
	}
	return fmt.Errorf("%s: decoded %d of the %d frames the container reports, the rest could not be read",
		s.path, decoded, reported)
}

func (s *Source) check(seq *frame.Sequence, mat gocv.Mat) error {
	if mat.Channels() != 3 {
		return fmt.Errorf("%w: frame %d of %s has %d channels, expected 3", pipeline.ErrInput, seq.Len(), s.path, mat.Channels())
	}
	if seq.Len() == 0 {
		return nil
	}
	first := seq.Bounds(0)
	if mat.Cols() != first.Dx() || mat.Rows() != first.Dy() {
		return fmt.Errorf("%w: frame %d of %s is %dx%d, expected %dx%d",
			pipeline.ErrInput, seq.Len(), s.path, mat.Cols(), mat.Rows(), first.Dx(), first.Dy())
	}
	return nil
}

func (s *Source) closeCapture() {
	if s.capture != nil {
		s.capture.Close()
		s.capture = nil
	}
}

// Close releases the capture if Load was never called
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCapture()
	return nil
}
