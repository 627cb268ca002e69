package video

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dudu/faceblur/internal/pipeline"
)

// DefaultFourCC is used when the input codec cannot be written back
const DefaultFourCC = "mp4v"

// Writer encodes frames to a file with the parameters of the input
type Writer struct {
	path   string
	writer *gocv.VideoWriter
	props  Properties
	mu     sync.Mutex
}

// OpenWriter creates path with the input's codec, frame rate and size
func OpenWriter(path string, props Properties) (*Writer, error) {
	if props.Width <= 0 || props.Height <= 0 {
		return nil, fmt.Errorf("%w: %s: invalid frame size %dx%d", pipeline.ErrOutputOpen, path, props.Width, props.Height)
	}

	fourcc := props.FourCC
	if len(fourcc) != 4 {
		fourcc = DefaultFourCC
	}
	fps := props.FPS
	if fps <= 0 {
		fps = 30
	}

	writer, err := gocv.VideoWriterFile(path, fourcc, fps, props.Width, props.Height, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", pipeline.ErrOutputOpen, path, err)
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, fmt.Errorf("%w: %s: codec %q at %.2f fps, %dx%d", pipeline.ErrOutputOpen, path, fourcc, fps, props.Width, props.Height)
	}

	props.FourCC, props.FPS = fourcc, fps
	return &Writer{
		path:   path,
		writer: writer,
		props:  props,
	}, nil
}

// Properties returns the parameters the file is written with
func (w *Writer) Properties() Properties {
	return w.props
}

// Write appends one frame
func (w *Writer) Write(mat gocv.Mat) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer == nil {
		return fmt.Errorf("writer for %s is closed", w.path)
	}
	if mat.Cols() != w.props.Width || mat.Rows() != w.props.Height {
		return fmt.Errorf("frame is %dx%d, %s expects %dx%d", mat.Cols(), mat.Rows(), w.path, w.props.Width, w.props.Height)
	}
	return w.writer.Write(mat)
}

// Close finalizes the file
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer != nil {
		err := w.writer.Close()
		w.writer = nil
		return err
	}
	return nil
}
