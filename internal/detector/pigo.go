package detector

import (
	"fmt"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"
	"gocv.io/x/gocv"
)

// PigoParams tunes the pigo cascade scan
type PigoParams struct {
	Angle          float64
	MinSize        int
	MaxSize        int
	ShiftFactor    float64
	ScaleFactor    float64
	IoUThreshold   float64
	ScoreThreshold float32
}

// Pigo is a pure Go frontal face detector
type Pigo struct {
	classifier *pigo.Pigo
	modelPath  string
	params     PigoParams
}

// NewPigo unpacks a pigo binary cascade (e.g. "facefinder")
func NewPigo(modelPath string, params PigoParams) (*Pigo, error) {
	cascadeFile, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: pigo cascade %s: %w", ErrModelLoad, modelPath, err)
	}

	classifier, err := unpackPigo(cascadeFile)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack pigo cascade %s: %w", ErrModelLoad, modelPath, err)
	}

	if params.MinSize == 0 {
		params.MinSize = 20
	}
	if params.MaxSize == 0 {
		params.MaxSize = 1000
	}
	if params.ShiftFactor == 0 {
		params.ShiftFactor = 0.1
	}
	if params.ScaleFactor == 0 {
		params.ScaleFactor = 1.1
	}
	if params.IoUThreshold == 0 {
		params.IoUThreshold = 0.2
	}
	if params.ScoreThreshold == 0 {
		params.ScoreThreshold = 5
	}

	return &Pigo{
		classifier: classifier,
		modelPath:  modelPath,
		params:     params,
	}, nil
}

// unpackPigo guards against pigo indexing past the end of a truncated cascade
func unpackPigo(data []byte) (_ *pigo.Pigo, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed cascade: %v", r)
		}
	}()
	return pigo.NewPigo().Unpack(data)
}

// Detect finds faces in a greyscale frame
func (p *Pigo) Detect(grey gocv.Mat) ([]image.Rectangle, error) {
	if grey.Empty() {
		return nil, ErrEmptyFrame
	}
	if grey.Channels() != 1 {
		return nil, fmt.Errorf("pigo expects a single channel image, got %d channels", grey.Channels())
	}

	cols, rows := grey.Cols(), grey.Rows()
	cParams := pigo.CascadeParams{
		MinSize:     p.params.MinSize,
		MaxSize:     p.params.MaxSize,
		ShiftFactor: p.params.ShiftFactor,
		ScaleFactor: p.params.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: grey.ToBytes(),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	// The result contains quadruplets representing the row, column, scale and detection score.
	dets := p.classifier.RunCascade(cParams, p.params.Angle)
	dets = p.classifier.ClusterDetections(dets, p.params.IoUThreshold)

	return pigoRects(dets, p.params.ScoreThreshold), nil
}

// pigoRects turns detections centred on (Col, Row) with side Scale into
// rectangles, dropping those scoring below threshold
func pigoRects(dets []pigo.Detection, threshold float32) []image.Rectangle {
	rects := make([]image.Rectangle, 0, len(dets))
	for _, d := range dets {
		if d.Q < threshold {
			continue
		}
		half := d.Scale / 2
		rects = append(rects, image.Rect(d.Col-half, d.Row-half, d.Col+half, d.Row+half))
	}
	return rects
}

func (p *Pigo) String() string {
	return fmt.Sprintf("Pigo(%s)", p.modelPath)
}

// Close is a no-op, pigo holds no native resources
func (p *Pigo) Close() error {
	return nil
}
