package detector

import (
	"fmt"
	"image"
	"math"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/faceblur/internal/inference"
)

// SCRFD has 1 input and 9 outputs (3 levels × 3 outputs each: score, bbox, kps)
var (
	SCRFDInputNames  = []string{"input.1"}
	SCRFDOutputNames = []string{
		"score_8", "score_16", "score_32",
		"bbox_8", "bbox_16", "bbox_32",
		"kps_8", "kps_16", "kps_32",
	}
)

// SCRFDParams configures the SCRFD detector
type SCRFDParams struct {
	InputSize     int
	ConfThreshold float32
	NMSThreshold  float32
}

// SCRFD implements the SCRFD face detector over ONNX Runtime
type SCRFD struct {
	session        *inference.Session
	params         SCRFDParams
	featureStrides []int
	numAnchors     int
	bgr            gocv.Mat
}

// NewSCRFD creates a new SCRFD detector. inference.Initialize must have been called.
func NewSCRFD(modelPath string, params SCRFDParams) (*SCRFD, error) {
	if params.InputSize <= 0 {
		params.InputSize = 640
	}
	if params.ConfThreshold <= 0 {
		params.ConfThreshold = 0.5
	}
	if params.NMSThreshold <= 0 {
		params.NMSThreshold = 0.4
	}

	session, err := inference.NewSession(modelPath, SCRFDInputNames, SCRFDOutputNames)
	if err != nil {
		return nil, fmt.Errorf("%w: SCRFD session: %w", ErrModelLoad, err)
	}

	return &SCRFD{
		session:        session,
		params:         params,
		featureStrides: []int{8, 16, 32},
		numAnchors:     2, // anchors per position
		bgr:            gocv.NewMat(),
	}, nil
}

// Detect finds faces in a greyscale frame
func (s *SCRFD) Detect(grey gocv.Mat) ([]image.Rectangle, error) {
	if grey.Empty() {
		return nil, ErrEmptyFrame
	}

	// the network is trained on colour input; replicate the grey channel
	if err := gocv.CvtColor(grey, &s.bgr, gocv.ColorGrayToBGR); err != nil {
		return nil, fmt.Errorf("failed to expand greyscale frame: %w", err)
	}

	inputBlob, scale := s.preprocess(s.bgr)
	defer inputBlob.Close()

	size := int64(s.params.InputSize)
	inputTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, size, size),
		bytesToFloat32(inputBlob.ToBytes()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := make([]ort.Value, 9)
	outputTensors := make([]*ort.Tensor[float32], 0, 9)
	defer func() {
		for _, t := range outputTensors {
			t.Destroy()
		}
	}()

	widths := []int64{1, 4, 10} // score, bbox, kps
	for kind, width := range widths {
		for level, stride := range s.featureStrides {
			fm := int64(s.params.InputSize / stride)
			numAnchors := fm * fm * int64(s.numAnchors)
			t, err := inference.CreateEmptyTensor[float32]([]int64{numAnchors, width})
			if err != nil {
				return nil, fmt.Errorf("failed to create output tensor: %w", err)
			}
			outputs[kind*3+level] = t
			outputTensors = append(outputTensors, t)
		}
	}

	if err := s.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("%w: inference on %s: %w", ErrFatal, s.session.ModelPath(), err)
	}

	faces := s.postprocess(outputTensors, scale, grey.Cols(), grey.Rows())
	return facesToRects(suppress(faces, s.params.NMSThreshold)), nil
}

// preprocess letterboxes the image into the network input and returns the NCHW blob
func (s *SCRFD) preprocess(img gocv.Mat) (gocv.Mat, float32) {
	inputSize := s.params.InputSize
	scale := float32(inputSize) / float32(max(img.Rows(), img.Cols()))

	newWidth := int(float32(img.Cols()) * scale)
	newHeight := int(float32(img.Rows()) * scale)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(newWidth, newHeight), 0, 0, gocv.InterpolationLinear)

	padded := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), inputSize, inputSize, gocv.MatTypeCV8UC3)
	defer padded.Close()

	roi := padded.Region(image.Rect(0, 0, newWidth, newHeight))
	resized.CopyTo(&roi)
	roi.Close()

	// (x - 127.5) / 128.0, BGR to RGB, HWC to CHW
	blob := gocv.BlobFromImage(padded, 1.0/128.0, image.Pt(inputSize, inputSize),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)

	return blob, scale
}

// postprocess decodes the score and bbox outputs into faces in frame coordinates
func (s *SCRFD) postprocess(outputs []*ort.Tensor[float32], scale float32, origWidth, origHeight int) []Face {
	var faces []Face

	for level, stride := range s.featureStrides {
		fm := s.params.InputSize / stride

		scoreData := outputs[level].GetData()
		bboxData := outputs[level+3].GetData()

		anchorIdx := 0
		for y := 0; y < fm; y++ {
			for x := 0; x < fm; x++ {
				for a := 0; a < s.numAnchors; a++ {
					score := sigmoid(scoreData[anchorIdx])
					if score > s.params.ConfThreshold {
						cx := (float32(x) + 0.5) * float32(stride)
						cy := (float32(y) + 0.5) * float32(stride)

						// distances to the four edges
						b := bboxData[anchorIdx*4 : anchorIdx*4+4]
						box := BoundingBox{
							X1: clamp((cx-b[0]*float32(stride))/scale, 0, float32(origWidth)),
							Y1: clamp((cy-b[1]*float32(stride))/scale, 0, float32(origHeight)),
							X2: clamp((cx+b[2]*float32(stride))/scale, 0, float32(origWidth)),
							Y2: clamp((cy+b[3]*float32(stride))/scale, 0, float32(origHeight)),
						}
						faces = append(faces, Face{BoundingBox: box, Score: score})
					}
					anchorIdx++
				}
			}
		}
	}

	return faces
}

func (s *SCRFD) String() string {
	return fmt.Sprintf("SCRFD(%s)", s.session.ModelPath())
}

// Close releases detector resources
func (s *SCRFD) Close() error {
	s.bgr.Close()
	return s.session.Destroy()
}

func sigmoid(x float32) float32 {
	return 1.0 / (1.0 + float32(math.Exp(float64(-x))))
}

func clamp(x, lo, hi float32) float32 {
	return min(max(x, lo), hi)
}

func bytesToFloat32(data []byte) []float32 {
	result := make([]float32, len(data)/4)
	for i := range result {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		result[i] = math.Float32frombits(bits)
	}
	return result
}
