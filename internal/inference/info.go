package inference

import (
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"
)

// TensorInfo describes one model input or output
type TensorInfo struct {
	Name     string
	Shape    []int64
	DataType string
}

// ModelInfo is what ONNX Runtime reports about a model file
type ModelInfo struct {
	Path        string
	Inputs      []TensorInfo
	Outputs     []TensorInfo
	Producer    string
	Version     int64
	Domain      string
	Description string
}

// Describe reads the inputs, outputs and metadata of a model without
// creating a session. Initialize must have been called.
func Describe(modelPath string) (*ModelInfo, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model %s: %w", modelPath, err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model info for %s: %w", modelPath, err)
	}

	info := &ModelInfo{
		Path:    modelPath,
		Inputs:  tensorInfos(inputs),
		Outputs: tensorInfos(outputs),
	}

	metadata, err := ort.GetModelMetadata(modelPath)
	if err != nil {
		return info, nil
	}
	defer metadata.Destroy()
	if producer, err := metadata.GetProducerName(); err == nil {
		info.Producer = producer
	}
	if version, err := metadata.GetVersion(); err == nil {
		info.Version = version
	}
	if domain, err := metadata.GetDomain(); err == nil {
		info.Domain = domain
	}
	if desc, err := metadata.GetDescription(); err == nil {
		info.Description = desc
	}
	return info, nil
}

// Missing returns the names in want that none of tensors carries
func Missing(want []string, tensors []TensorInfo) []string {
	have := make(map[string]struct{}, len(tensors))
	for _, t := range tensors {
		have[t.Name] = struct{}{}
	}
	var missing []string
	for _, name := range want {
		if _, ok := have[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func tensorInfos(infos []ort.InputOutputInfo) []TensorInfo {
	result := make([]TensorInfo, 0, len(infos))
	for _, info := range infos {
		result = append(result, TensorInfo{
			Name:     info.Name,
			Shape:    append([]int64(nil), info.Dimensions...),
			DataType: fmt.Sprint(info.DataType),
		})
	}
	return result
}
