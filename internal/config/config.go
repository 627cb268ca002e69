package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/dudu/faceblur/internal/detector"
	"github.com/dudu/faceblur/internal/pipeline"
)

// DisplayOutput as the output path selects the looping preview window
const DisplayOutput = "-"

type Config struct {
	InputPath  string
	OutputPath string
	Workers    int

	Backend        string
	FrontalModel   string
	ProfileModel   string
	FrontalCascade string // used when the backend has no frontal model
	ProfileCascade string // used when the backend has no profile model

	KernelSize             int
	MaxConsecutiveFailures int
	DisplayDelay           time.Duration
	WindowName             string
	ShowFPS                bool

	ReportPath      string
	ONNXLibraryPath string
	LogLevel        string

	MinSize        int
	MaxSize        int
	ScaleFactor    float64
	ShiftFactor    float64
	MinNeighbors   int
	IoUThreshold   float64
	ScoreThreshold float64
	SCRFDInputSize int
}

// Load reads an optional .env file from the working directory, then the
// environment, and fills in defaults for everything unset
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit .env path. A missing file is not an error,
// a value that does not parse is.
func LoadFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: failed to read %s: %w", pipeline.ErrConfiguration, envPath, err)
	}

	env := &envReader{}
	modelDir := env.get("FACEBLUR_MODEL_DIR", filepath.Join(".", "models"))
	frontalCascade := env.get("FACEBLUR_FRONTAL_CASCADE", filepath.Join(modelDir, "haarcascade_frontalface_default.xml"))
	profileCascade := env.get("FACEBLUR_PROFILE_CASCADE", filepath.Join(modelDir, "haarcascade_profileface.xml"))

	cfg := &Config{
		InputPath:  env.get("FACEBLUR_INPUT", ""),
		OutputPath: env.get("FACEBLUR_OUTPUT", DisplayOutput),
		Workers:    env.getInt("FACEBLUR_WORKERS", 1),

		Backend:        env.get("FACEBLUR_BACKEND", string(detector.BackendCascade)),
		FrontalModel:   env.get("FACEBLUR_FRONTAL_MODEL", frontalCascade),
		ProfileModel:   env.get("FACEBLUR_PROFILE_MODEL", profileCascade),
		FrontalCascade: frontalCascade,
		ProfileCascade: profileCascade,

		KernelSize:             env.getInt("FACEBLUR_KERNEL_SIZE", 30),
		MaxConsecutiveFailures: env.getInt("FACEBLUR_MAX_CONSECUTIVE_FAILURES", 25),
		DisplayDelay:           env.getDuration("FACEBLUR_DISPLAY_DELAY", 30*time.Millisecond),
		WindowName:             env.get("FACEBLUR_WINDOW_NAME", "Face Blur"),
		ShowFPS:                env.getBool("FACEBLUR_SHOW_FPS", false),

		ReportPath:      env.get("FACEBLUR_REPORT", ""),
		ONNXLibraryPath: env.get("ONNXRUNTIME_LIB", filepath.Join(".", "lib", "libonnxruntime.so")),
		LogLevel:        env.get("FACEBLUR_LOG_LEVEL", "info"),

		MinSize:        env.getInt("FACEBLUR_MIN_SIZE", 20),
		MaxSize:        env.getInt("FACEBLUR_MAX_SIZE", 1000),
		ScaleFactor:    env.getFloat("FACEBLUR_SCALE_FACTOR", 1.1),
		ShiftFactor:    env.getFloat("FACEBLUR_SHIFT_FACTOR", 0.1),
		MinNeighbors:   env.getInt("FACEBLUR_MIN_NEIGHBORS", 3),
		IoUThreshold:   env.getFloat("FACEBLUR_IOU", 0.2),
		ScoreThreshold: env.getFloat("FACEBLUR_SCORE_THRESHOLD", 5),
		SCRFDInputSize: env.getInt("FACEBLUR_SCRFD_INPUT_SIZE", 640),
	}
	if len(env.errs) > 0 {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrConfiguration, errors.Join(env.errs...))
	}
	return cfg, nil
}

// Validate rejects settings no run can start with
func (c *Config) Validate() error {
	var errs []error
	if c.InputPath == "" {
		errs = append(errs, errors.New("no input video"))
	}
	if c.OutputPath == "" {
		errs = append(errs, errors.New("no output path (use - to display)"))
	}
	if c.Workers <= 0 || c.Workers > pipeline.MaxWorkers {
		errs = append(errs, fmt.Errorf("worker count must be between 1 and %d, got %d", pipeline.MaxWorkers, c.Workers))
	}
	if _, err := detector.ParseBackend(c.Backend); err != nil {
		errs = append(errs, err)
	}
	if c.FrontalModel == "" || c.ProfileModel == "" {
		errs = append(errs, errors.New("both a frontal and a profile model are required"))
	}
	if c.KernelSize <= 0 {
		errs = append(errs, fmt.Errorf("kernel size must be positive, got %d", c.KernelSize))
	}
	if c.MaxConsecutiveFailures < 0 {
		errs = append(errs, fmt.Errorf("max consecutive failures cannot be negative, got %d", c.MaxConsecutiveFailures))
	}
	if c.MinSize <= 0 || c.MaxSize < c.MinSize {
		errs = append(errs, fmt.Errorf("invalid face size range [%d, %d]", c.MinSize, c.MaxSize))
	}
	if c.ScaleFactor <= 1 {
		errs = append(errs, fmt.Errorf("scale factor must be above 1, got %v", c.ScaleFactor))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", pipeline.ErrConfiguration, errors.Join(errs...))
}

// DisplayMode reports whether frames go to the preview window instead of a file
func (c *Config) DisplayMode() bool {
	return c.OutputPath == DisplayOutput
}

// Models maps each detector kind to the model file of the selected backend
func (c *Config) Models() map[detector.Kind]string {
	return map[detector.Kind]string{
		detector.Frontal: c.FrontalModel,
		detector.Profile: c.ProfileModel,
	}
}

// Cascades maps each detector kind to its Haar cascade fallback
func (c *Config) Cascades() map[detector.Kind]string {
	return map[detector.Kind]string{
		detector.Frontal: c.FrontalCascade,
		detector.Profile: c.ProfileCascade,
	}
}

// NewLoader builds the detector loader with the configured tuning
func (c *Config) NewLoader() (*detector.Loader, error) {
	backend, err := detector.ParseBackend(c.Backend)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrConfiguration, err)
	}

	models := c.Models()
	if backend != detector.BackendCascade {
		// the generic model paths default to the cascades
		if models[detector.Frontal] == c.FrontalCascade {
			models[detector.Frontal] = ""
		}
	}

	loader, err := detector.NewLoader(backend, models, c.Cascades())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrConfiguration, err)
	}
	loader.Cascade = detector.CascadeParams{
		ScaleFactor:  c.ScaleFactor,
		MinNeighbors: c.MinNeighbors,
		MinSize:      c.MinSize,
		MaxSize:      c.MaxSize,
	}
	loader.Pigo = detector.PigoParams{
		MinSize:        c.MinSize,
		MaxSize:        c.MaxSize,
		ShiftFactor:    c.ShiftFactor,
		ScaleFactor:    c.ScaleFactor,
		IoUThreshold:   c.IoUThreshold,
		ScoreThreshold: float32(c.ScoreThreshold),
	}
	loader.SCRFD = detector.SCRFDParams{
		InputSize: c.SCRFDInputSize,
	}
	return loader, nil
}

// envReader reads typed environment variables and keeps every parse error
type envReader struct {
	errs []error
}

func (r *envReader) get(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (r *envReader) invalid(key, value string, err error) {
	r.errs = append(r.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (r *envReader) getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		r.invalid(key, value, err)
		return defaultValue
	}
	return intValue
}

func (r *envReader) getFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.invalid(key, value, err)
		return defaultValue
	}
	return floatValue
}

func (r *envReader) getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		r.invalid(key, value, err)
		return defaultValue
	}
	return boolValue
}

func (r *envReader) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.invalid(key, value, err)
		return defaultValue
	}
	return d
}
