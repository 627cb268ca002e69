package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/facebookincubator/go-belt"
	beltruntime "github.com/facebookincubator/go-belt/pkg/runtime"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/observability"

	"github.com/dudu/faceblur/internal/config"
	"github.com/dudu/faceblur/internal/detector"
	"github.com/dudu/faceblur/internal/inference"
	"github.com/dudu/faceblur/internal/output"
	"github.com/dudu/faceblur/internal/pipeline"
	"github.com/dudu/faceblur/internal/redact"
	"github.com/dudu/faceblur/internal/report"
	"github.com/dudu/faceblur/internal/ui"
	"github.com/dudu/faceblur/internal/video"
)

func init() {
	// OpenCV's highgui must run on the main OS thread
	runtime.LockOSThread()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}

	loggerLevel := logger.LevelInfo
	if err := loggerLevel.Set(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q: %v\n", cfg.LogLevel, err)
		os.Exit(2)
	}
	flags := newFlagSet(cfg, &loggerLevel)
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if err := applyArgs(cfg, flags.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		flags.Usage()
		os.Exit(exitCode(err))
	}

	ctx := withLogger(context.Background(), loggerLevel)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	belt.Flush(ctx)

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func newFlagSet(cfg *config.Config, loggerLevel *logger.Level) *pflag.FlagSet {
	flags := pflag.NewFlagSet("faceblur", pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Face Blur - redacts faces in a video using every core\n\n")
		fmt.Fprintf(os.Stderr, "Usage: faceblur [options] infile [outfile|-] [cores]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flags.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  faceblur clip.mp4 - 4\n")
		fmt.Fprintf(os.Stderr, "  faceblur clip.mp4 blurred.mp4 8\n")
		fmt.Fprintf(os.Stderr, "  faceblur --backend pigo --frontal-model models/facefinder clip.mp4 blurred.mp4 8\n")
	}

	flags.Var(loggerLevel, "log-level", "Log level")
	flags.StringVarP(&cfg.Backend, "backend", "b", cfg.Backend, "Detector backend: cascade, pigo or scrfd")
	flags.StringVar(&cfg.FrontalModel, "frontal-model", cfg.FrontalModel, "Frontal face model for the selected backend")
	flags.StringVar(&cfg.ProfileModel, "profile-model", cfg.ProfileModel, "Profile face model for the selected backend")
	flags.StringVar(&cfg.FrontalCascade, "frontal-cascade", cfg.FrontalCascade, "Haar cascade used when the backend has no frontal model")
	flags.StringVar(&cfg.ProfileCascade, "profile-cascade", cfg.ProfileCascade, "Haar cascade used when the backend has no profile model")
	flags.IntVarP(&cfg.KernelSize, "kernel", "k", cfg.KernelSize, "Blur kernel size in pixels")
	flags.IntVar(&cfg.MaxConsecutiveFailures, "max-failures", cfg.MaxConsecutiveFailures, "Consecutive failing frames before a detector is given up on (0 never)")
	flags.DurationVar(&cfg.DisplayDelay, "delay", cfg.DisplayDelay, "Pause between displayed frames")
	flags.StringVar(&cfg.WindowName, "window-name", cfg.WindowName, "Title of the display window")
	flags.BoolVar(&cfg.ShowFPS, "show-fps", cfg.ShowFPS, "Draw the display rate on the preview")
	flags.StringVar(&cfg.ReportPath, "report", cfg.ReportPath, "SQLite file to record redactions and failures in")
	flags.StringVar(&cfg.ONNXLibraryPath, "onnx-lib", cfg.ONNXLibraryPath, "ONNX Runtime shared library")
	flags.IntVar(&cfg.MinSize, "min-size", cfg.MinSize, "Smallest face searched for, in pixels")
	flags.IntVar(&cfg.MaxSize, "max-size", cfg.MaxSize, "Largest face searched for, in pixels")
	flags.Float64Var(&cfg.ScaleFactor, "scale-factor", cfg.ScaleFactor, "Search window growth between scales")
	flags.IntVar(&cfg.MinNeighbors, "min-neighbors", cfg.MinNeighbors, "Overlapping hits a cascade detection needs")
	flags.Float64Var(&cfg.ScoreThreshold, "score-threshold", cfg.ScoreThreshold, "Minimum pigo detection score")
	return flags
}

// applyArgs reads the positional infile, outfile and core count
func applyArgs(cfg *config.Config, args []string) error {
	if len(args) == 0 && cfg.InputPath == "" {
		return fmt.Errorf("%w: missing input video", pipeline.ErrConfiguration)
	}
	if len(args) > 3 {
		return fmt.Errorf("%w: too many arguments: %v", pipeline.ErrConfiguration, args[3:])
	}
	if len(args) > 0 {
		cfg.InputPath = args[0]
	}
	if len(args) > 1 {
		cfg.OutputPath = args[1]
	}
	if len(args) > 2 {
		workers, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("%w: core count %q is not a number", pipeline.ErrConfiguration, args[2])
		}
		cfg.Workers = workers
	}
	return nil
}

func withLogger(ctx context.Context, loggerLevel logger.Level) context.Context {
	beltruntime.DefaultCallerPCFilter = observability.CallerPCFilter(beltruntime.DefaultCallerPCFilter)
	l := logrus.Default().WithLevel(loggerLevel)
	ctx = logger.CtxWithLogger(ctx, l)
	logger.Default = func() logger.Logger {
		return l
	}
	return ctx
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	loader, err := cfg.NewLoader()
	if err != nil {
		return err
	}
	for _, kind := range detector.Kinds() {
		spec := loader.Models[kind]
		logger.Infof(ctx, "%s faces: %s model %s", kind, spec.Backend, spec.Path)
	}
	if loader.UsesBackend(detector.BackendSCRFD) {
		if err := inference.Initialize(cfg.ONNXLibraryPath); err != nil {
			return fmt.Errorf("%w: %w", pipeline.ErrConfiguration, err)
		}
		defer inference.Shutdown()
	}

	source, err := video.OpenSource(ctx, cfg.InputPath)
	if err != nil {
		return err
	}
	defer source.Close()
	props := source.Properties()

	var sink pipeline.Sink
	if cfg.DisplayMode() {
		window := ui.NewWindow(cfg.WindowName, props.Width, props.Height, cfg.ShowFPS)
		defer window.Close()
		sink = &output.Display{Surface: window, Delay: cfg.DisplayDelay}
	} else {
		file := output.NewFile(func() (output.Writer, error) {
			return video.OpenWriter(cfg.OutputPath, props)
		})
		defer file.Close()
		sink = file
	}

	total := int64(props.FrameCount)
	if total <= 0 {
		total = -1
	}
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetDescription("Redacting"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	p := &pipeline.Pipeline{
		Source: source,
		Sink:   sink,
		Scheduler: &pipeline.Scheduler{
			Workers:                cfg.Workers,
			Load:                   loader.Load,
			Redactor:               redact.New(cfg.KernelSize),
			MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
			OnFrame: func(int) {
				bar.Add(1)
			},
		},
	}

	if cfg.ReportPath != "" {
		db, err := report.Open(cfg.ReportPath)
		if err != nil {
			return fmt.Errorf("%w: %w", pipeline.ErrConfiguration, err)
		}
		defer db.Close()
		recorder := report.NewRecorder(db, cfg.InputPath, cfg.OutputPath, cfg.Workers)
		logger.Infof(ctx, "recording run %s to %s", recorder.RunID(), cfg.ReportPath)
		p.Recorder = recorder
	}

	result, err := p.Run(ctx)
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	if result != nil {
		printSummary(result)
	}
	if err != nil {
		return err
	}

	timing := p.LastTiming()
	logger.Infof(ctx, "done: loading %v, processing %v, output %v", timing.Loading, timing.Processing, timing.Draining)
	return nil
}

func printSummary(result *pipeline.Result) {
	fmt.Printf("Frames processed: %d/%d\n", result.Processed, result.Frames)
	fmt.Printf("Regions redacted: %d\n", len(result.Redactions))
	if len(result.Summary.Failures) == 0 {
		return
	}
	fmt.Printf("Detection failures: %s\n", result.Summary)
	fmt.Printf("Frames that may be under-redacted: %v\n", result.Summary.Frames())
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, pipeline.ErrConfiguration):
		return 2
	case errors.Is(err, pipeline.ErrInput):
		return 3
	case errors.Is(err, pipeline.ErrDetection):
		return 4
	case errors.Is(err, pipeline.ErrOutput):
		return 5
	default:
		return 1
	}
}
