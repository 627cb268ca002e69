package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/tsawler/go-metal/checkpoints"
	"gocv.io/x/gocv"

	"github.com/dudu/faceblur/internal/config"
	"github.com/dudu/faceblur/internal/detector"
	"github.com/dudu/faceblur/internal/inference"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "modelcheck - verifies the detector models faceblur would load\n\n")
		fmt.Fprintf(os.Stderr, "Usage: modelcheck [options]\n\n")
		pflag.PrintDefaults()
	}
	pflag.StringVarP(&cfg.Backend, "backend", "b", cfg.Backend, "Detector backend: cascade, pigo or scrfd")
	pflag.StringVar(&cfg.FrontalModel, "frontal-model", cfg.FrontalModel, "Frontal face model for the selected backend")
	pflag.StringVar(&cfg.ProfileModel, "profile-model", cfg.ProfileModel, "Profile face model for the selected backend")
	pflag.StringVar(&cfg.FrontalCascade, "frontal-cascade", cfg.FrontalCascade, "Haar cascade used when the backend has no frontal model")
	pflag.StringVar(&cfg.ProfileCascade, "profile-cascade", cfg.ProfileCascade, "Haar cascade used when the backend has no profile model")
	pflag.StringVar(&cfg.ONNXLibraryPath, "onnx-lib", cfg.ONNXLibraryPath, "ONNX Runtime shared library")
	metal := pflag.Bool("metal", false, "Also try importing ONNX models with go-metal")
	pflag.Parse()

	if !check(cfg, *metal) {
		os.Exit(1)
	}
}

func check(cfg *config.Config, metal bool) bool {
	loader, err := cfg.NewLoader()
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return false
	}

	if loader.UsesBackend(detector.BackendSCRFD) {
		fmt.Printf("Initializing ONNX Runtime from %s...\n", cfg.ONNXLibraryPath)
		if err := inference.Initialize(cfg.ONNXLibraryPath); err != nil {
			fmt.Printf("❌ %v\n", err)
			return false
		}
		defer inference.Shutdown()
	}

	ok := true
	for _, kind := range detector.Kinds() {
		spec := loader.Models[kind]
		fmt.Printf("\n%s: %s model %s\n", kind, spec.Backend, spec.Path)

		if spec.Backend == detector.BackendSCRFD {
			if !describe(spec.Path) {
				ok = false
				continue
			}
			if metal {
				probeMetal(spec.Path)
			}
		}

		if err := tryDetector(loader, kind); err != nil {
			fmt.Printf("  ❌ %v\n", err)
			ok = false
			continue
		}
		fmt.Println("  ✓ loads and runs")
	}
	return ok
}

func describe(path string) bool {
	info, err := inference.Describe(path)
	if err != nil {
		fmt.Printf("  ❌ %v\n", err)
		return false
	}

	fmt.Printf("  Inputs (%d):\n", len(info.Inputs))
	for _, t := range info.Inputs {
		fmt.Printf("    %s: shape=%v, type=%s\n", t.Name, t.Shape, t.DataType)
	}
	fmt.Printf("  Outputs (%d):\n", len(info.Outputs))
	for _, t := range info.Outputs {
		fmt.Printf("    %s: shape=%v, type=%s\n", t.Name, t.Shape, t.DataType)
	}
	if info.Producer != "" {
		fmt.Printf("  Producer: %s (version %d)\n", info.Producer, info.Version)
	}

	missing := append(
		inference.Missing(detector.SCRFDInputNames, info.Inputs),
		inference.Missing(detector.SCRFDOutputNames, info.Outputs)...,
	)
	if len(missing) > 0 {
		fmt.Printf("  ❌ not an SCRFD graph, missing tensors: %s\n", strings.Join(missing, ", "))
		return false
	}
	return true
}

// probeMetal reports whether go-metal could import the graph; it never fails the check
func probeMetal(path string) {
	checkpoint, err := checkpoints.NewONNXImporter().ImportFromONNX(path)
	if err != nil {
		fmt.Printf("  go-metal: cannot import (%v)\n", err)
		return
	}
	fmt.Printf("  go-metal: %d layers, %d weight tensors\n", len(checkpoint.ModelSpec.Layers), len(checkpoint.Weights))
}

func tryDetector(loader *detector.Loader, kind detector.Kind) error {
	d, err := loader.Load(kind)
	if err != nil {
		return err
	}
	defer d.Close()

	grey := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8U)
	defer grey.Close()
	if _, err := d.Detect(grey); err != nil {
		return fmt.Errorf("detection on a blank frame failed: %w", err)
	}
	return nil
}
