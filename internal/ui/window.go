package ui

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"gocv.io/x/gocv"
)

// Window is the preview surface of display mode. It must be created and
// used from the main OS thread.
type Window struct {
	window     *gocv.Window
	name       string
	canvas     gocv.Mat
	overlay    bool
	lastFrame  time.Time
	frameCount int
	fps        float64
}

// NewWindow opens a window sized to the video
func NewWindow(name string, width, height int, overlay bool) *Window {
	window := gocv.NewWindow(name)
	if width > 0 && height > 0 {
		window.ResizeWindow(width, height)
	}
	window.MoveWindow(100, 100)
	return &Window{
		window:    window,
		name:      name,
		canvas:    gocv.NewMat(),
		overlay:   overlay,
		lastFrame: time.Now(),
	}
}

// Show presents a frame. The frame itself is never drawn on, so looping
// over the same sequence always shows the same pixels.
func (w *Window) Show(frame *gocv.Mat) error {
	if frame.Empty() {
		return fmt.Errorf("refusing to show an empty frame")
	}

	w.frameCount++
	now := time.Now()
	if elapsed := now.Sub(w.lastFrame); elapsed >= time.Second {
		w.fps = float64(w.frameCount) / elapsed.Seconds()
		w.frameCount = 0
		w.lastFrame = now
	}

	if !w.overlay {
		w.window.IMShow(*frame)
		return nil
	}

	if err := drawOverlay(*frame, &w.canvas, w.fps); err != nil {
		return err
	}
	w.window.IMShow(w.canvas)
	return nil
}

// drawOverlay copies frame into canvas and writes the rate on the copy
func drawOverlay(frame gocv.Mat, canvas *gocv.Mat, fps float64) error {
	if err := frame.CopyTo(canvas); err != nil {
		return fmt.Errorf("failed to copy frame for the overlay: %w", err)
	}
	if err := gocv.PutText(canvas, fmt.Sprintf("FPS: %.1f", fps), image.Pt(10, 30),
		gocv.FontHersheyPlain, 2, color.RGBA{R: 0, G: 255, B: 0, A: 255}, 2); err != nil {
		return fmt.Errorf("failed to draw the overlay: %w", err)
	}
	return nil
}

// WaitKey waits for a key press, returns key code or -1
func (w *Window) WaitKey(delayMs int) int {
	return w.window.WaitKey(delayMs)
}

// FPS returns the measured presentation rate
func (w *Window) FPS() float64 {
	return w.fps
}

// Name returns the window title
func (w *Window) Name() string {
	return w.name
}

// Close closes the window
func (w *Window) Close() error {
	w.canvas.Close()
	if w.window != nil {
		err := w.window.Close()
		w.window = nil
		return err
	}
	return nil
}
