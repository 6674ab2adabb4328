// Package app holds the application state threaded through the redraw loop:
// camera, input aggregator, surface and submitter, advanced one tick at a
// time.
package app

import (
	"errors"
	"fmt"
	"log/slog"

	mgl32 "github.com/go-gl/mathgl/mgl32"

	"Marcher/internal/camera"
	"Marcher/internal/config"
	"Marcher/internal/input"
	"Marcher/internal/present"
)

type App struct {
	Camera    *camera.Camera
	Input     *input.Aggregator
	Surface   *present.Surface
	Submitter *present.Submitter
	Stats     *Stats

	log *slog.Logger
}

type Option func(*options)

type options struct {
	cursor input.Cursor
	log    *slog.Logger
}

// WithCursor lets the aggregator hide the pointer while dragging.
func WithCursor(c input.Cursor) Option {
	return func(o *options) { o.cursor = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// New builds the camera from cfg and the presentation objects on dev. The
// camera resolution starts at the window framebuffer size.
func New(cfg *config.Config, dev present.Device, window present.Window, opts ...Option) (*App, error) {
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	width, height := window.FramebufferSize()
	cam, err := camera.New(
		mgl32.Vec3(cfg.Camera.Position),
		mgl32.Vec3(cfg.Camera.Forward),
		camera.WithSpeed(cfg.Camera.Speed),
		camera.WithRotationSpeed(cfg.Camera.RotationSpeed),
		camera.WithMaxPitch(cfg.Camera.MaxPitch),
		camera.WithResolution(width, height),
	)
	if err != nil {
		return nil, fmt.Errorf("camera: %w", err)
	}

	mode, err := cfg.PresentMode()
	if err != nil {
		return nil, err
	}
	surface, err := present.NewSurface(dev, window, present.SurfaceOptions{
		PresentMode: mode,
		Logger:      o.log,
	})
	if err != nil {
		return nil, err
	}

	inputOpts := []input.Option{
		input.WithSensitivity(cfg.Input.Sensitivity),
		input.WithLogger(o.log),
	}
	if o.cursor != nil {
		inputOpts = append(inputOpts, input.WithCursor(o.cursor))
	}

	submitter := present.NewSubmitter(dev, surface,
		present.WithMaterials(cfg.MaterialTable()),
		present.WithLogger(o.log),
	)
	return &App{
		Camera:    cam,
		Input:     input.NewAggregator(inputOpts...),
		Surface:   surface,
		Submitter: submitter,
		Stats:     NewStats(),
		log:       o.log,
	}, nil
}

// Tick advances one frame: pending input goes to the camera, then the
// camera is drawn. elapsed is in seconds.
func (a *App) Tick(elapsed float32) (present.Outcome, error) {
	if events := a.Input.Drain(); len(events) > 0 {
		a.Camera.Update(events, elapsed)
	}
	outcome, err := a.Submitter.Draw(a.Camera)
	if err != nil {
		return outcome, err
	}
	a.Stats.Record(outcome, elapsed)
	return outcome, nil
}

// HandleResize forwards a framebuffer resize to the camera and marks the
// surface for rebuild.
func (a *App) HandleResize(width, height int) {
	a.Input.Resized(width, height)
	a.Surface.MarkStale(present.ReasonResize)
}

// Close waits for in-flight frames and releases the surface.
func (a *App) Close() error {
	err := a.Submitter.Close()
	a.Surface.Destroy()
	if err != nil {
		return err
	}
	a.log.Debug("app closed", "frames", a.Stats.Frames())
	return nil
}

// Abort closes the app after a fatal tick error. Both errors are kept.
func (a *App) Abort(err error) error {
	return errors.Join(err, a.Close())
}
