package present

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// minImages keeps at least double buffering regardless of what the surface
// reports as its minimum.
const minImages = 2

type State int

const (
	StateValid State = iota
	StateStale
)

func (s State) String() string {
	if s == StateStale {
		return "stale"
	}
	return "valid"
}

// Reason records why a surface went stale.
type Reason int

const (
	ReasonResize Reason = iota
	ReasonOutOfDate
	ReasonSuboptimal
)

func (r Reason) String() string {
	switch r {
	case ReasonResize:
		return "resize"
	case ReasonOutOfDate:
		return "out-of-date"
	case ReasonSuboptimal:
		return "suboptimal"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

type SurfaceOptions struct {
	PresentMode PresentMode
	Logger      *slog.Logger
}

// Surface owns the swapchain, one framebuffer per swapchain image and the
// viewport. While Valid all three agree on the swapchain extent.
type Surface struct {
	dev    Device
	window Window
	log    *slog.Logger

	info         SwapchainInfo
	swapchain    Swapchain
	framebuffers []Framebuffer
	viewport     Viewport
	state        State
}

// NewSurface creates the initial swapchain at the window's current size.
func NewSurface(dev Device, window Window, opts SurfaceOptions) (*Surface, error) {
	s := &Surface{
		dev:    dev,
		window: window,
		log:    opts.Logger,
	}
	if s.log == nil {
		s.log = slog.Default()
	}

	caps, err := dev.Capabilities()
	if err != nil {
		return nil, fmt.Errorf("surface capabilities: %w", err)
	}
	if len(caps.Formats) == 0 {
		return nil, errors.New("surface reports no pixel formats")
	}

	imageCount := max(caps.MinImageCount, minImages)
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	mode := opts.PresentMode
	if !slices.Contains(caps.PresentModes, mode) {
		s.log.Warn("present mode unsupported, using fifo", "requested", mode)
		mode = PresentFifo
	}

	extent := windowExtent(window)
	if extent.Empty() {
		return nil, fmt.Errorf("window has no drawable area (%s)", extent)
	}

	s.info = SwapchainInfo{
		MinImageCount: imageCount,
		Format:        caps.Formats[0],
		Extent:        extent,
		PresentMode:   mode,
	}
	if err := s.build(nil); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Surface) State() State                { return s.state }
func (s *Surface) Stale() bool                 { return s.state == StateStale }
func (s *Surface) Swapchain() Swapchain        { return s.swapchain }
func (s *Surface) Viewport() Viewport          { return s.viewport }
func (s *Surface) Info() SwapchainInfo         { return s.info }
func (s *Surface) Framebuffers() []Framebuffer { return s.framebuffers }

// Framebuffer returns the target for the acquired image index.
func (s *Surface) Framebuffer(index uint32) (Framebuffer, error) {
	if int(index) >= len(s.framebuffers) {
		return nil, fmt.Errorf("image index %d out of range (%d framebuffers)", index, len(s.framebuffers))
	}
	return s.framebuffers[index], nil
}

// WindowExtent is the window's current framebuffer size.
func (s *Surface) WindowExtent() Extent { return windowExtent(s.window) }

// MarkStale forces a rebuild before the next acquire.
func (s *Surface) MarkStale(reason Reason) {
	if s.state != StateStale {
		s.log.Debug("surface stale", "reason", reason)
	}
	s.state = StateStale
}

// Rebuild recreates the swapchain at the window's current size. It reports
// false without error when the window is minimized; the surface then stays
// stale and the caller must skip drawing.
func (s *Surface) Rebuild() (bool, error) {
	extent := windowExtent(s.window)
	if extent.Empty() {
		return false, nil
	}
	if err := s.dev.WaitIdle(); err != nil {
		return false, fmt.Errorf("wait idle before rebuild: %w", err)
	}

	old := s.swapchain
	s.destroyFramebuffers()
	s.info.Extent = extent
	if err := s.build(old); err != nil {
		return false, err
	}
	if old != nil {
		old.Destroy()
	}
	s.log.Debug("surface rebuilt", "extent", s.swapchain.Extent(), "images", len(s.framebuffers))
	return true, nil
}

func (s *Surface) build(old Swapchain) error {
	sc, err := s.dev.CreateSwapchain(s.info, old)
	if err != nil {
		return fmt.Errorf("create swapchain: %w", err)
	}
	s.swapchain = sc

	framebuffers := make([]Framebuffer, 0, sc.ImageCount())
	for i := 0; i < sc.ImageCount(); i++ {
		fb, err := s.dev.CreateFramebuffer(sc, i)
		if err != nil {
			for _, created := range framebuffers {
				created.Destroy()
			}
			return fmt.Errorf("create framebuffer %d: %w", i, err)
		}
		framebuffers = append(framebuffers, fb)
	}
	s.framebuffers = framebuffers
	s.viewport = ViewportFor(sc.Extent())
	s.state = StateValid
	return nil
}

func (s *Surface) destroyFramebuffers() {
	for _, fb := range s.framebuffers {
		fb.Destroy()
	}
	s.framebuffers = nil
}

// Destroy releases framebuffers and the swapchain. The device must be idle.
func (s *Surface) Destroy() {
	s.destroyFramebuffers()
	if s.swapchain != nil {
		s.swapchain.Destroy()
		s.swapchain = nil
	}
}
