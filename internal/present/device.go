// Package present owns the presentation side of a frame: the swapchain-backed
// Surface with its stale/valid state machine, and the Submitter that runs the
// acquire, record, submit and present protocol once per tick.
//
// The graphics backend is reached only through Device, so the protocol runs
// unchanged against Vulkan or a test double.
package present

import (
	"errors"
	"fmt"
)

// ErrOutOfDate is reported by Device.AcquireNextImage and Device.Present when
// the swapchain no longer matches its surface.
var ErrOutOfDate = errors.New("present: swapchain out of date")

type Extent struct {
	Width, Height uint32
}

func (e Extent) Empty() bool { return e.Width == 0 || e.Height == 0 }

func (e Extent) String() string { return fmt.Sprintf("%dx%d", e.Width, e.Height) }

type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

// ViewportFor covers the whole extent with the standard [0,1] depth range.
func ViewportFor(e Extent) Viewport {
	return Viewport{Width: float32(e.Width), Height: float32(e.Height), MaxDepth: 1}
}

func (v Viewport) Extent() Extent {
	return Extent{Width: uint32(v.Width), Height: uint32(v.Height)}
}

// Format is a backend pixel format paired with its color space.
type Format struct {
	Pixel      uint32
	ColorSpace uint32
}

type PresentMode int

const (
	PresentFifo PresentMode = iota
	PresentMailbox
	PresentImmediate
)

func (m PresentMode) String() string {
	switch m {
	case PresentFifo:
		return "fifo"
	case PresentMailbox:
		return "mailbox"
	case PresentImmediate:
		return "immediate"
	default:
		return fmt.Sprintf("PresentMode(%d)", int(m))
	}
}

// Capabilities describes what the window surface supports.
type Capabilities struct {
	MinImageCount uint32
	MaxImageCount uint32 // zero means no upper bound
	Formats       []Format
	PresentModes  []PresentMode
}

// SwapchainInfo is the full creation request for a swapchain.
type SwapchainInfo struct {
	MinImageCount uint32
	Format        Format
	Extent        Extent
	PresentMode   PresentMode
}

type Swapchain interface {
	Extent() Extent
	ImageCount() int
	Destroy()
}

// Framebuffer is a render target bound to one swapchain image.
type Framebuffer interface {
	Extent() Extent
	Destroy()
}

type Semaphore interface {
	Destroy()
}

type Fence interface {
	// Signaled polls the fence without blocking.
	Signaled() (bool, error)
	// Reset returns a signaled fence to the unsignaled state.
	Reset() error
	Destroy()
}

type CommandBuffer interface {
	Free()
}

// Stage selects the pipeline stage a submission waits at.
type Stage int

const (
	StageAllCommands Stage = iota
	StageColorOutput
)

type Wait struct {
	Semaphore Semaphore
	Stage     Stage
}

// Submission is one batch of recorded commands with its dependencies.
type Submission struct {
	Commands CommandBuffer
	Waits    []Wait
	Signals  []Semaphore
	Fence    Fence
}

// Recorder records a single primary command buffer.
type Recorder interface {
	BeginRenderPass(fb Framebuffer, clear [4]float32)
	BindPipeline()
	SetViewport(vp Viewport)
	PushConstants(data []byte)
	BindVertexBuffer()
	Draw(vertexCount uint32)
	EndRenderPass()
	End() (CommandBuffer, error)
}

// Device is the graphics backend. AcquireNextImage blocks until an image is
// available.
type Device interface {
	Capabilities() (Capabilities, error)
	CreateSwapchain(info SwapchainInfo, old Swapchain) (Swapchain, error)
	CreateFramebuffer(sc Swapchain, image int) (Framebuffer, error)
	NewSemaphore() (Semaphore, error)
	NewFence() (Fence, error)
	AcquireNextImage(sc Swapchain, signal Semaphore) (index uint32, suboptimal bool, err error)
	BeginCommands() (Recorder, error)
	Submit(s Submission) error
	Present(sc Swapchain, index uint32, waits []Semaphore) (suboptimal bool, err error)
	WaitIdle() error
}

// Window reports the current framebuffer size in pixels.
type Window interface {
	FramebufferSize() (width, height int)
}

func windowExtent(w Window) Extent {
	width, height := w.FramebufferSize()
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return Extent{Width: uint32(width), Height: uint32(height)}
}
