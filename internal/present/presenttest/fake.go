// Package presenttest provides an in-memory present.Device that records every
// call, for driving the surface and submitter without a GPU.
package presenttest

import (
	"errors"
	"fmt"

	"Marcher/internal/present"
)

var ErrDestroyed = errors.New("presenttest: object used after destroy")

// Window is a resizable framebuffer size.
type Window struct {
	Width, Height int
}

func (w *Window) FramebufferSize() (int, int) { return w.Width, w.Height }

type Swapchain struct {
	Info      present.SwapchainInfo
	Old       present.Swapchain
	Images    int
	Destroyed bool
}

func (s *Swapchain) Extent() present.Extent { return s.Info.Extent }
func (s *Swapchain) ImageCount() int        { return s.Images }
func (s *Swapchain) Destroy()               { s.Destroyed = true }

type Framebuffer struct {
	Swapchain *Swapchain
	Image     int
	Destroyed bool
}

func (f *Framebuffer) Extent() present.Extent { return f.Swapchain.Extent() }
func (f *Framebuffer) Destroy()               { f.Destroyed = true }

// Semaphore models a binary semaphore. Signaled is set by the acquire or
// submission that signals it and cleared by the wait that consumes it.
// InPresent marks a semaphore a present waited on whose image has not been
// acquired again.
type Semaphore struct {
	ID        int
	Signaled  bool
	InPresent bool
	Destroyed bool

	dev *Device
}

func (s *Semaphore) Destroy() {
	if s.InPresent {
		s.dev.violate("semaphore %d destroyed while the presentation engine holds it", s.ID)
	}
	s.Destroyed = true
}

func (s *Semaphore) signal(by string) {
	switch {
	case s.Destroyed:
		s.dev.violate("%s signals destroyed semaphore %d", by, s.ID)
	case s.Signaled:
		s.dev.violate("%s signals semaphore %d which is already signaled", by, s.ID)
	case s.InPresent:
		s.dev.violate("%s signals semaphore %d still held by a present", by, s.ID)
	}
	s.Signaled = true
}

func (s *Semaphore) wait(by string) {
	if !s.Signaled {
		s.dev.violate("%s waits on unsignaled semaphore %d", by, s.ID)
	}
	s.Signaled = false
}

type Fence struct {
	ID        int
	Done      bool
	Resets    int
	Destroyed bool
	Err       error

	submitted bool
}

func (f *Fence) Signaled() (bool, error) {
	if f.Err != nil {
		return false, f.Err
	}
	return f.Done, nil
}

func (f *Fence) Reset() error {
	if f.Destroyed {
		return ErrDestroyed
	}
	f.Done = false
	f.submitted = false
	f.Resets++
	return nil
}

func (f *Fence) Destroy() { f.Destroyed = true }

// Commands is a finished command buffer holding the recorded operations.
type Commands struct {
	Ops         []string
	Framebuffer present.Framebuffer
	Clear       [4]float32
	Viewport    present.Viewport
	Push        []byte
	Vertices    uint32
	Freed       bool
}

func (c *Commands) Free() { c.Freed = true }

type recorder struct {
	dev *Device
	cmd *Commands
}

func (r *recorder) op(name string) { r.cmd.Ops = append(r.cmd.Ops, name) }

func (r *recorder) BeginRenderPass(fb present.Framebuffer, clear [4]float32) {
	r.op("begin")
	r.cmd.Framebuffer, r.cmd.Clear = fb, clear
}

func (r *recorder) BindPipeline() { r.op("pipeline") }

func (r *recorder) SetViewport(vp present.Viewport) {
	r.op("viewport")
	r.cmd.Viewport = vp
}

func (r *recorder) PushConstants(data []byte) {
	r.op("push")
	r.cmd.Push = append([]byte(nil), data...)
}

func (r *recorder) BindVertexBuffer() { r.op("vertices") }

func (r *recorder) Draw(vertexCount uint32) {
	r.op("draw")
	r.cmd.Vertices = vertexCount
}

func (r *recorder) EndRenderPass() { r.op("end") }

func (r *recorder) End() (present.CommandBuffer, error) {
	if r.dev.RecordErr != nil {
		return nil, r.dev.RecordErr
	}
	r.dev.Recorded = append(r.dev.Recorded, r.cmd)
	return r.cmd, nil
}

// Acquire is a scripted AcquireNextImage result.
type Acquire struct {
	Index      uint32
	Suboptimal bool
	Err        error
}

// Present is a scripted Present result.
type Present struct {
	Suboptimal bool
	Err        error
}

// PresentCall records one Present.
type PresentCall struct {
	Swapchain present.Swapchain
	Index     uint32
	Waits     []present.Semaphore
}

// Device records calls. Acquire and present results are consumed from the
// scripted queues; when a queue is empty the call succeeds, cycling image
// indices.
type Device struct {
	Caps present.Capabilities

	AcquireQueue []Acquire
	PresentQueue []Present
	SubmitErr    error
	RecordErr    error
	RebuildErr   error
	WaitIdleErr  error

	// Calls lists device entry points in call order.
	Calls        []string
	Swapchains   []*Swapchain
	Framebuffers []*Framebuffer
	Semaphores   []*Semaphore
	Fences       []*Fence
	Recorded     []*Commands
	Submissions  []present.Submission
	Presents     []PresentCall
	WaitIdles    int

	// Violations lists synchronization misuse seen so far.
	Violations []string

	nextImage uint32
	held      map[uint32][]*Semaphore
}

// NewDevice reports a FIFO and mailbox capable surface with a minimum of two
// images.
func NewDevice() *Device {
	return &Device{
		Caps: present.Capabilities{
			MinImageCount: 2,
			Formats:       []present.Format{{Pixel: 44, ColorSpace: 0}},
			PresentModes:  []present.PresentMode{present.PresentFifo, present.PresentMailbox},
		},
	}
}

func (d *Device) call(name string) { d.Calls = append(d.Calls, name) }

func (d *Device) violate(format string, args ...any) {
	d.Violations = append(d.Violations, fmt.Sprintf(format, args...))
}

// releaseImage ends the presentation engine's hold on the semaphores the
// last present of image waited on.
func (d *Device) releaseImage(image uint32) {
	for _, s := range d.held[image] {
		s.InPresent = false
	}
	delete(d.held, image)
}

// Reset forgets recorded calls but keeps created objects.
func (d *Device) Reset() {
	d.Calls = nil
	d.Recorded = nil
	d.Submissions = nil
	d.Presents = nil
}

// SignalAll completes every submitted fence.
func (d *Device) SignalAll() {
	for _, f := range d.Fences {
		if f.submitted {
			f.Done = true
		}
	}
}

// Live counts semaphores and fences not yet destroyed.
func (d *Device) Live() (semaphores, fences int) {
	for _, s := range d.Semaphores {
		if !s.Destroyed {
			semaphores++
		}
	}
	for _, f := range d.Fences {
		if !f.Destroyed {
			fences++
		}
	}
	return semaphores, fences
}

func (d *Device) Capabilities() (present.Capabilities, error) {
	d.call("capabilities")
	return d.Caps, nil
}

func (d *Device) CreateSwapchain(info present.SwapchainInfo, old present.Swapchain) (present.Swapchain, error) {
	d.call("swapchain")
	if old != nil && d.RebuildErr != nil {
		return nil, d.RebuildErr
	}
	if o, ok := old.(*Swapchain); ok && o.Destroyed {
		return nil, ErrDestroyed
	}
	sc := &Swapchain{Info: info, Old: old, Images: int(info.MinImageCount)}
	d.Swapchains = append(d.Swapchains, sc)
	return sc, nil
}

func (d *Device) CreateFramebuffer(sc present.Swapchain, image int) (present.Framebuffer, error) {
	d.call("framebuffer")
	s, ok := sc.(*Swapchain)
	if !ok || s.Destroyed {
		return nil, ErrDestroyed
	}
	fb := &Framebuffer{Swapchain: s, Image: image}
	d.Framebuffers = append(d.Framebuffers, fb)
	return fb, nil
}

func (d *Device) NewSemaphore() (present.Semaphore, error) {
	s := &Semaphore{ID: len(d.Semaphores), dev: d}
	d.Semaphores = append(d.Semaphores, s)
	return s, nil
}

func (d *Device) NewFence() (present.Fence, error) {
	f := &Fence{ID: len(d.Fences)}
	d.Fences = append(d.Fences, f)
	return f, nil
}

func (d *Device) AcquireNextImage(sc present.Swapchain, signal present.Semaphore) (uint32, bool, error) {
	d.call("acquire")
	if s, ok := sc.(*Swapchain); !ok || s.Destroyed {
		return 0, false, ErrDestroyed
	}
	if len(d.AcquireQueue) > 0 {
		a := d.AcquireQueue[0]
		d.AcquireQueue = d.AcquireQueue[1:]
		if a.Err == nil {
			d.releaseImage(a.Index)
			signal.(*Semaphore).signal("acquire")
		}
		return a.Index, a.Suboptimal, a.Err
	}
	index := d.nextImage
	d.nextImage = (d.nextImage + 1) % uint32(sc.ImageCount())
	d.releaseImage(index)
	signal.(*Semaphore).signal("acquire")
	return index, false, nil
}

func (d *Device) BeginCommands() (present.Recorder, error) {
	d.call("record")
	return &recorder{dev: d, cmd: &Commands{}}, nil
}

func (d *Device) Submit(s present.Submission) error {
	d.call("submit")
	if d.SubmitErr != nil {
		return d.SubmitErr
	}
	for _, w := range s.Waits {
		if w.Semaphore.(*Semaphore).Destroyed {
			return fmt.Errorf("wait on semaphore %d: %w", w.Semaphore.(*Semaphore).ID, ErrDestroyed)
		}
	}
	if f, ok := s.Fence.(*Fence); ok {
		if f.Done || f.submitted {
			d.violate("submit reuses fence %d before reset", f.ID)
		}
		f.submitted = true
	}
	for _, w := range s.Waits {
		w.Semaphore.(*Semaphore).wait("submit")
	}
	for _, sig := range s.Signals {
		sig.(*Semaphore).signal("submit")
	}
	d.Submissions = append(d.Submissions, s)
	return nil
}

func (d *Device) Present(sc present.Swapchain, index uint32, waits []present.Semaphore) (bool, error) {
	d.call("present")
	d.Presents = append(d.Presents, PresentCall{Swapchain: sc, Index: index, Waits: waits})
	// waits execute even when the present is rejected as out of date
	if d.held == nil {
		d.held = make(map[uint32][]*Semaphore)
	}
	for _, w := range waits {
		sem := w.(*Semaphore)
		sem.wait("present")
		sem.InPresent = true
		d.held[index] = append(d.held[index], sem)
	}
	if len(d.PresentQueue) > 0 {
		p := d.PresentQueue[0]
		d.PresentQueue = d.PresentQueue[1:]
		return p.Suboptimal, p.Err
	}
	return false, nil
}

func (d *Device) WaitIdle() error {
	d.call("wait-idle")
	d.WaitIdles++
	if d.WaitIdleErr != nil {
		return d.WaitIdleErr
	}
	d.SignalAll()
	for image := range d.held {
		d.releaseImage(image)
	}
	return nil
}
