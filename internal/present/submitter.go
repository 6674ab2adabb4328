package present

import (
	"errors"
	"fmt"
	"log/slog"

	"Marcher/internal/camera"
	"Marcher/internal/shading"
)

// QuadVertexCount is the number of vertices drawn per frame.
const QuadVertexCount = 6

// Outcome reports what a Draw call did with the tick.
type Outcome int

const (
	OutcomePresented Outcome = iota
	// OutcomeSkipped means nothing was acquired: the window is minimized
	// or a rebuild had to wait for a drawable size.
	OutcomeSkipped
	// OutcomeDeferred means acquire or present reported the surface out of
	// date; the next tick rebuilds first.
	OutcomeDeferred
)

func (o Outcome) String() string {
	switch o {
	case OutcomePresented:
		return "presented"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDeferred:
		return "deferred"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

type SubmitterOption func(*Submitter)

func WithMaterials(m [shading.MaterialCount]shading.Material) SubmitterOption {
	return func(s *Submitter) { s.materials = m }
}

func WithClearColor(c [4]float32) SubmitterOption {
	return func(s *Submitter) { s.clear = c }
}

func WithLogger(l *slog.Logger) SubmitterOption {
	return func(s *Submitter) { s.log = l }
}

// Submitter runs one acquire, record, submit, present cycle per Draw. It is
// not safe for concurrent use.
type Submitter struct {
	dev     Device
	surface *Surface
	log     *slog.Logger

	inFlight *Token
	retired  []*Token
	pool     syncPool

	// render-finished semaphore per swapchain image, reused when the image
	// is acquired again
	presentWaits []Semaphore

	materials [shading.MaterialCount]shading.Material
	clear     [4]float32
}

func NewSubmitter(dev Device, surface *Surface, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		dev:       dev,
		surface:   surface,
		log:       slog.Default(),
		inFlight:  Now(),
		pool:      syncPool{dev: dev},
		materials: shading.DefaultMaterials,
		clear:     [4]float32{0, 0, 0, 1},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pending is the number of retired tokens still waiting on their fence.
func (s *Submitter) Pending() int { return len(s.retired) }

// Draw renders one frame from cam. A non-nil error is fatal; every
// recoverable presentation condition is reported through the Outcome.
func (s *Submitter) Draw(cam *camera.Camera) (Outcome, error) {
	if s.surface.WindowExtent().Empty() {
		return OutcomeSkipped, nil
	}

	if err := s.reclaim(); err != nil {
		return 0, err
	}

	if s.surface.Stale() {
		ok, err := s.surface.Rebuild()
		if err != nil {
			return 0, fmt.Errorf("rebuild surface: %w", err)
		}
		if !ok {
			s.log.Debug("rebuild deferred, window has no drawable area")
			return OutcomeSkipped, nil
		}
	}

	acquired, err := s.pool.semaphore()
	if err != nil {
		return 0, fmt.Errorf("create acquire semaphore: %w", err)
	}
	index, suboptimal, err := s.dev.AcquireNextImage(s.surface.Swapchain(), acquired)
	if errors.Is(err, ErrOutOfDate) {
		s.pool.putSemaphore(acquired)
		s.log.Debug("acquire out of date, deferring frame")
		s.surface.MarkStale(ReasonOutOfDate)
		return OutcomeDeferred, nil
	}
	if err != nil {
		s.pool.putSemaphore(acquired)
		return 0, fmt.Errorf("acquire image: %w", err)
	}
	if suboptimal {
		s.surface.MarkStale(ReasonSuboptimal)
	}

	renderFinished, err := s.presentWait(index)
	if err != nil {
		acquired.Destroy()
		return 0, err
	}
	fb, err := s.surface.Framebuffer(index)
	if err != nil {
		acquired.Destroy()
		return 0, err
	}
	params := shading.NewFrameParams(cam, s.materials)
	commands, err := s.record(fb, &params)
	if err != nil {
		acquired.Destroy()
		return 0, fmt.Errorf("record frame: %w", err)
	}

	next, err := s.newToken(commands, acquired)
	if err != nil {
		commands.Free()
		acquired.Destroy()
		return 0, err
	}

	prev := s.take()
	waits := make([]Wait, 0, 2)
	if w, ok := prev.joinWait(); ok {
		// recycled along with the next token
		next.semaphores = append(next.semaphores, w.Semaphore)
		waits = append(waits, w)
	}
	waits = append(waits, Wait{Semaphore: acquired, Stage: StageColorOutput})

	err = s.dev.Submit(Submission{
		Commands: commands,
		Waits:    waits,
		Signals:  []Semaphore{renderFinished, next.done},
		Fence:    next.fence,
	})
	if err != nil {
		next.destroy()
		s.retire(prev)
		s.inFlight = Now()
		return 0, fmt.Errorf("submit frame: %w", err)
	}
	s.retire(prev)

	suboptimal, err = s.dev.Present(s.surface.Swapchain(), index, []Semaphore{renderFinished})
	switch {
	case errors.Is(err, ErrOutOfDate):
		s.log.Debug("present out of date", "image", index)
		s.surface.MarkStale(ReasonOutOfDate)
		s.retire(next)
		s.inFlight = Now()
		return OutcomeDeferred, nil
	case err != nil:
		s.retire(next)
		s.inFlight = Now()
		return 0, fmt.Errorf("present image %d: %w", index, err)
	}
	if suboptimal {
		s.surface.MarkStale(ReasonSuboptimal)
	}
	s.inFlight = next
	return OutcomePresented, nil
}

func (s *Submitter) record(fb Framebuffer, params *shading.FrameParams) (CommandBuffer, error) {
	rec, err := s.dev.BeginCommands()
	if err != nil {
		return nil, err
	}
	rec.BeginRenderPass(fb, s.clear)
	rec.BindPipeline()
	rec.SetViewport(s.surface.Viewport())
	rec.PushConstants(params.Bytes())
	rec.BindVertexBuffer()
	rec.Draw(QuadVertexCount)
	rec.EndRenderPass()
	return rec.End()
}

// newToken draws the done semaphore and fence of one submission from the
// pool. acquired becomes the token's first wait.
func (s *Submitter) newToken(commands CommandBuffer, acquired Semaphore) (*Token, error) {
	done, err := s.pool.semaphore()
	if err != nil {
		return nil, fmt.Errorf("create done semaphore: %w", err)
	}
	fence, err := s.pool.fence()
	if err != nil {
		s.pool.putSemaphore(done)
		return nil, fmt.Errorf("create fence: %w", err)
	}
	return &Token{
		fence:      fence,
		done:       done,
		commands:   commands,
		semaphores: []Semaphore{acquired},
	}, nil
}

// presentWait returns the render-finished semaphore of image index. The
// presentation engine has finished waiting on it once the same image is
// acquired again, which is the only point it is handed out.
func (s *Submitter) presentWait(index uint32) (Semaphore, error) {
	if n := int(index) + 1; n > len(s.presentWaits) {
		s.presentWaits = append(s.presentWaits, make([]Semaphore, n-len(s.presentWaits))...)
	}
	if s.presentWaits[index] == nil {
		sem, err := s.dev.NewSemaphore()
		if err != nil {
			return nil, fmt.Errorf("create render semaphore: %w", err)
		}
		s.presentWaits[index] = sem
	}
	return s.presentWaits[index], nil
}

// take moves the in-flight token out of the submitter.
func (s *Submitter) take() *Token {
	t := s.inFlight
	s.inFlight = nil
	if t == nil {
		t = Now()
	}
	return t
}

func (s *Submitter) retire(t *Token) {
	if t.empty() {
		return
	}
	s.retired = append(s.retired, t)
}

func (s *Submitter) reclaim() error {
	kept := s.retired[:0]
	for _, t := range s.retired {
		done, err := t.Finished()
		if err != nil {
			return fmt.Errorf("poll frame fence: %w", err)
		}
		if done {
			if err := t.release(&s.pool); err != nil {
				return err
			}
			continue
		}
		kept = append(kept, t)
	}
	clear(s.retired[len(kept):])
	s.retired = kept
	return nil
}

// Close waits for the device to go idle and frees every token and pooled
// sync object. The surface is left to its owner.
func (s *Submitter) Close() error {
	if err := s.dev.WaitIdle(); err != nil {
		return fmt.Errorf("wait idle: %w", err)
	}
	var errs []error
	for _, t := range s.retired {
		errs = append(errs, t.release(&s.pool))
	}
	s.retired = nil
	if s.inFlight != nil {
		errs = append(errs, s.inFlight.release(&s.pool))
		s.inFlight = Now()
	}
	s.pool.destroy()
	for _, sem := range s.presentWaits {
		if sem != nil {
			sem.Destroy()
		}
	}
	s.presentWaits = nil
	return errors.Join(errs...)
}
