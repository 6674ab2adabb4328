package present

import "fmt"

// syncPool recycles unsignaled semaphores and fences whose last use has
// completed.
type syncPool struct {
	dev        Device
	semaphores []Semaphore
	fences     []Fence
}

func (p *syncPool) semaphore() (Semaphore, error) {
	if n := len(p.semaphores); n > 0 {
		s := p.semaphores[n-1]
		p.semaphores = p.semaphores[:n-1]
		return s, nil
	}
	return p.dev.NewSemaphore()
}

func (p *syncPool) fence() (Fence, error) {
	if n := len(p.fences); n > 0 {
		f := p.fences[n-1]
		p.fences = p.fences[:n-1]
		return f, nil
	}
	return p.dev.NewFence()
}

func (p *syncPool) putSemaphore(s Semaphore) { p.semaphores = append(p.semaphores, s) }

// putFence resets f before pooling it.
func (p *syncPool) putFence(f Fence) error {
	if err := f.Reset(); err != nil {
		f.Destroy()
		return fmt.Errorf("reset fence: %w", err)
	}
	p.fences = append(p.fences, f)
	return nil
}

func (p *syncPool) destroy() {
	for _, s := range p.semaphores {
		s.Destroy()
	}
	for _, f := range p.fences {
		f.Destroy()
	}
	p.semaphores, p.fences = nil, nil
}
