package app

import (
	"time"

	"github.com/loov/hrtime"

	"Marcher/internal/present"
)

// Clock measures the time between ticks on the high resolution timer.
type Clock struct {
	now  func() time.Duration
	last time.Duration
}

func NewClock() *Clock {
	c := &Clock{now: hrtime.Now}
	c.last = c.now()
	return c
}

// Lap returns the seconds since the previous Lap, or since NewClock.
func (c *Clock) Lap() float32 {
	now := c.now()
	elapsed := now - c.last
	c.last = now
	return float32(elapsed.Seconds())
}

// Stats counts presented frames and keeps a frame rate refreshed about once
// per second.
type Stats struct {
	frames   uint64
	skipped  uint64
	deferred uint64

	window      float32
	windowCount int
	fps         float64
	updated     bool
}

func NewStats() *Stats { return &Stats{} }

// Record adds one tick of elapsed seconds.
func (s *Stats) Record(outcome present.Outcome, elapsed float32) {
	switch outcome {
	case present.OutcomePresented:
		s.frames++
		s.windowCount++
	case present.OutcomeSkipped:
		s.skipped++
	case present.OutcomeDeferred:
		s.deferred++
	}
	s.window += elapsed
	if s.window >= 1 {
		s.fps = float64(s.windowCount) / float64(s.window)
		s.window = 0
		s.windowCount = 0
		s.updated = true
	}
}

func (s *Stats) Frames() uint64 { return s.frames }
func (s *Stats) FPS() float64   { return s.fps }

// Updated reports whether the frame rate changed since the last call.
func (s *Stats) Updated() bool {
	u := s.updated
	s.updated = false
	return u
}

// Dropped is the number of ticks that did not reach present.
func (s *Stats) Dropped() (skipped, deferred uint64) { return s.skipped, s.deferred }
