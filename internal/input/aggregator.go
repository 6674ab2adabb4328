// Package input folds raw window events that arrive between redraw ticks
// into the camera events for the next tick.
package input

import (
	"log/slog"
	"sync"

	mgl32 "github.com/go-gl/mathgl/mgl32"

	"Marcher/internal/camera"
)

const DefaultSensitivity = 0.05

// Action is a held-key camera motion.
type Action int

const (
	ActionForward Action = iota
	ActionBackward
	ActionLeft
	ActionRight
	actionCount
)

func (a Action) String() string {
	switch a {
	case ActionForward:
		return "forward"
	case ActionBackward:
		return "backward"
	case ActionLeft:
		return "left"
	case ActionRight:
		return "right"
	default:
		return "unknown"
	}
}

// Cursor toggles pointer visibility while a drag rotates the camera.
type Cursor interface {
	SetCursorVisible(visible bool)
}

type Aggregator struct {
	mu sync.Mutex

	held [actionCount]bool

	dragging bool
	lastPos  mgl32.Vec2
	seeded   bool
	rotation mgl32.Vec2
	rotating bool

	resize  camera.Resize
	resized bool

	sensitivity float32
	cursor      Cursor
	log         *slog.Logger
}

type Option func(*Aggregator)

func WithSensitivity(s float32) Option {
	return func(a *Aggregator) { a.sensitivity = s }
}

func WithCursor(c Cursor) Option {
	return func(a *Aggregator) { a.cursor = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.log = l }
}

func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		sensitivity: DefaultSensitivity,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key records a press or release of the key bound to action. Auto-repeat
// notifications carry no state change and are dropped.
func (a *Aggregator) Key(action Action, pressed, repeat bool) {
	if repeat || action < 0 || action >= actionCount {
		return
	}
	a.mu.Lock()
	a.held[action] = pressed
	a.mu.Unlock()
}

// DragButton starts or ends a rotation drag.
func (a *Aggregator) DragButton(pressed bool) {
	a.mu.Lock()
	a.dragging = pressed
	if !pressed {
		a.rotating = false
		a.rotation = mgl32.Vec2{}
		a.seeded = false
	}
	cursor := a.cursor
	a.mu.Unlock()

	if cursor != nil {
		cursor.SetCursorVisible(!pressed)
	}
}

// PointerMoved takes an absolute cursor position. During a drag the newest
// delta replaces any delta staged earlier in the same tick.
func (a *Aggregator) PointerMoved(x, y float64) {
	pos := mgl32.Vec2{float32(x), float32(y)}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.dragging {
		return
	}
	if !a.seeded {
		a.lastPos = pos
		a.seeded = true
		return
	}
	delta := pos.Sub(a.lastPos).Mul(a.sensitivity)
	a.lastPos = pos
	if delta.X() != 0 || delta.Y() != 0 {
		a.rotation = delta
		a.rotating = true
	}
}

// Resized stages a resolution change for the next tick.
func (a *Aggregator) Resized(width, height int) {
	a.mu.Lock()
	a.resize = camera.Resize{Width: width, Height: height}
	a.resized = true
	a.mu.Unlock()
}

// Drain returns this tick's events and consumes the pending rotation and
// resize. Held keys stay held.
func (a *Aggregator) Drain() []camera.Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	var events []camera.Event
	if a.held[ActionForward] {
		events = append(events, camera.MoveForward{})
	}
	if a.held[ActionBackward] {
		events = append(events, camera.MoveBackward{})
	}
	if a.held[ActionLeft] {
		events = append(events, camera.MoveLeft{})
	}
	if a.held[ActionRight] {
		events = append(events, camera.MoveRight{})
	}
	if a.rotating {
		events = append(events, camera.Rotate{Delta: a.rotation})
		a.rotation = mgl32.Vec2{}
		a.rotating = false
	}
	if a.resized {
		events = append(events, a.resize)
		a.resized = false
		a.log.Debug("resolution staged", "width", a.resize.Width, "height", a.resize.Height)
	}
	return events
}
