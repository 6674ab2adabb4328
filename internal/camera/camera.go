// Package camera implements the first-person camera: an orthonormal basis
// (uu right, vv up, ww forward) plus a position, driven by discrete motion
// and rotation events.
package camera

import (
	"errors"

	"github.com/chewxy/math32"
	mgl32 "github.com/go-gl/mathgl/mgl32"
)

const (
	DefaultSpeed         = 2.0
	DefaultRotationSpeed = 2.0  // degrees per unit of rotation delta
	DefaultMaxPitch      = 89.0 // degrees above or below the horizon

	degenerateEpsilon = 1e-6
)

// WorldUp is the fixed up vector the basis is derived against.
var WorldUp = mgl32.Vec3{0, 1, 0}

// ErrDegenerateForward is returned when the forward vector has no length or
// points along WorldUp, where the basis cross products collapse.
var ErrDegenerateForward = errors.New("camera: degenerate forward vector")

type Camera struct {
	Resolution mgl32.Vec2
	Position   mgl32.Vec3
	UU         mgl32.Vec3
	VV         mgl32.Vec3
	WW         mgl32.Vec3

	speed         float32
	rotationSpeed float32
	maxPitch      float32 // radians
}

type Option func(*Camera)

// WithSpeed sets the translation speed in world units per second.
func WithSpeed(speed float32) Option {
	return func(c *Camera) { c.speed = speed }
}

// WithRotationSpeed sets how many degrees one unit of rotation delta turns.
func WithRotationSpeed(degrees float32) Option {
	return func(c *Camera) { c.rotationSpeed = degrees }
}

// WithMaxPitch bounds the elevation of the forward vector. Values outside
// (0, 89.9] degrees are ignored.
func WithMaxPitch(degrees float32) Option {
	return func(c *Camera) {
		if degrees > 0 && degrees <= 89.9 {
			c.maxPitch = mgl32.DegToRad(degrees)
		}
	}
}

func WithResolution(width, height int) Option {
	return func(c *Camera) { c.Resolution = mgl32.Vec2{float32(width), float32(height)} }
}

// New builds a camera at position looking along forward.
func New(position, forward mgl32.Vec3, opts ...Option) (*Camera, error) {
	c := &Camera{
		Resolution:    mgl32.Vec2{800, 600},
		Position:      position,
		speed:         DefaultSpeed,
		rotationSpeed: DefaultRotationSpeed,
		maxPitch:      mgl32.DegToRad(DefaultMaxPitch),
	}
	for _, opt := range opts {
		opt(c)
	}

	if forward.Len() < degenerateEpsilon {
		return nil, ErrDegenerateForward
	}
	ww := forward.Normalize()
	flat := mgl32.Vec3{ww.X(), 0, ww.Z()}
	if flat.Len() < degenerateEpsilon {
		return nil, ErrDegenerateForward
	}
	c.WW = c.clampElevation(ww, flat)
	c.UU, c.VV = basis(c.WW)
	return c, nil
}

func (c *Camera) Speed() float32         { return c.speed }
func (c *Camera) RotationSpeed() float32 { return c.rotationSpeed }

// Update applies events in the order they were recorded. elapsed is the time
// since the previous tick in seconds and scales translation only.
func (c *Camera) Update(events []Event, elapsed float32) {
	step := c.speed * elapsed
	for _, ev := range events {
		switch e := ev.(type) {
		case MoveForward:
			c.Position = c.Position.Add(c.WW.Mul(step))
		case MoveBackward:
			c.Position = c.Position.Sub(c.WW.Mul(step))
		case MoveLeft:
			c.Position = c.Position.Sub(c.UU.Mul(step))
		case MoveRight:
			c.Position = c.Position.Add(c.UU.Mul(step))
		case Rotate:
			c.rotate(e.Delta)
		case Resize:
			c.Resolution = mgl32.Vec2{float32(e.Width), float32(e.Height)}
		}
	}
}

// rotate yaws about world Y, then pitches about world X, then rebuilds uu
// and vv from the new forward so repeated increments cannot skew the basis.
func (c *Camera) rotate(delta mgl32.Vec2) {
	pitch := mgl32.DegToRad(-delta.Y() * c.rotationSpeed)
	yaw := mgl32.DegToRad(-delta.X() * c.rotationSpeed)

	ww := mgl32.Rotate3DY(yaw).Mul3x1(c.WW)
	c.WW = c.pitchClamped(ww, pitch).Normalize()
	c.UU, c.VV = basis(c.WW)
}

// pitchClamped turns ww about world X by angle, stopping where its elevation
// reaches maxPitch. About X the vector keeps its x and its radius r in the YZ
// plane while phi = atan2(y, -z) advances by angle, so the bound is applied
// to phi. Yaw leaves y unchanged and never needs clamping.
func (c *Camera) pitchClamped(ww mgl32.Vec3, angle float32) mgl32.Vec3 {
	r := math32.Hypot(ww.Y(), ww.Z())
	if r < degenerateEpsilon || angle == 0 {
		return ww
	}
	phi := math32.Atan2(ww.Y(), -ww.Z())
	var base float32
	if ww.Z() > 0 {
		base = math32.Pi
	}
	// |r sin(rel)| is the elevation sine on either side of the pole
	limit := math32.Asin(min(1, math32.Sin(c.maxPitch)/r))
	rel := mgl32.Clamp(wrapAngle(phi-base)+angle, -limit, limit)
	phi = base + rel
	return mgl32.Vec3{ww.X(), r * math32.Sin(phi), -r * math32.Cos(phi)}
}

// clampElevation keeps the horizontal heading of ww and limits its elevation
// to maxPitch.
func (c *Camera) clampElevation(ww, flat mgl32.Vec3) mgl32.Vec3 {
	if math32.Abs(ww.Y()) <= math32.Sin(c.maxPitch) {
		return ww
	}
	elevation := c.maxPitch
	if ww.Y() < 0 {
		elevation = -elevation
	}
	heading := flat.Normalize()
	return heading.Mul(math32.Cos(elevation)).Add(WorldUp.Mul(math32.Sin(elevation))).Normalize()
}

func wrapAngle(a float32) float32 {
	for a > math32.Pi {
		a -= 2 * math32.Pi
	}
	for a <= -math32.Pi {
		a += 2 * math32.Pi
	}
	return a
}

func basis(ww mgl32.Vec3) (uu, vv mgl32.Vec3) {
	uu = ww.Cross(WorldUp).Normalize()
	vv = uu.Cross(ww).Normalize()
	return uu, vv
}
