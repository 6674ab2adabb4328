package camera

import (
	"math/rand"
	"testing"

	"github.com/chewxy/math32"
	mgl32 "github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tol = 1e-5

func newTestCamera(t *testing.T, opts ...Option) *Camera {
	t.Helper()
	cam, err := New(mgl32.Vec3{-0.5, 3, 8}, mgl32.Vec3{0, -1, -5}, opts...)
	require.NoError(t, err)
	return cam
}

func assertOrthonormal(t *testing.T, cam *Camera) {
	t.Helper()
	assert.InDelta(t, 1, cam.UU.Len(), tol, "|uu|")
	assert.InDelta(t, 1, cam.VV.Len(), tol, "|vv|")
	assert.InDelta(t, 1, cam.WW.Len(), tol, "|ww|")
	assert.InDelta(t, 0, cam.UU.Dot(cam.VV), tol, "uu.vv")
	assert.InDelta(t, 0, cam.UU.Dot(cam.WW), tol, "uu.ww")
	assert.InDelta(t, 0, cam.VV.Dot(cam.WW), tol, "vv.ww")
}

func assertVecNear(t *testing.T, want, got mgl32.Vec3) {
	t.Helper()
	for i := range want {
		assert.InDelta(t, want[i], got[i], tol, "component %d", i)
	}
}

func TestNewBasis(t *testing.T) {
	cam := newTestCamera(t)
	assertOrthonormal(t, cam)
	assertVecNear(t, mgl32.Vec3{0, -1, -5}.Normalize(), cam.WW)
	// right-handed: uu x vv points backwards
	assertVecNear(t, cam.WW.Mul(-1), cam.UU.Cross(cam.VV))
	assert.Equal(t, mgl32.Vec2{800, 600}, cam.Resolution)
}

func TestNewDegenerateForward(t *testing.T) {
	_, err := New(mgl32.Vec3{}, mgl32.Vec3{})
	assert.ErrorIs(t, err, ErrDegenerateForward)

	_, err = New(mgl32.Vec3{}, mgl32.Vec3{0, 3, 0})
	assert.ErrorIs(t, err, ErrDegenerateForward)
}

func TestRotationKeepsBasisOrthonormal(t *testing.T) {
	cam := newTestCamera(t)
	limit := math32.Sin(mgl32.DegToRad(DefaultMaxPitch))
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		delta := mgl32.Vec2{rng.Float32()*240 - 120, rng.Float32()*240 - 120}
		cam.Update([]Event{Rotate{Delta: delta}}, 0.016)
		assertOrthonormal(t, cam)
		assert.LessOrEqual(t, math32.Abs(cam.WW.Y()), limit+tol)
		if t.Failed() {
			t.Fatalf("basis degraded at step %d (delta %v)", i, delta)
		}
	}
}

func TestLargeYawKeepsElevation(t *testing.T) {
	cam, err := New(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1})
	require.NoError(t, err)
	cam.Update([]Event{Rotate{Delta: mgl32.Vec2{50, 0}}}, 0.016)

	want := mgl32.Rotate3DY(mgl32.DegToRad(-100)).Mul3x1(mgl32.Vec3{0, 0, -1})
	assertVecNear(t, want, cam.WW)
	assert.InDelta(t, 0.985, cam.WW.X(), 1e-3)
	assert.InDelta(t, 0.174, cam.WW.Z(), 1e-3)

	tilted := newTestCamera(t)
	y := tilted.WW.Y()
	for _, dx := range []float32{50, 90, -135, 179} {
		tilted.Update([]Event{Rotate{Delta: mgl32.Vec2{dx, 0}}}, 0.016)
		assert.InDelta(t, y, tilted.WW.Y(), tol)
		assertOrthonormal(t, tilted)
	}
}

func TestUnclampedRotationMatchesPitchTimesYaw(t *testing.T) {
	cam := newTestCamera(t)
	start := cam.WW
	cam.Update([]Event{Rotate{Delta: mgl32.Vec2{30, 4}}}, 0.016)

	rotation := mgl32.Rotate3DX(mgl32.DegToRad(-8)).Mul3(mgl32.Rotate3DY(mgl32.DegToRad(-60)))
	assertVecNear(t, rotation.Mul3x1(start).Normalize(), cam.WW)
}

func TestPitchPastPoleStopsAtLimit(t *testing.T) {
	cam, err := New(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1})
	require.NoError(t, err)
	// one 170 degree upward pitch would carry ww over the top
	cam.Update([]Event{Rotate{Delta: mgl32.Vec2{0, -85}}}, 0.016)

	limit := mgl32.DegToRad(DefaultMaxPitch)
	assertVecNear(t, mgl32.Vec3{0, math32.Sin(limit), -math32.Cos(limit)}, cam.WW)
	assertOrthonormal(t, cam)
}

func TestPitchIsClamped(t *testing.T) {
	cam := newTestCamera(t)
	limit := math32.Sin(mgl32.DegToRad(DefaultMaxPitch))
	for i := 0; i < 200; i++ {
		cam.Update([]Event{Rotate{Delta: mgl32.Vec2{0, -5}}}, 0.016)
		assert.LessOrEqual(t, math32.Abs(cam.WW.Y()), limit+tol)
		assertOrthonormal(t, cam)
	}
	assert.InDelta(t, limit, cam.WW.Y(), 1e-4)

	for i := 0; i < 400; i++ {
		cam.Update([]Event{Rotate{Delta: mgl32.Vec2{0, 5}}}, 0.016)
	}
	assert.InDelta(t, -limit, cam.WW.Y(), 1e-4)
	assertOrthonormal(t, cam)
}

func TestForwardBackwardRoundTrip(t *testing.T) {
	cam := newTestCamera(t)
	start := cam.Position
	cam.Update([]Event{MoveForward{}}, 0.75)
	assert.NotEqual(t, start, cam.Position)
	cam.Update([]Event{MoveBackward{}}, 0.75)
	assertVecNear(t, start, cam.Position)

	cam.Update([]Event{MoveLeft{}, MoveRight{}}, 0.3)
	assertVecNear(t, start, cam.Position)
}

func TestResizeOnlyTouchesResolution(t *testing.T) {
	cam := newTestCamera(t)
	before := *cam
	cam.Update([]Event{Resize{Width: 1920, Height: 1080}}, 5)

	assert.Equal(t, mgl32.Vec2{1920, 1080}, cam.Resolution)
	assert.Equal(t, before.Position, cam.Position)
	assert.Equal(t, before.UU, cam.UU)
	assert.Equal(t, before.VV, cam.VV)
	assert.Equal(t, before.WW, cam.WW)
}

func TestUpdateWithoutEventsIsNoop(t *testing.T) {
	cam := newTestCamera(t)
	before := *cam
	for _, elapsed := range []float32{0, 0.016, 1, 100} {
		cam.Update(nil, elapsed)
		assert.Equal(t, before, *cam)
	}
}

func TestMoveRightScenario(t *testing.T) {
	cam := newTestCamera(t)
	require.Equal(t, float32(2), cam.Speed())
	startX := cam.Position.X()
	uuX := cam.UU.X()

	cam.Update([]Event{MoveRight{}}, 1.0)
	assert.InDelta(t, startX+2*uuX, cam.Position.X(), 1e-6)
}

func TestOptions(t *testing.T) {
	cam := newTestCamera(t, WithSpeed(5), WithRotationSpeed(1), WithResolution(640, 480), WithMaxPitch(200))
	assert.Equal(t, float32(5), cam.Speed())
	assert.Equal(t, float32(1), cam.RotationSpeed())
	assert.Equal(t, mgl32.Vec2{640, 480}, cam.Resolution)
	assert.InDelta(t, mgl32.DegToRad(DefaultMaxPitch), cam.maxPitch, 1e-6)
}

func TestSteepForwardIsClampedAtConstruction(t *testing.T) {
	cam, err := New(mgl32.Vec3{}, mgl32.Vec3{0.001, -1, 0}, WithMaxPitch(60))
	require.NoError(t, err)
	assert.InDelta(t, -math32.Sin(mgl32.DegToRad(60)), cam.WW.Y(), 1e-4)
	assertOrthonormal(t, cam)
}
