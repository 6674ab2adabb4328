package app

import (
	"errors"
	"testing"
	"time"

	mgl32 "github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Marcher/internal/config"
	"Marcher/internal/input"
	"Marcher/internal/present"
	"Marcher/internal/present/presenttest"
)

type cursor struct{ visible []bool }

func (c *cursor) SetCursorVisible(v bool) { c.visible = append(c.visible, v) }

func newApp(t *testing.T) (*App, *presenttest.Device, *presenttest.Window) {
	t.Helper()
	dev := presenttest.NewDevice()
	win := &presenttest.Window{Width: 800, Height: 600}
	a, err := New(config.Default(), dev, win)
	require.NoError(t, err)
	dev.Reset()
	return a, dev, win
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Vulkan.PresentMode = "mailbox"
	cfg.Camera.Speed = 5
	dev := presenttest.NewDevice()
	a, err := New(cfg, dev, &presenttest.Window{Width: 1024, Height: 768})
	require.NoError(t, err)

	assert.Equal(t, mgl32.Vec2{1024, 768}, a.Camera.Resolution)
	assert.Equal(t, mgl32.Vec3{-0.5, 3, 8}, a.Camera.Position)
	assert.Equal(t, float32(5), a.Camera.Speed())
	assert.Equal(t, present.PresentMailbox, a.Surface.Info().PresentMode)
}

func TestNewRejectsVerticalForward(t *testing.T) {
	cfg := config.Default()
	cfg.Camera.Forward = [3]float32{0, 1, 0}
	_, err := New(cfg, presenttest.NewDevice(), &presenttest.Window{Width: 8, Height: 8})
	assert.Error(t, err)
}

func TestTickMovesCameraThenDraws(t *testing.T) {
	a, dev, _ := newApp(t)
	start := a.Camera.Position
	right := a.Camera.UU

	a.Input.Key(input.ActionRight, true, false)
	outcome, err := a.Tick(1)
	require.NoError(t, err)
	assert.Equal(t, present.OutcomePresented, outcome)

	want := start.Add(right.Mul(2))
	assert.InDelta(t, want.X(), a.Camera.Position.X(), 1e-5)
	assert.InDelta(t, want.Z(), a.Camera.Position.Z(), 1e-5)
	require.Len(t, dev.Recorded, 1)
	assert.Len(t, dev.Recorded[0].Push, 144)

	// held keys repeat every tick until released
	_, err = a.Tick(0.5)
	require.NoError(t, err)
	want = want.Add(right.Mul(1))
	assert.InDelta(t, want.X(), a.Camera.Position.X(), 1e-5)

	a.Input.Key(input.ActionRight, false, false)
	before := a.Camera.Position
	_, err = a.Tick(1)
	require.NoError(t, err)
	assert.Equal(t, before, a.Camera.Position)
}

func TestTickWithNoInputKeepsCamera(t *testing.T) {
	a, _, _ := newApp(t)
	before := *a.Camera
	_, err := a.Tick(0.016)
	require.NoError(t, err)
	assert.Equal(t, before.Position, a.Camera.Position)
	assert.Equal(t, before.WW, a.Camera.WW)
}

func TestHandleResize(t *testing.T) {
	a, dev, win := newApp(t)
	win.Width, win.Height = 1280, 720
	a.HandleResize(1280, 720)
	assert.True(t, a.Surface.Stale())

	outcome, err := a.Tick(0.016)
	require.NoError(t, err)
	assert.Equal(t, present.OutcomePresented, outcome)
	assert.Equal(t, mgl32.Vec2{1280, 720}, a.Camera.Resolution)
	assert.Equal(t, present.Extent{Width: 1280, Height: 720}, a.Surface.Swapchain().Extent())
	assert.Equal(t, "wait-idle", dev.Calls[0])
}

func TestMinimizedTickSkips(t *testing.T) {
	a, dev, win := newApp(t)
	win.Width, win.Height = 0, 0
	a.HandleResize(0, 0)

	outcome, err := a.Tick(0.016)
	require.NoError(t, err)
	assert.Equal(t, present.OutcomeSkipped, outcome)
	assert.Empty(t, dev.Calls)
	skipped, _ := a.Stats.Dropped()
	assert.Equal(t, uint64(1), skipped)
}

func TestDragRotatesAndTogglesCursor(t *testing.T) {
	dev := presenttest.NewDevice()
	c := &cursor{}
	a, err := New(config.Default(), dev, &presenttest.Window{Width: 800, Height: 600}, WithCursor(c))
	require.NoError(t, err)
	ww := a.Camera.WW

	a.Input.DragButton(true)
	a.Input.PointerMoved(100, 100)
	a.Input.PointerMoved(120, 100)
	_, err = a.Tick(0.016)
	require.NoError(t, err)
	assert.NotEqual(t, ww, a.Camera.WW)

	a.Input.DragButton(false)
	assert.Equal(t, []bool{false, true}, c.visible)
}

func TestCloseReleases(t *testing.T) {
	a, dev, _ := newApp(t)
	for i := 0; i < 3; i++ {
		_, err := a.Tick(0.016)
		require.NoError(t, err)
	}
	require.NoError(t, a.Close())
	semaphores, fences := dev.Live()
	assert.Zero(t, semaphores)
	assert.Zero(t, fences)
	assert.True(t, dev.Swapchains[0].Destroyed)
	assert.Equal(t, uint64(3), a.Stats.Frames())
}

func TestAbortKeepsCloseError(t *testing.T) {
	a, dev, _ := newApp(t)
	lost := errors.New("device lost")
	hung := errors.New("wait idle timed out")
	dev.SubmitErr = lost
	dev.WaitIdleErr = hung

	_, err := a.Tick(0.016)
	require.ErrorIs(t, err, lost)
	err = a.Abort(err)
	assert.ErrorIs(t, err, lost)
	assert.ErrorIs(t, err, hung)
}

func TestAbortAfterCleanClose(t *testing.T) {
	a, dev, _ := newApp(t)
	lost := errors.New("device lost")
	dev.SubmitErr = lost
	_, err := a.Tick(0.016)
	err = a.Abort(err)
	assert.ErrorIs(t, err, lost)
	semaphores, fences := dev.Live()
	assert.Zero(t, semaphores)
	assert.Zero(t, fences)
}

func TestClockLap(t *testing.T) {
	now := time.Duration(0)
	c := &Clock{now: func() time.Duration { return now }}
	now = 250 * time.Millisecond
	assert.InDelta(t, 0.25, c.Lap(), 1e-6)
	now += time.Second
	assert.InDelta(t, 1.0, c.Lap(), 1e-6)
	assert.Zero(t, c.Lap())
}

func TestNewClockUsesHighResolutionTimer(t *testing.T) {
	c := NewClock()
	assert.GreaterOrEqual(t, c.Lap(), float32(0))
}

func TestStatsFrameRate(t *testing.T) {
	const tick = 1.0 / 64
	s := NewStats()
	for i := 0; i < 62; i++ {
		s.Record(present.OutcomePresented, tick)
	}
	s.Record(present.OutcomeDeferred, tick)
	assert.False(t, s.Updated())

	s.Record(present.OutcomePresented, tick)
	assert.True(t, s.Updated())
	assert.False(t, s.Updated())
	assert.InDelta(t, 63, s.FPS(), 1e-9)
	assert.Equal(t, uint64(63), s.Frames())
	_, deferred := s.Dropped()
	assert.Equal(t, uint64(1), deferred)
}
