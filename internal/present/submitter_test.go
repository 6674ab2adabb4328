package present_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	mgl32 "github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Marcher/internal/camera"
	"Marcher/internal/present"
	"Marcher/internal/present/presenttest"
	"Marcher/internal/shading"
)

type rig struct {
	dev       *presenttest.Device
	window    *presenttest.Window
	surface   *present.Surface
	submitter *present.Submitter
	cam       *camera.Camera
}

func newRig(t *testing.T) *rig {
	t.Helper()
	dev := presenttest.NewDevice()
	win := &presenttest.Window{Width: 800, Height: 600}
	surface, err := present.NewSurface(dev, win, present.SurfaceOptions{})
	require.NoError(t, err)
	cam, err := camera.New(mgl32.Vec3{-0.5, 3, 8}, mgl32.Vec3{0, -1, -5})
	require.NoError(t, err)
	dev.Reset()
	return &rig{
		dev:       dev,
		window:    win,
		surface:   surface,
		submitter: present.NewSubmitter(dev, surface),
		cam:       cam,
	}
}

func (r *rig) draw(t *testing.T, want present.Outcome) {
	t.Helper()
	got, err := r.submitter.Draw(r.cam)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Empty(t, r.dev.Violations)
}

func TestDrawRecordsFrame(t *testing.T) {
	r := newRig(t)
	r.draw(t, present.OutcomePresented)

	assert.Equal(t, []string{"acquire", "record", "submit", "present"}, r.dev.Calls)
	require.Len(t, r.dev.Recorded, 1)
	cmd := r.dev.Recorded[0]
	assert.Equal(t, []string{"begin", "pipeline", "viewport", "push", "vertices", "draw", "end"}, cmd.Ops)
	assert.EqualValues(t, present.QuadVertexCount, cmd.Vertices)
	assert.Equal(t, r.surface.Viewport(), cmd.Viewport)
	assert.Equal(t, [4]float32{0, 0, 0, 1}, cmd.Clear)
	assert.Same(t, r.surface.Framebuffers()[0], cmd.Framebuffer)
	require.Len(t, cmd.Push, shading.FrameParamsSize)

	f32 := func(off int) float32 {
		return math.Float32frombits(binary.NativeEndian.Uint32(cmd.Push[off:]))
	}
	assert.Equal(t, float32(800), f32(0))
	assert.Equal(t, r.cam.Position.X(), f32(16))
	assert.Equal(t, r.cam.WW.Z(), f32(64+8))
	assert.Equal(t, shading.DefaultMaterials[0].Shininess, f32(80+4))

	require.Len(t, r.dev.Submissions, 1)
	sub := r.dev.Submissions[0]
	require.Len(t, sub.Waits, 1)
	assert.Equal(t, present.StageColorOutput, sub.Waits[0].Stage)
	require.Len(t, sub.Signals, 2)
	require.Len(t, r.dev.Presents, 1)
	assert.Equal(t, []present.Semaphore{sub.Signals[0]}, r.dev.Presents[0].Waits)
}

func TestDrawJoinsPreviousSubmission(t *testing.T) {
	r := newRig(t)
	r.draw(t, present.OutcomePresented)
	r.draw(t, present.OutcomePresented)

	require.Len(t, r.dev.Submissions, 2)
	first, second := r.dev.Submissions[0], r.dev.Submissions[1]
	require.Len(t, second.Waits, 2)
	assert.Same(t, first.Signals[1], second.Waits[0].Semaphore)
	assert.Equal(t, present.StageAllCommands, second.Waits[0].Stage)
	assert.Equal(t, present.StageColorOutput, second.Waits[1].Stage)
	assert.NotSame(t, first.Fence, second.Fence)
	assert.Equal(t, uint32(1), r.dev.Presents[1].Index)
}

func TestAcquireOutOfDateDefers(t *testing.T) {
	r := newRig(t)
	r.dev.AcquireQueue = []presenttest.Acquire{{Err: present.ErrOutOfDate}}

	r.draw(t, present.OutcomeDeferred)
	assert.True(t, r.surface.Stale())
	assert.Equal(t, []string{"acquire"}, r.dev.Calls)
	assert.Empty(t, r.dev.Submissions)
	require.Len(t, r.dev.Semaphores, 1)
	unused := r.dev.Semaphores[0]
	assert.False(t, unused.Signaled)
	assert.False(t, unused.Destroyed)

	r.window.Width, r.window.Height = 640, 480
	r.dev.Reset()
	r.draw(t, present.OutcomePresented)
	assert.Equal(t, []string{"wait-idle", "swapchain", "framebuffer", "framebuffer", "acquire", "record", "submit", "present"}, r.dev.Calls)
	assert.False(t, r.surface.Stale())
	assert.Equal(t, present.Extent{Width: 640, Height: 480}, r.surface.Swapchain().Extent())
	assert.Equal(t, r.surface.Viewport(), r.dev.Recorded[0].Viewport)
	// the unsignaled semaphore goes back to the pool and is acquired into next
	waits := r.dev.Submissions[0].Waits
	assert.Same(t, unused, waits[len(waits)-1].Semaphore)
}

func TestSuboptimalAcquireStillPresents(t *testing.T) {
	r := newRig(t)
	r.dev.AcquireQueue = []presenttest.Acquire{{Index: 1, Suboptimal: true}}

	r.draw(t, present.OutcomePresented)
	require.Len(t, r.dev.Presents, 1)
	assert.Equal(t, uint32(1), r.dev.Presents[0].Index)
	assert.Same(t, r.surface.Framebuffers()[1], r.dev.Recorded[0].Framebuffer)
	assert.True(t, r.surface.Stale())

	r.dev.Reset()
	r.draw(t, present.OutcomePresented)
	assert.Equal(t, "wait-idle", r.dev.Calls[0])
	assert.False(t, r.surface.Stale())
}

func TestSuboptimalPresentMarksStale(t *testing.T) {
	r := newRig(t)
	r.dev.PresentQueue = []presenttest.Present{{Suboptimal: true}}

	r.draw(t, present.OutcomePresented)
	assert.True(t, r.surface.Stale())
}

func TestPresentOutOfDateResetsToken(t *testing.T) {
	r := newRig(t)
	r.draw(t, present.OutcomePresented)
	r.dev.PresentQueue = []presenttest.Present{{Err: present.ErrOutOfDate}}

	r.draw(t, present.OutcomeDeferred)
	assert.True(t, r.surface.Stale())
	assert.Equal(t, 2, r.submitter.Pending())

	r.draw(t, present.OutcomePresented)
	require.Len(t, r.dev.Submissions, 3)
	last := r.dev.Submissions[2]
	require.Len(t, last.Waits, 1, "token was reset, nothing to join")
	assert.Equal(t, present.StageColorOutput, last.Waits[0].Stage)
}

func TestZeroExtentSkips(t *testing.T) {
	r := newRig(t)
	r.window.Width, r.window.Height = 0, 0

	r.draw(t, present.OutcomeSkipped)
	assert.Empty(t, r.dev.Calls)
	assert.Empty(t, r.dev.Semaphores)

	r.surface.MarkStale(present.ReasonResize)
	r.draw(t, present.OutcomeSkipped)
	assert.Empty(t, r.dev.Calls)
	assert.True(t, r.surface.Stale())
}

func TestFatalErrors(t *testing.T) {
	boom := errors.New("device lost")

	t.Run("acquire", func(t *testing.T) {
		r := newRig(t)
		r.dev.AcquireQueue = []presenttest.Acquire{{Err: boom}}
		_, err := r.submitter.Draw(r.cam)
		assert.ErrorIs(t, err, boom)
		require.NoError(t, r.submitter.Close())
		semaphores, fences := r.dev.Live()
		assert.Zero(t, semaphores)
		assert.Zero(t, fences)
	})
	t.Run("submit", func(t *testing.T) {
		r := newRig(t)
		r.draw(t, present.OutcomePresented)
		r.dev.SubmitErr = boom
		_, err := r.submitter.Draw(r.cam)
		assert.ErrorIs(t, err, boom)
		assert.Len(t, r.dev.Presents, 1)
		assert.Equal(t, 1, r.submitter.Pending(), "previous frame stays reachable")

		require.NoError(t, r.submitter.Close())
		semaphores, fences := r.dev.Live()
		assert.Zero(t, semaphores)
		assert.Zero(t, fences)
		require.Len(t, r.dev.Recorded, 2)
		for _, cmd := range r.dev.Recorded {
			assert.True(t, cmd.Freed)
		}
	})
	t.Run("present", func(t *testing.T) {
		r := newRig(t)
		r.dev.PresentQueue = []presenttest.Present{{Err: boom}}
		_, err := r.submitter.Draw(r.cam)
		assert.ErrorIs(t, err, boom)
	})
	t.Run("record", func(t *testing.T) {
		r := newRig(t)
		r.dev.RecordErr = boom
		_, err := r.submitter.Draw(r.cam)
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, r.dev.Submissions)
	})
	t.Run("rebuild", func(t *testing.T) {
		r := newRig(t)
		r.dev.RebuildErr = boom
		r.surface.MarkStale(present.ReasonResize)
		_, err := r.submitter.Draw(r.cam)
		assert.ErrorIs(t, err, boom)
	})
	t.Run("fence", func(t *testing.T) {
		r := newRig(t)
		r.draw(t, present.OutcomePresented)
		r.draw(t, present.OutcomePresented)
		r.dev.Fences[0].Err = boom
		_, err := r.submitter.Draw(r.cam)
		assert.ErrorIs(t, err, boom)
	})
}

func TestRetiredTokensReclaimed(t *testing.T) {
	r := newRig(t)
	for i := 0; i < 3; i++ {
		r.draw(t, present.OutcomePresented)
	}
	assert.Equal(t, 2, r.submitter.Pending())
	first, second, third := r.dev.Submissions[0], r.dev.Submissions[1], r.dev.Submissions[2]
	assert.False(t, first.Commands.(*presenttest.Commands).Freed)

	r.dev.SignalAll()
	r.draw(t, present.OutcomePresented)
	assert.Equal(t, 1, r.submitter.Pending())
	assert.True(t, first.Commands.(*presenttest.Commands).Freed)
	assert.True(t, second.Commands.(*presenttest.Commands).Freed)

	// finished fences and consumed semaphores are recycled, not destroyed
	firstFence := first.Fence.(*presenttest.Fence)
	assert.False(t, firstFence.Destroyed)
	assert.Equal(t, 1, firstFence.Resets)
	assert.False(t, first.Waits[0].Semaphore.(*presenttest.Semaphore).Destroyed)
	assert.False(t, first.Signals[1].(*presenttest.Semaphore).Destroyed)
	assert.Len(t, r.dev.Fences, 3)
	fourth := r.dev.Submissions[3]
	assert.Same(t, second.Fence, fourth.Fence)

	// the third frame's done signal now belongs to the frame still in flight
	assert.Same(t, third.Signals[1], fourth.Waits[0].Semaphore)
	assert.False(t, third.Signals[1].(*presenttest.Semaphore).Destroyed)
	assert.False(t, third.Commands.(*presenttest.Commands).Freed)
}

func TestSyncObjectsRecycled(t *testing.T) {
	r := newRig(t)
	for i := 0; i < 10; i++ {
		r.draw(t, present.OutcomePresented)
		r.dev.SignalAll()
	}
	assert.Len(t, r.dev.Fences, 2)
	// two per image for presentation, the rest cycle between acquire and join
	assert.LessOrEqual(t, len(r.dev.Semaphores), 7)
	for _, s := range r.dev.Semaphores {
		assert.False(t, s.Destroyed)
	}
}

func TestRenderFinishedSemaphorePerImage(t *testing.T) {
	r := newRig(t)
	for i := 0; i < 4; i++ {
		r.draw(t, present.OutcomePresented)
	}
	subs := r.dev.Submissions
	require.Equal(t, []uint32{0, 1, 0, 1}, []uint32{
		r.dev.Presents[0].Index, r.dev.Presents[1].Index,
		r.dev.Presents[2].Index, r.dev.Presents[3].Index,
	})
	assert.Same(t, subs[0].Signals[0], subs[2].Signals[0])
	assert.Same(t, subs[1].Signals[0], subs[3].Signals[0])
	assert.NotSame(t, subs[0].Signals[0], subs[1].Signals[0])

	// fences signaling does not release a semaphore a present still holds
	r.dev.SignalAll()
	r.draw(t, present.OutcomePresented)
	held := subs[3].Signals[0].(*presenttest.Semaphore)
	assert.True(t, held.InPresent)
	assert.False(t, held.Destroyed)
}

func TestUnwaitedDoneSemaphoreDestroyed(t *testing.T) {
	r := newRig(t)
	r.dev.PresentQueue = []presenttest.Present{{Err: present.ErrOutOfDate}}
	r.draw(t, present.OutcomeDeferred)
	deferred := r.dev.Submissions[0]
	done := deferred.Signals[1].(*presenttest.Semaphore)
	assert.True(t, done.Signaled)

	r.dev.SignalAll()
	r.draw(t, present.OutcomePresented)
	assert.True(t, done.Destroyed)
	assert.False(t, deferred.Waits[0].Semaphore.(*presenttest.Semaphore).Destroyed)
}

func TestReclaimDoesNotBlock(t *testing.T) {
	r := newRig(t)
	r.draw(t, present.OutcomePresented)
	r.draw(t, present.OutcomePresented)
	r.draw(t, present.OutcomePresented)
	assert.Zero(t, r.dev.WaitIdles)
}

func TestCloseReleasesEverything(t *testing.T) {
	r := newRig(t)
	r.draw(t, present.OutcomePresented)
	r.dev.AcquireQueue = []presenttest.Acquire{{Err: present.ErrOutOfDate}}
	r.draw(t, present.OutcomeDeferred)
	r.draw(t, present.OutcomePresented)
	r.dev.PresentQueue = []presenttest.Present{{Err: present.ErrOutOfDate}}
	r.draw(t, present.OutcomeDeferred)

	require.NoError(t, r.submitter.Close())
	semaphores, fences := r.dev.Live()
	assert.Zero(t, semaphores)
	assert.Zero(t, fences)
	for _, cmd := range r.dev.Recorded {
		assert.True(t, cmd.Freed)
	}
	assert.Zero(t, r.submitter.Pending())
}
