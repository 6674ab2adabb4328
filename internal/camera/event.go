package camera

import mgl32 "github.com/go-gl/mathgl/mgl32"

// Event is one discrete camera signal for a tick.
type Event interface {
	isEvent()
}

type (
	MoveForward  struct{}
	MoveBackward struct{}
	MoveLeft     struct{}
	MoveRight    struct{}

	// Rotate turns the forward vector by a scaled pointer delta.
	Rotate struct {
		Delta mgl32.Vec2
	}

	// Resize changes the resolution only.
	Resize struct {
		Width, Height int
	}
)

func (MoveForward) isEvent()  {}
func (MoveBackward) isEvent() {}
func (MoveLeft) isEvent()     {}
func (MoveRight) isEvent()    {}
func (Rotate) isEvent()       {}
func (Resize) isEvent()       {}
