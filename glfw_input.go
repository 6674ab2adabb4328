package main

import (
	"fmt"
	"strings"

	"github.com/vulkan-go/glfw/v3.3/glfw"

	"Marcher/internal/app"
	"Marcher/internal/config"
	"Marcher/internal/input"
)

// glfwWindow adapts a glfw window to the surface and cursor interfaces.
type glfwWindow struct {
	*glfw.Window
}

func (w glfwWindow) FramebufferSize() (int, int) { return w.GetFramebufferSize() }

func (w glfwWindow) SetCursorVisible(visible bool) {
	mode := glfw.CursorHidden
	if visible {
		mode = glfw.CursorNormal
	}
	w.SetInputMode(glfw.CursorMode, mode)
}

var namedKeys = map[string]glfw.Key{
	"space": glfw.KeySpace,
	"up":    glfw.KeyUp,
	"down":  glfw.KeyDown,
	"left":  glfw.KeyLeft,
	"right": glfw.KeyRight,
}

var mouseButtons = map[string]glfw.MouseButton{
	"left":   glfw.MouseButtonLeft,
	"right":  glfw.MouseButtonRight,
	"middle": glfw.MouseButtonMiddle,
}

func lookupKey(name string) (glfw.Key, error) {
	name = strings.ToLower(name)
	if len(name) == 1 && name[0] >= 'a' && name[0] <= 'z' {
		return glfw.KeyA + glfw.Key(name[0]-'a'), nil
	}
	if k, ok := namedKeys[name]; ok {
		return k, nil
	}
	return glfw.KeyUnknown, fmt.Errorf("unknown key %q", name)
}

// bindings maps physical keys to motion actions.
type bindings struct {
	keys map[glfw.Key]input.Action
	drag glfw.MouseButton
}

func newBindings(cfg config.Input) (*bindings, error) {
	b := &bindings{keys: make(map[glfw.Key]input.Action, 4)}
	for name, action := range map[string]input.Action{
		cfg.Forward:  input.ActionForward,
		cfg.Backward: input.ActionBackward,
		cfg.Left:     input.ActionLeft,
		cfg.Right:    input.ActionRight,
	} {
		k, err := lookupKey(name)
		if err != nil {
			return nil, err
		}
		b.keys[k] = action
	}
	if len(b.keys) != 4 {
		return nil, fmt.Errorf("motion keys must be distinct")
	}
	drag, ok := mouseButtons[strings.ToLower(cfg.DragButton)]
	if !ok {
		return nil, fmt.Errorf("unknown mouse button %q", cfg.DragButton)
	}
	b.drag = drag
	return b, nil
}

// attach routes window events into the app. Escape closes the window.
func (b *bindings) attach(window *glfw.Window, a *app.App) {
	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		if key == glfw.KeyEscape && action == glfw.Press {
			w.SetShouldClose(true)
			return
		}
		if act, ok := b.keys[key]; ok {
			a.Input.Key(act, action != glfw.Release, action == glfw.Repeat)
		}
	})
	window.SetMouseButtonCallback(func(_ *glfw.Window, button glfw.MouseButton, action glfw.Action, _ glfw.ModifierKey) {
		if button == b.drag {
			a.Input.DragButton(action == glfw.Press)
		}
	})
	window.SetCursorPosCallback(func(_ *glfw.Window, x, y float64) {
		a.Input.PointerMoved(x, y)
	})
	window.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		a.HandleResize(width, height)
	})
}
