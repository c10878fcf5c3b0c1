// Package platform owns the window and input plumbing. GLFW requires its
// event handling to stay on the main OS thread, so the package locks it at
// init and the run loop pumps from main.
package platform

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/stratagfx/strata/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread.
	runtime.LockOSThread()
}

type Platform struct {
	Window *glfw.Window
}

func New() (*Platform, error) {
	return &Platform{
		Window: nil,
	}, nil
}

func (p *Platform) Startup(applicationName string, x, y, width, height uint32) error {
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return err
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		core.LogError("failed to create window: %s", err)
		return err
	}
	p.Window = window

	p.Window.SetKeyCallback(keyCallback)
	p.Window.SetMouseButtonCallback(mouseButtonCallback)
	p.Window.SetCursorPosCallback(cursorPosCallback)
	p.Window.SetFramebufferSizeCallback(framebufferSizeCallback)
	p.Window.SetPos(int(x), int(y))
	p.Window.Show()

	return nil
}

func (p *Platform) Shutdown() error {
	glfw.Terminate()
	return nil
}

// PumpMessages processes pending window events. Must be called from the
// main thread.
func (p *Platform) PumpMessages() {
	glfw.PollEvents()
}

func (p *Platform) ShouldClose() bool {
	return p.Window.ShouldClose()
}

// FramebufferExtent returns the current framebuffer size in pixels.
func (p *Platform) FramebufferExtent() (uint32, uint32) {
	w, h := p.Window.GetFramebufferSize()
	return uint32(w), uint32(h)
}

// GetRequiredExtensionNames lists the instance extensions the window system
// needs for surface creation.
func (p *Platform) GetRequiredExtensionNames() []string {
	return p.Window.GetRequiredInstanceExtensions()
}

// CreateSurface makes a window surface for the given instance and returns
// the raw handle.
func (p *Platform) CreateSurface(instance interface{}) (uintptr, error) {
	if p.Window == nil {
		return 0, fmt.Errorf("platform window is not created")
	}
	return p.Window.CreateWindowSurface(instance, nil)
}

func keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if action == glfw.Repeat {
		return
	}
	core.InputProcessKey(translateKey(key), action == glfw.Press)
}

func mouseButtonCallback(w *glfw.Window, button glfw.MouseButton, action glfw.Action, mods glfw.ModifierKey) {
	var b core.Button
	switch button {
	case glfw.MouseButtonLeft:
		b = core.BUTTON_LEFT
	case glfw.MouseButtonRight:
		b = core.BUTTON_RIGHT
	case glfw.MouseButtonMiddle:
		b = core.BUTTON_MIDDLE
	default:
		return
	}
	core.InputProcessButton(b, action == glfw.Press)
}

func cursorPosCallback(w *glfw.Window, x, y float64) {
	core.InputProcessMouseMove(int32(x), int32(y))
}

func translateKey(key glfw.Key) core.KeyCode {
	switch key {
	case glfw.KeyEscape:
		return core.KEY_ESCAPE
	case glfw.KeySpace:
		return core.KEY_SPACE
	case glfw.KeyEnter:
		return core.KEY_ENTER
	case glfw.KeyTab:
		return core.KEY_TAB
	case glfw.KeyLeft:
		return core.KEY_LEFT
	case glfw.KeyRight:
		return core.KEY_RIGHT
	case glfw.KeyUp:
		return core.KEY_UP
	case glfw.KeyDown:
		return core.KEY_DOWN
	case glfw.KeyW:
		return core.KEY_W
	case glfw.KeyA:
		return core.KEY_A
	case glfw.KeyS:
		return core.KEY_S
	case glfw.KeyD:
		return core.KEY_D
	case glfw.KeyF1:
		return core.KEY_F1
	case glfw.KeyF2:
		return core.KEY_F2
	}
	return core.KEY_UNKNOWN
}

func framebufferSizeCallback(w *glfw.Window, width, height int) {
	ctx := core.EventContext{}
	ctx.Data.U32[0] = uint32(width)
	ctx.Data.U32[1] = uint32(height)
	core.EventFire(core.EVENT_CODE_RESIZED, w, ctx)
}
