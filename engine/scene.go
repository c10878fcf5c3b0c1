package engine

import (
	"github.com/stratagfx/strata/engine/renderer"
)

// Scene is what the host application plugs into the engine: it owns the
// world state and describes each frame, while the engine owns the window,
// the device, and the frame loop.
type Scene struct {
	State        interface{}
	FnInitialize SceneInitialize
	FnUpdate     SceneUpdate
	FnOnResize   SceneResize
	FnShutdown   SceneShutdown
}

// SceneInitialize uploads the scene's resources through the device. Called
// once, after the renderer is up and before the first frame.
type SceneInitialize func(device renderer.Device, extent renderer.Extent) error

// SceneUpdate advances the world by deltaTime seconds and returns the frame
// to render. Returning an error stops the engine.
type SceneUpdate func(deltaTime float64) (*renderer.FrameDescription, error)

type SceneResize func(width, height uint32) error

type SceneShutdown func() error
