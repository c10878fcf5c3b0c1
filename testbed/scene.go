// Package testbed is a small demo scene exercising the engine: a spinning
// textured quad rendered offscreen, composited to the backbuffer with a tint
// through a subpass input.
package testbed

import (
	"github.com/stratagfx/strata/engine"
	"github.com/stratagfx/strata/engine/math"
	"github.com/stratagfx/strata/engine/renderer"
	"github.com/stratagfx/strata/engine/renderer/components"
)

type sceneState struct {
	device renderer.Device
	camera *components.Camera
	width  uint32
	height uint32

	quadVertices renderer.ResourceHandle
	quadIndices  renderer.ResourceHandle
	screenVerts  renderer.ResourceHandle
	screenIdx    renderer.ResourceHandle
	checker      renderer.ResourceHandle

	angle float32
}

// NewScene wires the demo into the engine's scene hooks.
func NewScene() *engine.Scene {
	st := &sceneState{camera: components.NewCamera()}
	return &engine.Scene{
		State:        st,
		FnInitialize: st.initialize,
		FnUpdate:     st.update,
		FnOnResize:   st.onResize,
		FnShutdown:   st.shutdown,
	}
}

func (st *sceneState) initialize(device renderer.Device, extent renderer.Extent) error {
	st.device = device
	st.width = extent.Width
	st.height = extent.Height

	quad := []math.Vertex3D{
		{Position: math.NewVec3(-0.5, -0.5, 0), Texcoord: math.Vec2{X: 0, Y: 0}},
		{Position: math.NewVec3(0.5, -0.5, 0), Texcoord: math.Vec2{X: 1, Y: 0}},
		{Position: math.NewVec3(0.5, 0.5, 0), Texcoord: math.Vec2{X: 1, Y: 1}},
		{Position: math.NewVec3(-0.5, 0.5, 0), Texcoord: math.Vec2{X: 0, Y: 1}},
	}
	indices := []uint32{0, 1, 2, 2, 3, 0}

	var err error
	if st.quadVertices, err = device.CreateVertexBuffer(quad); err != nil {
		return err
	}
	if st.quadIndices, err = device.CreateIndexBuffer(indices); err != nil {
		return err
	}

	// The composite pass covers the whole surface in clip space; no
	// transforms apply to it.
	screen := []math.Vertex3D{
		{Position: math.NewVec3(-1, -1, 0), Texcoord: math.Vec2{X: 0, Y: 0}},
		{Position: math.NewVec3(1, -1, 0), Texcoord: math.Vec2{X: 1, Y: 0}},
		{Position: math.NewVec3(1, 1, 0), Texcoord: math.Vec2{X: 1, Y: 1}},
		{Position: math.NewVec3(-1, 1, 0), Texcoord: math.Vec2{X: 0, Y: 1}},
	}
	if st.screenVerts, err = device.CreateVertexBuffer(screen); err != nil {
		return err
	}
	if st.screenIdx, err = device.CreateIndexBuffer(indices); err != nil {
		return err
	}

	if st.checker, err = device.CreateTexture(checkerPixels(256, 256, 32), 256, 256); err != nil {
		return err
	}
	return nil
}

func (st *sceneState) update(deltaTime float64) (*renderer.FrameDescription, error) {
	st.angle += float32(deltaTime) * 0.8

	aspect := float32(st.width) / float32(st.height)
	transforms := renderer.TransformSet{
		Model:      math.NewMat4EulerZ(st.angle),
		View:       st.camera.GetView(),
		Projection: math.NewMat4Perspective(math.DegToRad(60), aspect, 0.1, 100.0),
	}

	return &renderer.FrameDescription{
		Draws: []renderer.DrawCommand{
			{
				Pipeline: renderer.PipelineKey{
					Shader:  "geometry",
					Vertex:  renderer.VertexLayoutPositionTexcoord,
					Subpass: 0,
					Depth:   renderer.DepthTest | renderer.DepthWrite,
				},
				Material: &renderer.MaterialBinding{
					Color:  math.NewVec4One(),
					Albedo: st.checker,
				},
				Transforms:   transforms,
				VertexBuffer: st.quadVertices,
				IndexBuffer:  st.quadIndices,
				IndexCount:   6,
			},
			{
				Pipeline: renderer.PipelineKey{
					Shader:  "composite",
					Vertex:  renderer.VertexLayoutPositionTexcoord,
					Subpass: 1,
				},
				Material: &renderer.MaterialBinding{
					// A warm tint so the composite pass is visibly doing work.
					Color: math.NewVec4(1.0, 0.9, 0.8, 1.0),
				},
				Transforms:   renderer.NewTransformSet(),
				VertexBuffer: st.screenVerts,
				IndexBuffer:  st.screenIdx,
				IndexCount:   6,
			},
		},
	}, nil
}

func (st *sceneState) onResize(width, height uint32) error {
	if width != 0 && height != 0 {
		st.width = width
		st.height = height
	}
	return nil
}

func (st *sceneState) shutdown() error {
	if st.device == nil {
		return nil
	}
	st.device.DestroyResource(st.checker)
	st.device.DestroyResource(st.screenIdx)
	st.device.DestroyResource(st.screenVerts)
	st.device.DestroyResource(st.quadIndices)
	st.device.DestroyResource(st.quadVertices)
	return nil
}

// checkerPixels builds an RGBA checkerboard, cell pixels per square.
func checkerPixels(width, height, cell int) []uint8 {
	pixels := make([]uint8, width*height*4)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * 4
			var v uint8 = 64
			if (x/cell+y/cell)%2 == 0 {
				v = 220
			}
			pixels[i+0] = v
			pixels[i+1] = v
			pixels[i+2] = v
			pixels[i+3] = 255
		}
	}
	return pixels
}
