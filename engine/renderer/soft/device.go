// Package soft is a CPU implementation of the renderer's device interface.
// It executes the same command stream the Vulkan backend records, but
// rasterizes into plain pixel buffers. That makes it deterministic, headless,
// and exact, which is what the end-to-end tests want.
package soft

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stratagfx/strata/engine/core"
	"github.com/stratagfx/strata/engine/math"
	"github.com/stratagfx/strata/engine/renderer"
)

// Fence is a channel-backed completion signal. The soft device executes
// submissions synchronously, so it signals at the end of Submit; tests also
// drive it by hand to model slow GPU work.
type Fence struct {
	mu       sync.Mutex
	signaled bool
	ch       chan struct{}
}

func NewFence(signaled bool) *Fence {
	f := &Fence{signaled: signaled, ch: make(chan struct{})}
	if signaled {
		close(f.ch)
	}
	return f
}

func (f *Fence) Wait(timeout time.Duration) bool {
	f.mu.Lock()
	if f.signaled {
		f.mu.Unlock()
		return true
	}
	ch := f.ch
	f.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (f *Fence) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		f.signaled = false
		f.ch = make(chan struct{})
	}
}

// Signal marks the fence complete, unblocking every waiter.
func (f *Fence) Signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.signaled {
		f.signaled = true
		close(f.ch)
	}
}

// target is one attachment's backing store.
type target struct {
	width  int
	height int
	color  []math.Vec4
	depth  []float32
}

func newTarget(extent renderer.Extent, isDepth bool) *target {
	t := &target{width: int(extent.Width), height: int(extent.Height)}
	if isDepth {
		t.depth = make([]float32, t.width*t.height)
	} else {
		t.color = make([]math.Vec4, t.width*t.height)
	}
	return t
}

// pass is the soft render-pass object: the validated layout plus a backing
// target per attachment.
type pass struct {
	layout  *renderer.PassLayout
	targets map[uuid.UUID]*target
}

func (p *pass) targetFor(id renderer.AttachmentID) *target {
	return p.targets[p.layout.Attachments[id].Handle.ID]
}

// pipeline is the soft pipeline state object.
type pipeline struct {
	key  renderer.PipelineKey
	pack *renderer.ShaderPack
}

type texture struct {
	width  int
	height int
	pixels []uint8 // RGBA8
}

// Device is the soft backend. All state lives behind one mutex; command
// recording itself is single-threaded per frame slot, the lock only guards
// resource registration against concurrent scene preparation.
type Device struct {
	mu sync.Mutex

	extent      renderer.Extent
	orientation renderer.SurfaceOrientation

	vertexBuffers map[uuid.UUID][]math.Vertex3D
	indexBuffers  map[uuid.UUID][]uint32
	textures      map[uuid.UUID]*texture

	// The last presented image, copied out at Present.
	presented *target

	// surfaceStale makes the next Present fail with ErrSurfaceOutOfDate,
	// as a real swapchain does after a resize it has not been told about.
	surfaceStale bool
}

var _ renderer.Device = (*Device)(nil)

func New(extent renderer.Extent) *Device {
	return &Device{
		extent:        extent,
		vertexBuffers: make(map[uuid.UUID][]math.Vertex3D),
		indexBuffers:  make(map[uuid.UUID][]uint32),
		textures:      make(map[uuid.UUID]*texture),
	}
}

func (d *Device) Name() string { return "soft" }

func (d *Device) CreateRenderPass(layout *renderer.PassLayout) (renderer.RenderPassHandle, error) {
	p := &pass{
		layout:  layout,
		targets: make(map[uuid.UUID]*target, len(layout.Attachments)),
	}
	for _, att := range layout.Attachments {
		p.targets[att.Handle.ID] = newTarget(layout.Extent, att.Format == renderer.FormatDepth)
	}
	return p, nil
}

func (d *Device) DestroyRenderPass(handle renderer.RenderPassHandle) {}

func (d *Device) CreatePipeline(key renderer.PipelineKey, pack *renderer.ShaderPack, _ renderer.RenderPassHandle) (renderer.PipelineHandle, error) {
	return &pipeline{key: key, pack: pack}, nil
}

func (d *Device) DestroyPipeline(p *renderer.Pipeline) {}

func (d *Device) CreateVertexBuffer(vertices []math.Vertex3D) (renderer.ResourceHandle, error) {
	h := renderer.NewResourceHandle(renderer.ResourceVertexBuffer)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vertexBuffers[h.ID] = append([]math.Vertex3D(nil), vertices...)
	return h, nil
}

func (d *Device) CreateIndexBuffer(indices []uint32) (renderer.ResourceHandle, error) {
	h := renderer.NewResourceHandle(renderer.ResourceIndexBuffer)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.indexBuffers[h.ID] = append([]uint32(nil), indices...)
	return h, nil
}

func (d *Device) CreateTexture(pixels []uint8, width, height uint32) (renderer.ResourceHandle, error) {
	if uint32(len(pixels)) != width*height*4 {
		return renderer.ResourceHandle{}, fmt.Errorf("texture data is %d bytes, want %d", len(pixels), width*height*4)
	}
	h := renderer.NewResourceHandle(renderer.ResourceTexture)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.textures[h.ID] = &texture{
		width:  int(width),
		height: int(height),
		pixels: append([]uint8(nil), pixels...),
	}
	return h, nil
}

func (d *Device) DestroyResource(handle renderer.ResourceHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.vertexBuffers, handle.ID)
	delete(d.indexBuffers, handle.ID)
	delete(d.textures, handle.ID)
}

func (d *Device) NewFence(signaled bool) (renderer.Fence, error) {
	return NewFence(signaled), nil
}

func (d *Device) NewRecorder() (renderer.CommandRecorder, error) {
	return &recorder{dev: d}, nil
}

// Submit executes the recorded command stream immediately and signals the
// fence. The synchronous execution is the point: after Submit returns, every
// attachment holds its final pixels.
func (d *Device) Submit(rec renderer.CommandRecorder, done renderer.Fence) error {
	r, ok := rec.(*recorder)
	if !ok {
		return fmt.Errorf("recorder was not created by this device")
	}
	if err := r.execute(); err != nil {
		return err
	}
	if f, ok := done.(*Fence); ok {
		f.Signal()
	}
	return nil
}

// Present copies the presentable attachment of the last executed pass out as
// the frame image.
func (d *Device) Present() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.surfaceStale {
		return renderer.ErrSurfaceOutOfDate
	}
	return nil
}

func (d *Device) Reconfigure(extent renderer.Extent, orientation renderer.SurfaceOrientation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.extent = extent
	d.orientation = orientation
	d.surfaceStale = false
	core.LogDebug("soft device reconfigured: %dx%d %s", extent.Width, extent.Height, orientation)
	return nil
}

// InvalidateSurface makes the next Present fail as out of date. Mirrors what
// a window resize does to a real swapchain.
func (d *Device) InvalidateSurface() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.surfaceStale = true
}

func (d *Device) WaitIdle() error { return nil }

func (d *Device) Shutdown() error { return nil }

// FramePixel returns the presented image's pixel at (x, y).
func (d *Device) FramePixel(x, y int) (math.Vec4, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.presented == nil {
		return math.Vec4{}, fmt.Errorf("no frame presented yet")
	}
	if x < 0 || x >= d.presented.width || y < 0 || y >= d.presented.height {
		return math.Vec4{}, fmt.Errorf("pixel (%d, %d) outside %dx%d frame", x, y, d.presented.width, d.presented.height)
	}
	return d.presented.color[y*d.presented.width+x], nil
}

// FrameExtent returns the size of the presented image.
func (d *Device) FrameExtent() (renderer.Extent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.presented == nil {
		return renderer.Extent{}, fmt.Errorf("no frame presented yet")
	}
	return renderer.Extent{Width: uint32(d.presented.width), Height: uint32(d.presented.height)}, nil
}

func (d *Device) setPresented(t *target) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copied := &target{
		width:  t.width,
		height: t.height,
		color:  append([]math.Vec4(nil), t.color...),
	}
	d.presented = copied
}
