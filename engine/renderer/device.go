package renderer

import (
	"time"

	"github.com/stratagfx/strata/engine/math"
)

// RenderPassHandle is a backend-owned compiled render pass object.
type RenderPassHandle interface{}

// PipelineHandle is a backend-owned pipeline state object.
type PipelineHandle interface{}

// Pipeline is a cached, immutable pipeline shared by every draw matching its
// key. The cache owns it; frames only borrow it.
type Pipeline struct {
	Key    PipelineKey
	Layout *PipelineLayout
	Handle PipelineHandle
}

// PipelineFactory builds the backend pipeline object for a key on a cache
// miss. It is invoked at most once per key per cache generation.
type PipelineFactory func(key PipelineKey) (*Pipeline, error)

// Fence gates reuse of a frame slot until the device has finished the
// slot's prior submission.
type Fence interface {
	// Wait blocks until the fence signals or the timeout elapses; reports
	// whether the fence signaled.
	Wait(timeout time.Duration) bool
	Reset()
}

// DescriptorWrite is one batched descriptor update. Either Resource or Data
// is set: Data carries uniform values written fresh this frame (matrices,
// material constants), Resource references allocator- or graph-owned
// objects (textures, input attachments).
type DescriptorWrite struct {
	Slot     BindingSlot
	Kind     BindingKind
	Resource ResourceHandle
	Data     []byte
}

// DescriptorRange is a draw's slice of the per-subpass write batch.
type DescriptorRange struct {
	First int
	Count int
}

// CommandRecorder records one frame slot's commands. It is owned by exactly
// one slot and never shared; calls happen on the rendering goroutine only.
type CommandRecorder interface {
	Begin() error
	BeginPass(pass RenderPassHandle, clear math.Vec4) error
	// NextSubpass advances recording to the next subpass of the begun pass.
	NextSubpass()
	// FlushDescriptors applies the whole batch for the current subpass in a
	// single update, before any of the subpass's draws execute.
	FlushDescriptors(writes []DescriptorWrite)
	BindPipeline(p *Pipeline)
	// PushConstants sets the vertex-stage pretransform block.
	PushConstants(pretransform math.Mat4)
	Draw(vertex, index ResourceHandle, indexCount uint32, descriptors DescriptorRange)
	EndPass()
	End() error
}

// Device is the explicit-API backend driven by the orchestrator. The Vulkan
// implementation talks to a real driver; the soft implementation rasterizes
// on the CPU for headless use and tests.
type Device interface {
	Name() string

	// Render pass and pipeline construction.
	CreateRenderPass(layout *PassLayout) (RenderPassHandle, error)
	DestroyRenderPass(handle RenderPassHandle)
	CreatePipeline(key PipelineKey, pack *ShaderPack, pass RenderPassHandle) (PipelineHandle, error)
	DestroyPipeline(p *Pipeline)

	// Allocator collaborator surface: the core requests and releases
	// handles, never raw device memory.
	CreateVertexBuffer(vertices []math.Vertex3D) (ResourceHandle, error)
	CreateIndexBuffer(indices []uint32) (ResourceHandle, error)
	CreateTexture(pixels []uint8, width, height uint32) (ResourceHandle, error)
	DestroyResource(handle ResourceHandle)

	// Per-frame-slot objects.
	NewFence(signaled bool) (Fence, error)
	NewRecorder() (CommandRecorder, error)

	// Submission and presentation. Submit resets done only once the work is
	// accepted; after a failed submit the fence keeps its prior state so the
	// slot stays acquirable. Present returns ErrSurfaceOutOfDate when the
	// surface no longer matches the swapchain.
	Submit(rec CommandRecorder, done Fence) error
	Present() error

	// Reconfigure rebuilds the surface-dependent state (swapchain) for a
	// new extent and orientation. Called under exclusive access, with no
	// recording in progress.
	Reconfigure(extent Extent, orientation SurfaceOrientation) error

	WaitIdle() error
	Shutdown() error
}
