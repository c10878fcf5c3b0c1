package renderer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stratagfx/strata/engine/containers"
	"github.com/stratagfx/strata/engine/core"
	"github.com/stratagfx/strata/engine/math"
)

// FrameSlot is one of the rotating frame-in-flight execution contexts. It
// exclusively owns its recorder and binder state; the fence gates reuse
// until the device has finished the slot's prior submission.
type FrameSlot struct {
	index    int
	fence    Fence
	recorder CommandRecorder
	binder   *Binder
	inFlight bool
}

func (fs *FrameSlot) Index() int { return fs.index }

// Binder exposes the slot's binder for the duration of a recording.
func (fs *FrameSlot) Binder() *Binder { return fs.binder }

// Options configures the orchestrator. Values come from the renderer config.
type Options struct {
	FramesInFlight int
	AcquireTimeout time.Duration
	ClearColor     math.Vec4
}

// FrameOrchestrator drives one frame at a time through the staged pipeline:
// acquire a slot, record every subpass in graph order, submit, present. One
// goroutine calls Render; the device may still be executing up to
// FramesInFlight submissions concurrently.
type FrameOrchestrator struct {
	device  Device
	shaders ShaderSource
	cache   *PipelineCache
	policy  *TransformPolicy

	graphMu sync.RWMutex
	graph   *Graph

	slots   []*FrameSlot
	current int

	frameNumber uint64

	acquireTimeout time.Duration
	clearColor     math.Vec4

	orientation SurfaceOrientation

	reconfigMu   sync.Mutex
	reconfigures *containers.RingQueue[reconfigureRequest]

	lossStreak int
}

type reconfigureRequest struct {
	extent      Extent
	orientation SurfaceOrientation
}

func NewFrameOrchestrator(device Device, shaders ShaderSource, graph *Graph, opts Options) (*FrameOrchestrator, error) {
	if opts.FramesInFlight < 1 {
		opts.FramesInFlight = 2
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 2 * time.Second
	}

	fo := &FrameOrchestrator{
		device:         device,
		shaders:        shaders,
		cache:          NewPipelineCache(),
		policy:         NewTransformPolicy(),
		graph:          graph,
		acquireTimeout: opts.AcquireTimeout,
		clearColor:     opts.ClearColor,
		reconfigures:   containers.NewRingQueue[reconfigureRequest](8),
	}

	for i := 0; i < opts.FramesInFlight; i++ {
		// Fences start signaled so the first acquisition of each slot does
		// not block.
		fence, err := device.NewFence(true)
		if err != nil {
			return nil, fmt.Errorf("creating fence for slot %d: %w", i, err)
		}
		recorder, err := device.NewRecorder()
		if err != nil {
			return nil, fmt.Errorf("creating recorder for slot %d: %w", i, err)
		}
		fo.slots = append(fo.slots, &FrameSlot{
			index:    i,
			fence:    fence,
			recorder: recorder,
			binder:   NewBinder(),
		})
	}

	core.LogInfo("frame orchestrator up: %s device, %d frames in flight, %d subpasses",
		device.Name(), opts.FramesInFlight, graph.SubpassCount())
	return fo, nil
}

// Cache exposes the pipeline cache.
func (fo *FrameOrchestrator) Cache() *PipelineCache { return fo.cache }

// Graph returns the current compiled subpass graph.
func (fo *FrameOrchestrator) Graph() *Graph {
	fo.graphMu.RLock()
	defer fo.graphMu.RUnlock()
	return fo.graph
}

// Orientation returns the surface orientation frames are currently
// corrected for.
func (fo *FrameOrchestrator) Orientation() SurfaceOrientation { return fo.orientation }

// NotifyReconfigure queues a surface reconfiguration (resize or rotation).
// It is consumed synchronously at the start of the next Render call; the
// queue is bounded and coalesces when full.
func (fo *FrameOrchestrator) NotifyReconfigure(extent Extent, orientation SurfaceOrientation) {
	fo.reconfigMu.Lock()
	defer fo.reconfigMu.Unlock()
	if fo.reconfigures.IsFull() {
		fo.reconfigures.Dequeue()
	}
	fo.reconfigures.Enqueue(reconfigureRequest{extent: extent, orientation: orientation})
}

// NotifyShaderReloaded drops cached pipelines built from the named pack so
// the next draw using it compiles against the fresh binaries.
func (fo *FrameOrchestrator) NotifyShaderReloaded(name string) {
	fo.cache.InvalidateShader(name, fo.device)
}

// Render drives one frame through the four-step contract. Runtime errors are
// reported per frame: ErrFrameAcquireTimeout is retryable next tick,
// ErrSurfaceLost is fatal to this frame only, and FatalSurfaceLoss (two
// consecutive losses) must be escalated by the host.
func (fo *FrameOrchestrator) Render(ctx context.Context, desc *FrameDescription) error {
	fo.frameNumber++

	if err := fo.drainReconfigures(); err != nil {
		return err
	}

	// Step 1: acquire the slot, bounded by the configured timeout. The
	// current index does not advance on failure, so the caller retries the
	// same slot next tick.
	slot := fo.slots[fo.current]
	if !slot.fence.Wait(fo.acquireTimeout) {
		core.LogWarn("frame %d: slot %d still in flight after %s", fo.frameNumber, slot.index, fo.acquireTimeout)
		return ErrFrameAcquireTimeout
	}
	slot.inFlight = false
	slot.binder.Reset()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrFrameAbandoned, err)
	}

	graph := fo.Graph()

	// Step 2: record every subpass in graph order.
	if err := fo.record(slot, graph, desc); err != nil {
		return err
	}

	// A frame may still be abandoned here; once submitted it cannot be.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrFrameAbandoned, err)
	}

	// Step 3: submit with the slot's completion fence. The device resets the
	// fence only once it accepts the work, so a failed submit leaves the
	// fence signaled and the slot acquirable next tick.
	if err := fo.device.Submit(slot.recorder, slot.fence); err != nil {
		return fmt.Errorf("frame %d: submit: %w", fo.frameNumber, err)
	}
	slot.inFlight = true
	fo.current = (fo.current + 1) % len(fo.slots)

	// Step 4: present, with one rebuild-and-retry on an out-of-date surface.
	return fo.present(graph)
}

func (fo *FrameOrchestrator) record(slot *FrameSlot, graph *Graph, desc *FrameDescription) error {
	buckets, err := groupDraws(graph, desc)
	if err != nil {
		return err
	}

	pretransform := fo.policy.PretransformFor(fo.orientation)

	rec := slot.recorder
	if err := rec.Begin(); err != nil {
		return fmt.Errorf("frame %d: begin recording: %w", fo.frameNumber, err)
	}
	if err := rec.BeginPass(graph.Handle(), fo.clearColor); err != nil {
		return fmt.Errorf("frame %d: begin pass: %w", fo.frameNumber, err)
	}

	type plannedDraw struct {
		draw        *DrawCommand
		pipeline    *Pipeline
		descriptors DescriptorRange
	}

	for si := 0; si < graph.SubpassCount(); si++ {
		if si > 0 {
			rec.NextSubpass()
		}
		sp := graph.Subpass(si)

		// Stage all of the subpass's descriptor writes first, then flush
		// them in one update before any draw records.
		plan := make([]plannedDraw, 0, len(buckets[si]))
		for di := range buckets[si] {
			draw := &buckets[si][di]
			pipeline, err := fo.cache.GetOrCreate(draw.Pipeline, fo.factory(graph))
			if err != nil {
				return err
			}
			slot.binder.SetLayout(pipeline.Layout)
			if err := fo.stageDraw(slot.binder, graph, sp, draw); err != nil {
				return fmt.Errorf("subpass %d draw %d: %w", si, di, err)
			}
			plan = append(plan, plannedDraw{
				draw:        draw,
				pipeline:    pipeline,
				descriptors: slot.binder.Stage(),
			})
		}
		slot.binder.Flush(rec)

		for _, pd := range plan {
			rec.BindPipeline(pd.pipeline)
			rec.PushConstants(pretransform)
			rec.Draw(pd.draw.VertexBuffer, pd.draw.IndexBuffer, pd.draw.IndexCount, pd.descriptors)
		}
	}

	rec.EndPass()
	if err := rec.End(); err != nil {
		return fmt.Errorf("frame %d: end recording: %w", fo.frameNumber, err)
	}
	return nil
}

// stageDraw stages the per-draw and per-frame bindings at the slots the
// shader convention fixes.
func (fo *FrameOrchestrator) stageDraw(binder *Binder, graph *Graph, sp SubpassDescriptor, draw *DrawCommand) error {
	if err := binder.BindUniform(SlotModel, Mat4Bytes(draw.Transforms.Model)); err != nil {
		return err
	}
	if err := binder.BindUniform(SlotView, Mat4Bytes(draw.Transforms.View)); err != nil {
		return err
	}
	if err := binder.BindUniform(SlotProjection, Mat4Bytes(draw.Transforms.Projection)); err != nil {
		return err
	}
	if draw.Material != nil {
		if err := binder.BindUniform(SlotMaterialColor, Vec4Bytes(draw.Material.Color)); err != nil {
			return err
		}
		if !draw.Material.Albedo.IsZero() {
			if err := binder.Bind(SlotAlbedo, draw.Material.Albedo); err != nil {
				return err
			}
		}
	}
	if len(sp.Inputs) > 0 {
		if err := binder.Bind(SlotSubpassInput, graph.AttachmentHandle(sp.Inputs[0])); err != nil {
			return err
		}
	}
	return nil
}

// factory builds the pipeline factory bound to the current graph; the cache
// invokes it at most once per key.
func (fo *FrameOrchestrator) factory(graph *Graph) PipelineFactory {
	return func(key PipelineKey) (*Pipeline, error) {
		if int(key.Subpass) >= graph.SubpassCount() {
			return nil, fmt.Errorf("key targets subpass %d of a %d-subpass graph", key.Subpass, graph.SubpassCount())
		}
		pack, err := fo.shaders.Pack(key.Shader)
		if err != nil {
			return nil, err
		}
		if err := pack.Validate(); err != nil {
			return nil, err
		}
		sp := graph.Subpass(int(key.Subpass))
		if len(sp.Inputs) > 0 && !pack.Layout.Contains(SlotSubpassInput) {
			return nil, fmt.Errorf("shader %q declares no input-attachment slot but subpass %d consumes one", key.Shader, key.Subpass)
		}
		handle, err := fo.device.CreatePipeline(key, pack, graph.Handle())
		if err != nil {
			return nil, err
		}
		return &Pipeline{Key: key, Layout: pack.Layout, Handle: handle}, nil
	}
}

// present hands the frame to the presentation collaborator. An out-of-date
// surface triggers one graph rebuild and retry; a second consecutive loss is
// fatal to the frame, and two lost frames in a row escalate.
func (fo *FrameOrchestrator) present(graph *Graph) error {
	err := fo.device.Present()
	if err == nil {
		fo.lossStreak = 0
		return nil
	}
	if !errors.Is(err, ErrSurfaceOutOfDate) {
		return fmt.Errorf("frame %d: present: %w", fo.frameNumber, err)
	}

	core.LogInfo("frame %d: surface out of date, rebuilding render graph", fo.frameNumber)
	if err := fo.reconfigure(graph.Extent(), fo.orientation); err != nil {
		return fmt.Errorf("frame %d: rebuilding after surface loss: %w", fo.frameNumber, err)
	}

	if err := fo.device.Present(); err != nil {
		fo.lossStreak++
		if fo.lossStreak >= 2 {
			return &FatalSurfaceLoss{FrameNumber: fo.frameNumber, Losses: fo.lossStreak}
		}
		return fmt.Errorf("frame %d: %w", fo.frameNumber, ErrSurfaceLost)
	}
	fo.lossStreak = 0
	return nil
}

func (fo *FrameOrchestrator) drainReconfigures() error {
	for {
		fo.reconfigMu.Lock()
		req, err := fo.reconfigures.Dequeue()
		fo.reconfigMu.Unlock()
		if err != nil {
			return nil
		}
		if err := fo.reconfigure(req.extent, req.orientation); err != nil {
			return err
		}
	}
}

// reconfigure rebuilds the surface-dependent state under exclusive access:
// in-flight frames finish against the old graph first, then the swapchain,
// graph, and every pipeline compiled against the old pass are replaced.
func (fo *FrameOrchestrator) reconfigure(extent Extent, orientation SurfaceOrientation) error {
	if err := fo.device.WaitIdle(); err != nil {
		return err
	}
	if err := fo.device.Reconfigure(extent, orientation); err != nil {
		return err
	}

	fo.graphMu.Lock()
	defer fo.graphMu.Unlock()

	rebuilt, err := fo.graph.Rebuild(fo.device, extent)
	if err != nil {
		return err
	}
	fo.graph.Destroy(fo.device)
	fo.graph = rebuilt
	fo.orientation = orientation
	fo.cache.InvalidateAll(fo.device)

	core.LogInfo("surface reconfigured: %dx%d, %s", extent.Width, extent.Height, orientation)
	return nil
}

// Shutdown waits for all in-flight work and tears the core down in reverse
// creation order.
func (fo *FrameOrchestrator) Shutdown() error {
	if err := fo.device.WaitIdle(); err != nil {
		return err
	}
	fo.cache.Teardown(fo.device)
	fo.graphMu.Lock()
	fo.graph.Destroy(fo.device)
	fo.graphMu.Unlock()
	return fo.device.Shutdown()
}

// groupDraws buckets the frame's draws by their pipeline key's subpass
// index, preserving submission order within each bucket.
func groupDraws(graph *Graph, desc *FrameDescription) ([][]DrawCommand, error) {
	buckets := make([][]DrawCommand, graph.SubpassCount())
	for i, draw := range desc.Draws {
		si := int(draw.Pipeline.Subpass)
		if si < 0 || si >= len(buckets) {
			return nil, fmt.Errorf("draw %d targets subpass %d of a %d-subpass graph", i, si, len(buckets))
		}
		buckets[si] = append(buckets[si], draw)
	}
	return buckets, nil
}
