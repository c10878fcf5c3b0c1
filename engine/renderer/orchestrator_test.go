package renderer_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stratagfx/strata/engine/assets"
	"github.com/stratagfx/strata/engine/math"
	"github.com/stratagfx/strata/engine/renderer"
	"github.com/stratagfx/strata/engine/renderer/soft"
)

// flakyDevice wraps the soft device to model failure modes a real swapchain
// exhibits: presents that report an out-of-date surface, and submissions
// whose completion fence never signals.
type flakyDevice struct {
	*soft.Device

	// Remaining Present calls to fail; negative means fail forever.
	presentFailures int
	// dropFence leaves the caller's fence unsignaled after Submit.
	dropFence bool
}

func (d *flakyDevice) Present() error {
	if d.presentFailures != 0 {
		if d.presentFailures > 0 {
			d.presentFailures--
		}
		return renderer.ErrSurfaceOutOfDate
	}
	return d.Device.Present()
}

func (d *flakyDevice) Submit(rec renderer.CommandRecorder, done renderer.Fence) error {
	if d.dropFence {
		// The work is accepted but never completes.
		done.Reset()
		return d.Device.Submit(rec, soft.NewFence(false))
	}
	return d.Device.Submit(rec, done)
}

// gateDevice withholds every submission's completion fence so the test
// controls exactly when the device finishes a slot's work.
type gateDevice struct {
	*soft.Device

	mu   sync.Mutex
	held []renderer.Fence
}

func (d *gateDevice) Submit(rec renderer.CommandRecorder, done renderer.Fence) error {
	done.Reset()
	d.mu.Lock()
	d.held = append(d.held, done)
	d.mu.Unlock()
	return d.Device.Submit(rec, soft.NewFence(false))
}

func (d *gateDevice) finishOldest() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.held) == 0 {
		return
	}
	d.held[0].(*soft.Fence).Signal()
	d.held = d.held[1:]
}

// rejectDevice fails a number of submissions outright, as a queue does when
// the device is misbehaving.
type rejectDevice struct {
	*soft.Device
	submitFailures int
}

func (d *rejectDevice) Submit(rec renderer.CommandRecorder, done renderer.Fence) error {
	if d.submitFailures > 0 {
		d.submitFailures--
		return fmt.Errorf("queue rejected the submission")
	}
	return d.Device.Submit(rec, done)
}

func testCatalog(t *testing.T) *assets.ShaderCatalog {
	t.Helper()
	catalog := assets.NewMemoryCatalog()
	packs := []*renderer.ShaderPack{
		{Name: "flat", Vertex: []byte{1, 2, 3, 4}, Fragment: []byte{1, 2, 3, 4}, Layout: renderer.StandardLayout(false, false)},
		{Name: "composite", Vertex: []byte{1, 2, 3, 4}, Fragment: []byte{1, 2, 3, 4}, Layout: renderer.StandardLayout(false, true)},
	}
	for _, p := range packs {
		if err := catalog.Register(p); err != nil {
			t.Fatal(err)
		}
	}
	return catalog
}

// fullScreenQuad uploads a quad covering all of clip space.
func fullScreenQuad(t *testing.T, dev renderer.Device) (renderer.ResourceHandle, renderer.ResourceHandle) {
	t.Helper()
	vertices := []math.Vertex3D{
		{Position: math.NewVec3(-1, -1, 0), Texcoord: math.Vec2{X: 0, Y: 0}},
		{Position: math.NewVec3(1, -1, 0), Texcoord: math.Vec2{X: 1, Y: 0}},
		{Position: math.NewVec3(1, 1, 0), Texcoord: math.Vec2{X: 1, Y: 1}},
		{Position: math.NewVec3(-1, 1, 0), Texcoord: math.Vec2{X: 0, Y: 1}},
	}
	vb, err := dev.CreateVertexBuffer(vertices)
	if err != nil {
		t.Fatal(err)
	}
	ib, err := dev.CreateIndexBuffer([]uint32{0, 1, 2, 2, 3, 0})
	if err != nil {
		t.Fatal(err)
	}
	return vb, ib
}

func singlePassGraph(t *testing.T, dev renderer.Device, extent renderer.Extent) *renderer.Graph {
	t.Helper()
	g, err := renderer.BuildGraph(dev,
		[]renderer.AttachmentDesc{{Name: "backbuffer", Format: renderer.FormatColor, Presentable: true}},
		[]renderer.SubpassDescriptor{{Name: "flat", Colors: []renderer.AttachmentID{0}}},
		extent)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func compositeGraph(t *testing.T, dev renderer.Device, extent renderer.Extent) *renderer.Graph {
	t.Helper()
	depth := renderer.AttachmentID(1)
	g, err := renderer.BuildGraph(dev,
		[]renderer.AttachmentDesc{
			{Name: "scene_color", Format: renderer.FormatColor},
			{Name: "scene_depth", Format: renderer.FormatDepth},
			{Name: "backbuffer", Format: renderer.FormatColor, Presentable: true},
		},
		[]renderer.SubpassDescriptor{
			{Name: "geometry", Colors: []renderer.AttachmentID{0}, DepthStencil: &depth},
			{Name: "composite", Colors: []renderer.AttachmentID{2}, Inputs: []renderer.AttachmentID{0}},
		},
		extent)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func flatDraw(vb, ib renderer.ResourceHandle, color math.Vec4) renderer.DrawCommand {
	return renderer.DrawCommand{
		Pipeline:     renderer.PipelineKey{Shader: "flat", Vertex: renderer.VertexLayoutPositionTexcoord, Subpass: 0},
		Material:     &renderer.MaterialBinding{Color: color},
		Transforms:   renderer.NewTransformSet(),
		VertexBuffer: vb,
		IndexBuffer:  ib,
		IndexCount:   6,
	}
}

func TestRenderFullScreenQuadMatchesMaterialExactly(t *testing.T) {
	extent := renderer.Extent{Width: 32, Height: 32}
	dev := soft.New(extent)
	graph := singlePassGraph(t, dev, extent)

	fo, err := renderer.NewFrameOrchestrator(dev, testCatalog(t), graph, renderer.Options{FramesInFlight: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer fo.Shutdown()

	vb, ib := fullScreenQuad(t, dev)
	want := math.NewVec4(0.25, 0.5, 0.75, 1.0)

	desc := &renderer.FrameDescription{Draws: []renderer.DrawCommand{flatDraw(vb, ib, want)}}
	if err := fo.Render(context.Background(), desc); err != nil {
		t.Fatal(err)
	}

	for _, p := range [][2]int{{0, 0}, {16, 16}, {31, 31}} {
		got, err := dev.FramePixel(p[0], p[1])
		if err != nil {
			t.Fatal(err)
		}
		// The value must survive the uniform round trip bit-exactly.
		if got != want {
			t.Fatalf("pixel (%d, %d) = %+v, want %+v", p[0], p[1], got, want)
		}
	}
}

func TestRenderTwoSubpassComposite(t *testing.T) {
	extent := renderer.Extent{Width: 16, Height: 16}
	dev := soft.New(extent)
	graph := compositeGraph(t, dev, extent)

	fo, err := renderer.NewFrameOrchestrator(dev, testCatalog(t), graph, renderer.Options{FramesInFlight: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer fo.Shutdown()

	vb, ib := fullScreenQuad(t, dev)
	base := math.NewVec4(1.0, 0.25, 0.5, 1.0)
	tint := math.NewVec4(0.5, 1.0, 0.5, 1.0)

	desc := &renderer.FrameDescription{Draws: []renderer.DrawCommand{
		{
			Pipeline:     renderer.PipelineKey{Shader: "flat", Vertex: renderer.VertexLayoutPositionTexcoord, Subpass: 0, Depth: renderer.DepthTest | renderer.DepthWrite},
			Material:     &renderer.MaterialBinding{Color: base},
			Transforms:   renderer.NewTransformSet(),
			VertexBuffer: vb,
			IndexBuffer:  ib,
			IndexCount:   6,
		},
		{
			Pipeline:     renderer.PipelineKey{Shader: "composite", Vertex: renderer.VertexLayoutPositionTexcoord, Subpass: 1},
			Material:     &renderer.MaterialBinding{Color: tint},
			Transforms:   renderer.NewTransformSet(),
			VertexBuffer: vb,
			IndexBuffer:  ib,
			IndexCount:   6,
		},
	}}
	if err := fo.Render(context.Background(), desc); err != nil {
		t.Fatal(err)
	}

	want := tint.Mul(base)
	got, err := dev.FramePixel(8, 8)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("composited pixel = %+v, want %+v", got, want)
	}
}

func TestRenderDrawTargetingUnknownSubpassFails(t *testing.T) {
	extent := renderer.Extent{Width: 8, Height: 8}
	dev := soft.New(extent)
	graph := singlePassGraph(t, dev, extent)

	fo, err := renderer.NewFrameOrchestrator(dev, testCatalog(t), graph, renderer.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer fo.Shutdown()

	vb, ib := fullScreenQuad(t, dev)
	draw := flatDraw(vb, ib, math.NewVec4One())
	draw.Pipeline.Subpass = 3

	err = fo.Render(context.Background(), &renderer.FrameDescription{Draws: []renderer.DrawCommand{draw}})
	if err == nil {
		t.Fatal("expected an error for a draw outside the graph")
	}
}

func TestRenderAcquireTimeoutIsRetryable(t *testing.T) {
	extent := renderer.Extent{Width: 8, Height: 8}
	dev := &flakyDevice{Device: soft.New(extent), dropFence: true}
	graph := singlePassGraph(t, dev, extent)

	fo, err := renderer.NewFrameOrchestrator(dev, testCatalog(t), graph, renderer.Options{
		FramesInFlight: 1,
		AcquireTimeout: 30 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	vb, ib := fullScreenQuad(t, dev.Device)
	desc := &renderer.FrameDescription{Draws: []renderer.DrawCommand{flatDraw(vb, ib, math.NewVec4One())}}

	// The first frame renders; its fence never signals, so the slot stays
	// in flight and the following frames time out, each leaving the slot
	// retryable.
	if err := fo.Render(context.Background(), desc); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		err := fo.Render(context.Background(), desc)
		if !errors.Is(err, renderer.ErrFrameAcquireTimeout) {
			t.Fatalf("frame %d: got %v, want ErrFrameAcquireTimeout", i+2, err)
		}
	}
}

func TestRenderUnblocksExactlyWhenFenceSignals(t *testing.T) {
	extent := renderer.Extent{Width: 8, Height: 8}
	dev := &gateDevice{Device: soft.New(extent)}
	graph := singlePassGraph(t, dev, extent)

	fo, err := renderer.NewFrameOrchestrator(dev, testCatalog(t), graph, renderer.Options{
		FramesInFlight: 1,
		AcquireTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	vb, ib := fullScreenQuad(t, dev.Device)
	desc := &renderer.FrameDescription{Draws: []renderer.DrawCommand{flatDraw(vb, ib, math.NewVec4One())}}

	// The first frame renders; its fence is withheld, so the only slot stays
	// in flight.
	if err := fo.Render(context.Background(), desc); err != nil {
		t.Fatal(err)
	}

	second := make(chan error, 1)
	go func() { second <- fo.Render(context.Background(), desc) }()

	select {
	case err := <-second:
		t.Fatalf("frame completed before the device finished the slot: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	dev.finishOldest()

	select {
	case err := <-second:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("frame still blocked after the fence signaled")
	}
}

func TestFailedSubmitLeavesSlotAcquirable(t *testing.T) {
	extent := renderer.Extent{Width: 8, Height: 8}
	dev := &rejectDevice{Device: soft.New(extent), submitFailures: 1}
	graph := singlePassGraph(t, dev, extent)

	fo, err := renderer.NewFrameOrchestrator(dev, testCatalog(t), graph, renderer.Options{
		FramesInFlight: 1,
		AcquireTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer fo.Shutdown()

	vb, ib := fullScreenQuad(t, dev.Device)
	desc := &renderer.FrameDescription{Draws: []renderer.DrawCommand{flatDraw(vb, ib, math.NewVec4One())}}

	err = fo.Render(context.Background(), desc)
	if err == nil || errors.Is(err, renderer.ErrFrameAcquireTimeout) {
		t.Fatalf("rejected submission reported %v", err)
	}

	// Nothing was queued, so the slot must not wait on a fence that will
	// never signal.
	if err := fo.Render(context.Background(), desc); err != nil {
		t.Fatalf("slot unusable after a failed submit: %v", err)
	}
}

func TestRenderAbandonedContext(t *testing.T) {
	extent := renderer.Extent{Width: 8, Height: 8}
	dev := soft.New(extent)
	graph := singlePassGraph(t, dev, extent)

	fo, err := renderer.NewFrameOrchestrator(dev, testCatalog(t), graph, renderer.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer fo.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = fo.Render(ctx, &renderer.FrameDescription{})
	if !errors.Is(err, renderer.ErrFrameAbandoned) {
		t.Fatalf("got %v, want ErrFrameAbandoned", err)
	}
}

func TestPresentLossRebuildsAndRetries(t *testing.T) {
	extent := renderer.Extent{Width: 8, Height: 8}
	dev := &flakyDevice{Device: soft.New(extent), presentFailures: 1}
	graph := compositeGraph(t, dev, extent)

	fo, err := renderer.NewFrameOrchestrator(dev, testCatalog(t), graph, renderer.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer fo.Shutdown()

	vb, ib := fullScreenQuad(t, dev.Device)
	desc := &renderer.FrameDescription{Draws: []renderer.DrawCommand{flatDraw(vb, ib, math.NewVec4One())}}

	before := fo.Graph()
	if err := fo.Render(context.Background(), desc); err != nil {
		t.Fatalf("one lost present must recover within the frame: %v", err)
	}
	if fo.Graph() == before {
		t.Fatal("surface loss did not rebuild the render graph")
	}

	// The next frame renders against the rebuilt graph.
	if err := fo.Render(context.Background(), desc); err != nil {
		t.Fatal(err)
	}
}

func TestRepeatedPresentLossEscalates(t *testing.T) {
	extent := renderer.Extent{Width: 8, Height: 8}
	dev := &flakyDevice{Device: soft.New(extent), presentFailures: -1}
	graph := singlePassGraph(t, dev, extent)

	fo, err := renderer.NewFrameOrchestrator(dev, testCatalog(t), graph, renderer.Options{})
	if err != nil {
		t.Fatal(err)
	}

	vb, ib := fullScreenQuad(t, dev.Device)
	desc := &renderer.FrameDescription{Draws: []renderer.DrawCommand{flatDraw(vb, ib, math.NewVec4One())}}

	// First lost frame is fatal to that frame only.
	err = fo.Render(context.Background(), desc)
	if !errors.Is(err, renderer.ErrSurfaceLost) {
		t.Fatalf("got %v, want ErrSurfaceLost", err)
	}

	// The second consecutive loss escalates.
	err = fo.Render(context.Background(), desc)
	var fatal *renderer.FatalSurfaceLoss
	if !errors.As(err, &fatal) {
		t.Fatalf("got %v, want FatalSurfaceLoss", err)
	}
	if fatal.Losses != 2 {
		t.Fatalf("fatal reports %d losses, want 2", fatal.Losses)
	}
	if !errors.Is(fatal, renderer.ErrSurfaceLost) {
		t.Fatal("FatalSurfaceLoss must unwrap to ErrSurfaceLost")
	}
}

func TestNotifyReconfigureAppliesBeforeNextFrame(t *testing.T) {
	extent := renderer.Extent{Width: 32, Height: 32}
	dev := soft.New(extent)
	graph := singlePassGraph(t, dev, extent)

	fo, err := renderer.NewFrameOrchestrator(dev, testCatalog(t), graph, renderer.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer fo.Shutdown()

	vb, ib := fullScreenQuad(t, dev)
	desc := &renderer.FrameDescription{Draws: []renderer.DrawCommand{flatDraw(vb, ib, math.NewVec4One())}}

	resized := renderer.Extent{Width: 64, Height: 48}
	fo.NotifyReconfigure(resized, renderer.OrientationRotate180)

	if err := fo.Render(context.Background(), desc); err != nil {
		t.Fatal(err)
	}

	if fo.Orientation() != renderer.OrientationRotate180 {
		t.Fatalf("orientation = %s, want rotate-180", fo.Orientation())
	}
	if fo.Graph().Extent() != resized {
		t.Fatalf("graph extent = %+v, want %+v", fo.Graph().Extent(), resized)
	}
	got, err := dev.FrameExtent()
	if err != nil {
		t.Fatal(err)
	}
	if got != resized {
		t.Fatalf("presented frame is %+v, want %+v", got, resized)
	}
}

func TestShaderReloadDropsOnlyItsPipelines(t *testing.T) {
	extent := renderer.Extent{Width: 8, Height: 8}
	dev := soft.New(extent)
	graph := compositeGraph(t, dev, extent)

	fo, err := renderer.NewFrameOrchestrator(dev, testCatalog(t), graph, renderer.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer fo.Shutdown()

	vb, ib := fullScreenQuad(t, dev)
	desc := &renderer.FrameDescription{Draws: []renderer.DrawCommand{
		flatDraw(vb, ib, math.NewVec4One()),
		{
			Pipeline:     renderer.PipelineKey{Shader: "composite", Vertex: renderer.VertexLayoutPositionTexcoord, Subpass: 1},
			Material:     &renderer.MaterialBinding{Color: math.NewVec4One()},
			Transforms:   renderer.NewTransformSet(),
			VertexBuffer: vb,
			IndexBuffer:  ib,
			IndexCount:   6,
		},
	}}
	if err := fo.Render(context.Background(), desc); err != nil {
		t.Fatal(err)
	}
	if fo.Cache().Len() != 2 {
		t.Fatalf("cache holds %d pipelines, want 2", fo.Cache().Len())
	}

	fo.NotifyShaderReloaded("composite")
	if fo.Cache().Len() != 1 {
		t.Fatalf("cache holds %d pipelines after reload, want 1", fo.Cache().Len())
	}

	// Rendering again recompiles the dropped pipeline transparently.
	if err := fo.Render(context.Background(), desc); err != nil {
		t.Fatal(err)
	}
	if fo.Cache().Len() != 2 {
		t.Fatalf("cache holds %d pipelines after rerender, want 2", fo.Cache().Len())
	}
}

func TestMissingShaderFailsTheFrame(t *testing.T) {
	extent := renderer.Extent{Width: 8, Height: 8}
	dev := soft.New(extent)
	graph := singlePassGraph(t, dev, extent)

	fo, err := renderer.NewFrameOrchestrator(dev, testCatalog(t), graph, renderer.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer fo.Shutdown()

	vb, ib := fullScreenQuad(t, dev)
	draw := flatDraw(vb, ib, math.NewVec4One())
	draw.Pipeline.Shader = "does-not-exist"

	err = fo.Render(context.Background(), &renderer.FrameDescription{Draws: []renderer.DrawCommand{draw}})
	if !errors.Is(err, renderer.ErrCompilationFailed) {
		t.Fatalf("got %v, want ErrCompilationFailed", err)
	}
}
