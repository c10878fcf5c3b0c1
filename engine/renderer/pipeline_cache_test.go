package renderer

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stratagfx/strata/engine/math"
)

// stubDevice satisfies Device for tests that never execute commands.
type stubDevice struct {
	destroyed int
}

func (s *stubDevice) Name() string { return "stub" }
func (s *stubDevice) CreateRenderPass(layout *PassLayout) (RenderPassHandle, error) {
	return layout, nil
}
func (s *stubDevice) DestroyRenderPass(RenderPassHandle) {}
func (s *stubDevice) CreatePipeline(key PipelineKey, pack *ShaderPack, _ RenderPassHandle) (PipelineHandle, error) {
	return key, nil
}
func (s *stubDevice) DestroyPipeline(*Pipeline) { s.destroyed++ }
func (s *stubDevice) CreateVertexBuffer([]math.Vertex3D) (ResourceHandle, error) {
	return NewResourceHandle(ResourceVertexBuffer), nil
}
func (s *stubDevice) CreateIndexBuffer([]uint32) (ResourceHandle, error) {
	return NewResourceHandle(ResourceIndexBuffer), nil
}
func (s *stubDevice) CreateTexture([]uint8, uint32, uint32) (ResourceHandle, error) {
	return NewResourceHandle(ResourceTexture), nil
}
func (s *stubDevice) DestroyResource(ResourceHandle)   {}
func (s *stubDevice) NewFence(signaled bool) (Fence, error) {
	return stubFence{}, nil
}
func (s *stubDevice) NewRecorder() (CommandRecorder, error) {
	return &captureRecorder{}, nil
}
func (s *stubDevice) Submit(CommandRecorder, Fence) error              { return nil }
func (s *stubDevice) Present() error                                   { return nil }
func (s *stubDevice) Reconfigure(Extent, SurfaceOrientation) error     { return nil }
func (s *stubDevice) WaitIdle() error                                  { return nil }
func (s *stubDevice) Shutdown() error                                  { return nil }

type stubFence struct{}

func (stubFence) Wait(time.Duration) bool { return true }
func (stubFence) Reset()                  {}

func countingFactory(calls *int) PipelineFactory {
	return func(key PipelineKey) (*Pipeline, error) {
		*calls++
		return &Pipeline{Key: key, Layout: StandardLayout(false, false)}, nil
	}
}

func TestCacheHitsOnStructuralEquality(t *testing.T) {
	cache := NewPipelineCache()
	calls := 0
	factory := countingFactory(&calls)

	// Two keys built independently from the same inputs.
	a := PipelineKey{Shader: "geometry", Vertex: VertexLayoutPositionTexcoord, Subpass: 0, Depth: DepthTest | DepthWrite}
	b := PipelineKey{Shader: "geometry", Vertex: VertexLayoutPositionTexcoord, Subpass: 0, Depth: DepthTest | DepthWrite}

	p1, err := cache.GetOrCreate(a, factory)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := cache.GetOrCreate(b, factory)
	if err != nil {
		t.Fatal(err)
	}

	if p1 != p2 {
		t.Fatal("structurally equal keys produced distinct pipelines")
	}
	if calls != 1 {
		t.Fatalf("factory ran %d times, want 1", calls)
	}
}

func TestCacheDistinguishesEveryKeyField(t *testing.T) {
	base := PipelineKey{Shader: "geometry", Vertex: VertexLayoutPositionTexcoord, Subpass: 0, Blend: BlendNone, Depth: DepthTest}
	variants := []PipelineKey{
		{Shader: "composite", Vertex: base.Vertex, Subpass: base.Subpass, Blend: base.Blend, Depth: base.Depth},
		{Shader: base.Shader, Vertex: VertexLayoutPosition, Subpass: base.Subpass, Blend: base.Blend, Depth: base.Depth},
		{Shader: base.Shader, Vertex: base.Vertex, Subpass: 1, Blend: base.Blend, Depth: base.Depth},
		{Shader: base.Shader, Vertex: base.Vertex, Subpass: base.Subpass, Blend: BlendAlpha, Depth: base.Depth},
		{Shader: base.Shader, Vertex: base.Vertex, Subpass: base.Subpass, Blend: base.Blend, Depth: DepthTest | DepthWrite},
	}

	cache := NewPipelineCache()
	calls := 0
	factory := countingFactory(&calls)

	if _, err := cache.GetOrCreate(base, factory); err != nil {
		t.Fatal(err)
	}
	for _, v := range variants {
		if _, err := cache.GetOrCreate(v, factory); err != nil {
			t.Fatal(err)
		}
	}

	if calls != len(variants)+1 {
		t.Fatalf("factory ran %d times, want %d", calls, len(variants)+1)
	}
	if cache.Len() != len(variants)+1 {
		t.Fatalf("cache holds %d entries, want %d", cache.Len(), len(variants)+1)
	}
}

func TestCacheFailureIsIsolated(t *testing.T) {
	cache := NewPipelineCache()

	good := PipelineKey{Shader: "geometry"}
	bad := PipelineKey{Shader: "broken"}

	calls := 0
	factory := func(key PipelineKey) (*Pipeline, error) {
		calls++
		if key.Shader == "broken" {
			return nil, fmt.Errorf("stage does not link")
		}
		return &Pipeline{Key: key}, nil
	}

	if _, err := cache.GetOrCreate(good, factory); err != nil {
		t.Fatal(err)
	}

	_, err := cache.GetOrCreate(bad, factory)
	if !errors.Is(err, ErrCompilationFailed) {
		t.Fatalf("got %v, want ErrCompilationFailed", err)
	}
	if cache.Len() != 1 {
		t.Fatalf("failed compilation left %d entries, want 1", cache.Len())
	}

	// The good entry still serves from cache, the bad key retries.
	if _, err := cache.GetOrCreate(good, factory); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.GetOrCreate(bad, factory); err == nil {
		t.Fatal("expected the retry to fail again")
	}
	if calls != 3 {
		t.Fatalf("factory ran %d times, want 3", calls)
	}
}

func TestCacheInvalidateShader(t *testing.T) {
	cache := NewPipelineCache()
	dev := &stubDevice{}
	calls := 0
	factory := countingFactory(&calls)

	keys := []PipelineKey{
		{Shader: "geometry", Subpass: 0},
		{Shader: "geometry", Subpass: 1},
		{Shader: "composite", Subpass: 1},
	}
	for _, k := range keys {
		if _, err := cache.GetOrCreate(k, factory); err != nil {
			t.Fatal(err)
		}
	}

	dropped := cache.InvalidateShader("geometry", dev)
	if dropped != 2 {
		t.Fatalf("dropped %d pipelines, want 2", dropped)
	}
	if dev.destroyed != 2 {
		t.Fatalf("destroyed %d backend objects, want 2", dev.destroyed)
	}
	if cache.Len() != 1 {
		t.Fatalf("cache holds %d entries, want 1", cache.Len())
	}

	// Rebuilding a dropped key invokes the factory again.
	if _, err := cache.GetOrCreate(keys[0], factory); err != nil {
		t.Fatal(err)
	}
	if calls != 4 {
		t.Fatalf("factory ran %d times, want 4", calls)
	}
}

func TestCacheInvalidateAll(t *testing.T) {
	cache := NewPipelineCache()
	dev := &stubDevice{}
	calls := 0
	factory := countingFactory(&calls)

	for i := 0; i < 3; i++ {
		if _, err := cache.GetOrCreate(PipelineKey{Shader: "geometry", Subpass: uint32(i)}, factory); err != nil {
			t.Fatal(err)
		}
	}
	cache.InvalidateAll(dev)
	if cache.Len() != 0 {
		t.Fatalf("cache holds %d entries after invalidation, want 0", cache.Len())
	}
	if dev.destroyed != 3 {
		t.Fatalf("destroyed %d backend objects, want 3", dev.destroyed)
	}
}
