package engine

import (
	"testing"

	"github.com/stratagfx/strata/engine/assets"
	"github.com/stratagfx/strata/engine/core"
	"github.com/stratagfx/strata/engine/renderer"
	"github.com/stratagfx/strata/engine/renderer/soft"
)

func resizableEngine(t *testing.T) *Engine {
	t.Helper()

	extent := renderer.Extent{Width: 32, Height: 32}
	dev := soft.New(extent)
	graph, err := buildDefaultGraph(dev, extent)
	if err != nil {
		t.Fatal(err)
	}
	fo, err := renderer.NewFrameOrchestrator(dev, assets.NewMemoryCatalog(), graph, renderer.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { fo.Shutdown() })

	return &Engine{
		scene:        &Scene{},
		orchestrator: fo,
		width:        extent.Width,
		height:       extent.Height,
	}
}

func TestResizeFiresSurfaceReconfigured(t *testing.T) {
	core.EventInitialize()
	t.Cleanup(func() { core.EventShutdown() })

	e := resizableEngine(t)

	fired := 0
	var got core.EventContext
	core.EventRegister(core.EVENT_CODE_SURFACE_RECONFIGURED, t, func(code core.SystemEventCode, sender, inst interface{}, data core.EventContext) bool {
		fired++
		got = data
		return true
	})

	resize := core.EventContext{}
	resize.Data.U32[0] = 64
	resize.Data.U32[1] = 48
	e.onResized(core.EVENT_CODE_RESIZED, nil, nil, resize)

	if fired != 1 {
		t.Fatalf("reconfigure event fired %d times, want 1", fired)
	}
	if got.Data.U32[1] != 64 || got.Data.U32[2] != 48 {
		t.Fatalf("reconfigure payload extent = %dx%d, want 64x48", got.Data.U32[1], got.Data.U32[2])
	}
	if renderer.SurfaceOrientation(got.Data.U32[0]) != e.orchestrator.Orientation() {
		t.Fatal("reconfigure payload carries the wrong orientation")
	}

	// Reporting the same extent again is not a reconfiguration.
	e.onResized(core.EVENT_CODE_RESIZED, nil, nil, resize)
	if fired != 1 {
		t.Fatalf("same-size resize fired %d extra events", fired-1)
	}
}

func TestResizeToZeroExtentSuspends(t *testing.T) {
	core.EventInitialize()
	t.Cleanup(func() { core.EventShutdown() })

	e := resizableEngine(t)

	fired := 0
	core.EventRegister(core.EVENT_CODE_SURFACE_RECONFIGURED, t, func(code core.SystemEventCode, sender, inst interface{}, data core.EventContext) bool {
		fired++
		return true
	})

	minimized := core.EventContext{}
	e.onResized(core.EVENT_CODE_RESIZED, nil, nil, minimized)

	if !e.isSuspended {
		t.Fatal("zero extent did not suspend the engine")
	}
	if fired != 0 {
		t.Fatal("minimizing must not reconfigure the surface")
	}

	restored := core.EventContext{}
	restored.Data.U32[0] = 32
	restored.Data.U32[1] = 32
	e.onResized(core.EVENT_CODE_RESIZED, nil, nil, restored)

	if e.isSuspended {
		t.Fatal("real extent did not resume the engine")
	}
	if fired != 1 {
		t.Fatalf("restore fired %d reconfigure events, want 1", fired)
	}
}
