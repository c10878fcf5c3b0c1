package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stratagfx/strata/engine/assets"
	"github.com/stratagfx/strata/engine/config"
	"github.com/stratagfx/strata/engine/core"
	"github.com/stratagfx/strata/engine/math"
	"github.com/stratagfx/strata/engine/platform"
	"github.com/stratagfx/strata/engine/renderer"
	"github.com/stratagfx/strata/engine/renderer/soft"
	"github.com/stratagfx/strata/engine/renderer/vulkan"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// Window position on startup; the window manager usually overrides it.
const (
	startPosX uint32 = 100
	startPosY uint32 = 100
)

type Engine struct {
	currentStage Stage
	scene        *Scene
	config       *config.Config
	isRunning    bool
	isSuspended  bool

	platform     *platform.Platform
	device       renderer.Device
	catalog      *assets.ShaderCatalog
	orchestrator *renderer.FrameOrchestrator

	width  uint32
	height uint32

	clock    *core.Clock
	lastTime time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	teardown sync.Once
}

func New(scene *Scene, configPath string) (*Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	p, err := platform.New()
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		currentStage: EngineStageUninitialized,
		scene:        scene,
		config:       cfg,
		clock:        core.NewClock(),
		platform:     p,
		isRunning:    true,
		isSuspended:  false,
		width:        cfg.Width,
		height:       cfg.Height,
		lastTime:     0,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	if err := core.InputInitialize(); err != nil {
		return err
	}
	if err := core.MetricsInitialize(); err != nil {
		return err
	}
	if !core.EventInitialize() {
		return fmt.Errorf("failed to initialize the event system")
	}
	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e, e.onQuit)
	core.EventRegister(core.EVENT_CODE_RESIZED, e, e.onResized)
	core.EventRegister(core.EVENT_CODE_SHADER_RELOADED, e, e.onShaderReloaded)
	core.EventRegister(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)

	if err := e.platform.Startup(e.config.AppName, startPosX, startPosY, e.width, e.height); err != nil {
		return err
	}
	// The framebuffer may differ from the requested window size on high-DPI
	// displays.
	e.width, e.height = e.platform.FramebufferExtent()
	extent := renderer.Extent{Width: e.width, Height: e.height}

	device, err := e.createDevice(extent)
	if err != nil {
		return err
	}
	e.device = device

	catalog, err := assets.NewShaderCatalog(e.config.Renderer.ShaderDir)
	if err != nil {
		return err
	}
	if err := catalog.Watch(); err != nil {
		core.LogWarn("shader hot reload unavailable: %s", err.Error())
	}
	e.catalog = catalog

	graph, err := buildDefaultGraph(device, extent)
	if err != nil {
		return err
	}

	cc := e.config.Renderer.ClearColor
	orchestrator, err := renderer.NewFrameOrchestrator(device, catalog, graph, renderer.Options{
		FramesInFlight: e.config.Renderer.FramesInFlight,
		AcquireTimeout: e.config.Renderer.AcquireTimeout,
		ClearColor:     math.NewVec4(cc[0], cc[1], cc[2], cc[3]),
	})
	if err != nil {
		return err
	}
	e.orchestrator = orchestrator

	if e.scene.FnInitialize != nil {
		if err := e.scene.FnInitialize(device, extent); err != nil {
			return err
		}
	}
	if e.scene.FnOnResize != nil {
		if err := e.scene.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) createDevice(extent renderer.Extent) (renderer.Device, error) {
	switch e.config.Renderer.Backend {
	case config.BackendSoftware:
		return soft.New(extent), nil
	case config.BackendVulkan:
		return vulkan.New(e.platform, vulkan.Options{
			AppName: e.config.AppName,
			Extent:  extent,
			VSync:   e.config.Renderer.VSync,
			Debug:   e.config.LogLevel == "debug",
		})
	default:
		return nil, fmt.Errorf("unknown renderer backend %q", e.config.Renderer.Backend)
	}
}

// buildDefaultGraph compiles the standard two-subpass graph: geometry renders
// into an offscreen color target with depth, then composite reads it as a
// subpass input and writes the presentable backbuffer.
func buildDefaultGraph(device renderer.Device, extent renderer.Extent) (*renderer.Graph, error) {
	attachments := []renderer.AttachmentDesc{
		{Name: "scene_color", Format: renderer.FormatColor},
		{Name: "scene_depth", Format: renderer.FormatDepth},
		{Name: "backbuffer", Format: renderer.FormatColor, Presentable: true},
	}
	depth := renderer.AttachmentID(1)
	subpasses := []renderer.SubpassDescriptor{
		{Name: "geometry", Colors: []renderer.AttachmentID{0}, DepthStencil: &depth},
		{Name: "composite", Colors: []renderer.AttachmentID{2}, Inputs: []renderer.AttachmentID{0}},
	}
	return renderer.BuildGraph(device, attachments, subpasses, extent)
}

func (e *Engine) Run() error {
	defer e.shutdownNow()

	e.currentStage = EngineStageRunning
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning {
		e.platform.PumpMessages()
		if e.platform.ShouldClose() {
			e.isRunning = false
			break
		}
		if e.isSuspended {
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := (currentTime - e.lastTime).Seconds()
		e.lastTime = currentTime

		core.MetricsUpdate(delta)

		desc, err := e.scene.FnUpdate(delta)
		if err != nil {
			core.LogError("scene update failed, shutting down: %s", err.Error())
			e.isRunning = false
			return err
		}

		if err := e.orchestrator.Render(e.ctx, desc); err != nil {
			var fatal *renderer.FatalSurfaceLoss
			switch {
			case errors.Is(err, renderer.ErrFrameAcquireTimeout):
				// The device is behind; retry the same slot next tick.
				continue
			case errors.Is(err, renderer.ErrFrameAbandoned):
				e.isRunning = false
			case errors.Is(err, renderer.ErrSurfaceLost):
				core.LogWarn("frame dropped: %s", err.Error())
			case errors.As(err, &fatal):
				core.LogError(fatal.Error())
				e.isRunning = false
				return fatal
			default:
				e.isRunning = false
				return err
			}
		}

		// Input state rolls over last, so the frame saw every change.
		core.InputUpdate(delta)
	}
	return nil
}

// Shutdown requests the loop to stop. Teardown happens on the loop's
// goroutine once the frame in progress completes, so it is safe to call from
// a signal handler.
func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	e.isRunning = false
	e.cancel()
	return nil
}

func (e *Engine) shutdownNow() {
	e.teardown.Do(func() {
		e.currentStage = EngineStageShuttingDown
		if e.scene.FnShutdown != nil {
			if err := e.scene.FnShutdown(); err != nil {
				core.LogError("scene shutdown: %s", err.Error())
			}
		}
		if e.orchestrator != nil {
			if err := e.orchestrator.Shutdown(); err != nil {
				core.LogError("renderer shutdown: %s", err.Error())
			}
		}
		if e.catalog != nil {
			if err := e.catalog.Close(); err != nil {
				core.LogError("shader catalog shutdown: %s", err.Error())
			}
		}
		if err := e.platform.Shutdown(); err != nil {
			core.LogError("platform shutdown: %s", err.Error())
		}
		if err := core.InputShutdown(); err != nil {
			core.LogError("input shutdown: %s", err.Error())
		}
		if err := core.EventShutdown(); err != nil {
			core.LogError("event shutdown: %s", err.Error())
		}
	})
}

func (e *Engine) onKey(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	key := core.KeyCode(data.Data.U32[0])
	switch key {
	case core.KEY_ESCAPE:
		core.EventFire(core.EVENT_CODE_APPLICATION_QUIT, e, core.EventContext{})
		return true
	case core.KEY_F1:
		core.LogInfo("%.1f fps, %.2f ms avg frame time", core.MetricsFPS(), core.MetricsFrameTime())
		return true
	}
	return false
}

func (e *Engine) onQuit(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	core.LogInfo("application quit requested")
	e.isRunning = false
	return true
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	width := data.Data.U32[0]
	height := data.Data.U32[1]
	if width == e.width && height == e.height {
		return false
	}
	e.width = width
	e.height = height

	// A zero extent means the window is minimized; rendering resumes on the
	// next real size.
	if width == 0 || height == 0 {
		core.LogInfo("window minimized, suspending")
		e.isSuspended = true
		return true
	}
	if e.isSuspended {
		core.LogInfo("window restored, resuming")
		e.isSuspended = false
	}

	e.orchestrator.NotifyReconfigure(renderer.Extent{Width: width, Height: height}, e.orchestrator.Orientation())

	reconf := core.EventContext{}
	reconf.Data.U32[0] = uint32(e.orchestrator.Orientation())
	reconf.Data.U32[1] = width
	reconf.Data.U32[2] = height
	core.EventFire(core.EVENT_CODE_SURFACE_RECONFIGURED, e, reconf)

	if e.scene.FnOnResize != nil {
		if err := e.scene.FnOnResize(width, height); err != nil {
			core.LogError("scene resize: %s", err.Error())
		}
	}
	return true
}

func (e *Engine) onShaderReloaded(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	name := data.Data.C[0]
	core.LogInfo("shader pack %q reloaded, dropping cached pipelines", name)
	e.orchestrator.NotifyShaderReloaded(name)
	return true
}
