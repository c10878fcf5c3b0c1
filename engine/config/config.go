package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/stratagfx/strata/engine/core"
)

// Backend selects the device implementation driving the renderer.
type Backend string

const (
	BackendVulkan   Backend = "vulkan"
	BackendSoftware Backend = "soft"
)

// RendererConfig holds everything the renderer needs to know at startup.
type RendererConfig struct {
	// Number of frames allowed in flight on the device. Clamped to [1, 3].
	FramesInFlight int `toml:"frames_in_flight"`
	// How long a frame waits for its slot's prior GPU work before giving up.
	AcquireTimeout time.Duration `toml:"acquire_timeout"`
	// vsync enables FIFO presentation; mailbox is used otherwise when available.
	VSync      bool       `toml:"vsync"`
	ClearColor [4]float32 `toml:"clear_color"`
	Backend    Backend    `toml:"backend"`
	// Directory watched for compiled shader packs.
	ShaderDir string `toml:"shader_dir"`
}

type Config struct {
	AppName  string         `toml:"app_name"`
	Width    uint32         `toml:"width"`
	Height   uint32         `toml:"height"`
	LogLevel string         `toml:"log_level"`
	Renderer RendererConfig `toml:"renderer"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		AppName:  "Strata",
		Width:    1280,
		Height:   720,
		LogLevel: "debug",
		Renderer: RendererConfig{
			FramesInFlight: 2,
			AcquireTimeout: 2 * time.Second,
			VSync:          true,
			ClearColor:     [4]float32{0.0, 0.0, 0.2, 1.0},
			Backend:        BackendVulkan,
			ShaderDir:      "assets/shaders",
		},
	}
}

// Load reads a TOML file over the defaults. A missing file is not an error;
// a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			core.LogInfo("no config at %s, using defaults", path)
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if cfg.Renderer.FramesInFlight < 1 || cfg.Renderer.FramesInFlight > 3 {
		return nil, fmt.Errorf("renderer.frames_in_flight must be within [1, 3], got %d", cfg.Renderer.FramesInFlight)
	}
	if cfg.Renderer.AcquireTimeout <= 0 {
		return nil, fmt.Errorf("renderer.acquire_timeout must be positive, got %s", cfg.Renderer.AcquireTimeout)
	}

	core.SetLogLevel(cfg.logLevel())
	return cfg, nil
}

func (c *Config) logLevel() core.LogLevel {
	switch c.LogLevel {
	case "info":
		return core.InfoLevel
	case "warn":
		return core.WarnLevel
	case "error":
		return core.ErrorLevel
	default:
		return core.DebugLevel
	}
}
