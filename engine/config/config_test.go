package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	def := Default()
	if cfg.AppName != def.AppName || cfg.Renderer.Backend != def.Renderer.Backend {
		t.Fatalf("got %+v, want defaults", cfg)
	}
	if cfg.Renderer.FramesInFlight != 2 {
		t.Fatalf("default frames in flight = %d, want 2", cfg.Renderer.FramesInFlight)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.toml")
	content := `app_name = "Custom"
width = 640
height = 480

[renderer]
backend = "soft"
frames_in_flight = 3
acquire_timeout = 500000000
vsync = false
shader_dir = "packs"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AppName != "Custom" || cfg.Width != 640 || cfg.Height != 480 {
		t.Fatalf("window config not applied: %+v", cfg)
	}
	if cfg.Renderer.Backend != BackendSoftware {
		t.Fatalf("backend = %q", cfg.Renderer.Backend)
	}
	if cfg.Renderer.FramesInFlight != 3 {
		t.Fatalf("frames in flight = %d", cfg.Renderer.FramesInFlight)
	}
	if cfg.Renderer.AcquireTimeout != 500*time.Millisecond {
		t.Fatalf("acquire timeout = %s", cfg.Renderer.AcquireTimeout)
	}
	if cfg.Renderer.VSync {
		t.Fatal("vsync should be off")
	}
	// Unset fields keep their defaults.
	if cfg.Renderer.ClearColor != Default().Renderer.ClearColor {
		t.Fatalf("clear color = %v", cfg.Renderer.ClearColor)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed toml", "app_name = \n"},
		{"too many frames in flight", "[renderer]\nframes_in_flight = 4\n"},
		{"zero frames in flight", "[renderer]\nframes_in_flight = 0\n"},
		{"non-positive acquire timeout", "[renderer]\nframes_in_flight = 2\nacquire_timeout = 0\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "strata.toml")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
