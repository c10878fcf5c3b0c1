package renderer

import (
	"fmt"
	"sync"

	"github.com/stratagfx/strata/engine/core"
)

// PipelineCache holds every pipeline built this session, keyed by the
// structural value of its PipelineKey. Entries are shared by all frame
// slots concurrently; creation is exclusive per key, reads afterwards take
// only the read lock. There is no eviction: the key space is bounded by the
// finite (shader, subpass, state) combinations of a scene, so the cache
// grows monotonically until teardown.
type PipelineCache struct {
	mu      sync.RWMutex
	entries map[PipelineKey]*Pipeline
}

func NewPipelineCache() *PipelineCache {
	return &PipelineCache{
		entries: make(map[PipelineKey]*Pipeline),
	}
}

// GetOrCreate returns the shared pipeline for the key, invoking the factory
// on first request. A factory failure is fatal for this key only: nothing is
// stored, and other entries are untouched.
func (pc *PipelineCache) GetOrCreate(key PipelineKey, factory PipelineFactory) (*Pipeline, error) {
	pc.mu.RLock()
	p, ok := pc.entries[key]
	pc.mu.RUnlock()
	if ok {
		return p, nil
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	// Lost the race: another frame built it while we waited.
	if p, ok := pc.entries[key]; ok {
		return p, nil
	}

	p, err := factory(key)
	if err != nil {
		return nil, fmt.Errorf("pipeline %+v: %w: %v", key, ErrCompilationFailed, err)
	}
	pc.entries[key] = p
	core.LogDebug("pipeline cache: built %q subpass %d (%d cached)", key.Shader, key.Subpass, len(pc.entries))
	return p, nil
}

// Len reports the number of cached pipelines.
func (pc *PipelineCache) Len() int {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return len(pc.entries)
}

// InvalidateShader drops every pipeline built from the named shader pack,
// destroying the backend objects. Used when the catalog reloads a pack.
func (pc *PipelineCache) InvalidateShader(name string, device Device) int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	dropped := 0
	for key, p := range pc.entries {
		if key.Shader == name {
			device.DestroyPipeline(p)
			delete(pc.entries, key)
			dropped++
		}
	}
	if dropped > 0 {
		core.LogInfo("pipeline cache: dropped %d pipelines for reloaded shader %q", dropped, name)
	}
	return dropped
}

// InvalidateAll clears the cache, destroying the backend objects. Used when
// the render pass they were compiled against is rebuilt.
func (pc *PipelineCache) InvalidateAll(device Device) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for key, p := range pc.entries {
		device.DestroyPipeline(p)
		delete(pc.entries, key)
	}
}

// Teardown destroys every entry at shutdown.
func (pc *PipelineCache) Teardown(device Device) {
	pc.InvalidateAll(device)
}
