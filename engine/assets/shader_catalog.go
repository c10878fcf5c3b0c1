package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"

	"github.com/stratagfx/strata/engine/core"
	"github.com/stratagfx/strata/engine/renderer"
)

// A shader pack on disk is three files sharing a base name:
//
//	<name>.vert.spv   compiled vertex stage
//	<name>.frag.spv   compiled fragment stage
//	<name>.toml       the binding layout the stages declare
//
// The layout file is the shader toolchain's contract with the core; packs
// whose layout disagrees with the fixed binding convention fail at load.
type layoutFile struct {
	PushConstantSize uint32 `toml:"push_constant_size"`
	Sets             []struct {
		Bindings []string `toml:"bindings"`
	} `toml:"sets"`
}

// ShaderCatalog owns every shader pack the renderer can build pipelines
// from. It watches the shader directory and reloads packs whose files change
// on disk, so a recompiled shader shows up without a restart.
type ShaderCatalog struct {
	dir string

	mu         sync.RWMutex
	packs      map[string]*renderer.ShaderPack
	generation uint64

	fsnotify *fsnotify.Watcher
	done     chan struct{}
	isClosed bool
}

func NewShaderCatalog(dir string) (*ShaderCatalog, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	sc := &ShaderCatalog{
		dir:      dir,
		packs:    make(map[string]*renderer.ShaderPack),
		fsnotify: fsWatch,
		done:     make(chan struct{}),
	}

	if err := sc.scan(); err != nil {
		fsWatch.Close()
		return nil, err
	}
	return sc, nil
}

// NewMemoryCatalog builds a catalog with no backing directory. Packs are
// registered programmatically; used by the soft backend and tests.
func NewMemoryCatalog() *ShaderCatalog {
	return &ShaderCatalog{
		packs: make(map[string]*renderer.ShaderPack),
		done:  make(chan struct{}),
	}
}

// Register adds or replaces a pack, bumping the catalog generation.
func (sc *ShaderCatalog) Register(pack *renderer.ShaderPack) error {
	if err := pack.Validate(); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.generation++
	pack.Generation = sc.generation
	sc.packs[pack.Name] = pack
	return nil
}

// Pack returns the named shader pack. Implements renderer.ShaderSource.
func (sc *ShaderCatalog) Pack(name string) (*renderer.ShaderPack, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	pack, ok := sc.packs[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, renderer.ErrUnknownShader)
	}
	return pack, nil
}

// Generation increments whenever any pack is (re)loaded.
func (sc *ShaderCatalog) Generation() uint64 {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.generation
}

// Watch starts observing the shader directory. On a change to any pack file
// the pack is reloaded and EVENT_CODE_SHADER_RELOADED fires with the pack
// name, so the renderer can drop stale pipelines.
func (sc *ShaderCatalog) Watch() error {
	if sc.fsnotify == nil {
		return errors.New("catalog has no backing directory to watch")
	}
	if err := sc.fsnotify.Add(sc.dir); err != nil {
		return err
	}
	go sc.run()
	return nil
}

func (sc *ShaderCatalog) run() {
	for {
		select {
		case e, ok := <-sc.fsnotify.Events:
			if !ok {
				return
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name, recognized := packName(e.Name)
			if !recognized {
				continue
			}
			if err := sc.loadPack(name); err != nil {
				core.LogError("shader catalog: reloading %q: %s", name, err.Error())
				continue
			}
			ctx := core.EventContext{}
			ctx.Data.C[0] = name
			ctx.Data.U64[0] = sc.Generation()
			core.EventFire(core.EVENT_CODE_SHADER_RELOADED, sc, ctx)
		case err, ok := <-sc.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("shader catalog watcher: %s", err.Error())
		case <-sc.done:
			return
		}
	}
}

// Close stops the watcher.
func (sc *ShaderCatalog) Close() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.isClosed {
		return errors.New("shader catalog already closed")
	}
	sc.isClosed = true
	close(sc.done)
	if sc.fsnotify != nil {
		return sc.fsnotify.Close()
	}
	return nil
}

// scan loads every complete pack in the directory.
func (sc *ShaderCatalog) scan() error {
	entries, err := os.ReadDir(sc.dir)
	if err != nil {
		return fmt.Errorf("reading shader dir %s: %w", sc.dir, err)
	}
	seen := map[string]bool{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, ok := packName(entry.Name())
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		if err := sc.loadPack(name); err != nil {
			core.LogWarn("shader catalog: skipping %q: %s", name, err.Error())
		}
	}
	core.LogInfo("shader catalog: %d packs loaded from %s", len(sc.packs), sc.dir)
	return nil
}

func (sc *ShaderCatalog) loadPack(name string) error {
	vert, err := os.ReadFile(filepath.Join(sc.dir, name+".vert.spv"))
	if err != nil {
		return err
	}
	frag, err := os.ReadFile(filepath.Join(sc.dir, name+".frag.spv"))
	if err != nil {
		return err
	}
	layout, err := loadLayout(filepath.Join(sc.dir, name+".toml"))
	if err != nil {
		return err
	}

	pack := &renderer.ShaderPack{
		Name:     name,
		Vertex:   vert,
		Fragment: frag,
		Layout:   layout,
	}
	if err := pack.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.generation++
	pack.Generation = sc.generation
	sc.packs[name] = pack
	return nil
}

func loadLayout(path string) (*renderer.PipelineLayout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lf layoutFile
	if err := toml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	layout := &renderer.PipelineLayout{
		PushConstantSize: lf.PushConstantSize,
	}
	for si, set := range lf.Sets {
		sl := renderer.SetLayout{}
		for bi, kind := range set.Bindings {
			switch kind {
			case "uniform":
				sl.Bindings = append(sl.Bindings, renderer.BindingUniform)
			case "sampler":
				sl.Bindings = append(sl.Bindings, renderer.BindingSampler)
			case "input_attachment":
				sl.Bindings = append(sl.Bindings, renderer.BindingInput)
			default:
				return nil, fmt.Errorf("%s: set %d binding %d: unknown kind %q", path, si, bi, kind)
			}
		}
		layout.Sets = append(layout.Sets, sl)
	}
	return layout, nil
}

// packName extracts the pack base name from one of its file names, and
// reports whether the file belongs to a pack at all.
func packName(path string) (string, bool) {
	base := filepath.Base(path)
	switch {
	case strings.HasSuffix(base, ".vert.spv"):
		return strings.TrimSuffix(base, ".vert.spv"), true
	case strings.HasSuffix(base, ".frag.spv"):
		return strings.TrimSuffix(base, ".frag.spv"), true
	case strings.HasSuffix(base, ".toml"):
		return strings.TrimSuffix(base, ".toml"), true
	}
	return "", false
}
