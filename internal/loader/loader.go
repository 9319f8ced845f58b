// Package loader implements C4: the per-plugin isolation boundary. Built-in
// (in-process) plugins bypass dynamic loading entirely, following the
// teacher's builtinPlugins bypass in api/internal/plugins/base_plugin.go.
// Dynamically loaded plugins go through Go's own plugin package, the same
// mechanism the teacher uses in PluginDiscovery.loadDynamicPlugin
// (api/internal/plugins/discovery.go) — the only isolation mechanism in the
// whole corpus matching spec §9's "dynamically linked modules with a curated
// symbol table" re-architecture note.
package loader

import (
	"context"
	"fmt"
	"plugin"
	"runtime"
	"sync"
	"time"

	"github.com/pluginhost/core/internal/apperrors"
	"github.com/pluginhost/core/internal/capability"
	"github.com/pluginhost/core/internal/logger"
	"github.com/pluginhost/core/internal/manifest"
)

// Boundary is the isolation boundary handle owned exclusively by a
// RuntimeRecord (spec §3). It satisfies registry.Boundary.
type Boundary struct {
	pluginID string
	builtin  bool

	mu       sync.Mutex
	dynamic  *plugin.Plugin
	released bool

	reclaimed chan struct{}
}

// Release drops the boundary's reference to the loaded code and, for dynamic
// boundaries, runs a short GC sweep reporting whether it was reclaimed.
// Built-in boundaries have nothing to unload and always report reclaimed.
func (b *Boundary) Release(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return true, nil
	}
	b.released = true

	if b.builtin {
		return true, nil
	}

	b.dynamic = nil
	runtime.GC()
	runtime.GC()

	select {
	case <-b.reclaimed:
		return true, nil
	case <-time.After(50 * time.Millisecond):
		return false, nil
	}
}

// Loader is C4.
type Loader struct {
	surface *capability.SurfaceRegistry

	mu       sync.RWMutex
	builtins map[string]capability.ModuleFactory
}

func New(surface *capability.SurfaceRegistry) *Loader {
	return &Loader{
		surface:  surface,
		builtins: make(map[string]capability.ModuleFactory),
	}
}

// RegisterBuiltin registers an in-process plugin factory under id, bypassing
// dynamic loading entirely (mirrors BasePlugin's builtinPlugins map).
func (l *Loader) RegisterBuiltin(id string, factory capability.ModuleFactory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.builtins[id] = factory
}

// IsBuiltin reports whether id is registered as a built-in plugin.
func (l *Loader) IsBuiltin(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.builtins[id]
	return ok
}

// Surface exposes the loader's published-surface registry so C5 can resolve
// shared types the same way C4 does.
func (l *Loader) Surface() *capability.SurfaceRegistry {
	return l.surface
}

// Load resolves the plugin's artifact and entry-point symbol, returning the
// boundary that owns it and the factory the lifecycle engine's Creation
// stage will call to instantiate the module. It does not instantiate the
// module itself — spec §4.6 draws that line between Load (C4) and Creation
// (C6 stage 2). On any failure it returns a structured LoadFailed error
// naming the id, path, and cause (spec §4.4); no partial boundary is left
// allocated.
func (l *Loader) Load(ctx context.Context, dp manifest.DiscoveredPlugin) (*Boundary, capability.ModuleFactory, error) {
	id := dp.Manifest.ID

	l.mu.RLock()
	factory, builtin := l.builtins[id]
	l.mu.RUnlock()

	if builtin {
		logger.Loader().Debug().Str("plugin_id", id).Msg("loading built-in plugin")
		return &Boundary{pluginID: id, builtin: true}, factory, nil
	}

	dyn, err := plugin.Open(dp.ArtifactPath)
	if err != nil {
		return nil, nil, apperrors.NewLoadFailed(id, dp.ArtifactPath, err)
	}

	factoryFn, err := resolveFactory(dyn, dp.Manifest.EntryPoint)
	if err != nil {
		return nil, nil, apperrors.NewLoadFailed(id, dp.ArtifactPath, err)
	}

	// The finalizer is attached to dyn itself, not a throwaway sentinel, so
	// the closed channel actually tracks dyn's own reachability: once
	// Release drops Boundary's reference and nothing else in the process
	// (the returned factory closes over the looked-up symbol value, not
	// dyn) holds dyn, a GC sweep collects it and fires this.
	reclaimed := make(chan struct{})
	runtime.SetFinalizer(dyn, func(*plugin.Plugin) { close(reclaimed) })

	b := &Boundary{pluginID: id, dynamic: dyn, reclaimed: reclaimed}

	logger.Loader().Info().Str("plugin_id", id).Str("path", dp.ArtifactPath).Msg("loaded dynamic plugin")
	return b, factoryFn, nil
}

// Probe implements validate.Prober: a shallow check that the artifact opens
// and the declared entry point symbol resolves, without invoking the
// constructor (spec §4.3: "entry point resolvable... concrete... exposes a
// parameterless constructor").
func (l *Loader) Probe(artifactPath, entryPoint string) (bool, string, error) {
	dyn, err := plugin.Open(artifactPath)
	if err != nil {
		return false, "", err
	}
	if _, err := resolveFactory(dyn, entryPoint); err != nil {
		return false, err.Error(), nil
	}
	return true, "", nil
}

// resolveFactory looks up entryPoint in dyn and requires it be a
// func() capability.PluginModule — the Go expression of "concrete, exposes a
// parameterless constructor" (spec §4.3), since Go has no abstract/interface
// values to accidentally export as a symbol.
func resolveFactory(dyn *plugin.Plugin, entryPoint string) (capability.ModuleFactory, error) {
	sym, err := dyn.Lookup(entryPoint)
	if err != nil {
		return nil, err
	}
	factory, ok := sym.(func() capability.PluginModule)
	if !ok {
		return nil, fmt.Errorf("symbol %s is not a func() capability.PluginModule", entryPoint)
	}
	return capability.ModuleFactory(factory), nil
}
