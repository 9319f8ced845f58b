package capability

import "context"

// BaseModule supplies no-op defaults for every PluginModule method so a
// concrete plugin can embed it and override only what it needs, following
// the teacher's BasePlugin embedding pattern.
type BaseModule struct{}

func (BaseModule) Validate(ctx context.Context, vctx *ValidationContext) *ValidationResult {
	return &ValidationResult{}
}

func (BaseModule) OnInitialize(ctx context.Context, services ServiceCollection) error { return nil }

func (BaseModule) OnConfigure(ctx context.Context, builder *AppBuilder) error { return nil }

func (BaseModule) OnStart(ctx context.Context) error { return nil }

func (BaseModule) OnStop(ctx context.Context) error { return nil }

func (BaseModule) OnUnload(ctx context.Context) error { return nil }

func (BaseModule) OnConfigChanged(ctx context.Context, newConfig map[string]interface{}) error {
	return nil
}

func (BaseModule) Health(ctx context.Context) *HealthResult {
	return &HealthResult{Status: HealthHealthy}
}

var _ PluginModule = BaseModule{}

// SurfaceRegistry is the host-constructed set of "published surface" types
// (spec §4.4, §9 Q1: declared by configuration, not fixed at build time or
// negotiated per plugin). Both host and plugin code must see the identical
// instance registered here for a shared type key; the isolated loader (C4)
// consults this registry before falling back to a plugin-private resolution.
type SurfaceRegistry struct {
	shared map[string]interface{}
}

func NewSurfaceRegistry() *SurfaceRegistry {
	return &SurfaceRegistry{shared: make(map[string]interface{})}
}

// RegisterShared publishes an instance under typeKey so every plugin resolves
// the same instance for it.
func (r *SurfaceRegistry) RegisterShared(typeKey string, instance interface{}) {
	r.shared[typeKey] = instance
}

// Resolve returns the published instance for typeKey, if any.
func (r *SurfaceRegistry) Resolve(typeKey string) (interface{}, bool) {
	v, ok := r.shared[typeKey]
	return v, ok
}

// Keys lists every published surface type key, used by C4 to decide whether a
// given lookup should escape to the host set.
func (r *SurfaceRegistry) Keys() []string {
	keys := make([]string, 0, len(r.shared))
	for k := range r.shared {
		keys = append(keys, k)
	}
	return keys
}

// IsPublished reports whether typeKey is part of the published surface.
func (r *SurfaceRegistry) IsPublished(typeKey string) bool {
	_, ok := r.shared[typeKey]
	return ok
}
