package di

import (
	"context"
	"fmt"
	"sync"

	"github.com/pluginhost/core/internal/capability"
)

// resolver is satisfied by both RootProvider and Provider, letting a child
// chain to any ancestor regardless of depth.
type resolver interface {
	resolveLocal(serviceType string) (interface{}, bool)
	resolveAllLocal(serviceType string) []interface{}
}

// RootProvider is the host's own service provider, with no parent and no
// policy check (the host always resolves everything it itself registered).
type RootProvider struct {
	mu        sync.RWMutex
	declared  map[string][]capability.Registration
	instances map[string]interface{}
}

func NewRootProvider() *RootProvider {
	return &RootProvider{
		declared:  make(map[string][]capability.Registration),
		instances: make(map[string]interface{}),
	}
}

// Register installs r into the root collection, following the explicit
// builder-surface contract (spec §9: replaces reflection-based scanning).
func (r *RootProvider) Register(reg capability.Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.declared[reg.ServiceType] = append(r.declared[reg.ServiceType], reg)
}

func (r *RootProvider) resolveLocal(serviceType string) (interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	regs, ok := r.declared[serviceType]
	if !ok || len(regs) == 0 {
		return nil, false
	}
	reg := regs[len(regs)-1] // last registration wins, matching typical DI-container override semantics
	return r.instantiateLocked(reg)
}

func (r *RootProvider) resolveAllLocal(serviceType string) []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	regs := r.declared[serviceType]
	out := make([]interface{}, 0, len(regs))
	for _, reg := range regs {
		if inst, ok := r.instantiateLocked(reg); ok {
			out = append(out, inst)
		}
	}
	return out
}

func (r *RootProvider) instantiateLocked(reg capability.Registration) (interface{}, bool) {
	cacheKey := reg.ServiceType + "|" + reg.Key
	if reg.Lifetime == capability.LifetimeSingleton {
		if inst, ok := r.instances[cacheKey]; ok {
			return inst, true
		}
	}
	inst, err := reg.Factory(&rootProviderView{r})
	if err != nil {
		return nil, false
	}
	if reg.Decorator != nil {
		inst = reg.Decorator(inst)
	}
	if reg.Lifetime == capability.LifetimeSingleton {
		r.instances[cacheKey] = inst
	}
	return inst, true
}

// Get implements capability.ServiceProvider for the root: no policy applies.
func (r *RootProvider) Get(serviceType string) (interface{}, bool) { return r.resolveLocal(serviceType) }
func (r *RootProvider) Require(serviceType string) interface{} {
	inst, ok := r.resolveLocal(serviceType)
	if !ok {
		panic(fmt.Errorf("service %s not found in root provider", serviceType))
	}
	return inst
}
func (r *RootProvider) GetAll(serviceType string) []interface{} { return r.resolveAllLocal(serviceType) }

// rootProviderView lets factories registered on the root resolve sibling
// root services without exposing the locking internals.
type rootProviderView struct{ r *RootProvider }

func (v *rootProviderView) Get(t string) (interface{}, bool)  { return v.r.resolveLocal(t) }
func (v *rootProviderView) Require(t string) interface{}      { i, _ := v.r.resolveLocal(t); return i }
func (v *rootProviderView) GetAll(t string) []interface{}     { return v.r.resolveAllLocal(t) }

// Provider is a per-plugin child service provider layered over a parent
// resolver (spec §4.5). Resolution: try the child's own declared set first;
// on a miss, consult the policy, then ask the parent.
type Provider struct {
	pluginID string
	parent   resolver
	policy   *Policy

	mu        sync.RWMutex
	declared  map[string][]capability.Registration
	instances map[string]interface{}

	lifetime *LifetimeManager
}

// NewProvider constructs a child provider for pluginID layered over parent,
// gated by policy.
func NewProvider(pluginID string, parent resolver, policy *Policy) *Provider {
	return &Provider{
		pluginID:  pluginID,
		parent:    parent,
		policy:    policy,
		declared:  make(map[string][]capability.Registration),
		instances: make(map[string]interface{}),
		lifetime:  NewLifetimeManager(),
	}
}

// Register installs a registration into this plugin's own collection.
func (p *Provider) Register(reg capability.Registration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.declared[reg.ServiceType] = append(p.declared[reg.ServiceType], reg)
	if reg.Disposable {
		p.lifetime.Declare(reg)
	}
}

func (p *Provider) resolveLocal(serviceType string) (interface{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	regs, ok := p.declared[serviceType]
	if !ok || len(regs) == 0 {
		return nil, false
	}
	reg := regs[len(regs)-1]
	return p.instantiateLocked(reg)
}

func (p *Provider) resolveAllLocal(serviceType string) []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	regs := p.declared[serviceType]
	out := make([]interface{}, 0, len(regs))
	for _, reg := range regs {
		if inst, ok := p.instantiateLocked(reg); ok {
			out = append(out, inst)
		}
	}
	return out
}

func (p *Provider) instantiateLocked(reg capability.Registration) (interface{}, bool) {
	cacheKey := reg.ServiceType + "|" + reg.Key
	if reg.Lifetime == capability.LifetimeSingleton {
		if inst, ok := p.instances[cacheKey]; ok {
			return inst, true
		}
	}
	inst, err := reg.Factory(p)
	if err != nil {
		return nil, false
	}
	if reg.Decorator != nil {
		inst = reg.Decorator(inst)
	}
	if reg.Lifetime == capability.LifetimeSingleton {
		p.instances[cacheKey] = inst
	}
	if reg.Disposable {
		p.lifetime.Track(reg.ServiceType, inst)
	}
	return inst, true
}

// Get implements the child-over-parent resolution protocol: step 1 tries the
// child's declared set, step 2 consults the policy and asks the parent,
// step 3 is a miss. Returns (nil, false) on any denial or miss — spec §9 Q3.
func (p *Provider) Get(serviceType string) (interface{}, bool) {
	if inst, ok := p.resolveLocal(serviceType); ok {
		return inst, true
	}
	if p.parent == nil {
		return nil, false
	}
	if allow, _ := p.policy.Decide(p.pluginID, serviceType); !allow {
		return nil, false
	}
	return p.parent.resolveLocal(serviceType)
}

// RequireErr is the explicit-error-return sibling of Require, for internal
// callers (C6, C7) that should never rely on a recovered panic.
func (p *Provider) RequireErr(serviceType string) (interface{}, error) {
	if inst, ok := p.resolveLocal(serviceType); ok {
		return inst, nil
	}
	if p.parent != nil {
		if allow, reason := p.policy.Decide(p.pluginID, serviceType); allow {
			if inst, ok := p.parent.resolveLocal(serviceType); ok {
				return inst, nil
			}
		} else {
			return nil, DeniedError(p.pluginID, serviceType, reason)
		}
	}
	return nil, fmt.Errorf("service %s not found for plugin %s", serviceType, p.pluginID)
}

// Require implements capability.ServiceProvider for module code: it panics
// with the structured error on denial or miss (spec §9 Q3: "require raises"),
// matching the exception-style contract modules are written against. The
// lifecycle engine's stage runner and the supervisor's health-check and
// config-update calls recover any panic from a module hook and turn it into
// an error (or an Unhealthy health result), so a panic raised inside those
// hooks never escapes to a process crash.
func (p *Provider) Require(serviceType string) interface{} {
	inst, err := p.RequireErr(serviceType)
	if err != nil {
		panic(err)
	}
	return inst
}

// DisposeAll releases every disposable instance this provider resolved, in
// reverse acquisition order, per the ServiceDispose teardown stage (spec
// §4.6). Safe to call once; the underlying lifetime manager's handle list is
// drained on return.
func (p *Provider) DisposeAll(ctx context.Context, pluginID string) error {
	return p.lifetime.Close(ctx, pluginID)
}

// GetAll returns the union of child and parent resolutions, child first,
// deduplicated by instance identity (spec §4.5).
func (p *Provider) GetAll(serviceType string) []interface{} {
	out := p.resolveAllLocal(serviceType)

	if p.parent != nil {
		if allow, _ := p.policy.Decide(p.pluginID, serviceType); allow {
			parentAll := p.parent.resolveAllLocal(serviceType)
			out = append(out, dedupeByIdentity(out, parentAll)...)
		}
	}
	return out
}

func dedupeByIdentity(existing, candidates []interface{}) []interface{} {
	seen := make(map[interface{}]bool, len(existing))
	for _, e := range existing {
		seen[identityKey(e)] = true
	}
	var out []interface{}
	for _, c := range candidates {
		k := identityKey(c)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}

func identityKey(v interface{}) interface{} {
	return fmt.Sprintf("%p|%v", v, v)
}

var _ capability.ServiceProvider = (*Provider)(nil)
var _ capability.ServiceProvider = (*RootProvider)(nil)
