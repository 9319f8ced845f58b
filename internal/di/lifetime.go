package di

import (
	"context"
	"fmt"

	"github.com/pluginhost/core/internal/apperrors"
	"github.com/pluginhost/core/internal/capability"
	"github.com/pluginhost/core/internal/logger"
)

// Disposer is implemented by any service instance that owns a resource
// needing explicit release. AsyncDisposer additionally accepts a context so
// slow disposers can be cancelled.
type Disposer interface{ Close() error }
type AsyncDisposer interface {
	CloseAsync(ctx context.Context) error
}

// handle is one tracked disposable instance, keyed so a scope can release
// every handle it owns without relying on weak references (spec §9: "Model
// as an explicit registry keyed by handle").
type handle struct {
	serviceType string
	instance    interface{}
}

// LifetimeManager tracks disposal handles for one provider scope and
// validates the declared service graph for the hazards spec §4.5 names.
type LifetimeManager struct {
	handles      []handle
	registrations map[string]capability.Registration
}

func NewLifetimeManager() *LifetimeManager {
	return &LifetimeManager{registrations: make(map[string]capability.Registration)}
}

// Declare records a registration for later graph-hazard validation.
func (m *LifetimeManager) Declare(reg capability.Registration) {
	m.registrations[reg.ServiceType] = reg
}

// Track adds a resolved, disposable instance to this scope's handle vector.
func (m *LifetimeManager) Track(serviceType string, instance interface{}) {
	m.handles = append(m.handles, handle{serviceType: serviceType, instance: instance})
}

// Close releases every tracked handle in reverse acquisition order,
// collecting failures into a single composite DisposalWarning rather than
// aborting (spec §9: "collecting errors into a composite warning rather than
// aborting").
func (m *LifetimeManager) Close(ctx context.Context, pluginID string) error {
	var failures []string
	for i := len(m.handles) - 1; i >= 0; i-- {
		h := m.handles[i]
		if err := closeOne(ctx, h.instance); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", h.serviceType, err))
			logger.DI().Warn().Str("plugin_id", pluginID).Str("service", h.serviceType).Err(err).Msg("disposal failed")
		}
	}
	m.handles = nil

	if len(failures) == 0 {
		return nil
	}
	return apperrors.NewDisposalWarning(pluginID, fmt.Sprintf("%d disposer(s) failed", len(failures)), fmt.Errorf("%v", failures))
}

func closeOne(ctx context.Context, instance interface{}) error {
	if ad, ok := instance.(AsyncDisposer); ok {
		return ad.CloseAsync(ctx)
	}
	if d, ok := instance.(Disposer); ok {
		return d.Close()
	}
	return nil
}

// HazardKind classifies one finding from ValidateGraph.
type HazardKind string

const (
	HazardLongLivedOnScoped     HazardKind = "long_lived_depends_on_scoped"
	HazardLongLivedOnPerRequest HazardKind = "long_lived_depends_on_per_resolution"
	HazardCircularDependency    HazardKind = "circular_dependency"
	HazardPinnedDisposable      HazardKind = "pinned_disposable"
)

// Hazard is one finding from a service-graph validation pass.
type Hazard struct {
	Kind     HazardKind
	Severity capability.Severity
	Detail   string
}

// ValidateGraph checks every declared registration for the lifetime hazards
// named in spec §4.5: a singleton depending on a scoped/per-resolution
// service, circular constructor dependencies, and singleton disposables held
// for the process lifetime.
func (m *LifetimeManager) ValidateGraph() []Hazard {
	var hazards []Hazard

	for _, reg := range m.registrations {
		if reg.Lifetime != capability.LifetimeSingleton {
			continue
		}
		for _, dep := range reg.DependsOn {
			depReg, ok := m.registrations[dep]
			if !ok {
				continue
			}
			switch depReg.Lifetime {
			case capability.LifetimeScoped:
				hazards = append(hazards, Hazard{
					Kind: HazardLongLivedOnScoped, Severity: capability.SeverityError,
					Detail: fmt.Sprintf("%s (singleton) depends on %s (scoped)", reg.ServiceType, dep),
				})
			case capability.LifetimePerRequest:
				hazards = append(hazards, Hazard{
					Kind: HazardLongLivedOnPerRequest, Severity: capability.SeverityWarn,
					Detail: fmt.Sprintf("%s (singleton) depends on %s (per-resolution), effectively pinned", reg.ServiceType, dep),
				})
			}
		}
		if reg.Disposable {
			hazards = append(hazards, Hazard{
				Kind: HazardPinnedDisposable, Severity: capability.SeverityInfo,
				Detail: fmt.Sprintf("%s is a disposable singleton held for the process lifetime", reg.ServiceType),
			})
		}
	}

	if cyclePath := m.findCycle(); cyclePath != "" {
		hazards = append(hazards, Hazard{Kind: HazardCircularDependency, Severity: capability.SeverityError, Detail: cyclePath})
	}

	return hazards
}

// findCycle runs an iterative DFS with an explicit stack over the
// DependsOn graph (spec §9: avoid the recursive pattern) and returns the
// first cycle found as "a -> b -> a", or "" if the graph is acyclic.
func (m *LifetimeManager) findCycle() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(m.registrations))

	type frame struct {
		node string
		idx  int
	}

	for start := range m.registrations {
		if color[start] != white {
			continue
		}

		var stack []frame
		var path []string
		stack = append(stack, frame{node: start, idx: 0})
		color[start] = gray
		path = append(path, start)

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := m.registrations[top.node].DependsOn

			if top.idx < len(deps) {
				next := deps[top.idx]
				top.idx++

				switch color[next] {
				case white:
					color[next] = gray
					path = append(path, next)
					stack = append(stack, frame{node: next, idx: 0})
				case gray:
					cyclePath := append(append([]string{}, path...), next)
					return joinArrow(cyclePath)
				}
				continue
			}

			color[top.node] = black
			path = path[:len(path)-1]
			stack = stack[:len(stack)-1]
		}
	}
	return ""
}

func joinArrow(nodes []string) string {
	out := ""
	for i, n := range nodes {
		if i > 0 {
			out += " -> "
		}
		out += n
	}
	return out
}
