// Package capability defines the "published surface": the module capability
// set every plugin must implement (spec §6) plus the host-shared interface
// types (service collection builder, DI abstractions, logger, cancellation)
// that must resolve to the same instance across the host/plugin boundary
// (spec §4.4). Everything exported here is safe to share with plugin code
// loaded through the isolated loader (C4); nothing internal to another
// component belongs in this package.
package capability

import "context"

// Severity classifies one entry of a ValidationResult or HealthResult.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
	SeverityInfo  Severity = "info"
)

// Entry is one structured finding within a ValidationResult.
type Entry struct {
	Severity Severity
	Message  string
}

// ValidationResult aggregates the findings from a module's own validate call.
// It is serializable for logs and test oracles (spec §4.3).
type ValidationResult struct {
	Entries []Entry
}

// OK reports whether the result contains no error-level entry.
func (r *ValidationResult) OK() bool {
	if r == nil {
		return true
	}
	for _, e := range r.Entries {
		if e.Severity == SeverityError {
			return false
		}
	}
	return true
}

func (r *ValidationResult) AddError(msg string) {
	r.Entries = append(r.Entries, Entry{Severity: SeverityError, Message: msg})
}

func (r *ValidationResult) AddWarning(msg string) {
	r.Entries = append(r.Entries, Entry{Severity: SeverityWarn, Message: msg})
}

// HealthStatus is the outcome of a module's own health() call.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "Healthy"
	HealthDegraded  HealthStatus = "Degraded"
	HealthUnhealthy HealthStatus = "Unhealthy"
)

// HealthResult is returned by a module's health() hook.
type HealthResult struct {
	Status  HealthStatus
	Message string
}

// ValidationContext is passed to a module's validate call: host version,
// environment name, and whatever services the isolation policy allow-lists
// for this plugin (resolved through Services).
type ValidationContext struct {
	HostVersion string
	Environment string
	Services    ServiceProvider
}

// ServiceProvider is the read side of the DI resolution protocol a module
// sees: Get returns (nil, false) on a miss or a denial; Require panics with
// an *apperrors.HostError-shaped error path via the caller, per spec §9 Q3
// ("get returns empty/null, require raises").
type ServiceProvider interface {
	Get(serviceType string) (interface{}, bool)
	Require(serviceType string) interface{}
	GetAll(serviceType string) []interface{}
}

// Lifetime is the scope at which a registered service lives.
type Lifetime string

const (
	LifetimeSingleton  Lifetime = "singleton"
	LifetimeScoped     Lifetime = "scoped"
	LifetimePerRequest Lifetime = "per-resolution"
)

// Factory constructs a service instance given the provider it may depend on.
type Factory func(p ServiceProvider) (interface{}, error)

// Registration is one service registered into a ServiceCollection.
type Registration struct {
	ServiceType string
	Factory     Factory
	Lifetime    Lifetime
	Key         string // optional keyed registration
	Decorator   func(existing interface{}) interface{}
	// DependsOn names the service types this registration's factory resolves
	// in order to build its instance, declared explicitly since Go factories
	// are opaque closures the host cannot inspect by reflection. Used by the
	// lifetime manager's service-graph hazard validation (spec §4.5).
	DependsOn []string
	// Disposable marks that the constructed instance should be tracked for
	// scoped disposal and, if it implements io.Closer or AsyncDisposer,
	// closed on scope teardown.
	Disposable bool
}

// ServiceCollection is the explicit builder surface a module uses in
// OnInitialize to register its own services (spec §9: "express this as a
// builder surface... the builder is the public contract", replacing the
// source's reflection-based convention scanning).
type ServiceCollection interface {
	Register(r Registration)
}

// PipelineStage is one declarative stage a module installs via OnConfigure.
// The host owns the actual request pipeline; this is recorded, not executed,
// by the core (spec §4.6 stage 5).
type PipelineStage struct {
	Name   string
	Option map[string]interface{}
}

// AppBuilder collects the declarative stage list a module contributes during
// the Configure lifecycle stage.
type AppBuilder struct {
	Stages []PipelineStage
}

func (b *AppBuilder) Use(name string, opts map[string]interface{}) {
	b.Stages = append(b.Stages, PipelineStage{Name: name, Option: opts})
}

// PluginModule is the only contract a plugin must implement (spec §6). All
// methods are invoked at most once per lifecycle phase except Health and
// OnConfigChanged, which may be invoked repeatedly.
type PluginModule interface {
	Validate(ctx context.Context, vctx *ValidationContext) *ValidationResult
	OnInitialize(ctx context.Context, services ServiceCollection) error
	OnConfigure(ctx context.Context, builder *AppBuilder) error
	OnStart(ctx context.Context) error
	OnStop(ctx context.Context) error
	OnUnload(ctx context.Context) error
	OnConfigChanged(ctx context.Context, newConfig map[string]interface{}) error
	Health(ctx context.Context) *HealthResult
}

// ModuleFactory constructs a fresh PluginModule instance. Spec §4.3 requires
// the entry point to "expose a parameterless constructor"; in Go that is a
// zero-argument factory function rather than reflection over a concrete type.
type ModuleFactory func() PluginModule
