// Package lifecycle implements C6, documented further in stages.go.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/pluginhost/core/internal/apperrors"
	"github.com/pluginhost/core/internal/capability"
	"github.com/pluginhost/core/internal/di"
	"github.com/pluginhost/core/internal/loader"
	"github.com/pluginhost/core/internal/logger"
	"github.com/pluginhost/core/internal/manifest"
	"github.com/pluginhost/core/internal/registry"
	"github.com/pluginhost/core/internal/validate"
)

// Loader is the subset of C4 the engine drives: re-resolve the artifact at
// Validation time (re-checking manifest/artifact consistency, spec §4.6
// stage 1) and obtain the uninstantiated factory the Creation stage calls.
type Loader interface {
	Load(ctx context.Context, dp manifest.DiscoveredPlugin) (*loader.Boundary, capability.ModuleFactory, error)
}

// Engine is C6: the staged init/uninit state machines driving one
// RuntimeRecord through the registry, wired to C3 (revalidation), C4
// (resolution), and C5 (per-plugin provider construction).
type Engine struct {
	registry  *registry.Registry
	loader    Loader
	validator *validate.Validator
	policy    *di.Policy
	root      *di.RootProvider

	timeouts Timeouts
	hostVer  string
	env      string
}

// New constructs the lifecycle engine.
func New(reg *registry.Registry, ld Loader, v *validate.Validator, policy *di.Policy, root *di.RootProvider, timeouts Timeouts, hostVersion, environment string) *Engine {
	return &Engine{
		registry:  reg,
		loader:    ld,
		validator: v,
		policy:    policy,
		root:      root,
		timeouts:  timeouts,
		hostVer:   hostVersion,
		env:       environment,
	}
}

// Init drives one discovered plugin through the full init state machine
// (spec §4.6): Validation -> Creation -> PluginValidation -> ServiceInit ->
// Configure -> Start -> Completed, or Failed at the first stage that errors
// or times out. The record must already exist in the registry with status
// Discovered, Validated, Stopped or Failed (initEntryStatuses); Init
// transitions it through every intermediate
// status and, on success, leaves it Running.
func (e *Engine) Init(ctx context.Context, dp manifest.DiscoveredPlugin) error {
	id := dp.Manifest.ID

	if _, ok := e.registry.Get(id); !ok {
		return apperrors.NewUnknownPlugin(id)
	}

	var boundary *loader.Boundary
	var factory capability.ModuleFactory
	var module capability.PluginModule
	var provider *di.Provider

	run := func(stage InitStage, timeout time.Duration, fn func(ctx context.Context) error) error {
		stageCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		errCh := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					errCh <- fmt.Errorf("panic in stage %s: %v", stage, r)
				}
			}()
			errCh <- fn(stageCtx)
		}()

		select {
		case err := <-errCh:
			return err
		case <-stageCtx.Done():
			return apperrors.NewTimeout(id, string(stage))
		}
	}

	fail := func(stage InitStage, err error) error {
		logger.Lifecycle().Error().Str("plugin_id", id).Str("stage", string(stage)).Err(err).Msg("init stage failed")
		now := time.Now()
		_ = e.registry.Transition(id, allInitStatuses, registry.StatusFailed, func(r *registry.RuntimeRecord) {
			r.LastError = err.Error()
			r.FailurePhase = string(stage)
			r.LastErrorAt = &now
		})
		return apperrors.NewInitializationFailed(id, string(stage), err)
	}

	// Stage 1: Validation. Re-checks manifest/artifact consistency after C2's
	// discovery, using the same validator C3 exposes, since the artifact may
	// have changed between discovery and this init attempt.
	if err := run(StageValidation, e.timeouts.forInit(StageValidation), func(ctx context.Context) error {
		result := e.validator.Validate(dp)
		if !result.OK() {
			return fmt.Errorf("validation failed: %+v", result.Entries)
		}
		return nil
	}); err != nil {
		return fail(StageValidation, err)
	}
	if err := e.registry.Transition(id, initEntryStatuses, registry.StatusValidated, nil); err != nil {
		return fail(StageValidation, err)
	}

	// Stage 2: Creation. Resolves the artifact (or built-in) and instantiates
	// the module via its parameterless factory — this is the line spec §4.6
	// draws between C4 (resolve) and C6 (construct).
	if err := run(StageCreation, e.timeouts.forInit(StageCreation), func(ctx context.Context) error {
		b, f, err := e.loader.Load(ctx, dp)
		if err != nil {
			return err
		}
		boundary, factory = b, f
		module = factory()
		return nil
	}); err != nil {
		return fail(StageCreation, err)
	}
	if err := e.registry.Transition(id, []registry.Status{registry.StatusValidated}, registry.StatusLoaded, func(r *registry.RuntimeRecord) {
		r.Boundary = boundary
		r.Module = module
	}); err != nil {
		return fail(StageCreation, err)
	}

	provider = di.NewProvider(id, e.root, e.policy)

	// Stage 3: PluginValidation. The module's own validate() hook, given a
	// read-only view of the services the isolation policy allows it to see.
	if err := run(StagePluginValidation, e.timeouts.forInit(StagePluginValidation), func(ctx context.Context) error {
		vctx := &capability.ValidationContext{HostVersion: e.hostVer, Environment: e.env, Services: provider}
		result := module.Validate(ctx, vctx)
		if !result.OK() {
			return fmt.Errorf("plugin self-validation failed: %+v", result.Entries)
		}
		return nil
	}); err != nil {
		return fail(StagePluginValidation, err)
	}

	// Stage 4: ServiceInit. OnInitialize registers the plugin's own services
	// into its child provider via the explicit builder surface (spec §9).
	if err := run(StageServiceInit, e.timeouts.forInit(StageServiceInit), func(ctx context.Context) error {
		return module.OnInitialize(ctx, provider)
	}); err != nil {
		return fail(StageServiceInit, err)
	}
	if err := e.registry.Transition(id, []registry.Status{registry.StatusLoaded}, registry.StatusStarting, func(r *registry.RuntimeRecord) {
		r.Provider = provider
	}); err != nil {
		return fail(StageServiceInit, err)
	}

	// Stage 5: Configure. OnConfigure records the plugin's declarative
	// pipeline contribution; the host owns execution of the pipeline itself.
	builder := &capability.AppBuilder{}
	if err := run(StageConfigure, e.timeouts.forInit(StageConfigure), func(ctx context.Context) error {
		return module.OnConfigure(ctx, builder)
	}); err != nil {
		return fail(StageConfigure, err)
	}

	// Stage 6: Start.
	if err := run(StageStart, e.timeouts.forInit(StageStart), func(ctx context.Context) error {
		return module.OnStart(ctx)
	}); err != nil {
		return fail(StageStart, err)
	}

	now := time.Now()
	if err := e.registry.Transition(id, []registry.Status{registry.StatusStarting}, registry.StatusRunning, func(r *registry.RuntimeRecord) {
		r.StartedAt = &now
		r.Health = registry.HealthHealthy
	}); err != nil {
		return fail(StageStart, err)
	}

	logger.Lifecycle().Info().Str("plugin_id", id).Msg("plugin initialized")
	return nil
}

// initEntryStatuses are the statuses Init may legally start from: a fresh
// discovery, a record already validated by a prior attempt, or a plugin
// being reloaded after a clean stop or a prior failure (spec §4.7: reload is
// unload-then-load over the same record).
var initEntryStatuses = []registry.Status{
	registry.StatusDiscovered, registry.StatusValidated, registry.StatusStopped, registry.StatusFailed,
}

// allInitStatuses is the permissive fromSet used when transitioning a record
// to Failed: any in-flight init status may legally fail.
var allInitStatuses = []registry.Status{
	registry.StatusDiscovered, registry.StatusValidated, registry.StatusLoaded, registry.StatusStarting,
}

// Uninit drives one running, starting or failed plugin through the teardown state
// machine: Stop -> Unload -> ServiceDispose -> ContextCleanup -> Completed.
// Every stage's failure is recorded as a warning rather than aborting the
// remaining stages, so a stuck OnStop never prevents the boundary and
// services from being released (spec §4.6: "later cleanup stages always
// run").
func (e *Engine) Uninit(ctx context.Context, id string) error {
	rec, ok := e.registry.Get(id)
	if !ok {
		logger.Lifecycle().Warn().Str("plugin_id", id).Msg("unload requested for plugin not currently initialized")
		return nil
	}
	if rec.Status == registry.StatusStopped {
		logger.Lifecycle().Warn().Str("plugin_id", id).Msg("unload requested but plugin already stopped")
		return nil
	}

	if err := e.registry.Transition(id, []registry.Status{registry.StatusRunning, registry.StatusStarting, registry.StatusFailed}, registry.StatusStopping, nil); err != nil {
		return err
	}

	var warnings []string

	runBestEffort := func(stage UninitStage, timeout time.Duration, fn func(ctx context.Context) error) {
		if fn == nil {
			return
		}
		stageCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		errCh := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					errCh <- fmt.Errorf("panic in stage %s: %v", stage, r)
				}
			}()
			errCh <- fn(stageCtx)
		}()

		var err error
		select {
		case err = <-errCh:
		case <-stageCtx.Done():
			err = apperrors.NewTimeout(id, string(stage))
		}
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", stage, err))
			logger.Lifecycle().Warn().Str("plugin_id", id).Str("stage", string(stage)).Err(err).Msg("uninit stage warning")
		}
	}

	if rec.Module != nil {
		runBestEffort(UninitStop, e.timeouts.forUninit(UninitStop), rec.Module.OnStop)
		runBestEffort(UninitUnload, e.timeouts.forUninit(UninitUnload), rec.Module.OnUnload)
	}

	if provider, ok := rec.Provider.(*di.Provider); ok {
		if err := provider.DisposeAll(ctx, id); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", UninitServiceDispose, err))
			logger.Lifecycle().Warn().Str("plugin_id", id).Err(err).Msg("service disposal warning")
		}
	}

	reclaimed := true
	if rec.Boundary != nil {
		r, err := rec.Boundary.Release(ctx)
		reclaimed = r
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", UninitContextCleanup, err))
			logger.Lifecycle().Warn().Str("plugin_id", id).Err(err).Msg("boundary release warning")
		}
	}

	now := time.Now()
	err := e.registry.Transition(id, []registry.Status{registry.StatusStopping}, registry.StatusStopped, func(r *registry.RuntimeRecord) {
		r.StoppedAt = &now
		r.Module = nil
		r.Provider = nil
		r.Boundary = nil
		if len(warnings) > 0 {
			r.LastError = fmt.Sprintf("%d uninit warning(s): %v", len(warnings), warnings)
		}
	})
	if err != nil {
		return err
	}

	logger.Lifecycle().Info().Str("plugin_id", id).Bool("boundary_reclaimed", reclaimed).Msg("plugin unloaded")
	return nil
}
