// Package supervisor implements C7: the single public entry point orchestrating
// C1-C6 across a whole plugin set. Grounded on the teacher's RuntimeV2
// (api/internal/plugins/runtime_v2.go) for the public-API surface
// (Start/Stop/LoadPluginByName/UnloadPlugin/ReloadPlugin) and scheduler.go's
// shared cron.Cron + per-job namespacing for periodic health checks.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pluginhost/core/internal/apperrors"
	"github.com/pluginhost/core/internal/capability"
	"github.com/pluginhost/core/internal/di"
	"github.com/pluginhost/core/internal/lifecycle"
	"github.com/pluginhost/core/internal/logger"
	"github.com/pluginhost/core/internal/manifest"
	"github.com/pluginhost/core/internal/metrics"
	"github.com/pluginhost/core/internal/registry"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Config configures the supervisor.
type Config struct {
	// MaxConcurrentLoads bounds how many plugins load at once within a
	// dependency layer (spec §5: "default N=5 concurrent plugin loads").
	MaxConcurrentLoads int64
	HealthTimeout      time.Duration
}

func (c Config) concurrency() int64 {
	if c.MaxConcurrentLoads <= 0 {
		return 5
	}
	return c.MaxConcurrentLoads
}

// Supervisor is C7.
type Supervisor struct {
	registry *registry.Registry
	engine   *lifecycle.Engine
	policy   *di.Policy
	cfg      Config

	sem   *semaphore.Weighted
	cron  *cron.Cron
	cronJobs map[string]cron.EntryID
	sink     metrics.Sink

	mu         sync.Mutex
	discovered map[string]manifest.DiscoveredPlugin
	loadOrder  []string // ids in the order they were successfully started, for reverse-order shutdown
}

// New constructs a supervisor wired to the already-constructed engine.
func New(reg *registry.Registry, engine *lifecycle.Engine, policy *di.Policy, cfg Config) *Supervisor {
	return &Supervisor{
		registry:   reg,
		engine:     engine,
		policy:     policy,
		cfg:        cfg,
		sem:        semaphore.NewWeighted(cfg.concurrency()),
		cron:       cron.New(),
		cronJobs:   make(map[string]cron.EntryID),
		sink:       metrics.NoopSink{},
		discovered: make(map[string]manifest.DiscoveredPlugin),
	}
}

// SetSink wires an observability sink for lifecycle/health events. Optional;
// the zero-value supervisor reports to a NoopSink, so only cmd/hostd need
// construct and register a real metrics backend.
func (s *Supervisor) SetSink(sink metrics.Sink) {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// StartAll orders plugins into dependency layers (spec §4.6, §9's iterative
// topological sort) and starts each layer's members concurrently, bounded by
// Config.MaxConcurrentLoads, with later layers waiting on their whole
// dependency layer rather than per-edge. A failed load does not cancel its
// siblings in the same layer, but any failure in a layer stops StartAll before
// the next layer and returns the first error. A dependency cycle refuses the
// whole set without loading any plugin (spec §8).
func (s *Supervisor) StartAll(ctx context.Context, plugins []manifest.DiscoveredPlugin) error {
	order, cyclePath := lifecycle.TopoSort(plugins)
	if cyclePath != "" {
		logger.Supervisor().Error().Str("cycle", cyclePath).Msg("dependency cycle detected, refusing to start any member")
		return apperrors.NewCircularDependency(cyclePath)
	}

	byID := make(map[string]manifest.DiscoveredPlugin, len(plugins))
	for _, dp := range plugins {
		byID[dp.Manifest.ID] = dp
	}

	layers := lifecycle.Layers(plugins, order)

	for _, layer := range layers {
		var g errgroup.Group
		for _, id := range layer {
			dp := byID[id]
			g.Go(func() error {
				if err := s.sem.Acquire(ctx, 1); err != nil {
					return err
				}
				defer s.sem.Release(1)
				return s.LoadOne(ctx, dp)
			})
		}
		if err := g.Wait(); err != nil {
			logger.Supervisor().Error().Err(err).Msg("layer start failed, refusing later layers")
			return err
		}
	}

	return nil
}

// LoadOne inserts a fresh record for dp (or reuses an existing Stopped/Failed
// one) and drives it through the full init state machine.
func (s *Supervisor) LoadOne(ctx context.Context, dp manifest.DiscoveredPlugin) error {
	id := dp.Manifest.ID

	s.mu.Lock()
	s.discovered[id] = dp
	s.mu.Unlock()

	if _, exists := s.registry.Get(id); !exists {
		if err := s.registry.Insert(&registry.RuntimeRecord{
			ID: id, Version: dp.Manifest.Version, Manifest: dp.Manifest,
			Status: registry.StatusDiscovered, Health: registry.HealthUnknown,
		}); err != nil {
			return err
		}
	}

	var previous registry.Status
	if rec, ok := s.registry.Get(id); ok {
		previous = rec.Status
	}

	if err := s.engine.Init(ctx, dp); err != nil {
		return err
	}

	s.mu.Lock()
	s.loadOrder = append(s.loadOrder, id)
	sink := s.sink
	s.mu.Unlock()

	s.scheduleHealthCheck(dp)
	sink.RecordStatusTransition(id, previous, registry.StatusRunning)

	logger.Supervisor().Info().Str("plugin_id", id).Msg("plugin started")
	return nil
}

// UnloadOne drives id through the teardown state machine and removes its
// health-check schedule.
func (s *Supervisor) UnloadOne(ctx context.Context, id string) error {
	s.unscheduleHealthCheck(id)

	var previous registry.Status
	if rec, ok := s.registry.Get(id); ok {
		previous = rec.Status
	}

	err := s.engine.Uninit(ctx, id)

	s.mu.Lock()
	for i, v := range s.loadOrder {
		if v == id {
			s.loadOrder = append(s.loadOrder[:i], s.loadOrder[i+1:]...)
			break
		}
	}
	sink := s.sink
	s.mu.Unlock()

	if err == nil && previous != registry.StatusStopped {
		sink.RecordStatusTransition(id, previous, registry.StatusStopped)
	}

	return err
}

// ReloadOne unloads then reloads a plugin using its original discovered
// manifest (spec §4.7, §8 scenario 5). reload_count is incremented only if
// the reload's load stage actually succeeds — a failed reload leaves the
// plugin Failed, not silently bumped.
func (s *Supervisor) ReloadOne(ctx context.Context, id string) error {
	s.mu.Lock()
	dp, ok := s.discovered[id]
	s.mu.Unlock()
	if !ok {
		return apperrors.NewUnknownPlugin(id)
	}

	if _, exists := s.registry.Get(id); exists {
		if err := s.UnloadOne(ctx, id); err != nil {
			logger.Supervisor().Warn().Str("plugin_id", id).Err(err).Msg("reload: unload reported a warning, continuing")
		}
	}

	if err := s.LoadOne(ctx, dp); err != nil {
		return err
	}

	if err := s.registry.Transition(id, []registry.Status{registry.StatusRunning}, registry.StatusRunning, func(r *registry.RuntimeRecord) {
		r.ReloadCount++
	}); err != nil {
		return err
	}

	s.sink.RecordReload(id)
	logger.Supervisor().Info().Str("plugin_id", id).Msg("plugin reloaded")
	return nil
}

// UpdateConfig pushes newConfig to a running plugin's OnConfigChanged hook
// without a full reload, bumping its config_version only on success.
func (s *Supervisor) UpdateConfig(ctx context.Context, id string, newConfig map[string]interface{}) error {
	rec, ok := s.registry.Get(id)
	if !ok {
		return apperrors.NewUnknownPlugin(id)
	}
	if rec.Module == nil {
		return apperrors.NewUnknownPlugin(id)
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in OnConfigChanged: %v", r)
			}
		}()
		return rec.Module.OnConfigChanged(ctx, newConfig)
	}()
	if err != nil {
		return apperrors.NewInitializationFailed(id, "ConfigUpdate", err)
	}

	return s.registry.Transition(id, []registry.Status{registry.StatusRunning}, registry.StatusRunning, func(r *registry.RuntimeRecord) {
		r.ConfigVersion++
	})
}

// CheckHealth invokes a running plugin's health() hook under the configured
// health timeout and records the outcome. A transition to Unhealthy never
// triggers an automatic unload (spec §8: "health transition to Unhealthy
// without auto-unload") — that decision belongs to an operator or a policy
// layered on top of the supervisor.
func (s *Supervisor) CheckHealth(ctx context.Context, id string) (*capability.HealthResult, error) {
	rec, ok := s.registry.Get(id)
	if !ok {
		return nil, apperrors.NewUnknownPlugin(id)
	}
	if rec.Module == nil {
		return nil, apperrors.NewUnknownPlugin(id)
	}

	timeout := s.cfg.HealthTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan *capability.HealthResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- &capability.HealthResult{Status: capability.HealthUnhealthy, Message: fmt.Sprintf("panic: %v", r)}
			}
		}()
		resultCh <- rec.Module.Health(hctx)
	}()

	var result *capability.HealthResult
	select {
	case result = <-resultCh:
	case <-hctx.Done():
		result = &capability.HealthResult{Status: capability.HealthUnhealthy, Message: "health check timed out"}
	}

	health := mapHealth(result.Status)
	now := time.Now()
	_ = s.registry.Transition(id, []registry.Status{registry.StatusRunning, registry.StatusStopping, registry.StatusFailed}, statusUnchanged(rec.Status), func(r *registry.RuntimeRecord) {
		r.Health = health
		r.LastHealthCheck = &now
		r.LastHealthResult = result
	})
	s.sink.RecordHealthTransition(id, health)

	return result, nil
}

// statusUnchanged is a tiny helper so CheckHealth's Transition call is a
// same-status CAS (it only needs the mutate callback's critical section, not
// an actual status change).
func statusUnchanged(s registry.Status) registry.Status { return s }

func mapHealth(hs capability.HealthStatus) registry.Health {
	switch hs {
	case capability.HealthHealthy:
		return registry.HealthHealthy
	case capability.HealthDegraded:
		return registry.HealthDegraded
	case capability.HealthUnhealthy:
		return registry.HealthUnhealthy
	default:
		return registry.HealthUnknown
	}
}

// Snapshot returns every record's stable status/health view plus aggregate
// counts, the supervisor's read surface for an external status API (spec
// §4.7).
func (s *Supervisor) Snapshot() ([]registry.Snapshot, map[registry.Status]int, map[registry.Health]int) {
	byStatus, byHealth := s.registry.CountsByStatusAndHealth()
	for status, count := range byStatus {
		s.sink.SetPluginCount(status, count)
	}
	for health, count := range byHealth {
		s.sink.SetHealthCount(health, count)
	}
	return s.registry.Snapshot(), byStatus, byHealth
}

// StopAll tears down every loaded plugin in reverse start order (dependents
// before dependencies), stops the health-check scheduler, and returns the
// first error encountered while continuing to attempt every remaining
// plugin's teardown.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	order := append([]string{}, s.loadOrder...)
	s.mu.Unlock()

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		if err := s.UnloadOne(ctx, order[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}

	return firstErr
}

// scheduleHealthCheck wires a manifest's health_check policy into the shared
// cron instance, namespaced by plugin id so ReloadOne/UnloadOne can cleanly
// remove just this plugin's job (teacher's PluginScheduler.Schedule/Remove
// idiom, scheduler.go).
func (s *Supervisor) scheduleHealthCheck(dp manifest.DiscoveredPlugin) {
	hc := dp.Manifest.HealthCheck
	if !hc.Enabled || hc.IntervalSeconds <= 0 {
		return
	}
	id := dp.Manifest.ID
	spec := fmt.Sprintf("@every %ds", int(hc.IntervalSeconds))

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.cronJobs[id]; ok {
		s.cron.Remove(existing)
	}

	entryID, err := s.cron.AddFunc(spec, func() {
		if _, err := s.CheckHealth(context.Background(), id); err != nil {
			logger.Supervisor().Warn().Str("plugin_id", id).Err(err).Msg("scheduled health check failed")
		}
	})
	if err != nil {
		logger.Supervisor().Warn().Str("plugin_id", id).Err(err).Msg("failed to schedule health check")
		return
	}
	s.cronJobs[id] = entryID
	if len(s.cronJobs) == 1 {
		s.cron.Start()
	}
}

func (s *Supervisor) unscheduleHealthCheck(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.cronJobs[id]; ok {
		s.cron.Remove(entryID)
		delete(s.cronJobs, id)
	}
}
