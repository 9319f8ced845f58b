// Package registry implements C1, the authoritative plugin-id -> RuntimeRecord
// index. It mirrors the teacher's GlobalPluginRegistry map-plus-RWMutex shape
// (api/internal/plugins/registry.go) generalized with spec §4.1's atomic
// compare-and-swap status transition, which the teacher's static factory
// table never needed.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/pluginhost/core/internal/apperrors"
	"github.com/pluginhost/core/internal/capability"
	"github.com/pluginhost/core/internal/logger"
	"github.com/pluginhost/core/internal/manifest"
)

// Status is one state in the lifecycle state machine (spec §3, §4.6).
type Status string

const (
	StatusDiscovered Status = "Discovered"
	StatusValidated  Status = "Validated"
	StatusLoaded     Status = "Loaded"
	StatusStarting   Status = "Starting"
	StatusRunning    Status = "Running"
	StatusStopping   Status = "Stopping"
	StatusStopped    Status = "Stopped"
	StatusFailed     Status = "Failed"
	StatusReloading  Status = "Reloading"
)

// Health is the most recently observed health state.
type Health string

const (
	HealthUnknown   Health = "Unknown"
	HealthHealthy   Health = "Healthy"
	HealthDegraded  Health = "Degraded"
	HealthUnhealthy Health = "Unhealthy"
)

// Boundary is the subset of the isolated loader's boundary handle the
// registry needs to hold and release, declared here so that the registry
// does not import the loader package.
type Boundary interface {
	Release(ctx context.Context) (reclaimed bool, err error)
}

// RuntimeRecord is the one-per-live-plugin record owned exclusively by the
// registry (spec §3). Its boundary, module instance, and provider fields are
// released only on unload.
type RuntimeRecord struct {
	ID       string
	Version  string
	Manifest manifest.Manifest

	Boundary Boundary
	Module   capability.PluginModule
	Provider capability.ServiceProvider

	Status Status
	Health Health

	ReloadCount   int
	ConfigVersion int

	StartedAt       *time.Time
	StoppedAt       *time.Time
	LastHealthCheck *time.Time
	LastErrorAt     *time.Time

	LastError        string
	FailurePhase     string
	LastHealthResult *capability.HealthResult
}

// Snapshot is a stable, read-only copy of one record for status queries; it
// never aliases the live record's pointer fields.
type Snapshot struct {
	ID            string
	Version       string
	Status        Status
	Health        Health
	ReloadCount   int
	ConfigVersion int
	LastError     string
	FailurePhase  string
}

func (r *RuntimeRecord) toSnapshot() Snapshot {
	return Snapshot{
		ID:            r.ID,
		Version:       r.Version,
		Status:        r.Status,
		Health:        r.Health,
		ReloadCount:   r.ReloadCount,
		ConfigVersion: r.ConfigVersion,
		LastError:     r.LastError,
		FailurePhase:  r.FailurePhase,
	}
}

// Registry is C1: a thread-safe id -> *RuntimeRecord index. A single mutex
// guards the map itself; per-record field mutation happens inside Transition,
// which holds the same lock for the duration of one CAS, so a Transition
// briefly blocks reads of every record, not only its own (spec §5: "one
// critical section per record" is approximated here with a single map-wide
// lock sized for the fan-out this core targets — default concurrency is
// bounded at 5 in C7).
type Registry struct {
	mu      sync.RWMutex
	records map[string]*RuntimeRecord
}

func New() *Registry {
	return &Registry{records: make(map[string]*RuntimeRecord)}
}

// Insert adds a new record, succeeding iff no record with the same id exists.
func (r *Registry) Insert(rec *RuntimeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.ID]; exists {
		return apperrors.NewAlreadyExists(rec.ID)
	}
	r.records[rec.ID] = rec
	logger.Registry().Debug().Str("plugin_id", rec.ID).Str("status", string(rec.Status)).Msg("record inserted")
	return nil
}

// Get returns the live record for id, if present. Callers that only need a
// consistent read should prefer Snapshot/SnapshotOne.
func (r *Registry) Get(id string) (*RuntimeRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}

// Remove deletes the record for id. It does not release any resources the
// record holds; callers must release Boundary/Module/Provider first.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	logger.Registry().Debug().Str("plugin_id", id).Msg("record removed")
}

// Snapshot returns a stable copy of every record, for status queries.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.toSnapshot())
	}
	return out
}

// SnapshotOne returns a stable copy of a single record's state.
func (r *Registry) SnapshotOne(id string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return Snapshot{}, false
	}
	return rec.toSnapshot(), true
}

// Transition atomically compares rec.Status against fromSet and, on a match,
// sets it to `to`, stamping last_error/timestamps in the same critical
// section (spec §4.1). It rejects the call if the current status is not in
// fromSet, so concurrent supervisors cannot double-start a plugin.
func (r *Registry) Transition(id string, fromSet []Status, to Status, mutate func(rec *RuntimeRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return apperrors.NewUnknownPlugin(id)
	}

	matched := false
	for _, s := range fromSet {
		if rec.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return &apperrors.HostError{
			Kind:     apperrors.InitializationFailed,
			PluginID: id,
			Reason:   "unexpected source state " + string(rec.Status),
		}
	}

	rec.Status = to
	if mutate != nil {
		mutate(rec)
	}
	logger.Registry().Debug().Str("plugin_id", id).Str("to", string(to)).Msg("status transition")
	return nil
}

// CountsByStatusAndHealth aggregates the current snapshot by status and
// health, for the supervisor's snapshot() result bundle (spec §4.7).
func (r *Registry) CountsByStatusAndHealth() (byStatus map[Status]int, byHealth map[Health]int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byStatus = make(map[Status]int)
	byHealth = make(map[Health]int)
	for _, rec := range r.records {
		byStatus[rec.Status]++
		byHealth[rec.Health]++
	}
	return
}
