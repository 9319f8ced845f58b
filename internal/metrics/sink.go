// Package metrics defines the optional observability surface the supervisor
// reports through: plugin counts by status, health transitions, and DI
// access decisions. The core only depends on the Sink interface; a concrete
// adapter (prometheus.go) is wired in by cmd/hostd, never by the core
// packages themselves, so a host that doesn't want metrics pays nothing for
// them.
package metrics

import "github.com/pluginhost/core/internal/registry"

// Sink receives the observability events the supervisor and DI policy emit.
// Every method must be cheap and non-blocking; a Sink is called from hot
// paths (load, health check, every DI resolution denial).
type Sink interface {
	SetPluginCount(status registry.Status, count int)
	SetHealthCount(health registry.Health, count int)
	RecordStatusTransition(pluginID string, from, to registry.Status)
	RecordHealthTransition(pluginID string, health registry.Health)
	RecordAccessDecision(pluginID, serviceType string, allowed bool)
	RecordReload(pluginID string)
}

// NoopSink discards every event; it is the supervisor's default so metrics
// wiring is strictly opt-in (spec.md Non-goals exclude a built-in metrics
// backend, not the hook itself).
type NoopSink struct{}

func (NoopSink) SetPluginCount(registry.Status, int)            {}
func (NoopSink) SetHealthCount(registry.Health, int)             {}
func (NoopSink) RecordStatusTransition(string, registry.Status, registry.Status) {}
func (NoopSink) RecordHealthTransition(string, registry.Health)  {}
func (NoopSink) RecordAccessDecision(string, string, bool)       {}
func (NoopSink) RecordReload(string)                             {}

var _ Sink = NoopSink{}
