// Package di implements C5: the hierarchical DI resolver and its isolation
// policy. Nothing in the teacher corpus implements a generic DI container;
// this is engineered directly from spec §4.5/§9's "host-constructed policy
// object" note, expressed with the struct-plus-constructor idiom seen in
// other_examples/ab90dcfb_cklxx-elephant.ai__internal-app-di-container.go.go
// (a concrete container of resolved dependencies, generalized here into a
// resolution protocol rather than a fixed field set).
package di

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pluginhost/core/internal/apperrors"
	"github.com/pluginhost/core/internal/logger"
	"github.com/pluginhost/core/internal/metrics"
)

// Level is one of the four access-control levels from spec §4.5's table.
type Level string

const (
	LevelProhibited  Level = "Prohibited"
	LevelModuleOnly  Level = "ModuleOnly"
	LevelCrossModule Level = "CrossModule"
	LevelGlobal      Level = "Global"
)

// defaultLevel is CrossModule: a type with no explicit level is, by default,
// visible to any plugin once it reaches the parent lookup step — framework
// services are additionally seeded into the global-type set at policy
// construction so they need no explicit level at all (spec §4.5: "Framework
// services... are globally accessible by default").
const defaultLevel = LevelCrossModule

// AuditCounters tracks per-plugin allow/deny outcomes (spec §4.5: "Deny
// decisions are logged to a per-plugin audit log with running counters").
type AuditCounters struct {
	Allowed int
	Denied  int
}

type decision struct {
	allow  bool
	reason string
}

type cacheKey struct {
	pluginID string
	typeKey  string
}

// Policy is the host-constructed isolation policy object passed into every
// per-plugin provider at creation time (spec §9: replaces a global
// singleton). Tests instantiate their own.
type Policy struct {
	mu sync.RWMutex

	globalTypes    mapset.Set[string]
	trustedPlugins mapset.Set[string]
	levels         map[string]Level
	// owner records which plugin "declares" a ModuleOnly type, as set through
	// DeclareOwner. Only the owner (and anyone explicitly allow-listed) may
	// resolve it from the parent.
	owner      map[string]string
	allowLists map[string]mapset.Set[string] // pluginID -> set of typeKeys

	audit map[string]*AuditCounters

	cache *lru.Cache[cacheKey, decision]
	sink  metrics.Sink
}

// NewPolicy constructs an isolation policy. cacheSize bounds the decision
// cache (spec §4.5: "cache the decision... to make repeated lookups O(1)").
func NewPolicy(cacheSize int) *Policy {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, _ := lru.New[cacheKey, decision](cacheSize)

	p := &Policy{
		globalTypes:    mapset.NewSet[string](),
		trustedPlugins: mapset.NewSet[string](),
		levels:         make(map[string]Level),
		owner:          make(map[string]string),
		allowLists:     make(map[string]mapset.Set[string]),
		audit:          make(map[string]*AuditCounters),
		cache:          cache,
		sink:           metrics.NoopSink{},
	}
	for _, svc := range []string{"Logger", "Configuration", "ServiceProvider"} {
		p.globalTypes.Add(svc)
	}
	return p
}

// SetSink wires an observability sink for access-decision events. Optional;
// a freshly constructed Policy reports to a NoopSink until this is called,
// so cmd/hostd is the only caller that pays for a real metrics backend.
func (p *Policy) SetSink(sink metrics.Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	p.sink = sink
}

// RegisterGlobalType marks typeKey always-allowed regardless of level.
func (p *Policy) RegisterGlobalType(typeKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.globalTypes.Add(typeKey)
	p.invalidateLocked()
}

// TrustPlugin marks pluginID as bypassing all restrictions.
func (p *Policy) TrustPlugin(pluginID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trustedPlugins.Add(pluginID)
	p.invalidateLocked()
}

// SetLevel sets the access level for typeKey.
func (p *Policy) SetLevel(typeKey string, level Level) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels[typeKey] = level
	p.invalidateLocked()
}

// DeclareOwner records that pluginID is the declaring owner of a ModuleOnly
// typeKey.
func (p *Policy) DeclareOwner(typeKey, pluginID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.owner[typeKey] = pluginID
	p.invalidateLocked()
}

// AllowForPlugin adds typeKey to pluginID's per-plugin allow-list.
func (p *Policy) AllowForPlugin(pluginID, typeKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.allowLists[pluginID]
	if !ok {
		set = mapset.NewSet[string]()
		p.allowLists[pluginID] = set
	}
	set.Add(typeKey)
	p.invalidateLocked()
}

// ClearCache drops every cached decision (spec §4.5: "cleared... whenever the
// policy is mutated or clear_cache is called").
func (p *Policy) ClearCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidateLocked()
}

func (p *Policy) invalidateLocked() {
	p.cache.Purge()
}

// Decide authorizes (pluginID, typeKey), memoizing the outcome. Repeating the
// same query without an intervening mutation returns the identical decision
// from cache (spec §8 quantified invariant).
func (p *Policy) Decide(pluginID, typeKey string) (allow bool, reason string) {
	key := cacheKey{pluginID: pluginID, typeKey: typeKey}

	p.mu.RLock()
	d, cached := p.cache.Get(key)
	p.mu.RUnlock()

	if !cached {
		d = p.decideUncached(pluginID, typeKey)
	}

	p.mu.Lock()
	if !cached {
		p.cache.Add(key, d)
	}
	counters, ok := p.audit[pluginID]
	if !ok {
		counters = &AuditCounters{}
		p.audit[pluginID] = counters
	}
	if d.allow {
		counters.Allowed++
	} else {
		counters.Denied++
		logger.DI().Info().Str("plugin_id", pluginID).Str("type", typeKey).Str("reason", d.reason).Msg("access denied")
	}
	sink := p.sink
	p.mu.Unlock()

	sink.RecordAccessDecision(pluginID, typeKey, d.allow)

	return d.allow, d.reason
}

func (p *Policy) decideUncached(pluginID, typeKey string) decision {
	if p.trustedPlugins.Contains(pluginID) {
		return decision{allow: true, reason: "trusted plugin"}
	}
	if p.globalTypes.Contains(typeKey) {
		return decision{allow: true, reason: "global type"}
	}

	level, hasLevel := p.levels[typeKey]
	if !hasLevel {
		level = defaultLevel
	}

	switch level {
	case LevelProhibited:
		return decision{allow: false, reason: "Prohibited"}
	case LevelGlobal:
		return decision{allow: true, reason: "Global level"}
	case LevelModuleOnly:
		if owner, ok := p.owner[typeKey]; ok && owner == pluginID {
			return decision{allow: true, reason: "declaring plugin"}
		}
		if set, ok := p.allowLists[pluginID]; ok && set.Contains(typeKey) {
			return decision{allow: true, reason: "per-plugin allow-list"}
		}
		return decision{allow: false, reason: "ModuleOnly for another plugin"}
	case LevelCrossModule:
		return decision{allow: true, reason: "CrossModule"}
	default:
		return decision{allow: false, reason: "unknown level"}
	}
}

// AuditFor returns a copy of pluginID's audit counters.
func (p *Policy) AuditFor(pluginID string) AuditCounters {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if c, ok := p.audit[pluginID]; ok {
		return *c
	}
	return AuditCounters{}
}

// DeniedError constructs the AccessDenied error for a Require() miss.
func DeniedError(pluginID, typeKey, reason string) error {
	return apperrors.NewAccessDenied(pluginID, typeKey, reason)
}
