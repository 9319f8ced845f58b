package di

import (
	"testing"

	"github.com/pluginhost/core/internal/registry"
	"github.com/stretchr/testify/assert"
)

type spySink struct {
	decisions []string
}

func (s *spySink) SetPluginCount(registry.Status, int)            {}
func (s *spySink) SetHealthCount(registry.Health, int)            {}
func (s *spySink) RecordStatusTransition(string, registry.Status, registry.Status) {}
func (s *spySink) RecordHealthTransition(string, registry.Health) {}
func (s *spySink) RecordReload(string)                            {}
func (s *spySink) RecordAccessDecision(pluginID, serviceType string, allowed bool) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	s.decisions = append(s.decisions, pluginID+":"+serviceType+":"+outcome)
}

func TestDecideDefaultsToCrossModule(t *testing.T) {
	p := NewPolicy(0)
	allow, reason := p.Decide("plugin-a", "SomeService")
	assert.True(t, allow)
	assert.Equal(t, "CrossModule", reason)
}

func TestDecideGlobalTypeAlwaysAllowed(t *testing.T) {
	p := NewPolicy(0)
	p.SetLevel("Restricted", LevelProhibited)
	p.RegisterGlobalType("Restricted")
	allow, _ := p.Decide("plugin-a", "Restricted")
	assert.True(t, allow)
}

func TestDecideModuleOnlyDeniesNonOwner(t *testing.T) {
	p := NewPolicy(0)
	p.SetLevel("Private", LevelModuleOnly)
	p.DeclareOwner("Private", "owner-plugin")

	allowOwner, _ := p.Decide("owner-plugin", "Private")
	assert.True(t, allowOwner)

	allowOther, reason := p.Decide("other-plugin", "Private")
	assert.False(t, allowOther)
	assert.Equal(t, "ModuleOnly for another plugin", reason)
}

func TestDecideModuleOnlyAllowsListedPlugin(t *testing.T) {
	p := NewPolicy(0)
	p.SetLevel("Private", LevelModuleOnly)
	p.DeclareOwner("Private", "owner-plugin")
	p.AllowForPlugin("other-plugin", "Private")

	allow, _ := p.Decide("other-plugin", "Private")
	assert.True(t, allow)
}

func TestDecideProhibitedDeniesEvenOwner(t *testing.T) {
	p := NewPolicy(0)
	p.SetLevel("Banned", LevelProhibited)
	p.DeclareOwner("Banned", "plugin-a")
	allow, _ := p.Decide("plugin-a", "Banned")
	assert.False(t, allow)
}

func TestTrustedPluginBypassesEverything(t *testing.T) {
	p := NewPolicy(0)
	p.SetLevel("Banned", LevelProhibited)
	p.TrustPlugin("plugin-a")
	allow, reason := p.Decide("plugin-a", "Banned")
	assert.True(t, allow)
	assert.Equal(t, "trusted plugin", reason)
}

func TestPolicyMutationInvalidatesPriorDecision(t *testing.T) {
	p := NewPolicy(0)
	p.SetLevel("Toggle", LevelGlobal)
	allow, _ := p.Decide("plugin-a", "Toggle")
	assert.True(t, allow)

	p.SetLevel("Toggle", LevelProhibited)
	allow, _ = p.Decide("plugin-a", "Toggle")
	assert.False(t, allow)
}

func TestAuditForTracksAllowedAndDenied(t *testing.T) {
	p := NewPolicy(0)
	p.SetLevel("Banned", LevelProhibited)
	p.Decide("plugin-a", "Open")
	p.Decide("plugin-a", "Banned")
	p.Decide("plugin-a", "Banned")

	counters := p.AuditFor("plugin-a")
	assert.Equal(t, 1, counters.Allowed)
	assert.Equal(t, 2, counters.Denied)
}

func TestSetSinkReceivesAccessDecisions(t *testing.T) {
	p := NewPolicy(0)
	sink := &spySink{}
	p.SetSink(sink)

	p.Decide("plugin-a", "Open")

	assert.Equal(t, []string{"plugin-a:Open:allow"}, sink.decisions)
}

func TestSetSinkNilFallsBackToNoop(t *testing.T) {
	p := NewPolicy(0)
	p.SetSink(nil)
	assert.NotPanics(t, func() {
		p.Decide("plugin-a", "Open")
	})
}
