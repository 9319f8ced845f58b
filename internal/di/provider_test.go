package di

import (
	"testing"

	"github.com/pluginhost/core/internal/capability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func singletonReg(serviceType string, value interface{}) capability.Registration {
	return capability.Registration{
		ServiceType: serviceType,
		Lifetime:    capability.LifetimeSingleton,
		Factory:     func(p capability.ServiceProvider) (interface{}, error) { return value, nil },
	}
}

func TestChildResolvesOwnRegistrationFirst(t *testing.T) {
	root := NewRootProvider()
	root.Register(singletonReg("Thing", "root-value"))

	policy := NewPolicy(0)
	child := NewProvider("plugin-a", root, policy)
	child.Register(singletonReg("Thing", "child-value"))

	v, ok := child.Get("Thing")
	require.True(t, ok)
	assert.Equal(t, "child-value", v)
}

func TestChildFallsBackToParentOnMiss(t *testing.T) {
	root := NewRootProvider()
	root.Register(singletonReg("Logger", "root-logger"))

	policy := NewPolicy(0)
	child := NewProvider("plugin-a", root, policy)

	v, ok := child.Get("Logger")
	require.True(t, ok)
	assert.Equal(t, "root-logger", v)
}

func TestProhibitedLevelDeniesParentFallback(t *testing.T) {
	root := NewRootProvider()
	root.Register(singletonReg("SecretStore", "root-secret"))

	policy := NewPolicy(0)
	policy.SetLevel("SecretStore", LevelProhibited)
	child := NewProvider("plugin-m", root, policy)

	v, ok := child.Get("SecretStore")
	assert.False(t, ok)
	assert.Nil(t, v)

	assert.Panics(t, func() { child.Require("SecretStore") })
}

func TestModuleOnlyAllowsDeclaringPluginOnly(t *testing.T) {
	root := NewRootProvider()
	root.Register(singletonReg("Widget", "root-widget"))

	policy := NewPolicy(0)
	policy.SetLevel("Widget", LevelModuleOnly)
	policy.DeclareOwner("Widget", "plugin-owner")

	owner := NewProvider("plugin-owner", root, policy)
	other := NewProvider("plugin-other", root, policy)

	_, ok := owner.Get("Widget")
	assert.True(t, ok)

	_, ok = other.Get("Widget")
	assert.False(t, ok)
}

func TestAccessCacheMemoizesDecisionUntilMutation(t *testing.T) {
	policy := NewPolicy(0)
	policy.SetLevel("X", LevelProhibited)

	allow1, _ := policy.Decide("plugin-a", "X")
	allow2, _ := policy.Decide("plugin-a", "X")
	assert.Equal(t, allow1, allow2)
	assert.False(t, allow1)

	policy.SetLevel("X", LevelGlobal)
	allow3, _ := policy.Decide("plugin-a", "X")
	assert.True(t, allow3)
}

func TestAuditCountersTrackDenialsRecovered(t *testing.T) {
	root := NewRootProvider()
	root.Register(singletonReg("SecretStore", "v"))
	policy := NewPolicy(0)
	policy.SetLevel("SecretStore", LevelModuleOnly)
	policy.DeclareOwner("SecretStore", "plugin-owner")

	other := NewProvider("plugin-m", root, policy)
	func() {
		defer func() { recover() }()
		other.Require("SecretStore")
	}()

	counters := policy.AuditFor("plugin-m")
	assert.Equal(t, 1, counters.Denied)
}

func TestGetAllDedupesByInstanceIdentityChildFirst(t *testing.T) {
	root := NewRootProvider()
	shared := &struct{ V int }{V: 1}
	root.Register(capability.Registration{
		ServiceType: "Handler", Lifetime: capability.LifetimeSingleton,
		Factory: func(p capability.ServiceProvider) (interface{}, error) { return shared, nil },
	})

	policy := NewPolicy(0)
	child := NewProvider("plugin-a", root, policy)
	child.Register(capability.Registration{
		ServiceType: "Handler", Lifetime: capability.LifetimeSingleton,
		Factory: func(p capability.ServiceProvider) (interface{}, error) { return "child-handler", nil },
	})

	all := child.GetAll("Handler")
	assert.Len(t, all, 2)
	assert.Equal(t, "child-handler", all[0])
}
