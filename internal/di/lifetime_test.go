package di

import (
	"context"
	"testing"

	"github.com/pluginhost/core/internal/capability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifetimeManagerClosesHandlesInReverseOrder(t *testing.T) {
	m := NewLifetimeManager()
	var order []string
	m.Track("A", recordingCloser{name: "A", order: &order})
	m.Track("B", recordingCloser{name: "B", order: &order})

	err := m.Close(context.Background(), "plugin-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, order)
}

type recordingCloser struct {
	name  string
	order *[]string
}

func (r recordingCloser) Close() error {
	*r.order = append(*r.order, r.name)
	return nil
}

func TestValidateGraphFlagsSingletonDependingOnScoped(t *testing.T) {
	m := NewLifetimeManager()
	m.Declare(capability.Registration{ServiceType: "Root", Lifetime: capability.LifetimeSingleton, DependsOn: []string{"Scoped"}})
	m.Declare(capability.Registration{ServiceType: "Scoped", Lifetime: capability.LifetimeScoped})

	hazards := m.ValidateGraph()
	require.Len(t, hazards, 1)
	assert.Equal(t, HazardLongLivedOnScoped, hazards[0].Kind)
}

func TestValidateGraphDetectsCircularDependency(t *testing.T) {
	m := NewLifetimeManager()
	m.Declare(capability.Registration{ServiceType: "A", Lifetime: capability.LifetimeSingleton, DependsOn: []string{"B"}})
	m.Declare(capability.Registration{ServiceType: "B", Lifetime: capability.LifetimeSingleton, DependsOn: []string{"A"}})

	hazards := m.ValidateGraph()
	found := false
	for _, h := range hazards {
		if h.Kind == HazardCircularDependency {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateGraphFlagsPinnedDisposableSingleton(t *testing.T) {
	m := NewLifetimeManager()
	m.Declare(capability.Registration{ServiceType: "Conn", Lifetime: capability.LifetimeSingleton, Disposable: true})

	hazards := m.ValidateGraph()
	require.Len(t, hazards, 1)
	assert.Equal(t, HazardPinnedDisposable, hazards[0].Kind)
}
