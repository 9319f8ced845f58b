package lifecycle

import (
	"testing"

	"github.com/pluginhost/core/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plugin(id string, deps ...string) manifest.DiscoveredPlugin {
	var ds []manifest.Dependency
	for _, d := range deps {
		ds = append(ds, manifest.Dependency{ID: d})
	}
	return manifest.DiscoveredPlugin{Manifest: manifest.Manifest{ID: id, Dependencies: ds}}
}

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestTopoSortOrdersDependencyBeforeDependent(t *testing.T) {
	plugins := []manifest.DiscoveredPlugin{
		plugin("b", "a"),
		plugin("a"),
		plugin("c", "b"),
	}

	order, cycle := TopoSort(plugins)
	require.Empty(t, cycle)
	require.Len(t, order, 3)

	assert.Less(t, indexOf(order, "a"), indexOf(order, "b"))
	assert.Less(t, indexOf(order, "b"), indexOf(order, "c"))
}

func TestTopoSortDetectsCycleAndReturnsNoOrdering(t *testing.T) {
	plugins := []manifest.DiscoveredPlugin{
		plugin("a", "b"),
		plugin("b", "a"),
	}

	order, cycle := TopoSort(plugins)
	assert.Nil(t, order)
	assert.NotEmpty(t, cycle)
}

func TestTopoSortKeepsManifestOrderForIndependentNodes(t *testing.T) {
	plugins := []manifest.DiscoveredPlugin{
		plugin("z"),
		plugin("y"),
		plugin("x"),
	}

	order, cycle := TopoSort(plugins)
	require.Empty(t, cycle)
	assert.Equal(t, []string{"z", "y", "x"}, order)
}

func TestLayersGroupsIndependentPluginsTogether(t *testing.T) {
	plugins := []manifest.DiscoveredPlugin{
		plugin("a"),
		plugin("b"),
		plugin("c", "a", "b"),
	}
	order, cycle := TopoSort(plugins)
	require.Empty(t, cycle)

	layers := Layers(plugins, order)
	require.Len(t, layers, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, layers[0])
	assert.Equal(t, []string{"c"}, layers[1])
}
