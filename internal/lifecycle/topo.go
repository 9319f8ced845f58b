package lifecycle

import (
	"sort"

	"github.com/pluginhost/core/internal/manifest"
)

// Node is one plugin as seen by the dependency sorter: its id and the ids of
// its required (non-optional) and optional dependencies.
type Node struct {
	ID       string
	Required []string
	Optional []string
}

func nodesFromManifests(plugins []manifest.DiscoveredPlugin) []Node {
	nodes := make([]Node, 0, len(plugins))
	for _, dp := range plugins {
		n := Node{ID: dp.Manifest.ID}
		for _, dep := range dp.Manifest.Dependencies {
			if dep.Optional {
				n.Optional = append(n.Optional, dep.ID)
			} else {
				n.Required = append(n.Required, dep.ID)
			}
		}
		nodes = append(nodes, n)
	}
	return nodes
}

// TopoSort orders plugins so that every required dependency precedes its
// dependent. Ties keep manifest (input) order. A cycle is reported as a
// non-empty cyclePath naming the cycle, and then no ordering is returned for
// any plugin in the set (order is nil).
//
// Uses an iterative depth-first search with an explicit stack, per spec §9's
// re-architecture note to avoid the recursive pattern on deep graphs.
func TopoSort(plugins []manifest.DiscoveredPlugin) (order []string, cyclePath string) {
	nodes := nodesFromManifests(plugins)
	byID := make(map[string]Node, len(nodes))
	inputOrder := make(map[string]int, len(nodes))
	for i, n := range nodes {
		byID[n.ID] = n
		inputOrder[n.ID] = i
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))
	var result []string

	type frame struct {
		node string
		idx  int
		deps []string
	}

	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	// root-selection order follows manifest input order, so independent
	// subgraphs come out in the order they were declared (spec §4.6: "tied
	// nodes keep manifest order").

	for _, start := range ids {
		if color[start] != white {
			continue
		}

		deps := orderedDeps(byID[start], inputOrder)
		stack := []frame{{node: start, idx: 0, deps: deps}}
		path := []string{start}
		color[start] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]

			if top.idx < len(top.deps) {
				next := top.deps[top.idx]
				top.idx++

				if _, known := byID[next]; !known {
					continue // required dependency not present among discovered plugins: left to the caller to reject separately
				}

				switch color[next] {
				case white:
					color[next] = gray
					path = append(path, next)
					stack = append(stack, frame{node: next, idx: 0, deps: orderedDeps(byID[next], inputOrder)})
				case gray:
					cycle := append(append([]string{}, path...), next)
					return nil, joinArrowTopo(cycle)
				}
				continue
			}

			color[top.node] = black
			result = append(result, top.node)
			path = path[:len(path)-1]
			stack = stack[:len(stack)-1]
		}
	}

	return result, ""
}

// orderedDeps returns a node's required dependencies in manifest input order,
// so ties among independent subgraphs keep manifest order (spec §4.6:
// "tied nodes keep manifest order").
func orderedDeps(n Node, inputOrder map[string]int) []string {
	deps := append([]string{}, n.Required...)
	sort.SliceStable(deps, func(i, j int) bool { return inputOrder[deps[i]] < inputOrder[deps[j]] })
	return deps
}

func joinArrowTopo(nodes []string) string {
	out := ""
	for i, n := range nodes {
		if i > 0 {
			out += " -> "
		}
		out += n
	}
	return out
}

// Layers groups a topo-ordered id list into dependency layers: all plugins in
// layer i depend only on plugins in layers < i, so the members of one layer
// are independent of each other; the supervisor starts a layer's members
// concurrently and the layers themselves one after another. This simple
// layering assigns each node to 1 + max(layer of its required deps).
func Layers(plugins []manifest.DiscoveredPlugin, order []string) [][]string {
	nodes := nodesFromManifests(plugins)
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	layerOf := make(map[string]int, len(order))
	maxLayer := 0
	for _, id := range order {
		layer := 0
		for _, dep := range byID[id].Required {
			if l, ok := layerOf[dep]; ok && l+1 > layer {
				layer = l + 1
			}
		}
		layerOf[id] = layer
		if layer > maxLayer {
			maxLayer = layer
		}
	}

	layers := make([][]string, maxLayer+1)
	for _, id := range order {
		l := layerOf[id]
		layers[l] = append(layers[l], id)
	}
	return layers
}
