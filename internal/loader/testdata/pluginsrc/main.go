// Package main is a minimal dynamic plugin fixture, built at test time with
// `go build -buildmode=plugin` and loaded through plugin.Open, exercising the
// real dynamic-load path that the built-in fast path in loader_test.go never
// reaches.
package main

import "github.com/pluginhost/core/internal/capability"

type fixtureModule struct {
	capability.BaseModule
}

// New is the exported entry point symbol the loader resolves by name.
func New() capability.PluginModule {
	return &fixtureModule{}
}
