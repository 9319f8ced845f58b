package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, id, version string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := `{
		"id": "` + id + `",
		"name": "` + id + `",
		"version": "` + version + `",
		"mainAssembly": "main.so",
		"entryPoint": "Main",
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(content), 0o644))
}

func TestDiscoverFindsManifestsAndDedupsByHighestVersion(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "a-old"), "plugin-a", "1.0.0")
	writeManifest(t, filepath.Join(root, "a-new"), "plugin-a", "2.0.0")
	writeManifest(t, filepath.Join(root, "b"), "plugin-b", "1.0.0")

	p := New(Config{Roots: []string{root}})
	result := p.Discover(context.Background())

	require.Empty(t, result.Errors)
	require.Len(t, result.Plugins, 2)

	byID := map[string]string{}
	for _, dp := range result.Plugins {
		byID[dp.Manifest.ID] = dp.Manifest.Version
	}
	assert.Equal(t, "2.0.0", byID["plugin-a"])
	assert.Equal(t, "1.0.0", byID["plugin-b"])
}

func TestDiscoverIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "a"), "plugin-a", "1.0.0")

	p := New(Config{Roots: []string{root}})
	first := p.Discover(context.Background())
	second := p.Discover(context.Background())

	require.Len(t, first.Plugins, 1)
	require.Len(t, second.Plugins, 1)
	assert.Equal(t, first.Plugins[0].Manifest, second.Plugins[0].Manifest)
}

func TestDiscoverSkipsNonExistentRootsWithoutError(t *testing.T) {
	p := New(Config{Roots: []string{"/nonexistent/root/for/test"}})
	result := p.Discover(context.Background())
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Plugins)
}

func TestDiscoverFallsBackToArtifactScan(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "widget.so"), []byte("fake"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "System.Core.so"), []byte("fake"), 0o644))

	p := New(Config{Roots: []string{root}, ScanArtifactsFallback: true})
	result := p.Discover(context.Background())

	require.Len(t, result.Plugins, 1)
	assert.Equal(t, "widget", result.Plugins[0].Manifest.ID)
}
