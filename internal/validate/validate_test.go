package validate

import (
	"os"
	"path/filepath"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pluginhost/core/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "main.so")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func validDiscovered(artifactPath string) manifest.DiscoveredPlugin {
	return manifest.DiscoveredPlugin{
		Manifest: manifest.Manifest{
			ID:           "plugin-a",
			Name:         "Plugin A",
			Version:      "1.0.0",
			MainArtifact: "main.so",
			EntryPoint:   "Main",
		},
		ArtifactPath: artifactPath,
	}
}

func TestValidatePassesOnWellFormedPlugin(t *testing.T) {
	v := New(Config{})
	dp := validDiscovered(writeArtifact(t, "not empty"))

	result := v.Validate(dp)
	assert.True(t, result.OK())
}

func TestValidateFailsOnEmptyArtifact(t *testing.T) {
	v := New(Config{})
	dp := validDiscovered(writeArtifact(t, ""))

	result := v.Validate(dp)
	assert.False(t, result.OK())
}

func TestValidateFailsOnUnparseableVersion(t *testing.T) {
	v := New(Config{})
	dp := validDiscovered(writeArtifact(t, "x"))
	dp.Manifest.Version = "not-a-version"

	result := v.Validate(dp)
	assert.False(t, result.OK())
}

func TestValidateRejectsProhibitedDependency(t *testing.T) {
	v := New(Config{ProhibitedDependencies: mapset.NewSet("evil-lib")})
	dp := validDiscovered(writeArtifact(t, "x"))
	dp.Manifest.RuntimeDependencies = []string{"evil-lib"}

	result := v.Validate(dp)
	assert.False(t, result.OK())
}

func TestValidateRejectsPlatformMismatch(t *testing.T) {
	v := New(Config{CurrentPlatform: "linux"})
	dp := validDiscovered(writeArtifact(t, "x"))
	dp.Manifest.SupportedPlatforms = []string{"windows"}

	result := v.Validate(dp)
	assert.False(t, result.OK())
}

func TestValidateRejectsHostVersionOutOfRange(t *testing.T) {
	v := New(Config{HostVersion: "1.0.0"})
	dp := validDiscovered(writeArtifact(t, "x"))
	dp.Manifest.MinHostVersion = "2.0.0"

	result := v.Validate(dp)
	assert.False(t, result.OK())
}

func TestValidateSkipsArtifactChecksForBuiltins(t *testing.T) {
	v := New(Config{})
	dp := manifest.DiscoveredPlugin{
		Source: manifest.SourceConfig,
		Manifest: manifest.Manifest{
			ID:           "builtin-a",
			Name:         "Builtin A",
			Version:      "1.0.0",
			MainArtifact: "builtin",
			EntryPoint:   "New",
		},
	}

	result := v.Validate(dp)
	assert.True(t, result.OK())
}

func TestValidateRejectsBuiltinWithoutEntryPoint(t *testing.T) {
	v := New(Config{})
	dp := manifest.DiscoveredPlugin{
		Source: manifest.SourceConfig,
		Manifest: manifest.Manifest{
			ID:           "builtin-a",
			Name:         "Builtin A",
			Version:      "1.0.0",
			MainArtifact: "builtin",
		},
	}

	result := v.Validate(dp)
	assert.False(t, result.OK())
}
