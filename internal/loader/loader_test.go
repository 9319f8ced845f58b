package loader

import (
	"context"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/pluginhost/core/internal/capability"
	"github.com/pluginhost/core/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModule struct {
	capability.BaseModule
}

func TestLoadBuiltinBypassesDynamicLoading(t *testing.T) {
	l := New(capability.NewSurfaceRegistry())
	l.RegisterBuiltin("plugin-a", func() capability.PluginModule { return &fakeModule{} })

	require.True(t, l.IsBuiltin("plugin-a"))

	dp := manifest.DiscoveredPlugin{Manifest: manifest.Manifest{ID: "plugin-a"}}
	boundary, factory, err := l.Load(context.Background(), dp)
	require.NoError(t, err)
	require.NotNil(t, factory)
	assert.NotNil(t, factory())

	reclaimed, err := boundary.Release(context.Background())
	require.NoError(t, err)
	assert.True(t, reclaimed)
}

func TestLoadUnknownArtifactReturnsLoadFailed(t *testing.T) {
	l := New(capability.NewSurfaceRegistry())
	dp := manifest.DiscoveredPlugin{
		Manifest:     manifest.Manifest{ID: "plugin-missing", EntryPoint: "Main"},
		ArtifactPath: "/nonexistent/path/plugin.so",
	}
	_, _, err := l.Load(context.Background(), dp)
	require.Error(t, err)
}

func TestProbeUnknownArtifactFails(t *testing.T) {
	l := New(capability.NewSurfaceRegistry())
	ok, _, err := l.Probe("/nonexistent/path/plugin.so", "Main")
	assert.False(t, ok)
	assert.Error(t, err)
}

// buildPluginFixture compiles testdata/pluginsrc into a real .so, exercising
// the dynamic plugin.Open path instead of the built-in fast path. Skipped on
// platforms or sandboxes where buildmode=plugin isn't available rather than
// failing the suite outright.
func buildPluginFixture(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("plugin package unsupported on windows")
	}

	soPath := filepath.Join(t.TempDir(), "fixture.so")
	cmd := exec.Command("go", "build", "-buildmode=plugin", "-o", soPath, "./testdata/pluginsrc")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("environment cannot build a dynamic plugin fixture: %v\n%s", err, out)
	}
	return soPath
}

func TestLoadDynamicPluginResolvesRealEntryPoint(t *testing.T) {
	soPath := buildPluginFixture(t)
	l := New(capability.NewSurfaceRegistry())
	dp := manifest.DiscoveredPlugin{
		Manifest:     manifest.Manifest{ID: "plugin-dynamic", EntryPoint: "New"},
		ArtifactPath: soPath,
	}

	boundary, factory, err := l.Load(context.Background(), dp)
	require.NoError(t, err)
	require.NotNil(t, factory)

	module := factory()
	assert.NotNil(t, module)

	reclaimed, err := boundary.Release(context.Background())
	require.NoError(t, err)
	assert.True(t, reclaimed, "nothing retains the loaded symbol table after Release, so the sweep should reclaim it")
}

// TestLoadDynamicPluginReleaseReflectsRealReachability is the test the
// reviewed finalizer bug would have failed: with the finalizer wired to a
// disconnected sentinel instead of the loaded *plugin.Plugin, Release always
// reported reclaimed=true regardless of whether anything still referenced
// the loaded code. Here a second strong reference to the boundary's dynamic
// handle is kept alive across Release, so reclaim must honestly report false
// until that reference is actually dropped.
func TestLoadDynamicPluginReleaseReflectsRealReachability(t *testing.T) {
	soPath := buildPluginFixture(t)
	l := New(capability.NewSurfaceRegistry())
	dp := manifest.DiscoveredPlugin{
		Manifest:     manifest.Manifest{ID: "plugin-dynamic-held", EntryPoint: "New"},
		ArtifactPath: soPath,
	}

	boundary, _, err := l.Load(context.Background(), dp)
	require.NoError(t, err)

	held := boundary.dynamic // second strong reference, outlives Release's own
	reclaimed, err := boundary.Release(context.Background())
	require.NoError(t, err)
	assert.False(t, reclaimed, "a live external reference must prevent the sweep from reclaiming it")

	runtime.KeepAlive(held)
	held = nil

	require.Eventually(t, func() bool {
		runtime.GC()
		select {
		case <-boundary.reclaimed:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond, "dropping the last reference should eventually let the sweep reclaim it")
}

func TestReleaseIsIdempotent(t *testing.T) {
	l := New(capability.NewSurfaceRegistry())
	l.RegisterBuiltin("plugin-b", func() capability.PluginModule { return &fakeModule{} })
	boundary, _, err := l.Load(context.Background(), manifest.DiscoveredPlugin{Manifest: manifest.Manifest{ID: "plugin-b"}})
	require.NoError(t, err)

	_, err = boundary.Release(context.Background())
	require.NoError(t, err)
	reclaimed, err := boundary.Release(context.Background())
	require.NoError(t, err)
	assert.True(t, reclaimed)
}
