package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pluginhost/core/internal/capability"
	"github.com/pluginhost/core/internal/di"
	"github.com/pluginhost/core/internal/lifecycle"
	"github.com/pluginhost/core/internal/loader"
	"github.com/pluginhost/core/internal/manifest"
	"github.com/pluginhost/core/internal/registry"
	"github.com/pluginhost/core/internal/supervisor"
	"github.com/pluginhost/core/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLoader struct{}

func (stubLoader) Load(ctx context.Context, dp manifest.DiscoveredPlugin) (*loader.Boundary, capability.ModuleFactory, error) {
	return &loader.Boundary{}, func() capability.PluginModule { return &capability.BaseModule{} }, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.New()
	v := validate.New(validate.Config{})
	policy := di.NewPolicy(0)
	root := di.NewRootProvider()
	eng := lifecycle.New(reg, stubLoader{}, v, policy, root, lifecycle.Timeouts{}, "1.0.0", "test")
	sup := supervisor.New(reg, eng, policy, supervisor.Config{MaxConcurrentLoads: 2})

	path := t.TempDir() + "/artifact.so"
	require.NoError(t, os.WriteFile(path, []byte("fake artifact"), 0o644))
	dp := manifest.DiscoveredPlugin{
		Manifest:     manifest.Manifest{ID: "p", Name: "p", Version: "1.0.0", MainArtifact: "x", EntryPoint: "Main"},
		ArtifactPath: path,
	}
	require.NoError(t, sup.LoadOne(context.Background(), dp))

	return New(sup, nil)
}

func TestListSnapshotReturnsLoadedPlugin(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plugins", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	plugins, ok := body["plugins"].([]interface{})
	require.True(t, ok)
	assert.Len(t, plugins, 1)
}

func TestCheckHealthUnknownPluginReturns404(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/plugins/nonexistent/health", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReloadRunsSuccessfully(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/plugins/p/reload", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
