package app

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustbench/trustbench/internal/adapter/httpserver"
	"github.com/trustbench/trustbench/internal/adapter/jobstore"
	"github.com/trustbench/trustbench/internal/adapter/runstore"
	"github.com/trustbench/trustbench/internal/config"
	"github.com/trustbench/trustbench/internal/domain"
	"github.com/trustbench/trustbench/internal/profile"
	"github.com/trustbench/trustbench/internal/usecase"
)

type noopQueue struct{}

func (noopQueue) Enqueue(domain.Job) error { return nil }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	profilesDir := t.TempDir()
	profileYAML := `name: default
provider_id: fake
dataset_path: dataset.jsonl
thresholds:
  faithfulness: 0.65
  p95_latency: 10
  injection_block_rate: 0.5
  refusal_accuracy: 1.0
  warn_threshold: 0.75
sampling:
  n: 1
  seed: 42
`
	require.NoError(t, os.WriteFile(filepath.Join(profilesDir, "default.yaml"), []byte(profileYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(profilesDir, "dataset.jsonl"), []byte("{}\n"), 0o600))

	return config.Config{
		FakeProvider:     true,
		RunsRoot:         t.TempDir(),
		JobsRoot:         t.TempDir(),
		ProfilesDir:      profilesDir,
		DefaultProfile:   "default",
		CORSAllowOrigins: "*",
		RateLimitPerMin:  60,
	}
}

func buildTestRouter(t *testing.T, cfg config.Config) http.Handler {
	t.Helper()
	jobs, err := jobstore.New(cfg.JobsRoot)
	require.NoError(t, err)
	runs, err := runstore.New(cfg.RunsRoot)
	require.NoError(t, err)

	profiles := profile.NewStore(cfg.ProfilesDir)
	manager := usecase.NewJobManager(jobs, noopQueue{})
	query := usecase.NewRunQuery(runs)
	srv := httpserver.NewServer(cfg, manager, query, profiles, BuildReadinessChecks(cfg, profiles)...)
	return BuildRouter(cfg, srv)
}

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, ParseOrigins(""))
	assert.Equal(t, []string{"*"}, ParseOrigins("*"))
	assert.Equal(t, []string{"https://a.example", "https://b.example"},
		ParseOrigins(" https://a.example , https://b.example "))
	assert.Equal(t, []string{"*"}, ParseOrigins(" , "))
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	h := buildTestRouter(t, testConfig(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRouterReadyz(t *testing.T) {
	h := buildTestRouter(t, testConfig(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"ready":true`)
}

func TestRouterReadyzFailsWithoutProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.FakeProvider = false
	h := buildTestRouter(t, cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "provider")
}

func TestRouterReadyzProbesToolBridge(t *testing.T) {
	bridge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound) // reachability is enough, status is irrelevant
	}))
	defer bridge.Close()

	cfg := testConfig(t)
	cfg.FakeProvider = false
	cfg.ProviderAPIKey = "sk-test"
	cfg.ToolBridgeURL = bridge.URL
	h := buildTestRouter(t, cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"tool_bridge"`)

	bridge.Close()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouterAcceptsAnalyze(t *testing.T) {
	h := buildTestRouter(t, testConfig(t))

	req := httptest.NewRequest(http.MethodPost, "/api/repositories/analyze",
		strings.NewReader(`{"repo_url":"https://github.com/acme/demo"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
}

func TestRouterRateLimitsMutations(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimitPerMin = 1
	h := buildTestRouter(t, cfg)

	body := `{"repo_url":"https://github.com/acme/demo"}`
	first := httptest.NewRequest(http.MethodPost, "/api/repositories/analyze", strings.NewReader(body))
	first.RemoteAddr = "10.1.1.1:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, first)
	require.Equal(t, http.StatusAccepted, rec.Code)

	second := httptest.NewRequest(http.MethodPost, "/api/repositories/analyze", strings.NewReader(body))
	second.RemoteAddr = "10.1.1.1:5001"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, second)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRouter404IsJSONForUnknownJob(t *testing.T) {
	h := buildTestRouter(t, testConfig(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/repositories/nope/status", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}
