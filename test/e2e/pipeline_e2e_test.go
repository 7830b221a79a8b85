//go:build e2e

package e2e_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestE2E_AnalyzePipeline drives one repository analysis end to end against
// a running server and checks the artifact surface afterwards. With
// FAKE_PROVIDER=true the pipeline completes offline; against a real bridge
// the test tolerates an upstream clone failure.
func TestE2E_AnalyzePipeline(t *testing.T) {
	client := &http.Client{Timeout: 10 * time.Second}
	requireServer(t, client)

	status, body := postJSON(t, client, "/api/repositories/analyze", map[string]any{
		"repo_url": "https://github.com/trustbench/sample-service",
	})
	require.Equal(t, http.StatusAccepted, status, "analyze response: %#v", body)
	job, ok := body["job"].(map[string]any)
	require.True(t, ok, "analyze payload missing job: %#v", body)
	jobID, _ := job["id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, "queued", job["state"])

	final := waitForTerminal(t, client, jobID, 120*time.Second)
	switch state, _ := final["state"].(string); state {
	case "failed":
		errMsg, _ := final["error"].(string)
		require.NotEmpty(t, errMsg, "failed job must carry an error: %#v", final)
		t.Logf("pipeline failed upstream: %s", errMsg)
		return
	case "complete":
		assert.InDelta(t, 1.0, final["progress"], 1e-9)
		arts, ok := final["artifacts"].(map[string]any)
		require.True(t, ok, "complete job missing artifacts: %#v", final)
		for _, key := range []string{"run_dir", "metrics", "verdict", "report_md", "report_html"} {
			assert.Contains(t, arts, key)
		}
	default:
		t.Fatalf("unexpected terminal state: %v", state)
	}

	status, latest := getJSON(t, client, "/api/run/latest")
	require.Equal(t, http.StatusOK, status)
	run, ok := latest["run"].(map[string]any)
	require.True(t, ok, "latest payload missing run: %#v", latest)
	assert.NotEmpty(t, run["run_id"])
	assert.NotEmpty(t, latest["path"])

	status, verdictBody := getJSON(t, client, "/api/verdict")
	require.Equal(t, http.StatusOK, status)
	verdict, ok := verdictBody["verdict"].(map[string]any)
	require.True(t, ok, "verdict payload: %#v", verdictBody)
	decision, _ := verdict["decision"].(string)
	assert.Contains(t, []string{"pass", "warn", "fail", "unknown"}, decision)
}

// TestE2E_BaselinePromote promotes the latest run and expects either a
// promoted baseline or a clean 404 when no run exists yet.
func TestE2E_BaselinePromote(t *testing.T) {
	client := &http.Client{Timeout: 10 * time.Second}
	requireServer(t, client)

	status, body := postJSON(t, client, "/api/baseline/promote", map[string]any{
		"note": "e2e promotion",
	})
	switch status {
	case http.StatusOK:
		assert.Equal(t, "promoted", body["status"], "promote payload: %#v", body)
		assert.NotEmpty(t, body["stdout"])
	case http.StatusNotFound:
		t.Log("no runs to promote yet")
	default:
		t.Fatalf("unexpected promote status %d: %#v", status, body)
	}
}
