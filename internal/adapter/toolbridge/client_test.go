package toolbridge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustbench/trustbench/internal/config"
	"github.com/trustbench/trustbench/internal/domain"
)

func testConfig(url string, retries int) config.Config {
	return config.Config{
		ToolBridgeURL:        url,
		ToolTimeout:          2 * time.Second,
		ProviderRetries:      retries,
		ProviderRetryBackoff: time.Millisecond,
	}
}

func TestClientCallDecodesEnvelope(t *testing.T) {
	var gotPath, gotContentType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"data":{"blocked":3,"total":5}}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, 2))
	res, err := c.Call(context.Background(), ToolPromptGuard, map[string]any{"prompts": []string{"a", "b"}})

	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "/tools/prompt_guard", gotPath)
	assert.Equal(t, "application/json", gotContentType)
	assert.InDelta(t, 3.0, res.Data["blocked"], 0.0001)

	args, ok := gotBody["args"].(map[string]any)
	require.True(t, ok, "request body must carry an args object")
	assert.Len(t, args["prompts"], 2)
}

func TestClientToolFailureIsDataNotError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"ok":false,"error":"semgrep crashed"}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, 2))
	res, err := c.Call(context.Background(), ToolSemgrep, map[string]any{"path": "/tmp/x"})

	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "semgrep crashed", res.Error)
	assert.Equal(t, int32(1), hits.Load(), "tool-reported failures must not be retried")
}

func TestClientRetriesTransportFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"data":{"found":false}}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, 2))
	res, err := c.Call(context.Background(), ToolSecretsScan, map[string]any{"path": "/tmp/x"})

	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClientMutatingToolSingleAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, 2))
	res, err := c.Call(context.Background(), ToolDownloadRepo, map[string]any{"repo_url": "https://github.com/a/b"})

	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "bridge status 500")
	assert.Equal(t, int32(1), hits.Load(), "mutating tools must not be replayed")
}

func TestClientClientErrorNoRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`unknown tool`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, 2))
	res, err := c.Call(context.Background(), ToolEnvContent, nil)

	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "bridge status 400")
	assert.Equal(t, int32(1), hits.Load())
}

func TestClientCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, 0))
	for i := 0; i < 5; i++ {
		res, err := c.Call(context.Background(), ToolSemgrep, nil)
		require.NoError(t, err)
		assert.False(t, res.OK)
	}
	require.Equal(t, int32(5), hits.Load())

	res, err := c.Call(context.Background(), ToolSemgrep, nil)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "circuit open")
	assert.Equal(t, int32(5), hits.Load(), "open breaker must not reach the bridge")
}

func TestClientCancellationIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background read; without it
		// an HTTP/1.1 server never notices the client disconnect and the
		// request context (and srv.Close) would block forever.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	c := NewClient(testConfig(srv.URL, 2))
	_, err := c.Call(ctx, ToolSemgrep, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCancelled)
}
