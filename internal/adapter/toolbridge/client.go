// Package toolbridge talks to the external tool server over HTTP. A failing
// tool or transport never surfaces as a Go error: agents receive
// ToolResult{OK:false} and record the failure; only context cancellation
// propagates as an error.
package toolbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/trustbench/trustbench/internal/adapter/observability"
	"github.com/trustbench/trustbench/internal/config"
	"github.com/trustbench/trustbench/internal/domain"
)

// Tool names the bridge serves.
const (
	ToolPromptGuard    = "prompt_guard"
	ToolSemgrep        = "semgrep"
	ToolSecretsScan    = "secrets_scan"
	ToolDownloadRepo   = "download_and_extract_repo"
	ToolEnvContent     = "env_content"
	ToolCleanWorkspace = "cleanup_workspace"
)

// mutating tools are excluded from transport retries because replaying them
// changes workspace state.
var mutating = map[string]bool{
	ToolDownloadRepo:   true,
	ToolCleanWorkspace: true,
}

// Client is the HTTP implementation of domain.ToolBridge. Calls pass
// through a circuit breaker so a dead bridge fails fast instead of eating
// the whole tool timeout per call.
type Client struct {
	base   string
	hc     *http.Client
	policy domain.RetryPolicy
	cb     *gobreaker.CircuitBreaker
}

// NewClient builds a bridge client from configuration.
func NewClient(cfg config.Config) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "toolbridge",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("tool bridge breaker state change",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return &Client{
		base: strings.TrimRight(cfg.ToolBridgeURL, "/"),
		hc: &http.Client{
			Timeout:   cfg.ToolTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		policy: domain.RetryPolicy{MaxRetries: cfg.ProviderRetries, Backoff: cfg.ProviderRetryBackoff},
		cb:     cb,
	}
}

type bridgeResponse struct {
	OK    bool           `json:"ok"`
	Data  map[string]any `json:"data"`
	Error string         `json:"error"`
}

// Call invokes POST {base}/tools/{tool} with {args}. Transport failures on
// idempotent tools are retried with the linear policy; mutating tools get a
// single attempt.
func (c *Client) Call(ctx context.Context, tool string, args map[string]any) (domain.ToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(map[string]any{"args": args})
	if err != nil {
		return domain.ToolResult{OK: false, Error: fmt.Sprintf("encoding args: %v", err)}, nil
	}

	attempts := c.policy.MaxRetries + 1
	if mutating[tool] {
		attempts = 1
	}

	var last domain.ToolResult
	for attempt := 1; attempt <= attempts; attempt++ {
		start := time.Now()
		res, retriable, err := c.once(ctx, tool, body)
		observability.ToolCallDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
		if err != nil {
			observability.ToolCallsTotal.WithLabelValues(tool, "cancelled").Inc()
			return domain.ToolResult{}, err
		}
		if res.OK {
			observability.ToolCallsTotal.WithLabelValues(tool, "ok").Inc()
			return res, nil
		}
		observability.ToolCallsTotal.WithLabelValues(tool, "error").Inc()
		last = res
		if !retriable || attempt == attempts {
			break
		}
		slog.Warn("tool call retrying",
			slog.String("tool", tool),
			slog.Int("attempt", attempt),
			slog.String("error", res.Error))
		select {
		case <-time.After(c.policy.Delay(attempt)):
		case <-ctx.Done():
			return domain.ToolResult{}, fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
		}
	}
	return last, nil
}

// once performs a single bridge round trip. The bool reports whether the
// failure is worth retrying.
func (c *Client) once(ctx context.Context, tool string, body []byte) (domain.ToolResult, bool, error) {
	out, err := c.cb.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/tools/"+tool, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.hc.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("bridge status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			// 4xx is a caller bug, not bridge weather: no retry, no trip.
			return domain.ToolResult{OK: false, Error: fmt.Sprintf("bridge status %d: %s", resp.StatusCode, snippet(payload, 256))}, nil
		}

		var decoded bridgeResponse
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, fmt.Errorf("decoding bridge response: %w", err)
		}
		return domain.ToolResult{OK: decoded.OK, Data: decoded.Data, Error: decoded.Error}, nil
	})

	if err != nil {
		if ctx.Err() != nil {
			return domain.ToolResult{}, false, fmt.Errorf("%w: tool %s: %v", domain.ErrCancelled, tool, ctx.Err())
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.ToolResult{OK: false, Error: "tool bridge unavailable: circuit open"}, false, nil
		}
		return domain.ToolResult{OK: false, Error: err.Error()}, true, nil
	}
	res := out.(domain.ToolResult)
	// ok=false with a 2xx envelope is the tool reporting its own failure;
	// replaying the same input will fail the same way.
	return res, false, nil
}

func snippet(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
