package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/trustbench/trustbench/internal/adapter/provider/tokencount"
	"github.com/trustbench/trustbench/internal/config"
	"github.com/trustbench/trustbench/internal/domain"
	"github.com/trustbench/trustbench/pkg/textx"
)

// OpenAI talks to an OpenAI-compatible chat completions API. All calls pass
// through the shared Pool and the linear retry guard.
type OpenAI struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	hc      *http.Client
	pool    *Pool
	policy  domain.RetryPolicy
	timeout time.Duration
	counter *tokencount.Counter
}

// NewOpenAI builds a client for the given model, falling back to the
// configured default model when empty.
func NewOpenAI(cfg config.Config, model string, pool *Pool) *OpenAI {
	if model == "" {
		model = cfg.ProviderModel
	}
	return &OpenAI{
		name:    "openai",
		apiKey:  cfg.ProviderAPIKey,
		baseURL: strings.TrimRight(cfg.ProviderBaseURL, "/"),
		model:   model,
		hc: &http.Client{
			Timeout:   cfg.ProviderTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		pool:    pool,
		policy:  domain.RetryPolicy{MaxRetries: cfg.ProviderRetries, Backoff: cfg.ProviderRetryBackoff},
		timeout: cfg.ProviderTimeout,
		counter: tokencount.NewCounter(),
	}
}

// Name identifies the provider.
func (c *OpenAI) Name() string { return c.name }

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete returns the model's text answer and the measured wall-clock
// latency of the winning attempt.
func (c *OpenAI) Complete(ctx context.Context, prompt string, opts domain.CompletionOpts) (domain.ProviderResult, error) {
	if c.apiKey == "" {
		return domain.ProviderResult{}, fmt.Errorf("%w: PROVIDER_API_KEY missing", domain.ErrConfig)
	}

	temperature := opts.Temperature
	if temperature == 0 {
		temperature = 0.2
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 512
	}
	messages := make([]map[string]string, 0, 2)
	if opts.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": opts.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": prompt})
	body, _ := json.Marshal(map[string]any{
		"model":       c.model,
		"temperature": temperature,
		"max_tokens":  maxTokens,
		"messages":    messages,
	})

	var result domain.ProviderResult
	err := guard(ctx, c.pool, c.policy, c.timeout, c.name, "completion", func(callCtx context.Context) error {
		start := time.Now()
		out, err := c.post(callCtx, "/chat/completions", body)
		if err != nil {
			return err
		}
		if len(out.Choices) == 0 {
			return fmt.Errorf("%w: empty choices", domain.ErrParse)
		}
		result.Text = textx.Sanitize(out.Choices[0].Message.Content)
		result.LatencySeconds = time.Since(start).Seconds()
		if out.Usage != nil {
			result.Usage = &domain.Usage{
				PromptTokens:     out.Usage.PromptTokens,
				CompletionTokens: out.Usage.CompletionTokens,
				TotalTokens:      out.Usage.TotalTokens,
			}
		} else {
			pt := c.counter.CountPrompt(c.model, opts.System, prompt)
			ct := c.counter.Count(c.model, result.Text)
			result.Usage = &domain.Usage{PromptTokens: pt, CompletionTokens: ct, TotalTokens: pt + ct}
		}
		return nil
	})
	if err != nil {
		return domain.ProviderResult{}, err
	}
	return result, nil
}

// CompleteJSON asks for a JSON object and parses the first {...} span from
// the response, retrying completions whose output does not parse.
func (c *OpenAI) CompleteJSON(ctx context.Context, prompt string, opts domain.CompletionOpts) (map[string]any, error) {
	if opts.System == "" {
		opts.System = "Respond with a single JSON object and nothing else."
	}
	var lastErr error
	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		res, err := c.Complete(ctx, prompt, opts)
		if err != nil {
			return nil, err
		}
		obj, err := extractJSON(res.Text)
		if err == nil {
			return obj, nil
		}
		lastErr = err
		slog.Warn("json completion parse failed",
			slog.String("provider", c.name),
			slog.String("model", c.model),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))
	}
	return nil, lastErr
}

// post issues one request and maps transport and status failures onto the
// provider error taxonomy.
func (c *OpenAI) post(ctx context.Context, path string, body []byte) (*chatResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", domain.ErrConfig, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", domain.ErrTimeout, err)
	}
	if err := classifyStatus(resp.StatusCode, payload); err != nil {
		slog.Warn("provider non-2xx",
			slog.String("provider", c.name),
			slog.String("model", c.model),
			slog.Int("status", resp.StatusCode),
			slog.String("body", snippet(payload, 512)))
		return nil, err
	}

	var out chatResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", domain.ErrParse, err)
	}
	return &out, nil
}

// classifyStatus maps an HTTP status onto the error taxonomy. 5xx and 429
// map to the retriable sentinels; auth and model errors fail fast.
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", domain.ErrUnauthorized, status)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", domain.ErrRateLimited, status)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: status %d: %s", domain.ErrModelUnavailable, status, snippet(body, 256))
	case status >= 500:
		return fmt.Errorf("%w: upstream status %d", domain.ErrTimeout, status)
	default:
		return fmt.Errorf("%w: status %d: %s", domain.ErrInvalidArgument, status, snippet(body, 256))
	}
}

func snippet(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

// extractJSON pulls the first {...} span out of a model response and parses
// it. Models often wrap JSON in prose or code fences; the span between the
// first and last brace survives both.
func extractJSON(s string) (map[string]any, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in response", domain.ErrParse)
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParse, err)
	}
	return obj, nil
}
