package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/trustbench/trustbench/internal/config"
	"github.com/trustbench/trustbench/internal/domain"
)

// OpenAIEmbedder returns embedding vectors from an OpenAI-compatible
// embeddings API. It shares the provider Pool so embedding bursts cannot
// starve completions.
type OpenAIEmbedder struct {
	apiKey  string
	baseURL string
	model   string
	hc      *http.Client
	pool    *Pool
	policy  domain.RetryPolicy
	timeout time.Duration
}

// NewOpenAIEmbedder builds an embedder using the configured embeddings
// model.
func NewOpenAIEmbedder(cfg config.Config, pool *Pool) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		apiKey:  cfg.ProviderAPIKey,
		baseURL: strings.TrimRight(cfg.ProviderBaseURL, "/"),
		model:   cfg.EmbeddingsModel,
		hc: &http.Client{
			Timeout:   cfg.ProviderTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		pool:    pool,
		policy:  domain.RetryPolicy{MaxRetries: cfg.ProviderRetries, Backoff: cfg.ProviderRetryBackoff},
		timeout: cfg.ProviderTimeout,
	}
}

// Model returns the embeddings model id.
func (e *OpenAIEmbedder) Model() string { return e.model }

// Embed returns one vector per input text, in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("%w: PROVIDER_API_KEY missing", domain.ErrConfig)
	}
	if len(texts) == 0 {
		return nil, nil
	}

	body, _ := json.Marshal(map[string]any{
		"model": e.model,
		"input": texts,
	})

	var vectors [][]float64
	err := guard(ctx, e.pool, e.policy, e.timeout, "openai", "embed", func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("%w: building request: %v", domain.ErrConfig, err)
		}
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.hc.Do(req)
		if err != nil {
			if callCtx.Err() != nil {
				return callCtx.Err()
			}
			return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		defer func() { _ = resp.Body.Close() }()

		payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return fmt.Errorf("%w: reading response: %v", domain.ErrTimeout, err)
		}
		if err := classifyStatus(resp.StatusCode, payload); err != nil {
			return err
		}

		var out struct {
			Data []struct {
				Embedding []float64 `json:"embedding"`
			} `json:"data"`
		}
		if err := json.Unmarshal(payload, &out); err != nil {
			return fmt.Errorf("%w: decoding response: %v", domain.ErrParse, err)
		}
		if len(out.Data) != len(texts) {
			return fmt.Errorf("%w: got %d vectors for %d inputs", domain.ErrParse, len(out.Data), len(texts))
		}
		vectors = make([][]float64, len(out.Data))
		for i, d := range out.Data {
			vectors[i] = d.Embedding
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}
