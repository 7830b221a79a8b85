package provider

import (
	"fmt"
	"sync"

	"github.com/trustbench/trustbench/internal/config"
	"github.com/trustbench/trustbench/internal/domain"
)

// Registry resolves provider ids from profiles to client instances. All
// instances share one Pool, so the concurrency bound holds across agents
// and providers. With FAKE_PROVIDER set, every id resolves to the fake.
type Registry struct {
	cfg  config.Config
	pool *Pool

	mu    sync.Mutex
	cache map[string]domain.Provider
}

// NewRegistry builds a Registry over the shared pool.
func NewRegistry(cfg config.Config, pool *Pool) *Registry {
	return &Registry{cfg: cfg, pool: pool, cache: make(map[string]domain.Provider)}
}

// Pool exposes the shared semaphore for callers that gate their own work.
func (r *Registry) Pool() *Pool { return r.pool }

// Get resolves a provider id and model to a client. Unknown ids and missing
// credentials are config errors so runs fail fast instead of mid-pillar.
func (r *Registry) Get(id, model string) (domain.Provider, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty provider id", domain.ErrConfig)
	}

	key := id + "/" + model
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.cache[key]; ok {
		return p, nil
	}

	var p domain.Provider
	switch {
	case r.cfg.FakeProvider || id == "fake":
		p = NewFake()
	case id == "openai":
		if r.cfg.ProviderAPIKey == "" {
			return nil, fmt.Errorf("%w: PROVIDER_API_KEY missing for provider %q", domain.ErrConfig, id)
		}
		p = NewOpenAI(r.cfg, model, r.pool)
	default:
		return nil, fmt.Errorf("%w: unknown provider id %q", domain.ErrConfig, id)
	}
	r.cache[key] = p
	return p, nil
}

// Embedder returns the embedding client matching the provider mode, wrapped
// in the embed cache when one is configured.
func (r *Registry) Embedder() (domain.Embedder, error) {
	if r.cfg.FakeProvider {
		return NewEmbedCache(NewFake(), r.cfg.EmbedCacheSize), nil
	}
	if r.cfg.ProviderAPIKey == "" {
		return nil, fmt.Errorf("%w: PROVIDER_API_KEY missing for embeddings", domain.ErrConfig)
	}
	return NewEmbedCache(NewOpenAIEmbedder(r.cfg, r.pool), r.cfg.EmbedCacheSize), nil
}

// EmbeddingModel names the embeddings model for scorer metadata.
func (r *Registry) EmbeddingModel() string {
	if r.cfg.FakeProvider {
		return "fake-bag-of-tokens"
	}
	return r.cfg.EmbeddingsModel
}
