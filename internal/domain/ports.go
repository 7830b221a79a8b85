package domain

import "context"

// Provider is the uniform completion contract over one LLM vendor. A single
// instance is safe for concurrent use; implementations enforce the shared
// concurrency bound and retry policy internally.
type Provider interface {
	// Name identifies the provider instance, e.g. "openai" or "fake".
	Name() string
	// Complete returns the model's text answer for prompt.
	Complete(ctx context.Context, prompt string, opts CompletionOpts) (ProviderResult, error)
	// CompleteJSON asks for a JSON object, extracts the first {...} span
	// from the response, and parses it. Parse failures are retried up to
	// the provider's retry budget, then reported via ErrParse.
	CompleteJSON(ctx context.Context, prompt string, opts CompletionOpts) (map[string]any, error)
}

// Providers resolves a provider instance by id and model, e.g. for the task
// pillar's fallback path.
type Providers interface {
	Get(id, model string) (Provider, error)
}

// Embedder returns embedding vectors for texts, one vector per input, all
// the same dimension. Deterministic in fake mode.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// ToolBridge invokes one named tool on the external tool server. Transport
// and tool failures come back as ToolResult{OK: false}; the error return is
// reserved for context cancellation.
type ToolBridge interface {
	Call(ctx context.Context, tool string, args map[string]any) (ToolResult, error)
}
