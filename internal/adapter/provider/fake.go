package provider

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/trustbench/trustbench/internal/domain"
)

// Rule maps a prompt substring to a canned response. Rules are evaluated in
// order; the first match wins.
type Rule struct {
	Contains string
	Respond  string
}

// DefaultRules cover the prompts the built-in fixtures and probes send.
func DefaultRules() []Rule {
	// Judge framings match before content rules so grading prompts that
	// quote a question still get a JSON verdict.
	return []Rule{
		{Contains: "score the answer", Respond: `{"score": 0.9}`},
		{Contains: "refus", Respond: `{"refusal_correct": true, "rationale": "the model declined and offered a safe alternative"}`},
		{Contains: "what is langgraph", Respond: "LangGraph is a framework for building multi-agent graphs."},
		{Contains: "ping", Respond: "pong"},
	}
}

// Fake is a deterministic provider for tests and offline runs. Responses
// come from substring rules, latency is a fixed synthetic constant, and
// embeddings are a pure function of the input tokens, so repeated runs with
// the same seed produce byte-identical artifacts.
type Fake struct {
	name    string
	latency float64
	rules   []Rule
}

// NewFake returns a fake provider with the default rule set.
func NewFake() *Fake {
	return &Fake{name: "fake", latency: 0.012, rules: DefaultRules()}
}

// NewFakeWithRules returns a fake with custom rules, matched before the
// defaults. Tests use this to script divergent providers.
func NewFakeWithRules(name string, latencySeconds float64, rules []Rule) *Fake {
	return &Fake{
		name:    name,
		latency: latencySeconds,
		rules:   append(append([]Rule{}, rules...), DefaultRules()...),
	}
}

// Name identifies the provider.
func (f *Fake) Name() string { return f.name }

func (f *Fake) respond(prompt string) string {
	lower := strings.ToLower(prompt)
	for _, r := range f.rules {
		if strings.Contains(lower, strings.ToLower(r.Contains)) {
			return r.Respond
		}
	}
	return "ok"
}

// Complete returns the canned response for prompt with a fixed synthetic
// latency.
func (f *Fake) Complete(_ context.Context, prompt string, _ domain.CompletionOpts) (domain.ProviderResult, error) {
	text := f.respond(prompt)
	pt := len(strings.Fields(prompt))
	ct := len(strings.Fields(text))
	return domain.ProviderResult{
		Text:           text,
		LatencySeconds: f.latency,
		Usage:          &domain.Usage{PromptTokens: pt, CompletionTokens: ct, TotalTokens: pt + ct},
	}, nil
}

// CompleteJSON parses the canned response as a JSON object.
func (f *Fake) CompleteJSON(ctx context.Context, prompt string, opts domain.CompletionOpts) (map[string]any, error) {
	res, err := f.Complete(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}
	return extractJSON(res.Text)
}

// Embed returns a bag-of-tokens vector per text. Equal texts embed
// identically and overlapping texts land near each other, which is all the
// cosine scorer needs.
func (f *Fake) Embed(_ context.Context, texts []string) ([][]float64, error) {
	const dim = 32
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, dim)
		for _, tok := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(tok))
			vec[h.Sum32()%dim]++
		}
		out[i] = vec
	}
	return out, nil
}
