// Package domain holds the core entities, ports, and error taxonomy of the
// evaluation harness. It depends on nothing under internal/; adapters and
// usecases depend on it.
package domain

import "time"

// SchemaVersion is stamped into persisted run and job records so older
// artifacts remain readable after the layout evolves.
const SchemaVersion = 1

// Pillar names. The gate and the verdict iterate pillars in this order so
// output is deterministic.
const (
	PillarTask     = "task"
	PillarSystem   = "system"
	PillarSecurity = "security"
	PillarEthics   = "ethics"
)

// PillarOrder is the canonical ordering of evaluation pillars.
var PillarOrder = []string{PillarTask, PillarSystem, PillarSecurity, PillarEthics}

// Thresholds are the per-profile pass bars. P95Latency is in seconds; the
// rest are rates in [0,1].
type Thresholds struct {
	Faithfulness       float64 `yaml:"faithfulness" json:"faithfulness" validate:"gte=0,lte=1"`
	P95Latency         float64 `yaml:"p95_latency" json:"p95_latency" validate:"gt=0"`
	InjectionBlockRate float64 `yaml:"injection_block_rate" json:"injection_block_rate" validate:"gte=0,lte=1"`
	RefusalAccuracy    float64 `yaml:"refusal_accuracy" json:"refusal_accuracy" validate:"gte=0,lte=1"`
	WarnThreshold      float64 `yaml:"warn_threshold" json:"warn_threshold" validate:"gte=0,lte=1"`
}

// Sampling controls how many dataset records an evaluation draws and the
// seed used to draw them. Same seed, same dataset, same sample.
type Sampling struct {
	N    int   `yaml:"n" json:"n" validate:"gte=1"`
	Seed int64 `yaml:"seed" json:"seed"`
}

// Profile is a named evaluation configuration loaded from YAML. Relative
// paths are resolved against the profiles directory at load time.
type Profile struct {
	Name               string     `yaml:"name" json:"name" validate:"required"`
	ProviderID         string     `yaml:"provider_id" json:"provider_id" validate:"required"`
	Model              string     `yaml:"model" json:"model"`
	FallbackProviderID string     `yaml:"fallback_provider_id" json:"fallback_provider_id,omitempty"`
	FallbackModel      string     `yaml:"fallback_model" json:"fallback_model,omitempty"`
	DatasetPath        string     `yaml:"dataset_path" json:"dataset_path"`
	AdversarialPath    string     `yaml:"adversarial_path" json:"adversarial_path,omitempty"`
	UnsafePath         string     `yaml:"unsafe_path" json:"unsafe_path,omitempty"`
	RepoPath           string     `yaml:"repo_path" json:"repo_path,omitempty"`
	RulesPath          string     `yaml:"rules_path" json:"rules_path,omitempty"`
	Thresholds         Thresholds `yaml:"thresholds" json:"thresholds"`
	Sampling           Sampling   `yaml:"sampling" json:"sampling"`
}

// HasFallback reports whether the profile names a secondary provider the
// task pillar may fall back to.
func (p Profile) HasFallback() bool {
	return p.FallbackProviderID != "" && p.FallbackModel != ""
}

// DatasetRecord is one ground-truth row of an evaluation dataset.
type DatasetRecord struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Truth    string `json:"truth"`
}

// Usage mirrors the token accounting a provider reports for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProviderResult is the outcome of a single completion call.
type ProviderResult struct {
	Text           string
	LatencySeconds float64
	Usage          *Usage
}

// CompletionOpts tune a single completion call. Zero values mean provider
// defaults.
type CompletionOpts struct {
	System      string
	MaxTokens   int
	Temperature float64
}

// ToolResult is the uniform envelope every bridge tool returns. Data holds
// the tool-specific payload; when OK is false, Error names the failure and
// Data may be empty. A failing tool is data, not a Go error: the bridge
// returns a non-nil error only when ctx is done.
type ToolResult struct {
	OK    bool           `json:"ok"`
	Data  map[string]any `json:"data,omitempty"`
	Error string         `json:"error,omitempty"`
}

// Findings returns the payload's finding list, if it carries one.
func (r ToolResult) Findings() []map[string]any {
	raw, ok := r.Data["findings"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// Stats returns the payload's stats object, if it carries one.
func (r ToolResult) Stats() map[string]any {
	m, _ := r.Data["stats"].(map[string]any)
	return m
}

// Int reads a numeric payload field, truncating toward zero. JSON numbers
// decode as float64.
func (r ToolResult) Int(key string) int {
	switch v := r.Data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// Float reads a numeric payload field.
func (r ToolResult) Float(key string) float64 {
	switch v := r.Data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Str reads a string payload field.
func (r ToolResult) Str(key string) string {
	s, _ := r.Data[key].(string)
	return s
}

// Bool reads a boolean payload field.
func (r ToolResult) Bool(key string) bool {
	b, _ := r.Data[key].(bool)
	return b
}

// FailureRecord names one per-sample or per-check failure inside a pillar so
// the report can say what went wrong without re-running anything.
type FailureRecord struct {
	Pillar string `json:"pillar"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// AgentResult is what one evaluator agent produces. Metrics holds numeric
// measurements, Meta holds string annotations (scorer tier, provider used);
// both merge into the pillar's flat metrics artifact.
type AgentResult struct {
	Pillar   string             `json:"pillar"`
	Metrics  map[string]float64 `json:"metrics"`
	Meta     map[string]string  `json:"meta,omitempty"`
	Failures []FailureRecord    `json:"failures,omitempty"`

	// Details is the pillar's per-sample payload, persisted separately as
	// {pillar}_details.json and excluded from the merged metrics.
	Details any `json:"-"`
}

// Metric returns a named metric and whether it was recorded.
func (r AgentResult) Metric(name string) (float64, bool) {
	v, ok := r.Metrics[name]
	return v, ok
}

// AgentState is the lifecycle of one evaluator inside a run.
type AgentState string

const (
	AgentPending  AgentState = "pending"
	AgentRunning  AgentState = "running"
	AgentComplete AgentState = "complete"
	AgentFailed   AgentState = "failed"
)

// AgentSnapshot is one entry of the run trace: how a single evaluator fared.
type AgentSnapshot struct {
	Pillar         string         `json:"pillar"`
	State          AgentState     `json:"state"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    time.Time      `json:"completed_at"`
	LatencySeconds float64        `json:"latency_seconds"`
	ToolCalls      map[string]int `json:"tool_calls,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// GateResult is the pass/fail decision over all pillar thresholds. Failed
// lists failing pillars in canonical order.
type GateResult struct {
	Blocked bool     `json:"blocked"`
	Failed  []string `json:"failed"`
}

// Decision is the overall verdict level.
type Decision string

const (
	DecisionPass    Decision = "pass"
	DecisionWarn    Decision = "warn"
	DecisionFail    Decision = "fail"
	DecisionUnknown Decision = "unknown"
)

// Confidence qualifies how much evidence backs a verdict.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// PillarVerdict is the per-pillar slice of the final verdict.
type PillarVerdict struct {
	Status  string  `json:"status"`
	Score   float64 `json:"score"`
	Summary string  `json:"summary"`
}

// Verdict is the synthesized outcome of a run. Composite is nil when either
// input score is missing. A hard security or ethics failure forces Decision
// to fail regardless of the composite.
type Verdict struct {
	Decision         Decision                 `json:"decision"`
	Composite        *float64                 `json:"composite"`
	Drivers          []string                 `json:"drivers"`
	Actions          []string                 `json:"actions"`
	Confidence       Confidence               `json:"confidence"`
	Pillars          map[string]PillarVerdict `json:"pillars"`
	HardFailSecurity bool                     `json:"hard_fail_security"`
	HardFailEthics   bool                     `json:"hard_fail_ethics"`
}

// RunManifest is the run.json written at the root of every run directory.
// Error is set only on aborted runs, which keep their partial artifacts but
// never become the latest run.
type RunManifest struct {
	SchemaVersion int       `json:"schema_version"`
	RunID         string    `json:"run_id"`
	Profile       string    `json:"profile"`
	StartedAt     time.Time `json:"started_at"`
	GitSHA        string    `json:"git_sha,omitempty"`
	FakeProvider  bool      `json:"fake_provider,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// JobState is the externally visible lifecycle of a submitted repository job.
type JobState string

const (
	JobQueued     JobState = "queued"
	JobCloning    JobState = "cloning"
	JobAnalyzing  JobState = "analyzing"
	JobEvaluating JobState = "evaluating"
	JobReporting  JobState = "reporting"
	JobComplete   JobState = "complete"
	JobFailed     JobState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobComplete || s == JobFailed
}

// jobOrder encodes the forward-only progression of job states.
var jobOrder = map[JobState]int{
	JobQueued:     0,
	JobCloning:    1,
	JobAnalyzing:  2,
	JobEvaluating: 3,
	JobReporting:  4,
	JobComplete:   5,
	JobFailed:     5,
}

// CanTransition reports whether moving from s to next is a legal forward
// step. Any non-terminal state may move to failed; no state moves backwards.
func (s JobState) CanTransition(next JobState) bool {
	if s.Terminal() {
		return false
	}
	if next == JobFailed {
		return true
	}
	return jobOrder[next] > jobOrder[s]
}

// Progress maps a state to the coarse completion fraction reported to
// clients. JobFailed has no fraction of its own: a failed job keeps the
// last value it reached.
func (s JobState) Progress() float64 {
	switch s {
	case JobQueued:
		return 0.0
	case JobCloning:
		return 0.2
	case JobAnalyzing:
		return 0.4
	case JobEvaluating:
		return 0.6
	case JobReporting:
		return 0.8
	case JobComplete:
		return 1.0
	}
	return 0.0
}

// Job is one submitted repository evaluation tracked by the job manager.
// Artifacts maps artifact names to paths once the run has produced them.
type Job struct {
	SchemaVersion int               `json:"schema_version"`
	ID            string            `json:"id"`
	RepoURL       string            `json:"repo_url"`
	State         JobState          `json:"state"`
	Progress      float64           `json:"progress"`
	Message       string            `json:"message,omitempty"`
	Profile       string            `json:"profile,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Error         string            `json:"error,omitempty"`
	Artifacts     map[string]string `json:"artifacts,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}
