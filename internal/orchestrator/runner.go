// Package orchestrator coordinates one evaluation run: it fans the four
// evaluator agents out over a fresh run directory, merges their metrics,
// applies the quality gate, and synthesizes the final verdict.
//
// A failing agent never aborts the run; its pillar simply has no metrics and
// the gate fails it. The run itself aborts only when the run directory cannot
// be created, the primary provider is unusable, an artifact write fails, or
// the context is cancelled.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/trustbench/trustbench/internal/adapter/observability"
	"github.com/trustbench/trustbench/internal/adapter/runstore"
	"github.com/trustbench/trustbench/internal/agents"
	"github.com/trustbench/trustbench/internal/config"
	"github.com/trustbench/trustbench/internal/domain"
	"github.com/trustbench/trustbench/internal/scorer"
)

const tracerName = "trustbench/orchestrator"

// Runner executes evaluation runs. Construct once and reuse; each Run builds
// its own agents so per-run state (tool call counters) never leaks between
// runs.
type Runner struct {
	cfg       config.Config
	providers domain.Providers
	tools     domain.ToolBridge
	chain     *scorer.Chain
	store     *runstore.Store

	// GitSHA, when known, is stamped into every run manifest.
	GitSHA string
}

// NewRunner wires a Runner from its collaborators.
func NewRunner(cfg config.Config, providers domain.Providers, tools domain.ToolBridge, chain *scorer.Chain, store *runstore.Store) *Runner {
	return &Runner{cfg: cfg, providers: providers, tools: tools, chain: chain, store: store}
}

// Outcome bundles everything a finished evaluation produced.
type Outcome struct {
	RunID    string
	RunDir   string
	Gate     domain.GateResult
	Verdict  domain.Verdict
	Metrics  map[string]any
	Results  map[string]domain.AgentResult
	Failures []domain.FailureRecord
	Trace    []domain.AgentSnapshot
}

// Run evaluates the profile and persists all run artifacts. On success the
// runs root's latest pointer is repointed to the new directory; aborted runs
// keep their partial artifacts but never become latest.
func (r *Runner) Run(ctx context.Context, profile domain.Profile, workdir string) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RunTimeout)
	defer cancel()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "orchestrator.Run")
	defer span.End()
	span.SetAttributes(attribute.String("profile", profile.Name))

	if _, err := r.providers.Get(profile.ProviderID, profile.Model); err != nil {
		return Outcome{}, fmt.Errorf("orchestrator: primary provider %q: %w", profile.ProviderID, err)
	}

	started := time.Now().UTC()
	dir, err := r.store.Create(started)
	if err != nil {
		return Outcome{}, fmt.Errorf("orchestrator: %w", err)
	}
	runID := filepath.Base(dir)
	span.SetAttributes(attribute.String("run_id", runID))
	log := slog.With(slog.String("run_id", runID), slog.String("profile", profile.Name))
	log.Info("run started", slog.String("workdir", workdir))

	manifest := domain.RunManifest{
		SchemaVersion: domain.SchemaVersion,
		RunID:         runID,
		Profile:       profile.Name,
		StartedAt:     started,
		GitSHA:        r.GitSHA,
		FakeProvider:  r.cfg.FakeProvider,
	}

	counting := newCountingBridge(r.tools)
	roster := []agents.Agent{
		agents.NewTaskFidelity(r.providers, r.chain),
		agents.NewSystemPerf(r.providers),
		agents.NewSecurity(counting),
		agents.NewEthicsRefusal(r.providers),
	}
	bridges := map[string]*countingBridge{domain.PillarSecurity: counting}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]domain.AgentResult, len(roster))
		snaps   = make(map[string]domain.AgentSnapshot, len(roster))
	)
	for _, ag := range roster {
		wg.Add(1)
		go func(ag agents.Agent) {
			defer wg.Done()
			res, snap := r.runAgent(ctx, ag, profile, workdir, dir, log)
			if cb := bridges[ag.Pillar()]; cb != nil {
				snap.ToolCalls = cb.snapshot()
			}
			mu.Lock()
			snaps[ag.Pillar()] = snap
			if snap.State == domain.AgentComplete {
				results[ag.Pillar()] = res
			}
			mu.Unlock()
		}(ag)
	}
	wg.Wait()

	runTrace := make([]domain.AgentSnapshot, 0, len(snaps))
	for _, pillar := range domain.PillarOrder {
		if snap, ok := snaps[pillar]; ok {
			runTrace = append(runTrace, snap)
		}
	}

	outcome := Outcome{RunID: runID, RunDir: dir, Results: results, Trace: runTrace}

	// Cancelled runs keep whatever per-agent artifacts were already written,
	// but no gate is decided and latest is not touched.
	if cerr := ctx.Err(); cerr != nil {
		if err := r.store.WriteJSON(dir, "trace.json", runTrace); err != nil {
			log.Error("write trace after cancellation", slog.Any("error", err))
		}
		manifest.Error = "cancelled"
		if err := r.store.WriteJSON(dir, "run.json", manifest); err != nil {
			log.Error("write manifest after cancellation", slog.Any("error", err))
		}
		log.Warn("run cancelled", slog.Any("cause", cerr))
		return outcome, fmt.Errorf("%w: run %s", domain.ErrCancelled, runID)
	}

	flat, numeric := mergeMetrics(results)
	gate := Gate(numeric, profile.Thresholds)
	verdict := Synthesize(numeric, profile.Thresholds, results)
	failures := collectFailures(results)

	outcome.Gate = gate
	outcome.Verdict = verdict
	outcome.Metrics = flat
	outcome.Failures = failures

	artifacts := []struct {
		name string
		v    any
	}{
		{"metrics.json", flat},
		{"trace.json", runTrace},
		{"gate.json", gate},
		{"verdict.json", verdict},
	}
	for _, a := range artifacts {
		if err := r.store.WriteJSON(dir, a.name, a.v); err != nil {
			return outcome, r.abort(dir, manifest, log, err)
		}
	}
	report := reportData{Manifest: manifest, Gate: gate, Verdict: verdict, Metrics: flat, Failures: failures}
	if err := r.writeReports(dir, report); err != nil {
		return outcome, r.abort(dir, manifest, log, err)
	}
	// latest moves only once run.json is durable, so readers of latest always
	// see a complete run.
	if err := r.store.WriteJSON(dir, "run.json", manifest); err != nil {
		return outcome, r.abort(dir, manifest, log, err)
	}
	if err := r.store.RepointLatest(dir); err != nil {
		return outcome, fmt.Errorf("orchestrator: %w", err)
	}

	if gate.Blocked {
		observability.GateBlockedTotal.Inc()
	}
	observability.RunsTotal.WithLabelValues(string(verdict.Decision)).Inc()
	faith := -1.0
	if f, ok := numeric["faithfulness"]; ok {
		faith = f
	}
	var composite float64
	hasComposite := verdict.Composite != nil
	if hasComposite {
		composite = *verdict.Composite
	}
	observability.ObserveRun(faith, composite, hasComposite)

	span.SetAttributes(
		attribute.String("decision", string(verdict.Decision)),
		attribute.Bool("blocked", gate.Blocked),
	)
	if hasComposite {
		log.Info("run complete",
			slog.String("decision", string(verdict.Decision)),
			slog.Bool("blocked", gate.Blocked),
			slog.Float64("composite", composite))
	} else {
		log.Info("run complete",
			slog.String("decision", string(verdict.Decision)),
			slog.Bool("blocked", gate.Blocked))
	}
	return outcome, nil
}

// runAgent executes one evaluator under its own timeout and persists its
// pillar artifacts on success.
func (r *Runner) runAgent(ctx context.Context, ag agents.Agent, profile domain.Profile, workdir, dir string, log *slog.Logger) (domain.AgentResult, domain.AgentSnapshot) {
	pillar := ag.Pillar()
	snap := domain.AgentSnapshot{Pillar: pillar, State: domain.AgentRunning, StartedAt: time.Now().UTC()}

	actx, cancel := context.WithTimeout(ctx, r.cfg.AgentTimeout())
	actx, span := otel.Tracer(tracerName).Start(actx, "agent."+pillar)
	res, err := ag.Run(actx, profile, workdir)
	span.End()
	cancel()

	snap.CompletedAt = time.Now().UTC()
	snap.LatencySeconds = snap.CompletedAt.Sub(snap.StartedAt).Seconds()
	observability.AgentDuration.WithLabelValues(pillar).Observe(snap.LatencySeconds)

	if err == nil {
		if perr := r.persistAgent(dir, pillar, res); perr != nil {
			err = fmt.Errorf("persist pillar artifacts: %w", perr)
		}
	}
	if err != nil {
		snap.State = domain.AgentFailed
		snap.Error = err.Error()
		observability.AgentFailuresTotal.WithLabelValues(pillar).Inc()
		log.Warn("agent failed", slog.String("pillar", pillar), slog.Any("error", err))
		return domain.AgentResult{}, snap
	}
	snap.State = domain.AgentComplete
	log.Info("agent complete",
		slog.String("pillar", pillar),
		slog.Float64("latency_s", snap.LatencySeconds),
		slog.Int("failures", len(res.Failures)))
	return res, snap
}

// persistAgent writes {pillar}_metrics.json (metrics and meta flattened into
// one object) and, when the agent attached per-sample details,
// {pillar}_details.json.
func (r *Runner) persistAgent(dir, pillar string, res domain.AgentResult) error {
	flat := make(map[string]any, len(res.Metrics)+len(res.Meta))
	for k, v := range res.Metrics {
		flat[k] = v
	}
	for k, v := range res.Meta {
		flat[k] = v
	}
	if err := r.store.WriteJSON(dir, pillar+"_metrics.json", flat); err != nil {
		return err
	}
	if res.Details != nil {
		return r.store.WriteJSON(dir, pillar+"_details.json", res.Details)
	}
	return nil
}

// abort records the failure in run.json so the directory explains itself,
// then surfaces the cause. latest is never repointed at an aborted run.
func (r *Runner) abort(dir string, manifest domain.RunManifest, log *slog.Logger, cause error) error {
	manifest.Error = cause.Error()
	if err := r.store.WriteJSON(dir, "run.json", manifest); err != nil {
		log.Error("write failure manifest", slog.Any("error", err))
	}
	log.Error("run aborted", slog.Any("error", cause))
	return fmt.Errorf("orchestrator: %w", cause)
}

// mergeMetrics flattens per-pillar results into the merged metrics object in
// canonical pillar order. Numeric metrics additionally land in a float map
// for the gate; meta strings ride along in the JSON artifact only.
func mergeMetrics(results map[string]domain.AgentResult) (map[string]any, map[string]float64) {
	flat := make(map[string]any)
	numeric := make(map[string]float64)
	for _, pillar := range domain.PillarOrder {
		res, ok := results[pillar]
		if !ok {
			continue
		}
		for k, v := range res.Metrics {
			flat[k] = v
			numeric[k] = v
		}
		for k, v := range res.Meta {
			flat[k] = v
		}
	}
	return flat, numeric
}

// collectFailures gathers per-sample failures across pillars in canonical
// order, stamping each record with its pillar.
func collectFailures(results map[string]domain.AgentResult) []domain.FailureRecord {
	var out []domain.FailureRecord
	for _, pillar := range domain.PillarOrder {
		res, ok := results[pillar]
		if !ok {
			continue
		}
		for _, f := range res.Failures {
			if f.Pillar == "" {
				f.Pillar = pillar
			}
			out = append(out, f)
		}
	}
	return out
}

// countingBridge wraps the shared tool bridge and tallies calls per tool so
// the run trace can attribute tool usage to the agent holding the wrapper.
type countingBridge struct {
	inner domain.ToolBridge
	mu    sync.Mutex
	calls map[string]int
}

func newCountingBridge(inner domain.ToolBridge) *countingBridge {
	return &countingBridge{inner: inner, calls: make(map[string]int)}
}

func (b *countingBridge) Call(ctx context.Context, tool string, args map[string]any) (domain.ToolResult, error) {
	b.mu.Lock()
	b.calls[tool]++
	b.mu.Unlock()
	return b.inner.Call(ctx, tool, args)
}

func (b *countingBridge) snapshot() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.calls) == 0 {
		return nil
	}
	out := make(map[string]int, len(b.calls))
	for k, v := range b.calls {
		out[k] = v
	}
	return out
}
