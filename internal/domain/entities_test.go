package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestJobStateTransitions(t *testing.T) {
	tests := []struct {
		name string
		from JobState
		to   JobState
		ok   bool
	}{
		{"queued to cloning", JobQueued, JobCloning, true},
		{"cloning to analyzing", JobCloning, JobAnalyzing, true},
		{"analyzing to evaluating", JobAnalyzing, JobEvaluating, true},
		{"evaluating to reporting", JobEvaluating, JobReporting, true},
		{"reporting to complete", JobReporting, JobComplete, true},
		{"skip ahead", JobQueued, JobEvaluating, true},
		{"any to failed", JobAnalyzing, JobFailed, true},
		{"backwards", JobEvaluating, JobCloning, false},
		{"same state", JobCloning, JobCloning, false},
		{"out of complete", JobComplete, JobReporting, false},
		{"out of failed", JobFailed, JobQueued, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.ok {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
			}
		})
	}
}

func TestJobStateTerminal(t *testing.T) {
	for _, s := range []JobState{JobQueued, JobCloning, JobAnalyzing, JobEvaluating, JobReporting} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []JobState{JobComplete, JobFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestJobStateProgressMonotonic(t *testing.T) {
	order := []JobState{JobQueued, JobCloning, JobAnalyzing, JobEvaluating, JobReporting, JobComplete}
	prev := -1.0
	for _, s := range order {
		p := s.Progress()
		if p < prev {
			t.Errorf("progress for %s = %v, below previous %v", s, p, prev)
		}
		if p < 0 || p > 1 {
			t.Errorf("progress for %s = %v, outside [0,1]", s, p)
		}
		prev = p
	}
	if JobComplete.Progress() != 1.0 {
		t.Errorf("complete progress = %v, want 1.0", JobComplete.Progress())
	}
}

func TestProfileHasFallback(t *testing.T) {
	p := Profile{ProviderID: "openai", Model: "gpt-4o-mini"}
	if p.HasFallback() {
		t.Error("profile without fallback fields should report no fallback")
	}
	p.FallbackProviderID = "openai"
	if p.HasFallback() {
		t.Error("fallback provider without model should not count")
	}
	p.FallbackModel = "gpt-4o"
	if !p.HasFallback() {
		t.Error("profile with both fallback fields should report fallback")
	}
}

func TestToolResultAccessors(t *testing.T) {
	res := ToolResult{
		OK: true,
		Data: map[string]any{
			"blocked": float64(3),
			"total":   float64(4),
			"rate":    0.75,
			"branch":  "main",
			"found":   true,
			"findings": []any{
				map[string]any{"rule": "hardcoded-secret", "path": "config.py"},
			},
			"stats": map[string]any{"files_scanned": float64(12)},
		},
	}

	if got := res.Int("blocked"); got != 3 {
		t.Errorf("Int(blocked) = %d, want 3", got)
	}
	if got := res.Float("rate"); got != 0.75 {
		t.Errorf("Float(rate) = %v, want 0.75", got)
	}
	if got := res.Str("branch"); got != "main" {
		t.Errorf("Str(branch) = %q, want main", got)
	}
	if !res.Bool("found") {
		t.Error("Bool(found) = false, want true")
	}
	findings := res.Findings()
	if len(findings) != 1 || findings[0]["rule"] != "hardcoded-secret" {
		t.Errorf("Findings() = %v, want one hardcoded-secret finding", findings)
	}
	if stats := res.Stats(); stats["files_scanned"] != float64(12) {
		t.Errorf("Stats() = %v, want files_scanned 12", stats)
	}

	empty := ToolResult{OK: false, Error: "bridge unreachable"}
	if empty.Findings() != nil {
		t.Error("Findings() on empty payload should be nil")
	}
	if empty.Int("blocked") != 0 || empty.Str("branch") != "" || empty.Bool("found") {
		t.Error("accessors on empty payload should return zero values")
	}
}

func TestRetryPolicyLinearDelay(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2, Backoff: 250 * time.Millisecond}
	if d := p.Delay(1); d != 250*time.Millisecond {
		t.Errorf("Delay(1) = %v, want 250ms", d)
	}
	if d := p.Delay(2); d != 500*time.Millisecond {
		t.Errorf("Delay(2) = %v, want 500ms", d)
	}
	if d := p.Delay(0); d != 250*time.Millisecond {
		t.Errorf("Delay(0) = %v, want clamp to one backoff", d)
	}
}

func TestRetryPolicyShouldRetry(t *testing.T) {
	p := DefaultRetryPolicy()

	rateLimited := fmt.Errorf("%w: 429 from upstream", ErrRateLimited)
	if !p.ShouldRetry(1, rateLimited) {
		t.Error("rate limited on first failure should retry")
	}
	if !p.ShouldRetry(2, ErrTimeout) {
		t.Error("timeout within budget should retry")
	}
	if p.ShouldRetry(3, ErrTimeout) {
		t.Error("budget exhausted should not retry")
	}
	if p.ShouldRetry(1, ErrUnauthorized) {
		t.Error("unauthorized is not retriable")
	}
	if p.ShouldRetry(1, ErrParse) {
		t.Error("parse errors are not retriable at this layer")
	}
}

func TestIsRetriable(t *testing.T) {
	retriable := []error{
		ErrRateLimited,
		ErrTimeout,
		fmt.Errorf("%w: slow upstream", ErrTimeout),
	}
	for _, err := range retriable {
		if !IsRetriable(err) {
			t.Errorf("IsRetriable(%v) = false, want true", err)
		}
	}
	fatal := []error{
		ErrConfig,
		ErrUnauthorized,
		ErrModelUnavailable,
		ErrParse,
		ErrTool,
		ErrCancelled,
		ErrStorage,
		errors.New("some other error"),
	}
	for _, err := range fatal {
		if IsRetriable(err) {
			t.Errorf("IsRetriable(%v) = true, want false", err)
		}
	}
}

func TestPillarOrder(t *testing.T) {
	want := []string{"task", "system", "security", "ethics"}
	if len(PillarOrder) != len(want) {
		t.Fatalf("PillarOrder has %d entries, want %d", len(PillarOrder), len(want))
	}
	for i, p := range want {
		if PillarOrder[i] != p {
			t.Errorf("PillarOrder[%d] = %q, want %q", i, PillarOrder[i], p)
		}
	}
}
