package agents

import (
	"context"
	"fmt"

	"github.com/trustbench/trustbench/internal/adapter/toolbridge"
	"github.com/trustbench/trustbench/internal/domain"
	"github.com/trustbench/trustbench/internal/profile"
)

// Security exercises the guard and scan tools. Tool failures become
// failure records with reason tool_error; the pillar itself only errors on
// configuration problems or cancellation.
type Security struct {
	tools domain.ToolBridge
}

func NewSecurity(tools domain.ToolBridge) *Security {
	return &Security{tools: tools}
}

func (a *Security) Pillar() string { return domain.PillarSecurity }

type securityDetail struct {
	Guard   map[string]any `json:"prompt_guard,omitempty"`
	Semgrep map[string]any `json:"semgrep,omitempty"`
	Secrets map[string]any `json:"secrets_scan,omitempty"`
}

func (a *Security) Run(ctx context.Context, p domain.Profile, workdir string) (domain.AgentResult, error) {
	prompts, err := profile.LoadPrompts(p.AdversarialPath)
	if err != nil {
		return domain.AgentResult{}, fmt.Errorf("security_eval: %w", err)
	}
	texts := make([]string, len(prompts))
	for i, pr := range prompts {
		texts[i] = pr.Text
	}

	repoPath := p.RepoPath
	if repoPath == "" {
		repoPath = workdir
	}

	metrics := map[string]float64{"samples": float64(len(texts))}
	failures := make([]domain.FailureRecord, 0)
	details := securityDetail{}

	guard, err := a.tools.Call(ctx, toolbridge.ToolPromptGuard, map[string]any{"prompts": texts})
	if err != nil {
		return domain.AgentResult{}, fmt.Errorf("security_eval: %w", err)
	}
	if guard.OK {
		details.Guard = guard.Data
		total := guard.Float("total")
		if total == 0 {
			total = float64(len(texts))
		}
		if total > 0 {
			metrics["injection_block_rate"] = guard.Float("blocked") / total
		}
		for _, bypass := range mapSlice(guard.Data["bypasses"]) {
			id, _ := bypass["prompt_id"].(string)
			promptText, _ := bypass["prompt"].(string)
			failures = append(failures, domain.FailureRecord{
				Pillar: domain.PillarSecurity,
				ID:     id,
				Reason: "injection_bypass",
				Detail: promptText,
			})
		}
	} else {
		failures = append(failures, toolFailure(toolbridge.ToolPromptGuard, guard.Error))
	}

	semgrepArgs := map[string]any{"path": repoPath}
	if p.RulesPath != "" {
		semgrepArgs["rules_path"] = p.RulesPath
	}
	semgrep, err := a.tools.Call(ctx, toolbridge.ToolSemgrep, semgrepArgs)
	if err != nil {
		return domain.AgentResult{}, fmt.Errorf("security_eval: %w", err)
	}
	if semgrep.OK {
		details.Semgrep = semgrep.Data
		count := findingCount(semgrep)
		metrics["semgrep_findings"] = count
		if count > 0 {
			failures = append(failures, domain.FailureRecord{
				Pillar: domain.PillarSecurity,
				Reason: "semgrep_findings",
				Detail: fmt.Sprintf("%d static analysis findings in %s", int(count), repoPath),
			})
		}
	} else {
		failures = append(failures, toolFailure(toolbridge.ToolSemgrep, semgrep.Error))
	}

	secrets, err := a.tools.Call(ctx, toolbridge.ToolSecretsScan, map[string]any{"path": repoPath})
	if err != nil {
		return domain.AgentResult{}, fmt.Errorf("security_eval: %w", err)
	}
	if secrets.OK {
		details.Secrets = secrets.Data
		count := findingCount(secrets)
		metrics["secret_findings"] = count
		if count > 0 {
			failures = append(failures, domain.FailureRecord{
				Pillar: domain.PillarSecurity,
				Reason: "secret_leak",
				Detail: fmt.Sprintf("%d potential secrets in %s", int(count), repoPath),
			})
		}
	} else {
		failures = append(failures, toolFailure(toolbridge.ToolSecretsScan, secrets.Error))
	}

	return domain.AgentResult{
		Pillar:   domain.PillarSecurity,
		Metrics:  metrics,
		Failures: failures,
		Details:  details,
	}, nil
}

func toolFailure(tool, detail string) domain.FailureRecord {
	return domain.FailureRecord{
		Pillar: domain.PillarSecurity,
		ID:     tool,
		Reason: "tool_error",
		Detail: detail,
	}
}

// findingCount prefers the findings array length and falls back to the
// tool's own stats.count summary.
func findingCount(res domain.ToolResult) float64 {
	if f := res.Findings(); len(f) > 0 {
		return float64(len(f))
	}
	if stats := res.Stats(); stats != nil {
		if c, ok := stats["count"].(float64); ok {
			return c
		}
	}
	return 0
}

func mapSlice(v any) []map[string]any {
	raw, ok := v.([]any)
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
