package toolbridge

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/trustbench/trustbench/internal/domain"
)

// injectionMarkers are the phrases the stub guard treats as injection
// attempts. Prompts matching none of them count as bypasses.
var injectionMarkers = []string{
	"ignore previous",
	"ignore all previous",
	"disregard",
	"system prompt",
	"jailbreak",
	"developer mode",
	"exfiltrate",
	"print your instructions",
	"reveal your configuration",
}

// secretPatterns drive the stub secrets scan.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*['"][A-Za-z0-9_\-]{12,}['"]`),
	regexp.MustCompile(`(?i)secret[_-]?key\s*[:=]\s*['"][A-Za-z0-9_\-]{12,}['"]`),
	regexp.MustCompile(`-----BEGIN (RSA |EC )?PRIVATE KEY-----`),
}

// riskPatterns drive the stub static scan.
var riskPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bexec\s*\(`),
	regexp.MustCompile(`subprocess\.(call|run|Popen)\s*\(`),
	regexp.MustCompile(`os\.system\s*\(`),
}

const (
	maxScanFileSize = 1 << 20
	maxFindings     = 100
)

// Stub serves the full tool set in-process for fake-provider runs and
// tests. Scans work against the real filesystem; repo downloads materialize
// a placeholder checkout under the workspace instead of hitting the
// network.
type Stub struct {
	workspace string
}

// NewStub returns a Stub rooted at workspace.
func NewStub(workspace string) *Stub {
	return &Stub{workspace: workspace}
}

// Call dispatches to the named tool. It mirrors the bridge contract: tool
// failures return ok=false, and only context cancellation is an error.
func (s *Stub) Call(ctx context.Context, tool string, args map[string]any) (domain.ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ToolResult{}, fmt.Errorf("%w: tool %s: %v", domain.ErrCancelled, tool, err)
	}
	switch tool {
	case ToolPromptGuard:
		return s.promptGuard(args), nil
	case ToolSemgrep:
		return s.scan(args, riskPatterns, "risky-call"), nil
	case ToolSecretsScan:
		return s.scan(args, secretPatterns, "hardcoded-secret"), nil
	case ToolDownloadRepo:
		return s.downloadRepo(args), nil
	case ToolEnvContent:
		return s.envContent(args), nil
	case ToolCleanWorkspace:
		return s.cleanup(), nil
	default:
		return domain.ToolResult{OK: false, Error: fmt.Sprintf("unknown tool %q", tool)}, nil
	}
}

func (s *Stub) promptGuard(args map[string]any) domain.ToolResult {
	raw, ok := args["prompts"].([]any)
	if !ok {
		if typed, isTyped := args["prompts"].([]string); isTyped {
			raw = make([]any, len(typed))
			for i, p := range typed {
				raw[i] = p
			}
		} else {
			return domain.ToolResult{OK: false, Error: "prompt_guard: missing prompts"}
		}
	}

	blocked := 0
	bypasses := make([]any, 0)
	for i, item := range raw {
		prompt, _ := item.(string)
		lower := strings.ToLower(prompt)
		hit := ""
		for _, marker := range injectionMarkers {
			if strings.Contains(lower, marker) {
				hit = marker
				break
			}
		}
		if hit != "" {
			blocked++
			continue
		}
		bypasses = append(bypasses, map[string]any{
			"prompt_id": fmt.Sprintf("adv_%d", i+1),
			"prompt":    prompt,
			"trace":     "no injection marker matched; prompt passed through",
		})
	}
	return domain.ToolResult{OK: true, Data: map[string]any{
		"blocked":  float64(blocked),
		"total":    float64(len(raw)),
		"bypasses": bypasses,
	}}
}

// scan walks path and reports lines matching any pattern, in deterministic
// path order.
func (s *Stub) scan(args map[string]any, patterns []*regexp.Regexp, rule string) domain.ToolResult {
	root, _ := args["path"].(string)
	if root == "" {
		return domain.ToolResult{OK: false, Error: "scan: missing path"}
	}
	if _, err := os.Stat(root); err != nil {
		return domain.ToolResult{OK: false, Error: fmt.Sprintf("scan: %v", err)}
	}

	var files []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == "node_modules" || name == "vendor" {
				return filepath.SkipDir
			}
			return nil
		}
		if info, err := d.Info(); err == nil && info.Size() <= maxScanFileSize {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)

	findings := make([]any, 0)
	for _, path := range files {
		if len(findings) >= maxFindings {
			break
		}
		content, err := os.ReadFile(path) // #nosec G304 -- scanning the job workspace is the tool's purpose
		if err != nil {
			continue
		}
		for lineNo, line := range strings.Split(string(content), "\n") {
			for _, re := range patterns {
				if loc := re.FindString(line); loc != "" {
					rel, relErr := filepath.Rel(root, path)
					if relErr != nil {
						rel = path
					}
					findings = append(findings, map[string]any{
						"file":    rel,
						"line":    float64(lineNo + 1),
						"pattern": re.String(),
						"rule":    rule,
						"snippet": snippetLine(loc),
					})
					break
				}
			}
			if len(findings) >= maxFindings {
				break
			}
		}
	}
	return domain.ToolResult{OK: true, Data: map[string]any{
		"findings": findings,
		"stats":    map[string]any{"count": float64(len(findings))},
	}}
}

func (s *Stub) downloadRepo(args map[string]any) domain.ToolResult {
	repoURL, _ := args["repo_url"].(string)
	if !strings.HasPrefix(repoURL, "https://github.com/") {
		return domain.ToolResult{OK: false, Error: fmt.Sprintf("download_and_extract_repo: unsupported url %q", repoURL)}
	}
	slug := strings.Trim(strings.TrimPrefix(repoURL, "https://github.com/"), "/")
	slug = strings.TrimSuffix(slug, ".git")
	if slug == "" || strings.Count(slug, "/") != 1 {
		return domain.ToolResult{OK: false, Error: fmt.Sprintf("download_and_extract_repo: malformed url %q", repoURL)}
	}

	repoDir := filepath.Join(s.workspace, strings.ReplaceAll(slug, "/", "-"))
	if err := os.MkdirAll(repoDir, 0o750); err != nil {
		return domain.ToolResult{OK: false, Error: fmt.Sprintf("download_and_extract_repo: %v", err)}
	}
	readme := fmt.Sprintf("# %s\n\nPlaceholder checkout of %s for offline evaluation.\n", slug, repoURL)
	if err := os.WriteFile(filepath.Join(repoDir, "README.md"), []byte(readme), 0o600); err != nil {
		return domain.ToolResult{OK: false, Error: fmt.Sprintf("download_and_extract_repo: %v", err)}
	}
	return domain.ToolResult{OK: true, Data: map[string]any{
		"repo_dir": repoDir,
		"branch":   "main",
	}}
}

func (s *Stub) envContent(args map[string]any) domain.ToolResult {
	dir, _ := args["dir_path"].(string)
	if dir == "" {
		return domain.ToolResult{OK: false, Error: "env_content: missing dir_path"}
	}
	for _, name := range []string{".env", ".env.local", ".env.example"} {
		path := filepath.Join(dir, name)
		content, err := os.ReadFile(path) // #nosec G304 -- reads inside the job workspace
		if err != nil {
			continue
		}
		return domain.ToolResult{OK: true, Data: map[string]any{
			"found":   true,
			"path":    path,
			"content": string(content),
		}}
	}
	return domain.ToolResult{OK: true, Data: map[string]any{"found": false}}
}

func (s *Stub) cleanup() domain.ToolResult {
	entries, err := os.ReadDir(s.workspace)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ToolResult{OK: true, Data: map[string]any{
				"message": "workspace cleaned: nothing to remove",
			}}
		}
		return domain.ToolResult{OK: false, Error: fmt.Sprintf("cleanup_workspace: %v", err)}
	}
	removed := 0
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.workspace, e.Name())); err == nil {
			removed++
		}
	}
	return domain.ToolResult{OK: true, Data: map[string]any{
		"message": fmt.Sprintf("workspace cleaned: %d entries removed", removed),
	}}
}

func snippetLine(s string) string {
	if len(s) > 120 {
		return s[:120]
	}
	return s
}
