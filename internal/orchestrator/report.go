package orchestrator

import (
	"bytes"
	"embed"
	"encoding/csv"
	"fmt"
	"html/template"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/trustbench/trustbench/internal/adapter/runstore"
	"github.com/trustbench/trustbench/internal/domain"
)

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var htmlReport = template.Must(template.New("report.html.tmpl").
	Funcs(template.FuncMap{"join": strings.Join}).
	ParseFS(templateFS, "templates/report.html.tmpl"))

// reportData is everything the human-facing artifacts are rendered from.
type reportData struct {
	Manifest domain.RunManifest
	Gate     domain.GateResult
	Verdict  domain.Verdict
	Metrics  map[string]any
	Failures []domain.FailureRecord
}

// reportView is reportData flattened into display strings so the markdown
// and HTML renderers share one deterministic shape.
type reportView struct {
	RunID        string
	Profile      string
	StartedAt    string
	FakeProvider bool
	Decision     string
	Confidence   string
	Composite    string
	Blocked      bool
	FailedGate   []string
	Pillars      []pillarRow
	Metrics      []metricRow
	Drivers      []string
	Actions      []string
	Failures     []domain.FailureRecord
}

type pillarRow struct {
	Pillar  string
	Status  string
	Score   string
	Summary string
}

type metricRow struct {
	Key   string
	Value string
}

// writeReports renders report.md, report.html and, when any sample failed,
// failures.csv into the run directory.
func (r *Runner) writeReports(dir string, data reportData) error {
	view := buildReportView(data)
	if err := runstore.WriteFileAtomic(dir, "report.md", renderMarkdown(view)); err != nil {
		return err
	}
	page, err := renderHTML(view)
	if err != nil {
		return fmt.Errorf("render html report: %w", err)
	}
	if err := runstore.WriteFileAtomic(dir, "report.html", page); err != nil {
		return err
	}
	if len(data.Failures) == 0 {
		return nil
	}
	rows, err := renderFailuresCSV(data.Failures)
	if err != nil {
		return fmt.Errorf("render failures csv: %w", err)
	}
	return runstore.WriteFileAtomic(dir, "failures.csv", rows)
}

func buildReportView(d reportData) reportView {
	v := reportView{
		RunID:        d.Manifest.RunID,
		Profile:      d.Manifest.Profile,
		StartedAt:    d.Manifest.StartedAt.Format(time.RFC3339),
		FakeProvider: d.Manifest.FakeProvider,
		Decision:     string(d.Verdict.Decision),
		Confidence:   string(d.Verdict.Confidence),
		Composite:    "n/a",
		Blocked:      d.Gate.Blocked,
		FailedGate:   d.Gate.Failed,
		Drivers:      d.Verdict.Drivers,
		Actions:      d.Verdict.Actions,
		Failures:     d.Failures,
	}
	if d.Verdict.Composite != nil {
		v.Composite = fmt.Sprintf("%.3f", *d.Verdict.Composite)
	}
	for _, pillar := range domain.PillarOrder {
		pv, ok := d.Verdict.Pillars[pillar]
		if !ok {
			continue
		}
		v.Pillars = append(v.Pillars, pillarRow{
			Pillar:  pillar,
			Status:  pv.Status,
			Score:   fmt.Sprintf("%.3f", pv.Score),
			Summary: pv.Summary,
		})
	}
	keys := make([]string, 0, len(d.Metrics))
	for k := range d.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v.Metrics = append(v.Metrics, metricRow{Key: k, Value: formatMetric(d.Metrics[k])})
	}
	return v
}

func renderMarkdown(v reportView) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# TrustBench Report: %s\n\n", v.RunID)
	fmt.Fprintf(&b, "- Profile: %s\n", v.Profile)
	fmt.Fprintf(&b, "- Started: %s\n", v.StartedAt)
	if v.FakeProvider {
		b.WriteString("- Provider: fake (deterministic)\n")
	}
	fmt.Fprintf(&b, "- Decision: %s (confidence: %s)\n", strings.ToUpper(v.Decision), v.Confidence)
	fmt.Fprintf(&b, "- Composite: %s\n", v.Composite)
	if v.Blocked {
		fmt.Fprintf(&b, "- Gate: BLOCKED (%s)\n", strings.Join(v.FailedGate, ", "))
	} else {
		b.WriteString("- Gate: passed\n")
	}

	b.WriteString("\n## Pillars\n\n| Pillar | Status | Score | Summary |\n|---|---|---|---|\n")
	for _, p := range v.Pillars {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", p.Pillar, p.Status, p.Score, mdCell(p.Summary))
	}

	if len(v.Drivers) > 0 {
		b.WriteString("\n## Drivers\n\n")
		for _, d := range v.Drivers {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}
	if len(v.Actions) > 0 {
		b.WriteString("\n## Actions\n\n")
		for _, a := range v.Actions {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}

	b.WriteString("\n## Metrics\n\n| Metric | Value |\n|---|---|\n")
	for _, m := range v.Metrics {
		fmt.Fprintf(&b, "| %s | %s |\n", m.Key, mdCell(m.Value))
	}

	if len(v.Failures) > 0 {
		fmt.Fprintf(&b, "\n## Failures (%d)\n\n| Pillar | ID | Reason | Detail |\n|---|---|---|---|\n", len(v.Failures))
		for _, f := range v.Failures {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", f.Pillar, f.ID, f.Reason, mdCell(f.Detail))
		}
	}
	return []byte(b.String())
}

func renderHTML(v reportView) ([]byte, error) {
	var buf bytes.Buffer
	if err := htmlReport.Execute(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderFailuresCSV(failures []domain.FailureRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"pillar", "id", "reason", "detail"}); err != nil {
		return nil, err
	}
	for _, f := range failures {
		if err := w.Write([]string{f.Pillar, f.ID, f.Reason, f.Detail}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// mdCell keeps free text from breaking markdown table rows.
func mdCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", "\\|")
}

// formatMetric renders merged metric values: whole floats without decimals,
// fractional floats to three places, meta strings as-is.
func formatMetric(v any) string {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e9 {
			return strconv.FormatFloat(x, 'f', 0, 64)
		}
		return strconv.FormatFloat(x, 'f', 3, 64)
	case string:
		return x
	default:
		return fmt.Sprintf("%v", x)
	}
}
