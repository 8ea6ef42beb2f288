package worker

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/aristath/phasegate/internal/verify"
)

// Verdict values reported by reviewers.
const (
	VerdictPass = "pass"
	VerdictFail = "fail"
)

// Finding categories for spec compliance.
const (
	CategoryMissing       = "missing"
	CategoryExtra         = "extra"
	CategoryMisunderstood = "misunderstood"
)

// Finding severities for quality review.
const (
	SeverityCritical   = "critical"
	SeverityImportant  = "important"
	SeveritySuggestion = "suggestion"
)

// Finding is one reviewer observation.
type Finding struct {
	Category string `json:"category,omitempty"`
	Severity string `json:"severity,omitempty"`
	Text     string `json:"text"`
}

func (f Finding) String() string {
	label := f.Category
	if f.Severity != "" {
		label = f.Severity
	}
	if label == "" {
		return f.Text
	}
	return label + ": " + f.Text
}

// PlannedTask is a task proposed by the planning worker.
type PlannedTask struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Criteria    []string `json:"criteria"`
	DependsOn   []string `json:"depends_on"`
}

// Report is the structured result of an invocation.
type Report struct {
	InvocationID string
	SessionID    string
	Role         Role
	Angle        string
	Narrative    string
	TouchedFiles []string
	Criteria     []string
	Facts        map[string]string
	Tasks        []PlannedTask
	Verdict      string
	Findings     []Finding
	Evidence     []verify.Evidence
}

type wireEvidence struct {
	Command  string `json:"command"`
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

type wireReport struct {
	Narrative    string            `json:"narrative"`
	TouchedFiles []string          `json:"touched_files"`
	Criteria     []string          `json:"criteria"`
	Facts        map[string]string `json:"facts"`
	Tasks        []PlannedTask     `json:"tasks"`
	Verdict      string            `json:"verdict"`
	Findings     []Finding         `json:"findings"`
	Evidence     []wireEvidence    `json:"evidence"`
	Questions    []string          `json:"questions"`
}

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// ParseOutput turns worker text into a report or a list of clarification
// questions. Text without any JSON object is a narrative-only report.
func ParseOutput(content string) (*Report, []string, error) {
	raw, prose := extractJSON(content)
	if raw == "" {
		return &Report{Narrative: strings.TrimSpace(content)}, nil, nil
	}

	var w wireReport
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, nil, fmt.Errorf("malformed worker report: %w", err)
	}
	if len(w.Questions) > 0 {
		return nil, w.Questions, nil
	}

	r := &Report{
		Narrative:    w.Narrative,
		TouchedFiles: cleanList(w.TouchedFiles),
		Criteria:     cleanList(w.Criteria),
		Facts:        w.Facts,
		Tasks:        w.Tasks,
		Verdict:      strings.ToLower(strings.TrimSpace(w.Verdict)),
		Findings:     normalizeFindings(w.Findings),
	}
	if r.Narrative == "" {
		r.Narrative = prose
	}
	for _, ev := range w.Evidence {
		r.Evidence = append(r.Evidence, verify.Evidence{Command: ev.Command, Output: ev.Output, ExitCode: ev.ExitCode})
	}
	return r, nil, nil
}

// extractJSON returns the JSON object in content and the prose before it.
func extractJSON(content string) (string, string) {
	if m := fencedJSON.FindStringSubmatchIndex(content); m != nil {
		return content[m[2]:m[3]], strings.TrimSpace(content[:m[0]])
	}
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed, ""
	}
	return "", ""
}

func cleanList(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func normalizeFindings(in []Finding) []Finding {
	out := make([]Finding, 0, len(in))
	for _, f := range in {
		f.Category = strings.ToLower(strings.TrimSpace(f.Category))
		f.Severity = strings.ToLower(strings.TrimSpace(f.Severity))
		f.Text = strings.TrimSpace(f.Text)
		if f.Text == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}
