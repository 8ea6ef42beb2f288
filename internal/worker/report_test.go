package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutputFencedReport(t *testing.T) {
	out := "I added the handler.\n```json\n" + `{
  "touched_files": ["api/handler.go", " api/handler.go ", ""],
  "verdict": "PASS",
  "findings": [{"category": "Missing", "text": "no tests"}, {"text": "  "}],
  "evidence": [{"command": "go test ./...", "output": "ok", "exit_code": 0}]
}` + "\n```"

	r, questions, err := ParseOutput(out)
	require.NoError(t, err)
	assert.Empty(t, questions)
	assert.Equal(t, "I added the handler.", r.Narrative)
	assert.Equal(t, []string{"api/handler.go"}, r.TouchedFiles)
	assert.Equal(t, VerdictPass, r.Verdict)
	require.Len(t, r.Findings, 1)
	assert.Equal(t, CategoryMissing, r.Findings[0].Category)
	require.Len(t, r.Evidence, 1)
	assert.Equal(t, "go test ./...", r.Evidence[0].Command)
}

func TestParseOutputBareJSON(t *testing.T) {
	r, _, err := ParseOutput(`{"narrative": "explored", "facts": {"project_type": "existing"}}`)
	require.NoError(t, err)
	assert.Equal(t, "explored", r.Narrative)
	assert.Equal(t, "existing", r.Facts["project_type"])
}

func TestParseOutputQuestions(t *testing.T) {
	r, questions, err := ParseOutput(reply(`{"questions": ["Which database?"]}`))
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Equal(t, []string{"Which database?"}, questions)
}

func TestParseOutputNarrativeOnly(t *testing.T) {
	r, _, err := ParseOutput("  just prose  ")
	require.NoError(t, err)
	assert.Equal(t, "just prose", r.Narrative)
	assert.Empty(t, r.TouchedFiles)
}

func TestParseOutputMalformed(t *testing.T) {
	_, _, err := ParseOutput("```json\n{\"verdict\": }\n```")
	assert.ErrorContains(t, err, "malformed")
}

func TestFindingString(t *testing.T) {
	assert.Equal(t, "critical: leak", Finding{Severity: SeverityCritical, Text: "leak"}.String())
	assert.Equal(t, "extra: flag", Finding{Category: CategoryExtra, Text: "flag"}.String())
	assert.Equal(t, "plain", Finding{Text: "plain"}.String())
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("spec_reviewer")
	require.NoError(t, err)
	assert.Equal(t, SpecReviewer, r)
	_, err = ParseRole("manager")
	assert.Error(t, err)
}

func TestPromptCarriesFeedbackOnly(t *testing.T) {
	a := Assignment{Role: Implementer, Subject: "T1", Payload: "Build it", Feedback: []string{"missing: tests"}}
	p := a.Prompt()
	assert.Contains(t, p, "Build it")
	assert.Contains(t, p, "- missing: tests")
	assert.Contains(t, p, "```json")
}
