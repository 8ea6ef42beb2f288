package worker

import (
	"fmt"
	"strings"
	"time"
)

// Assignment is everything a fresh worker needs: the original subject plus
// the latest feedback. Nothing from earlier invocations is carried over.
type Assignment struct {
	Role     Role
	Angle    string   // Distinct per team member
	Phase    string
	TaskID   string
	Subject  string   // Short title of the work
	Payload  string   // The work itself: task, criteria, files to inspect
	Context  string   // Read-only project state visible to this phase
	Feedback []string // Latest findings or checkpoint feedback
	StepID   string   // Verification step any reported evidence belongs to
}

// Invocation is one execution of a worker. It is never reused: a retry is a
// new Invocation.
type Invocation struct {
	ID         string
	Role       Role
	Phase      string
	TaskID     string
	Attempt    int
	Assignment Assignment
	StartedAt  time.Time
}

const reportFormat = `Reply with your narrative followed by one JSON object in a ` + "```json" + ` block:
{
  "narrative": "what you did or found",
  "touched_files": ["relative/path"],
  "criteria": ["requirement or acceptance criterion"],
  "facts": {"key": "value"},
  "tasks": [{"id": "T1", "description": "...", "criteria": ["..."], "depends_on": []}],
  "verdict": "pass | fail",
  "findings": [{"category": "missing | extra | misunderstood", "severity": "critical | important | suggestion", "text": "..."}],
  "evidence": [{"command": "exact command you ran", "output": "its output", "exit_code": 0}],
  "questions": ["only if you cannot proceed without an answer"]
}
Omit fields that do not apply.`

// Prompt renders the assignment as the first message of an invocation.
func (a Assignment) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Role: %s\n", a.Role)
	if a.Angle != "" {
		fmt.Fprintf(&b, "Focus: %s\n", a.Angle)
	}
	if a.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", a.Subject)
	}
	if a.Payload != "" {
		b.WriteString("\n")
		b.WriteString(a.Payload)
		b.WriteString("\n")
	}
	if a.Context != "" {
		b.WriteString("\n# Project context\n")
		b.WriteString(a.Context)
		b.WriteString("\n")
	}
	if len(a.Feedback) > 0 {
		b.WriteString("\n# Feedback to address\n")
		for _, f := range a.Feedback {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	b.WriteString("\n")
	b.WriteString(reportFormat)
	return b.String()
}

func answerPrompt(questions, answers []string) string {
	var b strings.Builder
	b.WriteString("Answers to your questions:\n")
	for i, q := range questions {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n", q, answers[i])
	}
	b.WriteString("\nContinue the same work and reply in the same format.")
	return b.String()
}
