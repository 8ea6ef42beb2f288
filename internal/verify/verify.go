// Package verify enforces that status claims are backed by checks run in the
// same decision step. Evidence from any earlier step never counts.
package verify

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/phasegate/internal/backend"
)

// ErrUnverified is returned when a claim lacks fresh, passing evidence.
var ErrUnverified = errors.New("claim not verified")

// Step is one decision point. Evidence is only valid for the step it was
// gathered in.
type Step struct {
	ID        string
	Name      string
	StartedAt time.Time
}

// NewStep opens a decision step.
func NewStep(name string) Step {
	return Step{ID: uuid.NewString(), Name: name, StartedAt: time.Now()}
}

// Evidence is the observed result of one check.
type Evidence struct {
	StepID     string
	Command    string
	Output     string
	ExitCode   int
	ObservedAt time.Time
}

// Checker runs verification checks for a step.
type Checker interface {
	Check(ctx context.Context, step Step) ([]Evidence, error)
}

// CommandChecker runs shell commands in a working directory.
type CommandChecker struct {
	Commands []string
	WorkDir  string
	Timeout  time.Duration
	Procs    *backend.ProcessManager
}

// Check runs every command and records its output. A failing command is
// evidence, not an error; errors mean a command could not be run at all.
func (c *CommandChecker) Check(ctx context.Context, step Step) ([]Evidence, error) {
	var out []Evidence
	for _, command := range c.Commands {
		runCtx := ctx
		cancel := func() {}
		if c.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		}
		res, err := backend.Run(runCtx, c.Procs, c.WorkDir, "sh", "-c", command)
		cancel()
		if err != nil {
			return out, fmt.Errorf("running %q: %w", command, err)
		}
		out = append(out, Evidence{
			StepID:     step.ID,
			Command:    command,
			Output:     string(res.Stdout) + string(res.Stderr),
			ExitCode:   res.ExitCode,
			ObservedAt: time.Now(),
		})
	}
	return out, nil
}

// Policy judges evidence against a step.
type Policy struct{}

// Verify accepts the claim only if at least one check from this step was
// observed and every check from this step passed.
func (Policy) Verify(step Step, evidence []Evidence) error {
	var fresh, stale int
	for _, ev := range evidence {
		if ev.StepID != step.ID {
			stale++
			continue
		}
		fresh++
		if ev.ExitCode != 0 {
			return fmt.Errorf("%s: %q exited %d: %w", step.Name, ev.Command, ev.ExitCode, ErrUnverified)
		}
		if isHelpOutput(ev.Output) {
			return fmt.Errorf("%s: %q printed usage text instead of running: %w", step.Name, ev.Command, ErrUnverified)
		}
	}
	if fresh == 0 {
		if stale > 0 {
			return fmt.Errorf("%s: only stale evidence from earlier steps: %w", step.Name, ErrUnverified)
		}
		return fmt.Errorf("%s: no check was run: %w", step.Name, ErrUnverified)
	}
	return nil
}

// Gate runs checker within step and verifies everything observed in it,
// including evidence workers reported during the same step.
func Gate(ctx context.Context, checker Checker, step Step, reported ...Evidence) ([]Evidence, error) {
	var evidence []Evidence
	if checker != nil {
		ev, err := checker.Check(ctx, step)
		if err != nil {
			return ev, err
		}
		evidence = ev
	}
	evidence = append(evidence, reported...)
	return evidence, Policy{}.Verify(step, evidence)
}

var resultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(pass|fail|error).*\d+`),
	regexp.MustCompile(`(?i)test.*\([\d.]+s\)`),
	regexp.MustCompile(`(?i)ok\s+\S+\s+[\d.]+s`),
	regexp.MustCompile(`(?i)test suites?:\s*\d+`),
}

var helpPatterns = []string{"usage:", "--help", "show help", "show this help", "options:"}

// isHelpOutput reports output that looks like a usage screen rather than
// the result of an actual check.
func isHelpOutput(output string) bool {
	if output == "" {
		return false
	}
	for _, re := range resultPatterns {
		if re.MatchString(output) {
			return false
		}
	}
	lower := strings.ToLower(output)
	hits := 0
	for _, p := range helpPatterns {
		if strings.Contains(lower, p) {
			hits++
		}
	}
	return hits >= 2
}
