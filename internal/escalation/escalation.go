// Package escalation defines the error values that stop automatic progress
// and hand control back to the operator.
package escalation

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies why work could not continue automatically.
type Kind int

const (
	// WorkerFailure: an invocation failed or timed out twice in a row.
	WorkerFailure Kind = iota + 1
	// SpecViolation: the artifact does not match its acceptance criteria.
	SpecViolation
	// QualityViolation: the artifact has Critical or Important findings.
	QualityViolation
	// LoopExhaustion: a review stage hit its iteration ceiling.
	LoopExhaustion
	// FatalPhase: a phase cannot proceed at all; the run halts.
	FatalPhase
)

func (k Kind) String() string {
	switch k {
	case WorkerFailure:
		return "worker_failure"
	case SpecViolation:
		return "spec_violation"
	case QualityViolation:
		return "quality_violation"
	case LoopExhaustion:
		return "loop_exhaustion"
	case FatalPhase:
		return "fatal_phase_error"
	default:
		return "unknown"
	}
}

// Attempt is one entry in the history attached to an escalation.
type Attempt struct {
	Number       int
	InvocationID string
	Stage        string
	Findings     []string
	Err          string
}

// Error is returned when a component gives up. It always carries the full
// attempt history so the operator can act without re-running anything.
type Error struct {
	Kind    Kind
	Phase   string
	TaskID  string
	Stage   string
	Reason  string
	History []Attempt
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Phase != "" {
		fmt.Fprintf(&b, " in phase %s", e.Phase)
	}
	if e.TaskID != "" {
		fmt.Fprintf(&b, " (task %s", e.TaskID)
		if e.Stage != "" {
			fmt.Fprintf(&b, ", stage %s", e.Stage)
		}
		b.WriteString(")")
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Detail renders the error together with every recorded attempt.
func (e *Error) Detail() string {
	var b strings.Builder
	b.WriteString(e.Error())
	for _, a := range e.History {
		fmt.Fprintf(&b, "\n  attempt %d", a.Number)
		if a.Stage != "" {
			fmt.Fprintf(&b, " [%s]", a.Stage)
		}
		if a.InvocationID != "" {
			fmt.Fprintf(&b, " invocation %s", a.InvocationID)
		}
		if a.Err != "" {
			fmt.Fprintf(&b, ": %s", a.Err)
		}
		for _, f := range a.Findings {
			fmt.Fprintf(&b, "\n    - %s", f)
		}
	}
	return b.String()
}

// As unwraps err into an *Error if one is present in the chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsFatal reports whether err halts the whole run.
func IsFatal(err error) bool {
	e, ok := As(err)
	return ok && e.Kind == FatalPhase
}

// Fatal builds a FatalPhase error for the given phase.
func Fatal(phase, reason string, err error) *Error {
	return &Error{Kind: FatalPhase, Phase: phase, Reason: reason, Err: err}
}
