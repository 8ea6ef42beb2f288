// Package checkpoint presents a phase summary to the operator and loops on
// rejection until the summary is approved.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"

	"github.com/aristath/phasegate/internal/escalation"
	"github.com/aristath/phasegate/internal/events"
	"github.com/aristath/phasegate/internal/logging"
)

// ErrEmptyFeedback is returned when a rejection carries no feedback.
var ErrEmptyFeedback = errors.New("rejection requires feedback")

// Checkpoint is one presentation of a phase summary.
type Checkpoint struct {
	Phase    string
	Title    string
	Summary  string
	Revision int      // 1 for the first presentation
	Previous string   // Summary of the prior revision, empty on the first
	Diff     string   // Unified diff from Previous to Summary
	Feedback []string // Every rejection so far, oldest first
}

// Decision is the operator's answer to a Checkpoint.
type Decision struct {
	Approved bool
	Feedback string
}

// Approve accepts the checkpoint.
func Approve() Decision { return Decision{Approved: true} }

// Reject sends the phase back with feedback.
func Reject(feedback string) Decision { return Decision{Feedback: feedback} }

// Approver decides checkpoints. Review blocks until the operator answers.
type Approver interface {
	Review(ctx context.Context, cp Checkpoint) (Decision, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, cp Checkpoint) (Decision, error)

func (f ApproverFunc) Review(ctx context.Context, cp Checkpoint) (Decision, error) { return f(ctx, cp) }

// BodyFunc (re)runs the phase's work with all feedback gathered so far and
// returns the summary to present.
type BodyFunc func(ctx context.Context, feedback []string) (string, error)

// Result is the approved outcome.
type Result struct {
	Summary   string
	Revisions int
	Feedback  []string
}

// Options configures a Gate.
type Options struct {
	Cap    int // Maximum presentations; 0 means unbounded
	Bus    *events.Bus
	Logger *zap.Logger
}

// Gate runs the approve / reject loop.
type Gate struct {
	approver Approver
	cap      int
	bus      *events.Bus
	logger   *zap.Logger
}

// NewGate creates a Gate.
func NewGate(approver Approver, opts Options) *Gate {
	return &Gate{
		approver: approver,
		cap:      opts.Cap,
		bus:      opts.Bus,
		logger:   logging.OrNop(opts.Logger).Named("checkpoint"),
	}
}

// Run executes body, presents its summary, and repeats with the operator's
// feedback until approval. Errors from body or the approver end the loop.
func (g *Gate) Run(ctx context.Context, phase, title string, body BodyFunc) (*Result, error) {
	var feedback []string
	var previous string

	for revision := 1; ; revision++ {
		if g.cap > 0 && revision > g.cap {
			return nil, &escalation.Error{
				Kind:   escalation.LoopExhaustion,
				Phase:  phase,
				Stage:  "checkpoint",
				Reason: fmt.Sprintf("not approved after %d revisions", g.cap),
				History: func() []escalation.Attempt {
					h := make([]escalation.Attempt, len(feedback))
					for i, fb := range feedback {
						h[i] = escalation.Attempt{Number: i + 1, Stage: "checkpoint", Findings: []string{fb}}
					}
					return h
				}(),
			}
		}

		summary, err := body(ctx, feedback)
		if err != nil {
			return nil, err
		}

		cp := Checkpoint{
			Phase:    phase,
			Title:    title,
			Summary:  summary,
			Revision: revision,
			Previous: previous,
			Feedback: append([]string(nil), feedback...),
		}
		if revision > 1 {
			cp.Diff = Diff(previous, summary)
		}

		g.bus.Publish(events.CheckpointPresentedEvent{Phase: phase, Revision: revision, Timestamp: time.Now()})
		g.logger.Info("checkpoint presented", zap.String("phase", phase), zap.Int("revision", revision))

		decision, err := g.approver.Review(ctx, cp)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s: %w", phase, err)
		}
		g.bus.Publish(events.CheckpointDecidedEvent{
			Phase:     phase,
			Revision:  revision,
			Approved:  decision.Approved,
			Feedback:  decision.Feedback,
			Timestamp: time.Now(),
		})

		if decision.Approved {
			g.logger.Info("checkpoint approved", zap.String("phase", phase), zap.Int("revision", revision))
			return &Result{Summary: summary, Revisions: revision, Feedback: feedback}, nil
		}
		fb := strings.TrimSpace(decision.Feedback)
		if fb == "" {
			return nil, fmt.Errorf("checkpoint %s: %w", phase, ErrEmptyFeedback)
		}
		g.logger.Info("checkpoint rejected", zap.String("phase", phase), zap.Int("revision", revision), zap.String("feedback", fb))
		feedback = append(feedback, fb)
		previous = summary
	}
}

// Diff renders a unified diff between two summary revisions.
func Diff(prev, next string) string {
	d, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(prev),
		B:        difflib.SplitLines(next),
		FromFile: "previous",
		ToFile:   "revised",
		Context:  2,
	})
	if err != nil {
		return ""
	}
	return d
}
