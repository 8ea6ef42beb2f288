package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/aristath/phasegate/internal/checkpoint"
	"github.com/aristath/phasegate/internal/escalation"
	"github.com/aristath/phasegate/internal/events"
	"github.com/aristath/phasegate/internal/logging"
	"github.com/aristath/phasegate/internal/project"
	"github.com/aristath/phasegate/internal/review"
	"github.com/aristath/phasegate/internal/scheduler"
	"github.com/aristath/phasegate/internal/tracing"
	"github.com/aristath/phasegate/internal/vcs"
	"github.com/aristath/phasegate/internal/verify"
	"github.com/aristath/phasegate/internal/worker"
)

// PhaseStatus is the lifecycle of one phase.
type PhaseStatus string

const (
	StatusPending    PhaseStatus = "pending"
	StatusInProgress PhaseStatus = "in_progress"
	StatusCompleted  PhaseStatus = "completed"
	StatusSkipped    PhaseStatus = "skipped"
)

// ErrOutOfOrder is returned when a phase would start before every earlier
// phase is completed or skipped.
var ErrOutOfOrder = errors.New("earlier phase not finished")

// Dispatcher runs workers alone or as a team.
type Dispatcher interface {
	Solo(ctx context.Context, a worker.Assignment) (*worker.Report, error)
	Team(ctx context.Context, members []worker.Assignment) ([]*worker.Report, error)
}

// Tracker is the task-tracking collaborator.
type Tracker interface {
	CreateTask(ctx context.Context, task scheduler.Task) error
	UpdateStatus(ctx context.Context, taskID string, status scheduler.TaskStatus) error
}

// ReviewRecorder is implemented by trackers that also keep review results.
type ReviewRecorder interface {
	RecordReview(ctx context.Context, taskID string, review scheduler.ReviewState, files []string, commit string) error
}

// Options wires a Controller.
type Options struct {
	State      *project.State
	Dispatcher Dispatcher
	Approver   checkpoint.Approver
	Committer  vcs.Committer  // Ignored when version control is unmanaged
	Checker    verify.Checker // Optional
	Tracker    Tracker        // Optional

	Angles        map[project.PhaseID][]string
	ReviewCeiling int
	CheckpointCap int

	Bus    *events.Bus
	Logger *zap.Logger
}

// Controller is the phase state machine. It runs on a single goroutine.
type Controller struct {
	opts   Options
	state  *project.State
	specs  []PhaseSpec
	status [project.PhaseCount]PhaseStatus
	gate   *checkpoint.Gate
	graph  *scheduler.Graph
	logger *zap.Logger

	// post-approval work carried out of phase bodies
	testFiles    []string
	testVerified bool
}

// New creates a Controller.
func New(opts Options) (*Controller, error) {
	if opts.State == nil {
		return nil, errors.New("project state is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if opts.Approver == nil {
		return nil, errors.New("checkpoint approver is required")
	}
	if opts.Committer == nil {
		opts.Committer = vcs.Nop{}
	}
	logger := logging.OrNop(opts.Logger).Named("controller")
	c := &Controller{
		opts:   opts,
		state:  opts.State,
		specs:  Catalogue(),
		gate:   checkpoint.NewGate(opts.Approver, checkpoint.Options{Cap: opts.CheckpointCap, Bus: opts.Bus, Logger: opts.Logger}),
		logger: logger,
	}
	for i := range c.status {
		c.status[i] = StatusPending
	}
	return c, nil
}

// State returns the project record.
func (c *Controller) State() *project.State { return c.state }

// Status returns a phase's status.
func (c *Controller) Status(p project.PhaseID) PhaseStatus { return c.status[p] }

// Phases returns every phase status in order.
func (c *Controller) Phases() []PhaseStatus {
	out := make([]PhaseStatus, project.PhaseCount)
	copy(out, c.status[:])
	return out
}

// Graph returns the approved task graph, or nil before planning.
func (c *Controller) Graph() *scheduler.Graph { return c.graph }

// Run executes every phase in order. It stops at the first escalation and
// returns it; escalations are never resolved automatically.
func (c *Controller) Run(ctx context.Context) error {
	ctx, span := tracing.Start(ctx, "run")
	for _, spec := range c.specs {
		if err := c.runPhase(ctx, spec); err != nil {
			c.escalate(spec, err)
			tracing.End(span, err)
			return err
		}
		c.opts.Bus.Publish(events.RunProgressEvent{Finished: int(spec.ID) + 1, Total: project.PhaseCount, Timestamp: time.Now()})
	}
	c.logger.Info("run complete")
	tracing.End(span, nil)
	return nil
}

func (c *Controller) runPhase(ctx context.Context, spec PhaseSpec) error {
	if err := c.guard(spec.ID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	settings := c.state.Settings()
	if project.AnyMatch(spec.SkipWhen, settings) {
		c.status[spec.ID] = StatusSkipped
		c.state.MarkSkipped(spec.ID)
		reason := skipReason(spec.SkipWhen, settings)
		c.logger.Info("phase skipped", zap.String("phase", spec.ID.String()), zap.String("reason", reason))
		c.opts.Bus.Publish(events.PhaseSkippedEvent{Phase: spec.ID.String(), Index: int(spec.ID), Reason: reason, Timestamp: time.Now()})
		return nil
	}

	started := time.Now()
	c.status[spec.ID] = StatusInProgress
	c.logger.Info("phase started", zap.String("phase", spec.ID.String()))
	c.opts.Bus.Publish(events.PhaseStartedEvent{Phase: spec.ID.String(), Index: int(spec.ID), Timestamp: started})

	ctx, span := tracing.Start(ctx, "phase."+spec.ID.String(), attribute.Int("phase.index", int(spec.ID)))
	body := c.body(spec)

	if spec.Checkpoint {
		_, err := c.gate.Run(ctx, spec.ID.String(), spec.Title, func(ctx context.Context, feedback []string) (string, error) {
			// A rejection throws away only this phase's draft output.
			c.state.Discard(spec.ID)
			return body(ctx, feedback)
		})
		if err != nil {
			tracing.End(span, err)
			return err
		}
	} else if _, err := body(ctx, nil); err != nil {
		tracing.End(span, err)
		return err
	}

	if err := c.state.Finalize(spec.ID); err != nil {
		tracing.End(span, err)
		return err
	}
	if err := c.afterApproval(ctx, spec.ID); err != nil {
		tracing.End(span, err)
		return err
	}

	c.status[spec.ID] = StatusCompleted
	duration := time.Since(started)
	c.logger.Info("phase completed", zap.String("phase", spec.ID.String()), zap.Duration("duration", duration))
	c.opts.Bus.Publish(events.PhaseCompletedEvent{Phase: spec.ID.String(), Index: int(spec.ID), Duration: duration, Timestamp: time.Now()})
	tracing.End(span, nil)
	return nil
}

// guard refuses to start p unless every earlier phase is completed or skipped.
func (c *Controller) guard(p project.PhaseID) error {
	for q := project.Setup; q < p; q++ {
		if s := c.status[q]; s != StatusCompleted && s != StatusSkipped {
			return fmt.Errorf("cannot start %s, %s is %s: %w", p, q, s, ErrOutOfOrder)
		}
	}
	return nil
}

// afterApproval records accepted work with the collaborators.
func (c *Controller) afterApproval(ctx context.Context, p project.PhaseID) error {
	switch p {
	case project.Plan:
		return c.trackPlan(ctx)
	case project.Scaffold:
		if !c.vcsManaged() {
			return nil
		}
		hash, err := c.opts.Committer.Bootstrap(ctx, "Scaffold project")
		if err != nil {
			return fmt.Errorf("bootstrap commit: %w", err)
		}
		c.logger.Info("scaffold committed", zap.String("commit", hash))
	case project.Test:
		if !c.vcsManaged() || !c.testVerified || len(c.testFiles) == 0 {
			return nil
		}
		hash, err := c.opts.Committer.Commit(ctx, c.testFiles, "Add integration tests")
		if err != nil {
			return fmt.Errorf("committing tests: %w", err)
		}
		c.logger.Info("tests committed", zap.String("commit", hash), zap.Strings("files", c.testFiles))
	}
	return nil
}

func (c *Controller) trackPlan(ctx context.Context) error {
	if c.opts.Tracker == nil || c.graph == nil {
		return nil
	}
	order, err := c.graph.Order()
	if err != nil {
		return err
	}
	for _, id := range order {
		task, _ := c.graph.Get(id)
		if err := c.opts.Tracker.CreateTask(ctx, *task); err != nil {
			return fmt.Errorf("tracking task %s: %w", id, err)
		}
	}
	return nil
}

func (c *Controller) committer() vcs.Committer {
	if !c.vcsManaged() {
		return nil
	}
	return c.opts.Committer
}

func (c *Controller) vcsManaged() bool {
	return c.state.Settings().VersionControl != project.VCSUnmanaged
}

func (c *Controller) reviewGate() *review.Gate {
	return review.NewGate(review.Options{
		Dispatcher: c.opts.Dispatcher,
		Checker:    c.opts.Checker,
		Committer:  c.committer(),
		Ceiling:    c.opts.ReviewCeiling,
		Phase:      project.Implement.String(),
		Bus:        c.opts.Bus,
		Logger:     c.opts.Logger,
	})
}

func (c *Controller) escalate(spec PhaseSpec, err error) {
	if errors.Is(err, context.Canceled) {
		c.logger.Warn("run cancelled", zap.String("phase", spec.ID.String()))
		return
	}
	ev := events.EscalatedEvent{Phase: spec.ID.String(), Detail: err.Error(), Timestamp: time.Now()}
	if esc, ok := escalation.As(err); ok {
		ev.Kind = esc.Kind.String()
		ev.TaskID = esc.TaskID
		ev.Detail = esc.Detail()
		if esc.Phase != "" {
			ev.Phase = esc.Phase
		}
	}
	c.logger.Error("run halted", zap.String("phase", ev.Phase), zap.String("kind", ev.Kind), zap.Error(err))
	c.opts.Bus.Publish(ev)
}

func skipReason(rules []project.Rule, s project.Settings) string {
	for _, r := range rules {
		if r.Match(s) {
			return fmt.Sprintf("%s is %s", r.Setting, r.Equals)
		}
	}
	return ""
}
