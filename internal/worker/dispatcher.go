package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/phasegate/internal/backend"
	"github.com/aristath/phasegate/internal/escalation"
	"github.com/aristath/phasegate/internal/events"
	"github.com/aristath/phasegate/internal/logging"
	"github.com/aristath/phasegate/internal/tracing"
)

// Team size limits.
const (
	MinTeam = 2
	MaxTeam = 4
)

// maxAttempts is the first try plus exactly one retry.
const maxAttempts = 2

const noAnswer = "No answer is available. Proceed with your best judgement and state the assumption in your narrative."

// Factory creates a new worker conversation for a role. Every call must
// return a distinct instance.
type Factory func(role Role) (backend.Backend, error)

// Transcript records invocations and the messages exchanged with them.
type Transcript interface {
	RecordInvocation(ctx context.Context, inv Invocation, sessionID string) error
	SaveMessage(ctx context.Context, invocationID, role, content string) error
}

// Config wires a Dispatcher.
type Config struct {
	Factory Factory

	// Breakers is optional. BreakerKey maps a role to its breaker, usually the
	// provider behind the role; it defaults to the role name.
	Breakers   *BreakerRegistry
	BreakerKey func(Role) string

	Timeout           time.Duration // Per message; 0 disables
	RetryDelay        time.Duration
	MaxClarifications int

	QA         *QAChannel // Answers clarification questions; nil answers with noAnswer
	Transcript Transcript
	Bus        *events.Bus
	Logger     *zap.Logger
}

// Dispatcher runs assignments on fresh worker invocations.
type Dispatcher struct {
	cfg    Config
	logger *zap.Logger
}

// NewDispatcher validates cfg and creates a Dispatcher.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Factory == nil {
		return nil, errors.New("worker factory is required")
	}
	if cfg.BreakerKey == nil {
		cfg.BreakerKey = func(r Role) string { return string(r) }
	}
	return &Dispatcher{cfg: cfg, logger: logging.OrNop(cfg.Logger).Named("worker")}, nil
}

// Solo runs one assignment. A failed invocation is retried once on a new
// instance; a second failure returns a WorkerFailure escalation.
func (d *Dispatcher) Solo(ctx context.Context, a Assignment) (*Report, error) {
	return d.dispatch(ctx, a)
}

// Team runs 2 to 4 assignments with distinct angles in parallel and waits for
// all of them. If any member ultimately fails, no reports are returned.
func (d *Dispatcher) Team(ctx context.Context, members []Assignment) ([]*Report, error) {
	if len(members) < MinTeam || len(members) > MaxTeam {
		return nil, fmt.Errorf("team size must be between %d and %d, got %d", MinTeam, MaxTeam, len(members))
	}
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if m.Angle == "" || seen[m.Angle] {
			return nil, fmt.Errorf("team members need distinct, non-empty angles (got %q)", m.Angle)
		}
		seen[m.Angle] = true
	}

	ctx, span := tracing.Start(ctx, "worker.team", attribute.Int("team.size", len(members)))
	reports := make([]*Report, len(members))
	errs := make([]error, len(members))

	// Members do not cancel each other: every member runs to completion.
	var g errgroup.Group
	for i, m := range members {
		g.Go(func() error {
			reports[i], errs[i] = d.dispatch(ctx, m)
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	var history []escalation.Attempt
	for i, err := range errs {
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			tracing.End(span, ctx.Err())
			return nil, ctx.Err()
		}
		failed = append(failed, members[i].Angle)
		if esc, ok := escalation.As(err); ok {
			history = append(history, esc.History...)
		}
	}
	if len(failed) == 0 {
		tracing.End(span, nil)
		return reports, nil
	}

	first := members[0]
	err := &escalation.Error{
		Kind:    escalation.WorkerFailure,
		Phase:   first.Phase,
		TaskID:  first.TaskID,
		Stage:   string(first.Role),
		Reason:  fmt.Sprintf("%d of %d team members failed (%s)", len(failed), len(members), strings.Join(failed, ", ")),
		History: history,
		Err:     errors.Join(errs...),
	}
	tracing.End(span, err)
	return nil, err
}

func (d *Dispatcher) dispatch(ctx context.Context, a Assignment) (*Report, error) {
	ctx, span := tracing.Start(ctx, "worker.dispatch",
		attribute.String("worker.role", string(a.Role)),
		attribute.String("worker.angle", a.Angle))

	var (
		report  *Report
		history []escalation.Attempt
		attempt int
		lastID  string
	)

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		attempt++
		inv := Invocation{
			ID:         uuid.NewString(),
			Role:       a.Role,
			Phase:      a.Phase,
			TaskID:     a.TaskID,
			Attempt:    attempt,
			Assignment: a,
			StartedAt:  time.Now(),
		}
		lastID = inv.ID

		r, err := d.invoke(ctx, inv)
		if err == nil {
			report = r
			return nil
		}
		history = append(history, escalation.Attempt{
			Number:       attempt,
			InvocationID: inv.ID,
			Stage:        string(a.Role),
			Err:          err.Error(),
		})
		if ctx.Err() != nil || isBreakerOpen(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		d.logger.Warn("worker invocation failed, retrying on a new instance",
			zap.String("role", string(a.Role)),
			zap.String("invocation", lastID),
			zap.Duration("wait", wait),
			zap.Error(err))
		d.cfg.Bus.Publish(events.WorkerRetriedEvent{
			InvocationID: lastID,
			Role:         string(a.Role),
			Err:          err.Error(),
			Timestamp:    time.Now(),
		})
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.cfg.RetryDelay), maxAttempts-1), ctx)
	err := backoff.RetryNotify(operation, policy, notify)
	if err == nil {
		tracing.End(span, nil)
		return report, nil
	}
	if ctx.Err() != nil {
		tracing.End(span, ctx.Err())
		return nil, ctx.Err()
	}

	esc := &escalation.Error{
		Kind:    escalation.WorkerFailure,
		Phase:   a.Phase,
		TaskID:  a.TaskID,
		Stage:   string(a.Role),
		Reason:  fmt.Sprintf("%s worker failed after %d attempt(s)", a.Role, attempt),
		History: history,
		Err:     err,
	}
	d.logger.Error("worker escalated", zap.String("role", string(a.Role)), zap.Int("attempts", attempt), zap.Error(err))
	tracing.End(span, esc)
	return nil, esc
}

// invoke runs one invocation on a new backend instance. Clarification
// rounds resume the same instance.
func (d *Dispatcher) invoke(ctx context.Context, inv Invocation) (*Report, error) {
	b, err := d.cfg.Factory(inv.Role)
	if err != nil {
		return nil, fmt.Errorf("creating %s worker: %w", inv.Role, err)
	}
	defer b.Close()

	a := inv.Assignment
	d.logger.Info("dispatching worker",
		zap.String("invocation", inv.ID),
		zap.String("role", string(inv.Role)),
		zap.String("angle", a.Angle),
		zap.Int("attempt", inv.Attempt))
	d.cfg.Bus.Publish(events.WorkerDispatchedEvent{
		InvocationID: inv.ID,
		Role:         string(inv.Role),
		Angle:        a.Angle,
		Attempt:      inv.Attempt,
		Timestamp:    inv.StartedAt,
	})
	d.record(ctx, inv, b.SessionID())

	msg := a.Prompt()
	for round := 0; ; round++ {
		content, err := d.send(ctx, b, inv, msg)
		if err != nil {
			return nil, err
		}

		report, questions, err := ParseOutput(content)
		if err != nil {
			return nil, err
		}
		if len(questions) == 0 {
			d.stamp(report, inv, b.SessionID())
			return report, nil
		}
		if round >= d.cfg.MaxClarifications {
			return nil, fmt.Errorf("worker still asking questions after %d clarification rounds", round)
		}

		answers := make([]string, len(questions))
		for i, q := range questions {
			answers[i], err = d.answer(ctx, a, q)
			if err != nil {
				return nil, fmt.Errorf("answering worker question: %w", err)
			}
		}
		msg = answerPrompt(questions, answers)
	}
}

func (d *Dispatcher) send(ctx context.Context, b backend.Backend, inv Invocation, msg string) (string, error) {
	sendCtx := ctx
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}
	d.save(ctx, inv.ID, "user", msg)

	call := func() (backend.Response, error) {
		resp, err := b.Send(sendCtx, backend.Message{Content: msg, Role: "user"})
		if err == nil && resp.Error != "" {
			err = errors.New(resp.Error)
		}
		return resp, err
	}

	var resp backend.Response
	var err error
	if d.cfg.Breakers != nil {
		var out interface{}
		out, err = d.cfg.Breakers.Get(d.cfg.BreakerKey(inv.Role)).Execute(func() (interface{}, error) {
			return call()
		})
		if out != nil {
			resp = out.(backend.Response)
		}
	} else {
		resp, err = call()
	}
	if err != nil {
		if errors.Is(sendCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("worker timed out after %s: %w", d.cfg.Timeout, err)
		}
		return "", err
	}
	d.save(ctx, inv.ID, "assistant", resp.Content)
	return resp.Content, nil
}

func (d *Dispatcher) answer(ctx context.Context, a Assignment, question string) (string, error) {
	if d.cfg.QA == nil {
		return noAnswer, nil
	}
	subject := a.Subject
	if subject == "" {
		subject = string(a.Role)
	}
	return d.cfg.QA.Ask(ctx, subject, question)
}

// stamp attaches identity to the report. Evidence reported by the worker
// belongs to the step it was dispatched in.
func (d *Dispatcher) stamp(r *Report, inv Invocation, sessionID string) {
	r.InvocationID = inv.ID
	r.SessionID = sessionID
	r.Role = inv.Role
	r.Angle = inv.Assignment.Angle
	now := time.Now()
	for i := range r.Evidence {
		r.Evidence[i].StepID = inv.Assignment.StepID
		if r.Evidence[i].ObservedAt.IsZero() {
			r.Evidence[i].ObservedAt = now
		}
	}
}

func (d *Dispatcher) record(ctx context.Context, inv Invocation, sessionID string) {
	if d.cfg.Transcript == nil {
		return
	}
	if err := d.cfg.Transcript.RecordInvocation(ctx, inv, sessionID); err != nil {
		d.logger.Warn("failed to record invocation", zap.String("invocation", inv.ID), zap.Error(err))
	}
}

func (d *Dispatcher) save(ctx context.Context, invocationID, role, content string) {
	if d.cfg.Transcript == nil {
		return
	}
	if err := d.cfg.Transcript.SaveMessage(ctx, invocationID, role, content); err != nil {
		d.logger.Warn("failed to save transcript message", zap.String("invocation", invocationID), zap.Error(err))
	}
}
