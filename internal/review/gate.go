// Package review drives a finished task through spec compliance and then
// quality review, dispatching fresh fix workers between failed evaluations.
package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/aristath/phasegate/internal/escalation"
	"github.com/aristath/phasegate/internal/events"
	"github.com/aristath/phasegate/internal/logging"
	"github.com/aristath/phasegate/internal/scheduler"
	"github.com/aristath/phasegate/internal/tracing"
	"github.com/aristath/phasegate/internal/vcs"
	"github.com/aristath/phasegate/internal/verify"
	"github.com/aristath/phasegate/internal/worker"
)

// Stage names.
const (
	StageSpec    = "spec_compliance"
	StageQuality = "quality_review"
)

// DefaultCeiling is the number of failed evaluations per stage before the
// loop escalates.
const DefaultCeiling = 3

// Dispatcher runs a single worker.
type Dispatcher interface {
	Solo(ctx context.Context, a worker.Assignment) (*worker.Report, error)
}

// Options configures a Gate.
type Options struct {
	Dispatcher Dispatcher
	Checker    verify.Checker // Optional; reviewer-reported evidence is used as well
	Committer  vcs.Committer  // Nil when version control is unmanaged
	Ceiling    int
	Phase      string
	Bus        *events.Bus
	Logger     *zap.Logger
}

// Outcome describes a task that passed both stages.
type Outcome struct {
	TaskID            string
	Files             []string
	SpecIterations    int
	QualityIterations int
	History           []escalation.Attempt
	Commit            string
}

// Gate is the two-stage review loop.
type Gate struct {
	opts   Options
	logger *zap.Logger
}

// NewGate creates a Gate.
func NewGate(opts Options) *Gate {
	if opts.Ceiling <= 0 {
		opts.Ceiling = DefaultCeiling
	}
	return &Gate{opts: opts, logger: logging.OrNop(opts.Logger).Named("review")}
}

type verdict struct {
	pass         bool
	findings     []worker.Finding
	invocationID string
}

// Run reviews task starting from the implementer's first report. background
// is the read-only project context handed to fix workers.
func (g *Gate) Run(ctx context.Context, task scheduler.Task, first *worker.Report, background string) (*Outcome, error) {
	ctx, span := tracing.Start(ctx, "review.task", attribute.String("task.id", task.ID))

	files := union(task.Files, first.TouchedFiles)
	out := &Outcome{TaskID: task.ID}

	for _, stage := range []string{StageSpec, StageQuality} {
		iterations, err := g.runStage(ctx, stage, task, &files, background, out)
		if stage == StageSpec {
			out.SpecIterations = iterations
		} else {
			out.QualityIterations = iterations
		}
		if err != nil {
			tracing.End(span, err)
			return nil, err
		}
	}

	out.Files = files
	if g.opts.Committer != nil {
		hash, err := g.opts.Committer.Commit(ctx, files, commitMessage(task))
		if err != nil {
			err = fmt.Errorf("committing task %s: %w", task.ID, err)
			tracing.End(span, err)
			return nil, err
		}
		out.Commit = hash
	}
	g.logger.Info("task passed review",
		zap.String("task", task.ID),
		zap.Int("spec_iterations", out.SpecIterations),
		zap.Int("quality_iterations", out.QualityIterations),
		zap.Strings("files", files),
		zap.String("commit", out.Commit))
	tracing.End(span, nil)
	return out, nil
}

// runStage evaluates one stage until it passes or the ceiling is reached.
// The counter is local to the stage.
func (g *Gate) runStage(ctx context.Context, stage string, task scheduler.Task, files *[]string, background string, out *Outcome) (int, error) {
	for iteration := 1; ; iteration++ {
		v, err := g.evaluate(ctx, stage, task, *files)
		if err != nil {
			return iteration - 1, withHistory(err, task.ID, stage, out.History)
		}

		out.History = append(out.History, escalation.Attempt{
			Number:       iteration,
			InvocationID: v.invocationID,
			Stage:        stage,
			Findings:     findingStrings(v.findings),
		})
		g.opts.Bus.Publish(events.StageVerdictEvent{
			ID:        task.ID,
			Stage:     stage,
			Iteration: iteration,
			Pass:      v.pass,
			Findings:  len(v.findings),
			Timestamp: time.Now(),
		})
		g.logger.Info("stage verdict",
			zap.String("task", task.ID),
			zap.String("stage", stage),
			zap.Int("iteration", iteration),
			zap.Bool("pass", v.pass),
			zap.Int("findings", len(v.findings)))

		if v.pass {
			return iteration, nil
		}
		if iteration >= g.opts.Ceiling {
			return iteration, &escalation.Error{
				Kind:    escalation.LoopExhaustion,
				Phase:   g.opts.Phase,
				TaskID:  task.ID,
				Stage:   stage,
				Reason:  fmt.Sprintf("%s failed %d times", stage, iteration),
				History: append([]escalation.Attempt(nil), out.History...),
				Err:     violation(stage),
			}
		}

		fix, err := g.opts.Dispatcher.Solo(ctx, worker.Assignment{
			Role:     worker.Implementer,
			Phase:    g.opts.Phase,
			TaskID:   task.ID,
			Subject:  task.ID,
			Payload:  taskPayload(task, *files),
			Context:  background,
			Feedback: findingStrings(v.findings),
		})
		if err != nil {
			return iteration, withHistory(err, task.ID, stage, out.History)
		}
		*files = union(*files, fix.TouchedFiles)
	}
}

// evaluate dispatches a fresh reviewer for stage and judges its report. A
// PASS only stands if it is verified within the same step.
func (g *Gate) evaluate(ctx context.Context, stage string, task scheduler.Task, files []string) (verdict, error) {
	if stage == StageSpec && len(files) == 0 {
		return verdict{findings: []worker.Finding{{
			Category: worker.CategoryMissing,
			Text:     "the task produced no files",
		}}}, nil
	}

	step := verify.NewStep(stage + " " + task.ID)
	role := worker.SpecReviewer
	if stage == StageQuality {
		role = worker.QualityReviewer
	}
	// Reviewers get the task and the files, never the implementer's narrative.
	report, err := g.opts.Dispatcher.Solo(ctx, worker.Assignment{
		Role:    role,
		Phase:   g.opts.Phase,
		TaskID:  task.ID,
		Subject: task.ID,
		Payload: reviewPayload(stage, task, files),
		StepID:  step.ID,
	})
	if err != nil {
		return verdict{}, err
	}

	v := verdict{invocationID: report.InvocationID}
	if stage == StageSpec {
		v.findings = report.Findings
		v.pass = report.Verdict == worker.VerdictPass && len(report.Findings) == 0
		if !v.pass && len(v.findings) == 0 {
			v.findings = []worker.Finding{{Category: worker.CategoryMisunderstood, Text: "reviewer failed the task without itemized findings"}}
		}
	} else {
		v.findings = report.Findings
		v.pass = report.Verdict == worker.VerdictPass && !hasBlocking(report.Findings)
		if !v.pass && !hasBlocking(v.findings) {
			text := "reviewer failed the task without blocking findings"
			if report.Verdict == "" {
				text = "reviewer gave no verdict"
			}
			v.findings = append(append([]worker.Finding(nil), v.findings...), worker.Finding{Severity: worker.SeverityImportant, Text: text})
		}
	}
	if !v.pass {
		return v, nil
	}

	if _, err := verify.Gate(ctx, g.opts.Checker, step, report.Evidence...); err != nil {
		if !errors.Is(err, verify.ErrUnverified) {
			return verdict{}, err
		}
		v.pass = false
		f := worker.Finding{Text: "PASS was not backed by a check run in this review: " + err.Error()}
		if stage == StageSpec {
			f.Category = worker.CategoryMissing
		} else {
			f.Severity = worker.SeverityImportant
		}
		v.findings = append(v.findings, f)
	}
	return v, nil
}

// hasBlocking reports Critical or Important findings. A finding without a
// severity counts as Important.
func hasBlocking(findings []worker.Finding) bool {
	for _, f := range findings {
		if f.Severity != worker.SeveritySuggestion {
			return true
		}
	}
	return false
}

// withHistory puts the stage verdicts gathered so far in front of a worker
// escalation's own attempts.
func withHistory(err error, taskID, stage string, history []escalation.Attempt) error {
	esc, ok := escalation.As(err)
	if !ok {
		return err
	}
	esc.History = append(append([]escalation.Attempt(nil), history...), esc.History...)
	if esc.TaskID == "" {
		esc.TaskID = taskID
	}
	esc.Stage = stage
	return err
}

func violation(stage string) error {
	if stage == StageSpec {
		return errors.New(escalation.SpecViolation.String())
	}
	return errors.New(escalation.QualityViolation.String())
}

func taskPayload(task scheduler.Task, files []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: %s\n", task.ID, task.Description)
	if len(task.Criteria) > 0 {
		b.WriteString("\nAcceptance criteria:\n")
		for _, c := range task.Criteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(files) > 0 {
		b.WriteString("\nFiles so far:\n")
		for _, f := range files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}

func reviewPayload(stage string, task scheduler.Task, files []string) string {
	var b strings.Builder
	b.WriteString(taskPayload(task, files))
	if stage == StageSpec {
		b.WriteString("\nDerive the checklist from the acceptance criteria yourself and check every item against the files. " +
			"Report verdict pass only if nothing is missing, extra or misunderstood. Categorize each finding as missing, extra or misunderstood.")
	} else {
		b.WriteString("\nReview structure, maintainability and test quality. " +
			"Tag each finding critical, important or suggestion.")
	}
	b.WriteString(" Include the exact commands you ran and their output as evidence.")
	return b.String()
}

func commitMessage(task scheduler.Task) string {
	desc := task.Description
	if i := strings.IndexByte(desc, '\n'); i >= 0 {
		desc = desc[:i]
	}
	return fmt.Sprintf("%s: %s", task.ID, desc)
}

func findingStrings(findings []worker.Finding) []string {
	out := make([]string, len(findings))
	for i, f := range findings {
		out[i] = f.String()
	}
	return out
}

// union merges file lists into a sorted set.
func union(lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, l := range lists {
		for _, f := range l {
			if f != "" && !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	sort.Strings(out)
	return out
}
