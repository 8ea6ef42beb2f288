package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/phasegate/internal/checkpoint"
	"github.com/aristath/phasegate/internal/escalation"
	"github.com/aristath/phasegate/internal/events"
	"github.com/aristath/phasegate/internal/project"
	"github.com/aristath/phasegate/internal/scheduler"
	"github.com/aristath/phasegate/internal/verify"
	"github.com/aristath/phasegate/internal/worker"
)

// body returns the work of a phase. Every body dispatches, merges the
// result into the project state, and returns the checkpoint summary.
func (c *Controller) body(spec PhaseSpec) checkpoint.BodyFunc {
	switch spec.ID {
	case project.Setup:
		return func(ctx context.Context, fb []string) (string, error) { return c.setup(ctx, spec, fb) }
	case project.Explore:
		return func(ctx context.Context, fb []string) (string, error) { return c.explore(ctx, spec, fb) }
	case project.Requirements:
		return func(ctx context.Context, fb []string) (string, error) { return c.requirements(ctx, spec, fb) }
	case project.Design:
		return func(ctx context.Context, fb []string) (string, error) { return c.design(ctx, spec, fb) }
	case project.Plan:
		return func(ctx context.Context, fb []string) (string, error) { return c.plan(ctx, spec, fb) }
	case project.Scaffold:
		return func(ctx context.Context, fb []string) (string, error) { return c.scaffold(ctx, spec, fb) }
	case project.Implement:
		return func(ctx context.Context, _ []string) (string, error) { return c.implement(ctx) }
	case project.Test:
		return func(ctx context.Context, fb []string) (string, error) { return c.test(ctx, spec, fb) }
	case project.Review:
		return func(ctx context.Context, fb []string) (string, error) { return c.review(ctx, spec, fb) }
	case project.Deploy:
		return func(ctx context.Context, fb []string) (string, error) { return c.deploy(ctx, spec, fb) }
	}
	return func(context.Context, []string) (string, error) {
		return "", fmt.Errorf("no body for phase %s", spec.ID)
	}
}

func (c *Controller) assignment(spec PhaseSpec, feedback []string) worker.Assignment {
	return worker.Assignment{
		Role:     spec.Role,
		Phase:    spec.ID.String(),
		Subject:  spec.Title,
		Payload:  spec.Goal,
		Context:  c.state.Context(spec.ID),
		Feedback: slices.Clone(feedback),
	}
}

// team builds one assignment per configured angle from the same snapshot.
func (c *Controller) team(spec PhaseSpec, feedback []string) []worker.Assignment {
	angles := c.opts.Angles[spec.ID]
	if len(angles) == 0 {
		angles = DefaultAngles[spec.ID]
	}
	base := c.assignment(spec, feedback)
	members := make([]worker.Assignment, len(angles))
	for i, angle := range angles {
		m := base
		m.Angle = angle
		m.Feedback = slices.Clone(feedback)
		members[i] = m
	}
	return members
}

func (c *Controller) setup(ctx context.Context, spec PhaseSpec, feedback []string) (string, error) {
	a := c.assignment(spec, feedback)
	a.Payload = "Request: " + c.state.Settings().Request + "\n\n" + spec.Goal
	report, err := c.opts.Dispatcher.Solo(ctx, a)
	if err != nil {
		return "", err
	}

	c.state.ApplyFacts(report.Facts)
	settings := c.state.Settings()
	switch settings.ProjectType {
	case project.ProjectNew, project.ProjectExisting:
	default:
		return "", &escalation.Error{
			Kind:   escalation.WorkerFailure,
			Phase:  spec.ID.String(),
			Stage:  string(spec.Role),
			Reason: fmt.Sprintf("setup did not decide project_type (got %q)", settings.ProjectType),
			History: []escalation.Attempt{{
				Number:       1,
				InvocationID: report.InvocationID,
				Stage:        string(spec.Role),
			}},
		}
	}

	entry := project.Entry{Summary: report.Narrative, Narrative: report.Narrative, Facts: report.Facts}
	if err := c.state.SetSetup(spec.ID, entry); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(report.Narrative)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "project_type: %s\n", settings.ProjectType)
	fmt.Fprintf(&b, "deploy_target: %s\n", orNone(settings.DeployTarget))
	fmt.Fprintf(&b, "version_control: %s\n", orNone(settings.VersionControl))
	writeFacts(&b, report.Facts)
	return b.String(), nil
}

func (c *Controller) explore(ctx context.Context, spec PhaseSpec, feedback []string) (string, error) {
	step := verify.NewStep("baseline")
	members := c.team(spec, feedback)
	for i := range members {
		members[i].StepID = step.ID
	}
	reports, err := c.opts.Dispatcher.Team(ctx, members)
	if err != nil {
		return "", err
	}

	// Results are merged one after another once every member has returned.
	var reported []verify.Evidence
	facts := map[string]string{}
	var items []string
	for _, r := range reports {
		reported = append(reported, r.Evidence...)
		maps.Copy(facts, r.Facts)
		items = append(items, fmt.Sprintf("%s: %s", r.Angle, r.Narrative))
	}

	if _, err := verify.Gate(ctx, c.opts.Checker, step, reported...); err != nil {
		return "", escalation.Fatal(spec.ID.String(), "baseline build or tests are broken", err)
	}

	entry := project.Entry{Summary: "Exploration findings", Items: items, Facts: facts}
	if err := c.state.SetSetup(spec.ID, entry); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Baseline verified.\n")
	writeItems(&b, items)
	writeFacts(&b, facts)
	return b.String(), nil
}

func (c *Controller) requirements(ctx context.Context, spec PhaseSpec, feedback []string) (string, error) {
	report, err := c.opts.Dispatcher.Solo(ctx, c.assignment(spec, feedback))
	if err != nil {
		return "", err
	}
	entry := project.Entry{Summary: report.Narrative, Items: report.Criteria}
	if err := c.state.SetRequirements(spec.ID, entry); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(report.Narrative)
	b.WriteString("\n")
	writeItems(&b, report.Criteria)
	return b.String(), nil
}

func (c *Controller) design(ctx context.Context, spec PhaseSpec, feedback []string) (string, error) {
	reports, err := c.opts.Dispatcher.Team(ctx, c.team(spec, feedback))
	if err != nil {
		return "", err
	}
	items := make([]string, len(reports))
	for i, r := range reports {
		items[i] = fmt.Sprintf("%s: %s", r.Angle, r.Narrative)
	}
	entry := project.Entry{Summary: "Design proposals", Items: items}
	if err := c.state.SetDesign(spec.ID, entry); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Design proposals. Approve to proceed, or reject naming the approach to take.\n")
	writeItems(&b, items)
	return b.String(), nil
}

func (c *Controller) plan(ctx context.Context, spec PhaseSpec, feedback []string) (string, error) {
	report, err := c.opts.Dispatcher.Solo(ctx, c.assignment(spec, feedback))
	if err != nil {
		return "", err
	}

	graph, err := buildGraph(report.Tasks)
	if err != nil {
		return "", &escalation.Error{
			Kind:    escalation.WorkerFailure,
			Phase:   spec.ID.String(),
			Stage:   string(spec.Role),
			Reason:  "plan is not a valid task graph",
			History: []escalation.Attempt{{Number: 1, InvocationID: report.InvocationID, Stage: string(spec.Role), Err: err.Error()}},
			Err:     err,
		}
	}
	order, _ := graph.Order()

	items := make([]string, 0, len(order))
	for _, id := range order {
		t, _ := graph.Get(id)
		line := fmt.Sprintf("%s: %s", t.ID, t.Description)
		if len(t.DependsOn) > 0 {
			line += fmt.Sprintf(" (after %s)", strings.Join(t.DependsOn, ", "))
		}
		items = append(items, line)
	}
	if err := c.state.SetPlan(spec.ID, project.Entry{Summary: report.Narrative, Items: items}); err != nil {
		return "", err
	}
	c.graph = graph

	var b strings.Builder
	b.WriteString(report.Narrative)
	b.WriteString("\n\nTasks in execution order:\n")
	writeItems(&b, items)
	return b.String(), nil
}

func buildGraph(planned []worker.PlannedTask) (*scheduler.Graph, error) {
	if len(planned) == 0 {
		return nil, errors.New("no tasks were planned")
	}
	g := scheduler.NewGraph()
	for i, p := range planned {
		task := &scheduler.Task{
			ID:          strings.TrimSpace(p.ID),
			Ordinal:     i + 1,
			Description: p.Description,
			Criteria:    p.Criteria,
			DependsOn:   uniqueIDs(p.DependsOn),
		}
		if err := g.AddTask(task); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// uniqueIDs trims dependency IDs and drops blanks and repeats.
func uniqueIDs(ids []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (c *Controller) scaffold(ctx context.Context, spec PhaseSpec, feedback []string) (string, error) {
	step := verify.NewStep("scaffold")
	a := c.assignment(spec, feedback)
	report, err := c.opts.Dispatcher.Solo(ctx, a)
	if err != nil {
		return "", err
	}
	reported, err := c.independentEvidence(ctx, spec, step, "Build the new project skeleton and run its tests.")
	if err != nil {
		return "", err
	}
	if _, err := verify.Gate(ctx, c.opts.Checker, step, reported...); err != nil {
		return "", escalation.Fatal(spec.ID.String(), "scaffold does not build", err)
	}

	entry := project.Entry{Summary: report.Narrative, Files: report.TouchedFiles}
	if err := c.state.SetImplementation(spec.ID, entry); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(report.Narrative)
	b.WriteString("\n\nScaffold verified. Files:\n")
	writeItems(&b, report.TouchedFiles)
	return b.String(), nil
}

// implement runs every task one at a time in dependency order. Each task is
// implemented by a fresh worker and then driven through review.
func (c *Controller) implement(ctx context.Context) (string, error) {
	if c.graph == nil {
		return "", errors.New("no approved plan to implement")
	}
	gate := c.reviewGate()
	background := c.state.Context(project.Implement)
	phase := project.Implement.String()

	var items, files []string
	for {
		task, ok := c.graph.Next()
		if !ok {
			break
		}
		started := time.Now()
		if err := c.graph.Start(task.ID); err != nil {
			return "", err
		}
		c.track(ctx, task.ID, scheduler.TaskInProgress)
		c.opts.Bus.Publish(events.TaskStartedEvent{ID: task.ID, Ordinal: task.Ordinal, Timestamp: started})
		c.logger.Info("task started", zap.String("task", task.ID), zap.Int("ordinal", task.Ordinal))

		report, err := c.opts.Dispatcher.Solo(ctx, worker.Assignment{
			Role:    worker.Implementer,
			Phase:   phase,
			TaskID:  task.ID,
			Subject: task.ID,
			Payload: implementPayload(*task),
			Context: background,
		})
		if err != nil {
			return "", err
		}

		outcome, err := gate.Run(ctx, *task, report, background)
		if err != nil {
			return "", err
		}

		rs := scheduler.ReviewState{Stage: "done", SpecIterations: outcome.SpecIterations, QualityIterations: outcome.QualityIterations}
		if err := c.graph.SetReview(task.ID, rs); err != nil {
			return "", err
		}
		if err := c.graph.Complete(task.ID, outcome.Files); err != nil {
			return "", err
		}
		if rec, ok := c.opts.Tracker.(ReviewRecorder); ok {
			if err := rec.RecordReview(ctx, task.ID, rs, outcome.Files, outcome.Commit); err != nil {
				c.logger.Warn("failed to record review", zap.String("task", task.ID), zap.Error(err))
			}
		}
		c.track(ctx, task.ID, scheduler.TaskCompleted)
		c.opts.Bus.Publish(events.TaskCompletedEvent{
			ID:        task.ID,
			Files:     outcome.Files,
			Commit:    outcome.Commit,
			Duration:  time.Since(started),
			Timestamp: time.Now(),
		})

		item := fmt.Sprintf("%s: %s", task.ID, strings.Join(outcome.Files, ", "))
		if outcome.Commit != "" {
			item += " @ " + shortHash(outcome.Commit)
		}
		items = append(items, item)
		files = append(files, outcome.Files...)
	}
	if n := c.graph.Remaining(); n > 0 {
		return "", fmt.Errorf("%d tasks could not be scheduled", n)
	}

	entry := project.Entry{Summary: fmt.Sprintf("%d tasks implemented", len(items)), Items: items, Files: files}
	if err := c.state.SetImplementation(project.Implement, entry); err != nil {
		return "", err
	}
	return entry.Summary, nil
}

func (c *Controller) track(ctx context.Context, taskID string, status scheduler.TaskStatus) {
	if c.opts.Tracker == nil {
		return
	}
	if err := c.opts.Tracker.UpdateStatus(ctx, taskID, status); err != nil {
		c.logger.Warn("failed to update task tracker", zap.String("task", taskID), zap.Error(err))
	}
}

func (c *Controller) test(ctx context.Context, spec PhaseSpec, feedback []string) (string, error) {
	step := verify.NewStep("integration tests")
	a := c.assignment(spec, feedback)
	report, err := c.opts.Dispatcher.Solo(ctx, a)
	if err != nil {
		return "", err
	}
	reported, err := c.independentEvidence(ctx, spec, step, "Run the integration and end-to-end tests.")
	if err != nil {
		return "", err
	}

	_, verr := verify.Gate(ctx, c.opts.Checker, step, reported...)
	if verr != nil && !errors.Is(verr, verify.ErrUnverified) {
		return "", verr
	}
	c.testVerified = verr == nil
	c.testFiles = slices.Clone(report.TouchedFiles)

	result := "PASS"
	if verr != nil {
		result = "FAIL: " + verr.Error()
	}
	entry := project.Entry{Summary: report.Narrative, Files: report.TouchedFiles, Facts: map[string]string{"tests": result}}
	if err := c.state.SetTesting(spec.ID, entry); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(report.Narrative)
	fmt.Fprintf(&b, "\n\nVerification: %s\n", result)
	if len(report.TouchedFiles) > 0 {
		b.WriteString("Test files:\n")
		writeItems(&b, report.TouchedFiles)
	}
	return b.String(), nil
}

func (c *Controller) review(ctx context.Context, spec PhaseSpec, feedback []string) (string, error) {
	reports, err := c.opts.Dispatcher.Team(ctx, c.team(spec, feedback))
	if err != nil {
		return "", err
	}
	var items []string
	blocking := 0
	for _, r := range reports {
		if len(r.Findings) == 0 {
			items = append(items, fmt.Sprintf("%s: no findings", r.Angle))
		}
		for _, f := range r.Findings {
			if f.Severity == worker.SeverityCritical || f.Severity == worker.SeverityImportant {
				blocking++
			}
			items = append(items, fmt.Sprintf("%s: %s", r.Angle, f))
		}
	}
	entry := project.Entry{Summary: fmt.Sprintf("%d blocking findings", blocking), Items: items}
	if err := c.state.SetReview(spec.ID, entry); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Final review: %d critical or important findings.\n", blocking)
	writeItems(&b, items)
	return b.String(), nil
}

// deploy gates on a check run in this step; a failure halts the run.
func (c *Controller) deploy(ctx context.Context, spec PhaseSpec, feedback []string) (string, error) {
	step := verify.NewStep("pre-deploy")
	reported, err := c.independentEvidence(ctx, spec, step, "Run the full build and test suite.")
	if err != nil {
		return "", err
	}
	if _, err := verify.Gate(ctx, c.opts.Checker, step, reported...); err != nil {
		return "", escalation.Fatal(spec.ID.String(), "pre-deploy check failed", err)
	}

	settings := c.state.Settings()
	if settings.DeployTarget == project.DeploySkip || settings.DeployTarget == "" {
		entry := project.Entry{Summary: "Deployment skipped", Facts: map[string]string{"deployed": "no"}}
		if err := c.state.SetDeployment(spec.ID, entry); err != nil {
			return "", err
		}
		return "Pre-deploy check passed. Deployment skipped by configuration.", nil
	}

	a := c.assignment(spec, feedback)
	a.Payload = fmt.Sprintf("Deploy target: %s\n\n%s", settings.DeployTarget, spec.Goal)
	report, err := c.opts.Dispatcher.Solo(ctx, a)
	if err != nil {
		return "", err
	}
	entry := project.Entry{Summary: report.Narrative, Files: report.TouchedFiles, Facts: report.Facts}
	if err := c.state.SetDeployment(spec.ID, entry); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Pre-deploy check passed. Deployed to %s.\n\n", settings.DeployTarget)
	b.WriteString(report.Narrative)
	b.WriteString("\n")
	writeFacts(&b, report.Facts)
	return b.String(), nil
}

// independentEvidence returns evidence for step that does not come from the
// worker whose output is being checked. With a configured checker the checker
// is the evidence and nothing is dispatched; otherwise a fresh test engineer
// runs the checks.
func (c *Controller) independentEvidence(ctx context.Context, spec PhaseSpec, step verify.Step, task string) ([]verify.Evidence, error) {
	if c.opts.Checker != nil {
		return nil, nil
	}
	report, err := c.opts.Dispatcher.Solo(ctx, worker.Assignment{
		Role:    worker.TestEngineer,
		Phase:   spec.ID.String(),
		Subject: step.Name + " check",
		Payload: task + " Report the exact commands and their output as evidence.",
		Context: c.state.Context(spec.ID),
		StepID:  step.ID,
	})
	if err != nil {
		return nil, err
	}
	return report.Evidence, nil
}

func implementPayload(task scheduler.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Implement task %s: %s\n", task.ID, task.Description)
	if len(task.Criteria) > 0 {
		b.WriteString("\nAcceptance criteria:\n")
		writeItems(&b, task.Criteria)
	}
	b.WriteString("\nReport every file you created or changed under touched_files.")
	return b.String()
}

func writeItems(b *strings.Builder, items []string) {
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}

func writeFacts(b *strings.Builder, facts map[string]string) {
	keys := slices.Sorted(maps.Keys(facts))
	for _, k := range keys {
		fmt.Fprintf(b, "%s: %s\n", k, facts[k])
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
