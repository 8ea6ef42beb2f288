package tui

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/phasegate/internal/escalation"
	"github.com/aristath/phasegate/internal/events"
)

func TestPrinterLines(t *testing.T) {
	p := NewPrinter(nil, false)

	tests := []struct {
		name string
		ev   events.Event
		want []string
	}{
		{"skipped", events.PhaseSkippedEvent{Phase: "scaffold", Index: 5, Reason: "project_type is existing"}, []string{"scaffold", "project_type is existing"}},
		{"completed", events.PhaseCompletedEvent{Phase: "plan", Index: 4, Duration: 90 * time.Second}, []string{"plan", "1m30s"}},
		{"rejected", events.CheckpointDecidedEvent{Phase: "setup", Revision: 1, Feedback: "use Docker"}, []string{"setup rejected", "use Docker"}},
		{"approved", events.CheckpointDecidedEvent{Phase: "setup", Revision: 2, Approved: true}, []string{"setup approved (revision 2)"}},
		{"verdict", events.StageVerdictEvent{ID: "T1", Stage: "spec_compliance", Iteration: 2, Findings: 3}, []string{"T1 spec_compliance #2", "fail", "3 findings"}},
		{"task done", events.TaskCompletedEvent{ID: "T1", Files: []string{"a.go", "b.go"}, Commit: "0123456789abcdef"}, []string{"a.go, b.go", "01234567"}},
		{"escalated", events.EscalatedEvent{Kind: "loop_exhaustion", Phase: "implement", TaskID: "T2"}, []string{"T2 escalated", "loop_exhaustion"}},
		{"progress", events.RunProgressEvent{Finished: 3, Total: 10}, []string{"[3/10]"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := p.Line(tt.ev)
			for _, w := range tt.want {
				assert.Contains(t, line, w)
			}
		})
	}
}

func TestPrinterHidesDispatchUnlessVerbose(t *testing.T) {
	ev := events.WorkerDispatchedEvent{InvocationID: "inv-1", Role: "explorer", Angle: "build", Attempt: 1}
	assert.Empty(t, NewPrinter(nil, false).Line(ev))
	assert.Contains(t, NewPrinter(nil, true).Line(ev), "explorer [build] attempt 1")
}

func TestPrinterRunStopsWhenChannelCloses(t *testing.T) {
	var buf bytes.Buffer
	ch := make(chan events.Event, 2)
	ch <- events.PhaseStartedEvent{Phase: "setup", Index: 0}
	ch <- events.TaskStartedEvent{ID: "T1", Ordinal: 1}
	close(ch)

	NewPrinter(&buf, false).Run(context.Background(), ch)
	assert.Contains(t, buf.String(), "setup")
	assert.Contains(t, buf.String(), "task T1 started (#1)")
}

func TestPrinterHoldBuffersUntilReleased(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	outer := p.Hold()
	inner := p.Hold()
	p.write("phase started")
	inner()
	inner()
	assert.Empty(t, buf.String(), "still held by the outer prompt")

	outer()
	assert.Equal(t, "phase started\n", buf.String())

	p.write("next")
	assert.Equal(t, "phase started\nnext\n", buf.String())
}

func TestRenderEscalation(t *testing.T) {
	err := &escalation.Error{
		Kind:   escalation.LoopExhaustion,
		Phase:  "implement",
		TaskID: "T1",
		Stage:  "spec_compliance",
		Reason: "spec_compliance failed 3 times",
		History: []escalation.Attempt{
			{Number: 1, InvocationID: "inv-a", Stage: "spec_compliance", Findings: []string{"missing: no persistence"}},
			{Number: 2, InvocationID: "inv-b", Stage: "spec_compliance", Err: "timed out"},
		},
	}
	out := RenderEscalation(err)
	for _, want := range []string{"loop_exhaustion", "implement", "T1", "failed 3 times", "#1", "inv-a", "missing: no persistence", "timed out"} {
		assert.Contains(t, out, want)
	}

	assert.Contains(t, RenderEscalation(errors.New("disk full")), "disk full")
}
