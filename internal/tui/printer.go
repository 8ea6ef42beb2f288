package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aristath/phasegate/internal/events"
)

// Printer writes one progress line per bus event.
type Printer struct {
	out     io.Writer
	verbose bool

	mu    sync.Mutex
	holds int
	held  []string
}

// NewPrinter creates a Printer. Worker dispatch lines are only written when
// verbose is set.
func NewPrinter(out io.Writer, verbose bool) *Printer {
	return &Printer{out: out, verbose: verbose}
}

// Run prints events from ch until it closes or ctx is done.
func (p *Printer) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if line := p.Line(ev); line != "" {
				p.write(line)
			}
		}
	}
}

// Hold buffers output while a prompt owns the terminal. The returned func
// releases the hold; the last release flushes the buffered lines.
func (p *Printer) Hold() (release func()) {
	p.mu.Lock()
	p.holds++
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.holds--
			if p.holds > 0 {
				return
			}
			for _, line := range p.held {
				fmt.Fprintln(p.out, line)
			}
			p.held = nil
		})
	}
}

func (p *Printer) write(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.holds > 0 {
		p.held = append(p.held, line)
		return
	}
	fmt.Fprintln(p.out, line)
}

// Line renders ev, or returns "" for events not worth a line.
func (p *Printer) Line(ev events.Event) string {
	switch e := ev.(type) {
	case events.PhaseStartedEvent:
		return StyleStatusRunning.Render(fmt.Sprintf("▶ %d %s", e.Index, e.Phase))
	case events.PhaseSkippedEvent:
		return StyleStatusSkipped.Render(fmt.Sprintf("- %d %s", e.Index, e.Phase)) +
			StyleMuted.Render(" skipped: "+e.Reason)
	case events.PhaseCompletedEvent:
		return StyleStatusComplete.Render(fmt.Sprintf("✓ %d %s", e.Index, e.Phase)) +
			StyleMuted.Render(" "+e.Duration.Round(time.Second).String())
	case events.CheckpointDecidedEvent:
		if e.Approved {
			return fmt.Sprintf("  %s approved (revision %d)", e.Phase, e.Revision)
		}
		return fmt.Sprintf("  %s rejected (revision %d): %s", e.Phase, e.Revision, e.Feedback)
	case events.WorkerDispatchedEvent:
		if !p.verbose {
			return ""
		}
		who := e.Role
		if e.Angle != "" {
			who += " [" + e.Angle + "]"
		}
		return StyleMuted.Render(fmt.Sprintf("    %s attempt %d (%s)", who, e.Attempt, e.InvocationID))
	case events.WorkerRetriedEvent:
		return StyleStatusFailed.Render(fmt.Sprintf("    %s failed, retrying: %s", e.Role, e.Err))
	case events.TaskStartedEvent:
		return fmt.Sprintf("  task %s started (#%d)", e.ID, e.Ordinal)
	case events.StageVerdictEvent:
		verdict := StyleStatusComplete.Render("pass")
		if !e.Pass {
			verdict = StyleStatusFailed.Render("fail")
		}
		line := fmt.Sprintf("    %s %s #%d: %s", e.ID, e.Stage, e.Iteration, verdict)
		if !e.Pass && e.Findings > 0 {
			line += StyleMuted.Render(fmt.Sprintf(" (%d findings)", e.Findings))
		}
		return line
	case events.TaskCompletedEvent:
		line := fmt.Sprintf("  task %s done: %s", e.ID, strings.Join(e.Files, ", "))
		if len(e.Commit) >= 8 {
			line += StyleMuted.Render(" @ " + e.Commit[:8])
		}
		return line
	case events.EscalatedEvent:
		return StyleError.Render(fmt.Sprintf("! %s escalated (%s)", e.Subject(), e.Kind))
	case events.RunProgressEvent:
		return StyleMuted.Render(fmt.Sprintf("  [%d/%d]", e.Finished, e.Total))
	}
	return ""
}
