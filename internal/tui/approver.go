// Package tui renders checkpoints, progress and escalations in the terminal
// and collects the operator's decisions.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/phasegate/internal/checkpoint"
	"github.com/aristath/phasegate/internal/project"
)

// ErrAborted is returned when the operator quits a checkpoint without deciding.
var ErrAborted = errors.New("checkpoint aborted by operator")

// StatusFunc reports a phase's status for the phase strip.
type StatusFunc func(project.PhaseID) string

// ApproverOptions configures an Approver. Zero values use the terminal.
type ApproverOptions struct {
	Input     io.Reader
	Output    io.Writer
	AltScreen bool
	Status    StatusFunc
}

// Approver presents checkpoints in a full-screen review and returns the
// operator's decision. It implements checkpoint.Approver.
type Approver struct {
	mu   sync.Mutex
	opts ApproverOptions
}

// NewApprover creates an Approver.
func NewApprover(opts ApproverOptions) *Approver {
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Approver{opts: opts}
}

// SetStatus installs the phase strip source once the controller exists.
func (a *Approver) SetStatus(fn StatusFunc) {
	a.mu.Lock()
	a.opts.Status = fn
	a.mu.Unlock()
}

// Review blocks until the operator approves or rejects cp.
func (a *Approver) Review(ctx context.Context, cp checkpoint.Checkpoint) (checkpoint.Decision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	popts := []tea.ProgramOption{
		tea.WithContext(ctx),
		tea.WithInput(a.opts.Input),
		tea.WithOutput(a.opts.Output),
	}
	if a.opts.AltScreen {
		popts = append(popts, tea.WithAltScreen())
	}

	final, err := tea.NewProgram(newReviewModel(cp, renderStrip(cp.Phase, a.opts.Status)), popts...).Run()
	if ctx.Err() != nil {
		return checkpoint.Decision{}, ctx.Err()
	}
	if err != nil {
		return checkpoint.Decision{}, fmt.Errorf("checkpoint screen: %w", err)
	}
	m, ok := final.(reviewModel)
	if !ok || !m.decided {
		return checkpoint.Decision{}, ErrAborted
	}
	return m.decision, nil
}

type reviewMode int

const (
	modeBrowse reviewMode = iota
	modeFeedback
)

// reviewModel is the checkpoint screen: a scrollable summary, an optional
// diff against the previous revision, and a feedback input.
type reviewModel struct {
	cp       checkpoint.Checkpoint
	strip    string
	viewport viewport.Model
	input    textinput.Model
	mode     reviewMode
	showDiff bool
	width    int
	height   int
	warning  string

	decided  bool
	decision checkpoint.Decision
}

func newReviewModel(cp checkpoint.Checkpoint, strip string) reviewModel {
	in := textinput.New()
	in.Placeholder = "what should change?"
	in.CharLimit = 2000

	m := reviewModel{
		cp:       cp,
		strip:    strip,
		viewport: viewport.New(80, 20),
		input:    in,
	}
	m.refresh()
	return m
}

func (m reviewModel) Init() tea.Cmd { return nil }

func (m reviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		if msg.String() == KeyCtrlC {
			return m, tea.Quit
		}
		if m.mode == modeFeedback {
			return m.updateFeedback(msg)
		}

		switch msg.String() {
		case KeyApprove:
			m.decided = true
			m.decision = checkpoint.Approve()
			return m, tea.Quit
		case KeyReject:
			m.mode = modeFeedback
			m.warning = ""
			cmd = m.input.Focus()
			m.resize()
			return m, cmd
		case KeyDiff, KeyTab:
			if m.cp.Diff != "" {
				m.showDiff = !m.showDiff
				m.refresh()
			}
			return m, nil
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}
	}
	return m, cmd
}

func (m reviewModel) updateFeedback(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeySubmit:
		fb := strings.TrimSpace(m.input.Value())
		if fb == "" {
			m.warning = "Feedback is required to reject."
			return m, nil
		}
		m.decided = true
		m.decision = checkpoint.Reject(fb)
		return m, tea.Quit
	case KeyCancel:
		m.mode = modeBrowse
		m.warning = ""
		m.input.Blur()
		m.resize()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *reviewModel) resize() {
	if m.width == 0 || m.height == 0 {
		return
	}
	chrome := 4 // title, strip, help, spacing
	if m.mode == modeFeedback {
		chrome += 2
	}
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-chrome, 3)
	m.input.Width = max(m.width-4, 10)
	m.refresh()
}

func (m *reviewModel) refresh() {
	if m.showDiff {
		m.viewport.SetContent(colorDiff(m.cp.Diff))
		return
	}
	content := m.cp.Summary
	if n := len(m.cp.Feedback); n > 0 {
		content += "\n\n" + StyleMuted.Render("Addressing feedback: "+m.cp.Feedback[n-1])
	}
	if m.width > 0 {
		content = lipgloss.NewStyle().Width(m.width).Render(content)
	}
	m.viewport.SetContent(content)
}

func (m reviewModel) View() string {
	title := fmt.Sprintf("Checkpoint: %s", m.cp.Title)
	if m.cp.Revision > 1 {
		title += fmt.Sprintf(" (revision %d)", m.cp.Revision)
	}
	if m.showDiff {
		title += " [diff]"
	}

	parts := []string{StyleTitle.Render(title)}
	if m.strip != "" {
		parts = append(parts, m.strip)
	}
	parts = append(parts, m.viewport.View())
	if m.mode == modeFeedback {
		parts = append(parts, "Reject with feedback:", m.input.View())
	}
	if m.warning != "" {
		parts = append(parts, StyleError.Render(m.warning))
	}
	parts = append(parts, HelpView(m.mode == modeFeedback, m.cp.Diff != ""))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// renderStrip draws every phase with its status. Without a status source the
// phases before current are shown as done.
func renderStrip(current string, status StatusFunc) string {
	cells := make([]string, 0, project.PhaseCount)
	reached := false
	for p := project.Setup; p.Valid(); p++ {
		name := p.String()
		s := "pending"
		switch {
		case name == current:
			s = "in_progress"
			reached = true
		case status != nil:
			s = status(p)
		case !reached:
			s = "completed"
		}
		cells = append(cells, statusStyle(s).Render(name))
	}
	return strings.Join(cells, StyleMuted.Render(" > "))
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "completed":
		return StyleStatusComplete
	case "in_progress":
		return StyleStatusRunning
	case "skipped":
		return StyleStatusSkipped
	case "failed":
		return StyleStatusFailed
	default:
		return StyleStatusPending
	}
}

func colorDiff(diff string) string {
	lines := strings.Split(diff, "\n")
	for i, l := range lines {
		switch {
		case strings.HasPrefix(l, "+++"), strings.HasPrefix(l, "---"):
			lines[i] = StyleMuted.Render(l)
		case strings.HasPrefix(l, "@@"):
			lines[i] = StyleDiffHunk.Render(l)
		case strings.HasPrefix(l, "+"):
			lines[i] = StyleDiffAdd.Render(l)
		case strings.HasPrefix(l, "-"):
			lines[i] = StyleDiffDel.Render(l)
		}
	}
	return strings.Join(lines, "\n")
}
