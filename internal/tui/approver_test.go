package tui

import (
	"context"
	"io"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/phasegate/internal/checkpoint"
	"github.com/aristath/phasegate/internal/project"
)

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func send(m reviewModel, keys ...string) (reviewModel, tea.Cmd) {
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(key(k))
		m = next.(reviewModel)
	}
	return m, cmd
}

func sampleCheckpoint() checkpoint.Checkpoint {
	return checkpoint.Checkpoint{
		Phase:    "setup",
		Title:    "Setup",
		Summary:  "deploy_target: docker",
		Revision: 2,
		Previous: "deploy_target: vercel",
		Diff:     "--- previous\n+++ revised\n@@ -1 +1 @@\n-deploy_target: vercel\n+deploy_target: docker\n",
		Feedback: []string{"use Docker, not Vercel"},
	}
}

func TestReviewApprove(t *testing.T) {
	m, cmd := send(newReviewModel(sampleCheckpoint(), ""), "a")

	require.True(t, m.decided)
	assert.True(t, m.decision.Approved)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestReviewRejectWithFeedback(t *testing.T) {
	m, _ := send(newReviewModel(sampleCheckpoint(), ""), "r")
	assert.Equal(t, modeFeedback, m.mode)

	m, cmd := send(m, "u", "s", "e", " ", "f", "l", "y", "enter")
	require.True(t, m.decided)
	assert.False(t, m.decision.Approved)
	assert.Equal(t, "use fly", m.decision.Feedback)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestReviewRejectRequiresFeedback(t *testing.T) {
	m, _ := send(newReviewModel(sampleCheckpoint(), ""), "r", "enter")

	assert.False(t, m.decided)
	assert.Equal(t, modeFeedback, m.mode)
	assert.Contains(t, m.View(), "Feedback is required")
}

func TestReviewFeedbackEscReturnsToBrowse(t *testing.T) {
	m, _ := send(newReviewModel(sampleCheckpoint(), ""), "r", "x", "esc")
	assert.Equal(t, modeBrowse, m.mode)

	// "a" approves again once back in browse mode.
	m, _ = send(m, "a")
	assert.True(t, m.decision.Approved)
}

func TestReviewLettersInFeedbackAreText(t *testing.T) {
	m, _ := send(newReviewModel(sampleCheckpoint(), ""), "r", "a", "d")
	assert.False(t, m.decided)
	assert.Equal(t, "ad", m.input.Value())
}

func TestReviewCtrlCAborts(t *testing.T) {
	m, cmd := send(newReviewModel(sampleCheckpoint(), ""), "ctrl+c")
	assert.False(t, m.decided)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestReviewToggleDiff(t *testing.T) {
	m := newReviewModel(sampleCheckpoint(), "")
	assert.Contains(t, m.View(), "Addressing feedback: use Docker, not Vercel")
	assert.Contains(t, m.View(), "(revision 2)")

	m, _ = send(m, "d")
	assert.True(t, m.showDiff)
	assert.Contains(t, m.View(), "+deploy_target: docker")
	assert.Contains(t, m.View(), "[diff]")

	m, _ = send(m, "d")
	assert.False(t, m.showDiff)
}

func TestReviewDiffKeyIgnoredOnFirstRevision(t *testing.T) {
	cp := checkpoint.Checkpoint{Phase: "plan", Title: "Plan", Summary: "T1", Revision: 1}
	m, _ := send(newReviewModel(cp, ""), "d")
	assert.False(t, m.showDiff)
	assert.NotContains(t, m.View(), "toggle diff")
}

func TestReviewResize(t *testing.T) {
	next, _ := newReviewModel(sampleCheckpoint(), "").Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m := next.(reviewModel)
	assert.Equal(t, 100, m.viewport.Width)
	assert.Equal(t, 26, m.viewport.Height)
}

func TestRenderStrip(t *testing.T) {
	status := map[project.PhaseID]string{project.Setup: "completed", project.Explore: "skipped"}
	strip := renderStrip("requirements", func(p project.PhaseID) string {
		if s, ok := status[p]; ok {
			return s
		}
		return "pending"
	})
	for p := project.Setup; p.Valid(); p++ {
		assert.Contains(t, strip, p.String())
	}

	// Without a status source every phase is still listed.
	assert.Equal(t, project.PhaseCount, strings.Count(renderStrip("plan", nil), " > ")+1)
}

func TestApproverRunsProgram(t *testing.T) {
	a := NewApprover(ApproverOptions{Input: strings.NewReader("a"), Output: io.Discard})

	d, err := a.Review(context.Background(), sampleCheckpoint())
	require.NoError(t, err)
	assert.True(t, d.Approved)
}

func TestApproverCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	a := NewApprover(ApproverOptions{Input: pr, Output: io.Discard})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Review(ctx, sampleCheckpoint())
	assert.ErrorIs(t, err, context.Canceled)
}
