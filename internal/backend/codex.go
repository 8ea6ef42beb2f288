package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CodexAdapter drives the Codex CLI. The thread ID is assigned by codex on
// the first turn and reused for resumes.
type CodexAdapter struct {
	cfg      Config
	threadID string
	procMgr  *ProcessManager
}

type codexEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	Content  string `json:"content"`
}

// NewCodexAdapter creates a Codex adapter. cfg.SessionID, when set, is an
// existing thread to resume.
func NewCodexAdapter(cfg Config, procMgr *ProcessManager) (*CodexAdapter, error) {
	return &CodexAdapter{cfg: cfg, threadID: cfg.SessionID, procMgr: procMgr}, nil
}

// Send runs one turn: `codex exec` first, `codex resume <thread>` afterwards.
func (c *CodexAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	cmd := newCommand(ctx, c.cfg.binary(), c.buildArgs(msg)...)
	cmd.Dir = c.cfg.WorkDir

	// Execute and capture the event stream
	stdout, _, err := executeCommand(cmd, c.procMgr)
	if err != nil {
		return Response{Error: fmt.Sprintf("codex command failed: %v", err)}, err
	}

	threadID, content, err := parseCodexEvents(stdout)
	if err != nil {
		return Response{Error: fmt.Sprintf("failed to parse codex events: %v", err)}, err
	}
	// Keep the thread for the next turn
	if threadID != "" {
		c.threadID = threadID
	}
	return Response{Content: content, SessionID: c.threadID}, nil
}

func (c *CodexAdapter) buildArgs(msg Message) []string {
	var args []string
	if c.threadID == "" {
		// First turn starts a thread
		args = []string{"exec", msg.Content, "--json"}
	} else {
		args = []string{"resume", c.threadID, msg.Content, "--json"}
	}
	if c.cfg.Model != "" {
		args = append(args, "--model", c.cfg.Model)
	}
	return append(args, c.cfg.Args...)
}

// parseCodexEvents reads the newline-delimited event stream and returns the
// thread ID and the content of the last completed turn.
func parseCodexEvents(data []byte) (threadID string, content string, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// Only thread and turn events matter
		var evt codexEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			return "", "", fmt.Errorf("failed to parse event: %w", err)
		}
		switch evt.Type {
		case "ThreadStarted":
			threadID = evt.ThreadID
		case "TurnCompleted":
			content = evt.Content
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("error reading events: %w", err)
	}
	return threadID, content, nil
}

// Close is a no-op; each turn is its own subprocess.
func (c *CodexAdapter) Close() error { return nil }

// SessionID returns the codex thread ID, empty before the first turn.
func (c *CodexAdapter) SessionID() string { return c.threadID }
