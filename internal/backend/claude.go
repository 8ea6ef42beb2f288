package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// ClaudeAdapter drives the Claude Code CLI in print mode.
type ClaudeAdapter struct {
	cfg       Config
	sessionID string
	started   bool
	procMgr   *ProcessManager
}

// claudeResponse is the JSON printed by `claude -p --output-format json`.
type claudeResponse struct {
	SessionID string `json:"session_id"`
	Result    struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"result"`
}

// NewClaudeAdapter creates a Claude adapter. A fresh session ID is minted
// unless cfg.SessionID is set.
func NewClaudeAdapter(cfg Config, procMgr *ProcessManager) (*ClaudeAdapter, error) {
	if cfg.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		cfg.WorkDir = wd
	}
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &ClaudeAdapter{cfg: cfg, sessionID: sessionID, procMgr: procMgr}, nil
}

// Send runs one turn. The first turn pins --session-id, later turns --resume it.
func (a *ClaudeAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	cmd := newCommand(ctx, a.cfg.binary(), a.buildArgs(msg, a.started)...)
	cmd.Dir = a.cfg.WorkDir

	// Run tracked so shutdown can kill it
	stdout, stderr, err := executeCommand(cmd, a.procMgr)
	if err != nil {
		return Response{Error: fmt.Sprintf("claude command failed: %v", err)}, err
	}

	// Parse the JSON envelope
	resp, err := parseClaudeResponse(stdout)
	if err != nil {
		return Response{Error: fmt.Sprintf("failed to parse claude response: %v (stderr: %s)", err, stderr)}, err
	}
	if resp.SessionID == "" {
		resp.SessionID = a.sessionID
	}
	// Later turns resume this session
	a.started = true
	return resp, nil
}

// Close is a no-op; each turn is its own subprocess.
func (a *ClaudeAdapter) Close() error { return nil }

// SessionID returns the conversation's session ID.
func (a *ClaudeAdapter) SessionID() string { return a.sessionID }

func (a *ClaudeAdapter) buildArgs(msg Message, resume bool) []string {
	args := []string{"-p", msg.Content, "--output-format", "json"}
	if resume {
		args = append(args, "--resume", a.sessionID)
	} else {
		args = append(args, "--session-id", a.sessionID)
	}
	// Optional overrides
	if a.cfg.Model != "" {
		args = append(args, "--model", a.cfg.Model)
	}
	if a.cfg.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", a.cfg.SystemPrompt)
	}
	return append(args, a.cfg.Args...)
}

func parseClaudeResponse(data []byte) (Response, error) {
	var cr claudeResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return Response{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	// Only text blocks carry the reply
	var content string
	for _, item := range cr.Result.Content {
		if item.Type == "text" {
			content += item.Text
		}
	}
	return Response{Content: content, SessionID: cr.SessionID}, nil
}
