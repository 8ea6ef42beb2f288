package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GooseAdapter drives the Goose CLI, which can front local LLM providers.
type GooseAdapter struct {
	cfg         Config
	sessionName string
	started     bool
	procMgr     *ProcessManager
}

type gooseResponse struct {
	Content string `json:"content"`
}

// NewGooseAdapter creates a Goose adapter with a named session.
func NewGooseAdapter(cfg Config, procMgr *ProcessManager) (*GooseAdapter, error) {
	name := cfg.SessionID
	if name == "" {
		name = "phasegate-" + uuid.NewString()[:8]
	}
	return &GooseAdapter{cfg: cfg, sessionName: name, procMgr: procMgr}, nil
}

// Send runs one turn: --name opens the session, --resume continues it.
func (g *GooseAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	cmd := newCommand(ctx, g.cfg.binary(), g.buildArgs(msg)...)
	cmd.Dir = g.cfg.WorkDir

	// Create and execute command
	stdout, stderr, err := executeCommand(cmd, g.procMgr)
	if err != nil {
		return Response{Error: fmt.Sprintf("goose command failed: %v", err), SessionID: g.sessionName}, err
	}

	resp, err := parseGooseResponse(stdout)
	if err != nil {
		// Older goose builds ignore --output-format; keep the plain text.
		resp = Response{Content: string(stdout)}
		if len(stderr) > 0 {
			resp.Content += "\n[stderr]: " + string(stderr)
		}
	}
	resp.SessionID = g.sessionName
	// Later turns resume the named session
	g.started = true
	return resp, nil
}

func (g *GooseAdapter) buildArgs(msg Message) []string {
	args := []string{"run", "--text", msg.Content, "--output-format", "json"}
	if g.started {
		args = append(args, "--name", g.sessionName, "--resume")
	} else {
		args = append(args, "--name", g.sessionName)
	}
	// Local LLM support
	if g.cfg.Provider != "" {
		args = append(args, "--provider", g.cfg.Provider)
	}
	if g.cfg.Model != "" {
		args = append(args, "--model", g.cfg.Model)
	}
	if g.cfg.SystemPrompt != "" {
		args = append(args, "--system", g.cfg.SystemPrompt)
	}
	return append(args, g.cfg.Args...)
}

// parseGooseResponse accepts a single JSON object or a JSON-lines stream.
func parseGooseResponse(data []byte) (Response, error) {
	var single gooseResponse
	if err := json.Unmarshal(data, &single); err == nil {
		return Response{Content: single.Content}, nil
	}

	// Fall back to JSON lines
	var parts []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var lr gooseResponse
		if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &lr); err == nil && lr.Content != "" {
			parts = append(parts, lr.Content)
		}
	}
	if len(parts) == 0 {
		return Response{}, fmt.Errorf("failed to parse goose JSON response")
	}
	return Response{Content: strings.Join(parts, "\n")}, nil
}

// Close is a no-op; each turn is its own subprocess.
func (g *GooseAdapter) Close() error { return nil }

// SessionID returns the goose session name.
func (g *GooseAdapter) SessionID() string { return g.sessionName }
