// Package backend runs worker CLIs (claude, codex, goose) as subprocesses.
// Every Backend value is one conversation: the first Send opens it, later
// Sends resume it.
package backend

import (
	"context"
	"fmt"
)

// Message is a prompt sent to a worker CLI.
type Message struct {
	Content string
	Role    string // "user" or "system"
}

// Response is the text a worker CLI returned.
type Response struct {
	Content   string
	SessionID string
	Error     string
}

// Config selects and parameterizes an adapter.
type Config struct {
	Type         string // "claude", "codex", or "goose"
	Command      string // Binary override; defaults to Type
	Args         []string
	WorkDir      string
	SessionID    string
	Model        string
	Provider     string // Goose local LLM provider (e.g. "ollama")
	SystemPrompt string
}

func (c Config) binary() string {
	if c.Command != "" {
		return c.Command
	}
	return c.Type
}

// Backend is one worker conversation.
type Backend interface {
	// Send delivers msg, starting the conversation on first use and
	// resuming it afterwards.
	Send(ctx context.Context, msg Message) (Response, error)

	// Close releases the conversation.
	Close() error

	// SessionID identifies the conversation.
	SessionID() string
}

// New creates an adapter for cfg.Type.
func New(cfg Config, pm *ProcessManager) (Backend, error) {
	switch cfg.Type {
	case "claude":
		return NewClaudeAdapter(cfg, pm)
	case "codex":
		return NewCodexAdapter(cfg, pm)
	case "goose":
		return NewGooseAdapter(cfg, pm)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
