package config

import (
	"time"

	"github.com/aristath/phasegate/internal/logging"
)

// DefaultConfig returns the built-in providers, one agent per worker role,
// and team angles for the team phases.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{
			"claude": {Command: "claude", Type: "claude"},
			"codex":  {Command: "codex", Type: "codex"},
			"goose":  {Command: "goose", Type: "goose"},
		},
		Agents: map[string]AgentConfig{
			"implementer": {
				Provider:     "claude",
				SystemPrompt: "You implement exactly one task against its acceptance criteria. Touch only the files the task needs and list every file you changed.",
			},
			"spec_reviewer": {
				Provider:     "claude",
				SystemPrompt: "You check an implementation against its acceptance criteria. Re-derive the checklist yourself, read the code, and report missing, extra or misunderstood behavior.",
			},
			"quality_reviewer": {
				Provider:     "claude",
				SystemPrompt: "You review code quality. Classify every finding as critical, important or suggestion.",
			},
			"explorer": {
				Provider:     "claude",
				SystemPrompt: "You map an existing codebase from one angle and report facts, not opinions.",
			},
			"architect": {
				Provider:     "claude",
				SystemPrompt: "You turn requests into requirements, designs and dependency-ordered task plans.",
			},
			"scaffolder": {
				Provider:     "claude",
				SystemPrompt: "You create the skeleton of a new project so that it builds and its empty test suite runs.",
			},
			"deployer": {
				Provider:     "claude",
				SystemPrompt: "You deploy the project to the requested target and report what you did.",
			},
			"test_engineer": {
				Provider:     "claude",
				SystemPrompt: "You write and run tests. Report the exact commands you ran and their output.",
			},
		},
		Phases: map[string]PhaseConfig{
			"explore": {Angles: []string{"architecture and entry points", "conventions and patterns", "build, test and tooling"}},
			"design":  {Angles: []string{"minimal change", "clean architecture", "pragmatic balance"}},
			"review":  {Angles: []string{"simplicity and readability", "bugs and correctness", "project conventions"}},
		},
		Run: RunConfig{
			WorkDir:           ".",
			WorkerTimeout:     Duration(15 * time.Minute),
			RetryDelay:        Duration(2 * time.Second),
			ReviewCeiling:     3,
			MaxClarifications: 3,
		},
		Verify: VerifyConfig{
			Timeout: Duration(10 * time.Minute),
		},
		VCS: VCSConfig{
			AuthorName:  "phasegate",
			AuthorEmail: "phasegate@localhost",
		},
		Logging: logging.Config{Level: "info", Format: "console"},
	}
}
