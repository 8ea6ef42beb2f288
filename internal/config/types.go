package config

import (
	"fmt"
	"time"

	"github.com/aristath/phasegate/internal/backend"
	"github.com/aristath/phasegate/internal/logging"
)

// Duration is a time.Duration that reads and writes as "10m", "30s", etc.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML renders the duration in Go syntax.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ProviderConfig is a worker CLI. Several agents may share one provider.
type ProviderConfig struct {
	Command string   `koanf:"command" yaml:"command"`
	Args    []string `koanf:"args" yaml:"args,omitempty"`
	Type    string   `koanf:"type" yaml:"type"` // claude, codex or goose
}

// AgentConfig binds a worker role to a provider, model and instruction text.
// The instruction text is passed through to the worker verbatim.
type AgentConfig struct {
	Provider     string   `koanf:"provider" yaml:"provider"`
	Model        string   `koanf:"model" yaml:"model,omitempty"`
	LLMProvider  string   `koanf:"llm_provider" yaml:"llm_provider,omitempty"`
	SystemPrompt string   `koanf:"system_prompt" yaml:"system_prompt,omitempty"`
	Tools        []string `koanf:"tools" yaml:"tools,omitempty"`
}

// PhaseConfig customizes a phase. Angles are used by team phases, one
// worker per angle.
type PhaseConfig struct {
	Angles []string `koanf:"angles" yaml:"angles,omitempty"`
}

// RunConfig controls a single run.
type RunConfig struct {
	WorkDir           string   `koanf:"work_dir" yaml:"work_dir"`
	ProjectType       string   `koanf:"project_type" yaml:"project_type"`
	DeployTarget      string   `koanf:"deploy_target" yaml:"deploy_target"`
	VersionControl    string   `koanf:"version_control" yaml:"version_control"`
	WorkerTimeout     Duration `koanf:"worker_timeout" yaml:"worker_timeout"`
	RetryDelay        Duration `koanf:"retry_delay" yaml:"retry_delay"`
	ReviewCeiling     int      `koanf:"review_ceiling" yaml:"review_ceiling"`
	CheckpointCap     int      `koanf:"checkpoint_cap" yaml:"checkpoint_cap"` // 0 means unbounded
	MaxClarifications int      `koanf:"max_clarifications" yaml:"max_clarifications"`
}

// VerifyConfig lists the commands run as verification checks.
type VerifyConfig struct {
	Commands []string `koanf:"commands" yaml:"commands"`
	Timeout  Duration `koanf:"timeout" yaml:"timeout"`
}

// VCSConfig sets the commit author.
type VCSConfig struct {
	AuthorName  string `koanf:"author_name" yaml:"author_name"`
	AuthorEmail string `koanf:"author_email" yaml:"author_email"`
}

// TrackerConfig locates the task tracking database. An empty path keeps it in memory.
type TrackerConfig struct {
	Path string `koanf:"path" yaml:"path"`
}

// TracingConfig enables span export.
type TracingConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	File    string `koanf:"file" yaml:"file"`
}

// Config is the top-level configuration.
type Config struct {
	Providers map[string]ProviderConfig `koanf:"providers" yaml:"providers"`
	Agents    map[string]AgentConfig    `koanf:"agents" yaml:"agents"`
	Phases    map[string]PhaseConfig    `koanf:"phases" yaml:"phases"`
	Run       RunConfig                 `koanf:"run" yaml:"run"`
	Verify    VerifyConfig              `koanf:"verify" yaml:"verify"`
	VCS       VCSConfig                 `koanf:"vcs" yaml:"vcs"`
	Tracker   TrackerConfig             `koanf:"tracker" yaml:"tracker"`
	Logging   logging.Config            `koanf:"logging" yaml:"logging"`
	Tracing   TracingConfig             `koanf:"tracing" yaml:"tracing"`
}

// Validate checks cross-references and limits.
func (c *Config) Validate() error {
	for name, agent := range c.Agents {
		if _, ok := c.Providers[agent.Provider]; !ok {
			return fmt.Errorf("agent %q uses unknown provider %q", name, agent.Provider)
		}
	}
	for name, p := range c.Providers {
		switch p.Type {
		case "claude", "codex", "goose":
		default:
			return fmt.Errorf("provider %q has unsupported type %q", name, p.Type)
		}
	}
	for name, ph := range c.Phases {
		if n := len(ph.Angles); n != 0 && (n < 2 || n > 4) {
			return fmt.Errorf("phase %q needs 2 to 4 angles, got %d", name, n)
		}
	}
	if c.Run.ReviewCeiling < 1 {
		return fmt.Errorf("run.review_ceiling must be at least 1")
	}
	if c.Run.CheckpointCap < 0 {
		return fmt.Errorf("run.checkpoint_cap must not be negative")
	}
	return nil
}

// Backend resolves the backend configuration for a worker role.
func (c *Config) Backend(role, workDir string) (backend.Config, error) {
	agent, ok := c.Agents[role]
	if !ok {
		return backend.Config{}, fmt.Errorf("no agent configured for role %q", role)
	}
	provider, ok := c.Providers[agent.Provider]
	if !ok {
		return backend.Config{}, fmt.Errorf("agent %q uses unknown provider %q", role, agent.Provider)
	}
	return backend.Config{
		Type:         provider.Type,
		Command:      provider.Command,
		Args:         provider.Args,
		WorkDir:      workDir,
		Model:        agent.Model,
		Provider:     agent.LLMProvider,
		SystemPrompt: agent.SystemPrompt,
	}, nil
}
