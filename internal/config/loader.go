// Package config loads phasegate configuration from layered YAML files and
// PHASEGATE_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix         = "PHASEGATE_"
	maxConfigFileSize = 1024 * 1024
)

// Load merges, from lowest to highest precedence: built-in defaults, the
// global file, the project file and PHASEGATE_* variables. Missing files are
// skipped. Maps merge key by key; lists are replaced.
func Load(globalPath, projectPath string) (*Config, error) {
	k := koanf.New(".")

	defaults, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("encoding defaults: %w", err)
	}
	if err := k.Load(rawbytes.Provider(defaults), kyaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	for _, path := range []string{globalPath, projectPath} {
		if err := loadFile(k, path); err != nil {
			return nil, err
		}
	}

	// PHASEGATE_RUN__WORKER_TIMEOUT -> run.worker_timeout
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Paths returns the conventional global and project config paths.
func Paths(workDir string) (global, project string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".phasegate", "config.yaml"),
		filepath.Join(workDir, ".phasegate", "config.yaml"), nil
}

// LoadDefault loads from the conventional paths for workDir.
func LoadDefault(workDir string) (*Config, error) {
	global, project, err := Paths(workDir)
	if err != nil {
		return nil, err
	}
	return Load(global, project)
}

func loadFile(k *koanf.Koanf, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := k.Load(rawbytes.Provider(data), kyaml.Parser()); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
