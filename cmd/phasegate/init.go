package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aristath/phasegate/internal/config"
	"github.com/aristath/phasegate/internal/tui"
)

var (
	initGlobal      bool
	initInteractive bool
	initForce       bool
)

func init() {
	initCmd.Flags().BoolVar(&initGlobal, "global", false, "write ~/.phasegate/config.yaml instead of the project file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "edit the starter config in a form before saving")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config file")
}

// initCmd writes a starter configuration
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration",
	Long: `Write the built-in configuration to .phasegate/config.yaml in the current
directory, or to ~/.phasegate/config.yaml with --global.

Examples:
  # Project config with the defaults
  phasegate init

  # Pick providers and verification commands interactively
  phasegate init --interactive`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	global, projectPath, err := config.Paths(wd)
	if err != nil {
		return err
	}
	path := projectPath
	if initGlobal {
		path = global
	}

	cfg := config.DefaultConfig()
	if initInteractive {
		if err := tui.ConfigureWizard(cmd.Context(), cfg); err != nil {
			return err
		}
	}
	if err := writeConfig(cfg, path, initForce); err != nil {
		return err
	}
	cmd.Printf("Wrote %s\n", path)
	return nil
}

func writeConfig(cfg *config.Config, path string, force bool) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", filepath.Clean(path))
	}
	return config.Save(cfg, path)
}
