// Package main implements the phasegate CLI, which drives a request through
// the ten delegation phases with an approval checkpoint after each.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "phasegate",
	Short: "Human-in-the-loop orchestrator for coding agents",
	Long: `phasegate delegates a software request to worker agents (claude, codex
or goose) across ten fixed phases: setup, explore, requirements, design,
plan, scaffold, implement, test, review and deploy.

Every phase except implement ends in a checkpoint you approve or reject
with feedback. Implementation tasks go through spec compliance review and
quality review before they are committed.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(initCmd)
}
