// Package orchestrator runs the ten phases of a delegation run in order,
// gating each on operator approval.
package orchestrator

import (
	"github.com/aristath/phasegate/internal/project"
	"github.com/aristath/phasegate/internal/worker"
)

// PhaseSpec describes a phase as data. Bodies are looked up by ID.
type PhaseSpec struct {
	ID         project.PhaseID
	Title      string
	Role       worker.Role
	Team       bool
	SkipWhen   []project.Rule
	Checkpoint bool
	Goal       string
}

// DefaultAngles are used for team phases the configuration leaves empty.
var DefaultAngles = map[project.PhaseID][]string{
	project.Explore: {"structure and entry points", "dependencies and build", "conventions and tests"},
	project.Design:  {"minimal changes", "clean architecture", "pragmatic balance"},
	project.Review:  {"correctness", "maintainability", "test coverage"},
}

// Catalogue returns the phases in execution order.
func Catalogue() []PhaseSpec {
	return []PhaseSpec{
		{
			ID:         project.Setup,
			Title:      "Setup",
			Role:       worker.Architect,
			Checkpoint: true,
			Goal: "Clarify the request. Decide and report as facts: project_type (new or existing), " +
				"deploy_target (a platform, or skip), version_control (git or unmanaged).",
		},
		{
			ID:         project.Explore,
			Title:      "Explore",
			Role:       worker.Explorer,
			Team:       true,
			SkipWhen:   []project.Rule{{Setting: project.KeyProjectType, Equals: project.ProjectNew}},
			Checkpoint: true,
			Goal:       "Explore the existing codebase from your focus. Run its build or tests and report the commands as evidence.",
		},
		{
			ID:         project.Requirements,
			Title:      "Requirements",
			Role:       worker.Architect,
			Checkpoint: true,
			Goal:       "Write the requirements. List every requirement and acceptance criterion under criteria.",
		},
		{
			ID:         project.Design,
			Title:      "Design",
			Role:       worker.Architect,
			Team:       true,
			Checkpoint: true,
			Goal:       "Propose an architecture from your focus. Describe components, data flow and trade-offs.",
		},
		{
			ID:         project.Plan,
			Title:      "Plan",
			Role:       worker.Architect,
			Checkpoint: true,
			Goal: "Break the approved design into small implementation tasks. Each task needs an id, " +
				"a description, acceptance criteria and the ids it depends on.",
		},
		{
			ID:         project.Scaffold,
			Title:      "Scaffold",
			Role:       worker.Scaffolder,
			SkipWhen:   []project.Rule{{Setting: project.KeyProjectType, Equals: project.ProjectExisting}},
			Checkpoint: true,
			Goal:       "Create the project skeleton so that it builds. Report every file you created and the build command you ran as evidence.",
		},
		{
			ID:    project.Implement,
			Title: "Implement",
			Role:  worker.Implementer,
		},
		{
			ID:         project.Test,
			Title:      "Test",
			Role:       worker.TestEngineer,
			Checkpoint: true,
			Goal:       "Write integration and end-to-end tests for the implemented work. Run the full suite and report the commands as evidence.",
		},
		{
			ID:         project.Review,
			Title:      "Review",
			Role:       worker.QualityReviewer,
			Team:       true,
			Checkpoint: true,
			Goal:       "Review the whole change from your focus. Tag findings critical, important or suggestion.",
		},
		{
			ID:         project.Deploy,
			Title:      "Deploy",
			Role:       worker.Deployer,
			Checkpoint: true,
			Goal:       "Deploy the project to the configured target and report how to reach it.",
		},
	}
}
