package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/aristath/phasegate/internal/config"
	"github.com/aristath/phasegate/internal/project"
)

// wizardFields are the form bindings; huh edits plain strings.
type wizardFields struct {
	implementerProvider string
	reviewerProvider    string
	architectProvider   string
	claudeCommand       string
	codexCommand        string
	gooseCommand        string
	verifyCommands      string // one per line
	deployTarget        string
	versionControl      string
}

func fieldsFromConfig(cfg *config.Config) wizardFields {
	return wizardFields{
		implementerProvider: cfg.Agents["implementer"].Provider,
		reviewerProvider:    cfg.Agents["spec_reviewer"].Provider,
		architectProvider:   cfg.Agents["architect"].Provider,
		claudeCommand:       cfg.Providers["claude"].Command,
		codexCommand:        cfg.Providers["codex"].Command,
		gooseCommand:        cfg.Providers["goose"].Command,
		verifyCommands:      strings.Join(cfg.Verify.Commands, "\n"),
		deployTarget:        cfg.Run.DeployTarget,
		versionControl:      cfg.Run.VersionControl,
	}
}

// apply copies the edited fields back. Reviewer provider covers both review
// stages.
func (f wizardFields) apply(cfg *config.Config) {
	setProvider := func(role, provider string) {
		if agent, ok := cfg.Agents[role]; ok && provider != "" {
			agent.Provider = provider
			cfg.Agents[role] = agent
		}
	}
	setProvider("implementer", f.implementerProvider)
	setProvider("spec_reviewer", f.reviewerProvider)
	setProvider("quality_reviewer", f.reviewerProvider)
	setProvider("architect", f.architectProvider)

	setCommand := func(name, command string) {
		if p, ok := cfg.Providers[name]; ok && command != "" {
			p.Command = command
			cfg.Providers[name] = p
		}
	}
	setCommand("claude", f.claudeCommand)
	setCommand("codex", f.codexCommand)
	setCommand("goose", f.gooseCommand)

	var commands []string
	for _, line := range strings.Split(f.verifyCommands, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			commands = append(commands, line)
		}
	}
	cfg.Verify.Commands = commands
	cfg.Run.DeployTarget = strings.TrimSpace(f.deployTarget)
	cfg.Run.VersionControl = f.versionControl
}

func providerOptions(cfg *config.Config) []huh.Option[string] {
	var opts []huh.Option[string]
	for _, name := range []string{"claude", "codex", "goose"} {
		if _, ok := cfg.Providers[name]; ok {
			opts = append(opts, huh.NewOption(name, name))
		}
	}
	return opts
}

// ConfigureWizard edits cfg interactively. cfg is only modified when the
// operator completes the form.
func ConfigureWizard(ctx context.Context, cfg *config.Config) error {
	f := fieldsFromConfig(cfg)
	providers := providerOptions(cfg)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Implementer Provider").
				Options(providers...).
				Value(&f.implementerProvider),
			huh.NewSelect[string]().
				Title("Reviewer Provider").
				Description("Used by both the spec compliance and the quality review stage.").
				Options(providers...).
				Value(&f.reviewerProvider),
			huh.NewSelect[string]().
				Title("Architect Provider").
				Options(providers...).
				Value(&f.architectProvider),
		).Title("Workers"),

		huh.NewGroup(
			huh.NewInput().
				Title("Claude Command").
				Value(&f.claudeCommand).
				Placeholder("claude"),
			huh.NewInput().
				Title("Codex Command").
				Value(&f.codexCommand).
				Placeholder("codex"),
			huh.NewInput().
				Title("Goose Command").
				Value(&f.gooseCommand).
				Placeholder("goose"),
		).Title("Provider Commands"),

		huh.NewGroup(
			huh.NewText().
				Title("Verification Commands").
				Description("One per line, e.g. go build ./... and go test ./...").
				Value(&f.verifyCommands),
			huh.NewInput().
				Title("Deploy Target").
				Description("Leave empty to decide during setup; \"skip\" disables deployment.").
				Value(&f.deployTarget),
			huh.NewSelect[string]().
				Title("Version Control").
				Options(
					huh.NewOption("Decide during setup", ""),
					huh.NewOption("git", project.VCSManaged),
					huh.NewOption("unmanaged", project.VCSUnmanaged),
				).
				Value(&f.versionControl),
		).Title("Run Defaults"),
	)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ErrAborted
		}
		return err
	}
	f.apply(cfg)
	return nil
}
