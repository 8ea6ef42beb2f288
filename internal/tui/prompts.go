package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/aristath/phasegate/internal/escalation"
)

func required(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

// PromptRequest asks for the request when none was given on the command line.
func PromptRequest(ctx context.Context) (string, error) {
	var request string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewText().
				Title("What should be built?").
				Description("Describe the feature, fix or project. Setup will ask follow-up questions.").
				Value(&request).
				Validate(required("a request")),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", ErrAborted
		}
		return "", err
	}
	return strings.TrimSpace(request), nil
}

// AskOperator puts a worker's clarification question to the operator. It
// matches worker.AnswerFunc.
func AskOperator(ctx context.Context, subject, question string) (string, error) {
	var answer string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Question from "+subject),
			huh.NewInput().
				Title(question).
				Value(&answer).
				Validate(required("an answer")),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", ErrAborted
		}
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

// RenderEscalation formats an error that stopped the run for the operator.
func RenderEscalation(err error) string {
	esc, ok := escalation.As(err)
	if !ok {
		return StyleEscalationBorder.Render(StyleError.Render("Run stopped") + "\n" + err.Error())
	}

	var b strings.Builder
	b.WriteString(StyleError.Render("Escalation: " + esc.Kind.String()))
	b.WriteString("\n")
	if esc.Phase != "" {
		fmt.Fprintf(&b, "phase:  %s\n", esc.Phase)
	}
	if esc.TaskID != "" {
		fmt.Fprintf(&b, "task:   %s\n", esc.TaskID)
	}
	if esc.Stage != "" {
		fmt.Fprintf(&b, "stage:  %s\n", esc.Stage)
	}
	if esc.Reason != "" {
		fmt.Fprintf(&b, "reason: %s\n", esc.Reason)
	}
	if esc.Err != nil {
		fmt.Fprintf(&b, "cause:  %v\n", esc.Err)
	}
	if len(esc.History) > 0 {
		b.WriteString("\nAttempts:\n")
	}
	for _, a := range esc.History {
		line := fmt.Sprintf("  #%d", a.Number)
		if a.Stage != "" {
			line += " " + a.Stage
		}
		if a.InvocationID != "" {
			line += " " + StyleMuted.Render(a.InvocationID)
		}
		if a.Err != "" {
			line += ": " + a.Err
		}
		b.WriteString(line + "\n")
		for _, f := range a.Findings {
			fmt.Fprintf(&b, "      - %s\n", f)
		}
	}
	b.WriteString("\n" + StyleHelp.Render("Resolve the issue and start a new run."))
	return StyleEscalationBorder.Render(b.String())
}
