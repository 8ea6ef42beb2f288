package orchestrator

import (
	"context"

	"github.com/aristath/phasegate/internal/project"
	"github.com/aristath/phasegate/internal/worker"
)

// StateAnswerer answers worker questions from the project state and falls
// back to ask (usually the operator) for anything the state does not know.
// It reads state while the controller is blocked on the dispatch that asked.
func StateAnswerer(state *project.State, ask worker.AnswerFunc) worker.AnswerFunc {
	return func(ctx context.Context, subject, question string) (string, error) {
		if answer, ok := state.Answer(question); ok {
			return answer, nil
		}
		if ask == nil {
			return "Unknown. Proceed with your best judgement and state the assumption.", nil
		}
		return ask(ctx, subject, question)
	}
}
