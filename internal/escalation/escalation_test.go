package escalation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	err := &Error{
		Kind:   LoopExhaustion,
		Phase:  "implement",
		TaskID: "t1",
		Stage:  "quality_review",
		Reason: "no pass after 3 iterations",
	}
	assert.Equal(t, "loop_exhaustion in phase implement (task t1, stage quality_review): no pass after 3 iterations", err.Error())
}

func TestDetailIncludesHistory(t *testing.T) {
	err := &Error{
		Kind: WorkerFailure,
		History: []Attempt{
			{Number: 1, InvocationID: "a", Err: "timeout"},
			{Number: 2, InvocationID: "b", Err: "exit status 1", Findings: []string{"missing: tests"}},
		},
	}
	d := err.Detail()
	assert.Contains(t, d, "attempt 1 invocation a: timeout")
	assert.Contains(t, d, "attempt 2 invocation b: exit status 1")
	assert.Contains(t, d, "- missing: tests")
}

func TestAsAndIsFatal(t *testing.T) {
	cause := errors.New("baseline broken")
	wrapped := fmt.Errorf("phase explore: %w", Fatal("explore", "baseline verification failed", cause))

	e, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, FatalPhase, e.Kind)
	assert.True(t, IsFatal(wrapped))
	assert.ErrorIs(t, wrapped, cause)

	assert.False(t, IsFatal(&Error{Kind: WorkerFailure}))
	assert.False(t, IsFatal(cause))
}
