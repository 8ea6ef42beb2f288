package backend

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	pm := NewProcessManager()
	res, err := Run(context.Background(), pm, t.TempDir(), "sh", "-c", "echo out; echo err >&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))
	assert.Equal(t, 3, res.ExitCode)
	assert.Zero(t, pm.Count(), "finished processes are untracked")
}

func TestRunMissingBinary(t *testing.T) {
	_, err := Run(context.Background(), nil, "", "definitely-not-a-real-binary-xyz")
	assert.Error(t, err)
}

func TestRunLargeOutputDoesNotDeadlock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 256KB is well past the pipe buffer.
	res, err := Run(ctx, nil, "", "sh", "-c", "head -c 262144 /dev/zero | tr '\\0' 'x'")
	require.NoError(t, err)
	assert.Len(t, res.Stdout, 262144)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := Run(ctx, nil, "", "sleep", "5")
	assert.Error(t, err)
}

func TestExecuteCommandIncludesStderr(t *testing.T) {
	cmd := newCommand(context.Background(), "sh", "-c", "echo boom >&2; exit 1")
	_, _, err := executeCommand(cmd, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "boom"))
}

func TestProcessManagerKillAll(t *testing.T) {
	pm := NewProcessManager()
	cmd := newCommand(context.Background(), "sleep", "30")
	require.NoError(t, cmd.Start())
	pm.Track(cmd)
	assert.Equal(t, 1, pm.Count())

	require.NoError(t, pm.KillAll())
	_ = cmd.Wait()
	pm.Untrack(cmd)
	assert.Zero(t, pm.Count())
}
