package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/phasegate/internal/backend"
	"github.com/aristath/phasegate/internal/checkpoint"
	"github.com/aristath/phasegate/internal/config"
	"github.com/aristath/phasegate/internal/orchestrator"
	"github.com/aristath/phasegate/internal/project"
	"github.com/aristath/phasegate/internal/worker"
)

// TestProcessManagerKillAllOnShutdown verifies that KillAll terminates
// tracked worker processes during shutdown.
func TestProcessManagerKillAllOnShutdown(t *testing.T) {
	pm := backend.NewProcessManager()

	cmd := exec.Command("sleep", "60")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())
	pm.Track(cmd)
	defer pm.Untrack(cmd)
	assert.Equal(t, 1, pm.Count())

	require.NoError(t, pm.KillAll())

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		assert.Error(t, err, "process should have been killed")
	case <-time.After(2 * time.Second):
		t.Fatal("process did not terminate after KillAll")
	}
}

func TestApplyFlags(t *testing.T) {
	cfg := config.DefaultConfig()
	err := applyFlags(cfg, runFlags{
		projectType:  "existing",
		deployTarget: "skip",
		vcs:          "unmanaged",
		traceFile:    "/tmp/spans.json",
		logLevel:     "debug",
	}, "/work")
	require.NoError(t, err)

	assert.Equal(t, "/work", cfg.Run.WorkDir)
	assert.Equal(t, project.ProjectExisting, cfg.Run.ProjectType)
	assert.Equal(t, project.DeploySkip, cfg.Run.DeployTarget)
	assert.Equal(t, project.VCSUnmanaged, cfg.Run.VersionControl)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "/tmp/spans.json", cfg.Tracing.File)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestApplyFlagsRejectsUnknownValues(t *testing.T) {
	assert.Error(t, applyFlags(config.DefaultConfig(), runFlags{projectType: "legacy"}, "/w"))
	assert.Error(t, applyFlags(config.DefaultConfig(), runFlags{vcs: "svn"}, "/w"))
}

func TestNewRunWiresController(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	require.NoError(t, applyFlags(cfg, runFlags{projectType: "new", deployTarget: "fly"}, dir))
	cfg.Verify.Commands = []string{"go build ./..."}

	approve := checkpoint.ApproverFunc(func(context.Context, checkpoint.Checkpoint) (checkpoint.Decision, error) {
		return checkpoint.Approve(), nil
	})
	r, err := newRun(context.Background(), runDeps{
		cfg:      cfg,
		request:  "todo api",
		procs:    backend.NewProcessManager(),
		approver: approve,
	})
	require.NoError(t, err)
	defer r.Close()

	settings := r.ctrl.State().Settings()
	assert.Equal(t, "todo api", settings.Request)
	assert.Equal(t, project.ProjectNew, settings.ProjectType)
	assert.Equal(t, "fly", settings.DeployTarget)
	for _, s := range r.ctrl.Phases() {
		assert.Equal(t, orchestrator.StatusPending, s)
	}

	// The repository is only created on the first commit.
	_, err = os.Stat(filepath.Join(dir, ".git"))
	assert.True(t, os.IsNotExist(err))
}

func TestBackendFactoryCreatesFreshInstances(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Run.WorkDir = t.TempDir()
	factory := backendFactory(cfg, backend.NewProcessManager())

	a, err := factory(worker.Implementer)
	require.NoError(t, err)
	b, err := factory(worker.Implementer)
	require.NoError(t, err)
	assert.IsType(t, &backend.ClaudeAdapter{}, a)
	assert.NotEqual(t, a.SessionID(), b.SessionID())

	delete(cfg.Agents, "deployer")
	_, err = factory(worker.Deployer)
	assert.Error(t, err)
}

func TestProviderKeySharesBreakers(t *testing.T) {
	cfg := config.DefaultConfig()
	agent := cfg.Agents["quality_reviewer"]
	agent.Provider = "codex"
	cfg.Agents["quality_reviewer"] = agent

	key := providerKey(cfg)
	assert.Equal(t, "claude", key(worker.Implementer))
	assert.Equal(t, key(worker.Implementer), key(worker.SpecReviewer))
	assert.Equal(t, "codex", key(worker.QualityReviewer))
}

func TestAnglesFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Phases["bogus"] = config.PhaseConfig{Angles: []string{"x", "y"}}

	got := angles(cfg)
	assert.Equal(t, cfg.Phases["design"].Angles, got[project.Design])
	assert.Len(t, got, 3)
}

func TestWriteConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".phasegate", "config.yaml")
	cfg := config.DefaultConfig()

	require.NoError(t, writeConfig(cfg, path, false))
	assert.Error(t, writeConfig(cfg, path, false), "existing file needs --force")
	require.NoError(t, writeConfig(cfg, path, true))

	loaded, err := config.Load("", path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Run.ReviewCeiling, loaded.Run.ReviewCeiling)
}
