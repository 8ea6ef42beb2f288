package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveRoundTripsThroughLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Run.WorkerTimeout = Duration(90 * time.Second)
	cfg.Run.ProjectType = "existing"
	cfg.Verify.Commands = []string{"go test ./..."}
	require.NoError(t, Save(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "worker_timeout: 1m30s")

	loaded, err := Load("", path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, loaded.Run.WorkerTimeout.Std())
	assert.Equal(t, "existing", loaded.Run.ProjectType)
	assert.Equal(t, []string{"go test ./..."}, loaded.Verify.Commands)
}
