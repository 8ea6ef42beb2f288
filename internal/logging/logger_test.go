package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	for _, cfg := range []Config{{}, {Level: "debug", Format: "json"}, {Level: "warn", Format: "console"}} {
		l, err := New(cfg)
		require.NoError(t, err)
		assert.NotNil(t, l)
	}
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
	_, err = New(Config{Format: "xml"})
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}

func TestNewObserved(t *testing.T) {
	l, logs := NewObserved(zapcore.WarnLevel)
	l.Info("hidden")
	l.Warn("shown", zap.String("task", "t1"))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "shown", entry.Message)
	assert.Equal(t, "t1", entry.ContextMap()["task"])
}
