package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	log, level, err := New("warn", false)
	require.NoError(t, err)
	defer func() { _ = log.Sync() }()

	assert.Equal(t, zapcore.WarnLevel, level.Level())
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.ErrorLevel))

	level.SetLevel(zapcore.DebugLevel)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestNewDefaultLevel(t *testing.T) {
	_, level, err := New("", true)
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, level.Level())

	_, level, err = New(" ", false)
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, level.Level())
}

func TestNewInvalidLevel(t *testing.T) {
	_, _, err := New("verbose", false)
	assert.ErrorContains(t, err, "invalid log level")
}
