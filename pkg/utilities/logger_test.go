package utilities

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_DEV", "true")
	cfg := ConfigFromEnv()
	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "168h0m0s", cfg.FileMaxAge.String())
}

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, levelFromString("warning"))
	assert.Equal(t, zapcore.InfoLevel, levelFromString("verbose"))
}

func TestInitWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.log")
	lg, err := Init(Config{Level: "info", File: path, FileMaxAge: 168 * time.Hour, FileRotation: 24 * time.Hour})
	require.NoError(t, err)
	lg.Info("hello file")
	_ = lg.Sync()

	matches, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	b, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), "hello file")
}
