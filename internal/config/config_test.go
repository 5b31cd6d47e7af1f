package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "codraft", cfg.Database.Name)
	assert.Equal(t, 10*time.Second, cfg.Sync.AutoSaveInterval)
	assert.True(t, cfg.Sync.AutoSaveEnabled)
	assert.Equal(t, 3, cfg.Sync.SaveRetries)
	assert.Equal(t, time.Second, cfg.Sync.ReconnectBase)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("AUTOSAVE_INTERVAL", "7s")
	t.Setenv("AUTOSAVE_ENABLED", "false")
	t.Setenv("SAVE_RETRIES", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 7*time.Second, cfg.Sync.AutoSaveInterval)
	assert.False(t, cfg.Sync.AutoSaveEnabled)
	assert.Equal(t, 5, cfg.Sync.SaveRetries)
}

func TestLoadRejectsBadInterval(t *testing.T) {
	t.Setenv("AUTOSAVE_INTERVAL", "soon")

	_, err := Load()
	assert.Error(t, err)
}
