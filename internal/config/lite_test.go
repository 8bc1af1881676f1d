package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, "Kent", cfg.RepertoryName)
	assert.Equal(t, 20, cfg.TopN)
	assert.Equal(t, "stdio", cfg.Transport)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadLiteConfig_Defaults(t *testing.T) {
	// Clear relevant env vars
	clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, "stdio", cfg.Transport)
	assert.Empty(t, cfg.RepertoryAPIKey)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)

	os.Setenv("REPSHEET_DATA_DIR", "/tmp/test-repsheet")
	os.Setenv("REPSHEET_CACHE_MAX_ITEMS", "500")
	os.Setenv("REPSHEET_CACHE_TTL", "12h")
	os.Setenv("REPSHEET_REPERTORY_BASE_URL", "https://repertory.example.org/api")
	os.Setenv("REPSHEET_REPERTORY_API_KEY", "test-key")
	os.Setenv("REPSHEET_REPERTORY_DEFAULT_NAME", "Synthesis")
	os.Setenv("REPSHEET_EXPORT_TOP_N", "0")
	os.Setenv("REPSHEET_TRANSPORT", "http")
	os.Setenv("REPSHEET_HTTP_PORT", "9090")
	os.Setenv("REPSHEET_LOG_LEVEL", "debug")

	defer clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.Equal(t, "/tmp/test-repsheet", cfg.DataDir)
	assert.Equal(t, 500, cfg.CacheMaxItems)
	assert.Equal(t, 12*time.Hour, cfg.CacheTTL)
	assert.Equal(t, "https://repertory.example.org/api", cfg.RepertoryURL)
	assert.Equal(t, "test-key", cfg.RepertoryAPIKey)
	assert.Equal(t, "Synthesis", cfg.RepertoryName)
	assert.Equal(t, 0, cfg.TopN)
	assert.Equal(t, "http", cfg.Transport)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "debug", cfg.LogLevel)

	rc := cfg.RepertoryConfig()
	assert.Equal(t, "https://repertory.example.org/api", rc.BaseURL)
	assert.Equal(t, "Synthesis", rc.DefaultName)
}

func TestLoadLiteConfig_InvalidValuesIgnored(t *testing.T) {
	clearEnvVars(t)
	os.Setenv("REPSHEET_CACHE_MAX_ITEMS", "many")
	os.Setenv("REPSHEET_CACHE_TTL", "forever")
	os.Setenv("REPSHEET_EXPORT_TOP_N", "-4")
	defer clearEnvVars(t)

	cfg := LoadLiteConfig()
	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 20, cfg.TopN)
}

func TestLiteConfig_FeedbackDBPath(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.repertory-sheet"}

	path := cfg.FeedbackDBPath()

	assert.Equal(t, "/home/user/.repertory-sheet/feedback.db", path)
}

func TestLiteConfig_ExportDir(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.repertory-sheet"}

	path := cfg.ExportDir()

	assert.Equal(t, "/home/user/.repertory-sheet/exports", path)
}

func TestLiteConfig_EnsureDataDir(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	cfg := &LiteConfig{DataDir: filepath.Join(tmpDir, "repsheet")}

	err = cfg.EnsureDataDir()
	require.NoError(t, err)

	_, err = os.Stat(cfg.DataDir)
	assert.NoError(t, err)

	_, err = os.Stat(cfg.ExportDir())
	assert.NoError(t, err)
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	vars := []string{
		"REPSHEET_DATA_DIR",
		"REPSHEET_CACHE_MAX_ITEMS",
		"REPSHEET_CACHE_TTL",
		"REPSHEET_REPERTORY_BASE_URL",
		"REPSHEET_REPERTORY_API_KEY",
		"REPSHEET_REPERTORY_DEFAULT_NAME",
		"REPSHEET_EXPORT_TOP_N",
		"REPSHEET_SESSION_MAX_SESSIONS",
		"REPSHEET_TRANSPORT",
		"REPSHEET_HTTP_PORT",
		"REPSHEET_LOG_LEVEL",
		"REPSHEET_LOG_FORMAT",
	}
	for _, v := range vars {
		os.Unsetenv(v)
	}
}
