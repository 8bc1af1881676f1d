// Package config provides configuration management for the repertory sheet server.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/repertory-sheet-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external databases and uses sensible defaults.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for the feedback database and exports

	// Cache settings
	CacheMaxItems int           // Maximum items in memory cache
	CacheTTL      time.Duration // Default cache TTL

	// Repertory search service
	RepertoryURL    string // Base URL of the search service
	RepertoryAPIKey string // Optional bearer token
	RepertoryName   string // Repertory used when a search names none

	// Analysis
	TopN        int // Remedies shown by analyses and exports, 0 for all
	MaxSessions int

	// Transport settings
	Transport string // Transport type: stdio, http
	HTTPPort  int    // HTTP port (if transport is http)

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".repertory-sheet")

	return &LiteConfig{
		DataDir:       dataDir,
		CacheMaxItems: 1000,
		CacheTTL:      24 * time.Hour,
		RepertoryURL:  "http://localhost:9000/api",
		RepertoryName: "Kent",
		TopN:          20,
		MaxSessions:   100,
		Transport:     "stdio",
		HTTPPort:      8080,
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("REPSHEET_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("REPSHEET_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("REPSHEET_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	if v := os.Getenv("REPSHEET_REPERTORY_BASE_URL"); v != "" {
		cfg.RepertoryURL = v
	}
	cfg.RepertoryAPIKey = os.Getenv("REPSHEET_REPERTORY_API_KEY")
	if v := os.Getenv("REPSHEET_REPERTORY_DEFAULT_NAME"); v != "" {
		cfg.RepertoryName = v
	}

	if v := os.Getenv("REPSHEET_EXPORT_TOP_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.TopN = n
		}
	}
	if v := os.Getenv("REPSHEET_SESSION_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSessions = n
		}
	}

	if v := os.Getenv("REPSHEET_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("REPSHEET_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	if v := os.Getenv("REPSHEET_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("REPSHEET_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// FeedbackDBPath returns the path to the feedback SQLite database.
func (c *LiteConfig) FeedbackDBPath() string {
	return filepath.Join(c.DataDir, "feedback.db")
}

// ExportDir returns the directory for case sheet exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}

// RepertoryConfig returns the search client settings
func (c *LiteConfig) RepertoryConfig() domain.RepertoryConfig {
	return domain.RepertoryConfig{
		BaseURL:        c.RepertoryURL,
		APIKey:         c.RepertoryAPIKey,
		DefaultName:    c.RepertoryName,
		Timeout:        15 * time.Second,
		RateLimit:      10,
		MaxConcurrency: 4,
		SearchLimit:    50,
	}
}

// LoggingConfig returns the logger settings
func (c *LiteConfig) LoggingConfig() domain.LoggingConfig {
	return domain.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat}
}
