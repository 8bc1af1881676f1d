package mcp

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/repertory-sheet-server/internal/config"
	"github.com/repertory-sheet-server/internal/feedback"
	"github.com/repertory-sheet-server/internal/service"
	"github.com/repertory-sheet-server/pkg/external"
)

// LiteServer is a self-contained MCP server: in-memory rubric cache, SQLite prescription
// log and file exports under the data directory. It needs no database or Redis.
type LiteServer struct {
	*Server
	config   *config.LiteConfig
	feedback *feedback.SQLiteStore
	searcher *external.ResilientRepertoryClient
}

// NewLiteServer creates a lite server from cfg
func NewLiteServer(cfg *config.LiteConfig) (*LiteServer, error) {
	logger := config.NewLogger(cfg.LoggingConfig())

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cache, err := external.NewMemoryCache(cfg.CacheMaxItems, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	searcher := external.NewResilientRepertoryClient(
		external.NewRepertoryClient(cfg.RepertoryConfig()),
		cache,
		cfg.CacheTTL,
		external.DefaultCircuitBreakerConfig(),
		logger,
	)

	store, err := feedback.NewSQLiteStore(cfg.FeedbackDBPath())
	if err != nil {
		searcher.Close()
		return nil, fmt.Errorf("failed to open feedback store: %w", err)
	}

	cases := service.NewCaseService(
		service.NewSessionRegistry(cfg.MaxSessions, service.DefaultSessionTTL, logger),
		service.CaseServiceOptions{
			Rubrics:    service.NewRubricSource(searcher, nil, logger),
			ExportSink: service.NewFileExportSink(cfg.ExportDir(), logger),
			Feedback:   store,
			TopN:       cfg.TopN,
		},
		logger,
	)

	logger.WithFields(logrus.Fields{
		"data_dir":  cfg.DataDir,
		"transport": cfg.Transport,
		"repertory": cfg.RepertoryName,
	}).Info("Lite server configured")

	return &LiteServer{
		Server: NewServer(cases, ServerInfo{
			Name:          "repertory-sheet-server",
			Version:       "1.0.0",
			RepertoryName: cfg.RepertoryName,
		}, logger),
		config:   cfg,
		feedback: store,
		searcher: searcher,
	}, nil
}

// Start serves on the configured transport until ctx is cancelled
func (s *LiteServer) Start(ctx context.Context) error {
	switch s.config.Transport {
	case "", "stdio":
		return s.ServeStdio(ctx)
	case "http":
		return s.ServeHTTP(ctx, fmt.Sprintf(":%d", s.config.HTTPPort))
	default:
		return fmt.Errorf("unsupported transport: %s", s.config.Transport)
	}
}

// Close releases the feedback store and the search client
func (s *LiteServer) Close() error {
	var firstErr error
	if err := s.feedback.Close(); err != nil {
		firstErr = err
	}
	if err := s.searcher.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
