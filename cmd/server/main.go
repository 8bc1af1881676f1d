package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/repertory-sheet-server/internal/api"
	"github.com/repertory-sheet-server/internal/config"
	"github.com/repertory-sheet-server/internal/database"
	"github.com/repertory-sheet-server/internal/domain"
	"github.com/repertory-sheet-server/internal/feedback"
	"github.com/repertory-sheet-server/internal/mcp"
	"github.com/repertory-sheet-server/internal/repository"
	"github.com/repertory-sheet-server/internal/service"
	"github.com/repertory-sheet-server/pkg/external"
)

func main() {
	config.LoadDotEnv()

	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := config.NewLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, configManager, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("Server stopped")
}

func run(ctx context.Context, configManager *config.Manager, logger *logrus.Logger) error {
	cfg := configManager.GetConfig()

	var (
		library domain.RubricLibrary
		store   feedback.Store
		checks  = map[string]api.HealthCheck{}
	)

	if cfg.Database.Host != "" {
		db, err := database.NewConnection(ctx, database.ConfigFromDomain(cfg.Database), logger)
		if err != nil {
			return err
		}
		defer db.Close()

		migrations, err := database.NewMigrationRunner(configManager.GetDatabaseURL(), cfg.Database.MigrationsPath, logger)
		if err != nil {
			return err
		}
		err = migrations.Up(ctx)
		migrations.Close()
		if err != nil {
			return err
		}

		library = repository.NewRubricRepository(db.Pool, logger)
		checks["database"] = db.Health

		pgStore, err := feedback.NewPostgresStoreFromURL(configManager.GetDatabaseURL())
		if err != nil {
			return err
		}
		store = pgStore
	} else {
		sqliteStore, err := feedback.NewSQLiteStore(filepath.Join(cfg.Export.Directory, "feedback.db"))
		if err != nil {
			return err
		}
		store = sqliteStore
		logger.Info("No database configured; rubric library disabled, prescriptions kept in SQLite")
	}
	defer store.Close()

	var cache external.RubricCache
	if cfg.Cache.RedisURL != "" {
		redisCache, err := external.NewCacheClient(cfg.Cache)
		if err != nil {
			return err
		}
		checks["redis"] = redisCache.Ping
		cache = redisCache
	} else {
		memoryCache, err := external.NewMemoryCache(cfg.Cache.MemoryEntries, cfg.Cache.DefaultTTL)
		if err != nil {
			return err
		}
		cache = memoryCache
	}

	searcher := external.NewResilientRepertoryClient(
		external.NewRepertoryClient(cfg.Repertory),
		cache,
		cfg.Cache.DefaultTTL,
		external.DefaultCircuitBreakerConfig(),
		logger,
	)
	defer searcher.Close()

	cases := service.NewCaseService(
		service.NewSessionRegistry(cfg.Session.MaxSessions, cfg.Session.IdleTTL, logger),
		service.CaseServiceOptions{
			Rubrics:    service.NewRubricSource(searcher, library, logger),
			ExportSink: service.NewFileExportSink(cfg.Export.Directory, logger),
			Feedback:   store,
			TopN:       cfg.Export.TopN,
		},
		logger,
	)

	server := api.NewServer(configManager, cases, logger)
	for name, check := range checks {
		server.AddHealthCheck(name, check)
	}

	logger.WithFields(logrus.Fields{
		"addr":      fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"repertory": cfg.Repertory.DefaultName,
	}).Info("Starting repertory sheet server")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })

	if cfg.MCP.TransportType == "http" {
		tools := mcp.NewServer(cases, mcp.ServerInfo{
			Name:          cfg.MCP.ServerName,
			Version:       cfg.MCP.ServerVersion,
			RepertoryName: cfg.Repertory.DefaultName,
		}, logger)
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.MCP.Port)
		g.Go(func() error { return tools.ServeHTTP(gctx, addr) })
	}

	return g.Wait()
}
