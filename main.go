package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver for database/sql (migrations)
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gla-ilr/ilr-engine/migrations"
	"github.com/gla-ilr/ilr-engine/pkg/config"
	"github.com/gla-ilr/ilr-engine/pkg/database"
	"github.com/gla-ilr/ilr-engine/pkg/handlers"
	"github.com/gla-ilr/ilr-engine/pkg/logging"
	"github.com/gla-ilr/ilr-engine/pkg/middleware"
	"github.com/gla-ilr/ilr-engine/pkg/ops"
	"github.com/gla-ilr/ilr-engine/pkg/repositories"
	"github.com/gla-ilr/ilr-engine/pkg/retry"
	"github.com/gla-ilr/ilr-engine/pkg/services"
	"github.com/gla-ilr/ilr-engine/pkg/services/workqueue"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ilr-engine: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(Version)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("addr", cfg.Addr()),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.Int64("async_threshold_bytes", cfg.Imports.AsyncThresholdBytes),
		zap.Int("checkpoint_rows", cfg.Imports.CheckpointRows),
		zap.Int("worker_concurrency", cfg.Imports.WorkerConcurrency))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrate(cfg.Database.URL(), logger); err != nil {
		return err
	}

	thresholds := services.DefaultOccupancyThresholds(cfg.Imports.FormatChangeYears)
	if cfg.Imports.ColumnTableFile != "" {
		thresholds, err = config.LoadColumnTable(cfg.Imports.ColumnTableFile)
		if err != nil {
			return err
		}
		logger.Info("Loaded occupancy column table", zap.String("path", cfg.Imports.ColumnTableFile))
	}

	importsRepo := repositories.NewDataImportRepository()
	filesRepo := repositories.NewStoredFileRepository()
	importerDeps := services.ImporterDeps{
		Occupancy:          repositories.NewOccupancyRepository(),
		FundingSummary:     repositories.NewFundingSummaryRepository(),
		SupplementaryData:  repositories.NewSupplementaryDataRepository(),
		ProviderAllocation: repositories.NewProviderAllocationRepository(),
		ReferenceData:      repositories.NewReferenceDataRepository(),
		StoredFiles:        filesRepo,
	}

	queue := workqueue.New(logger.Named("uploads"),
		workqueue.WithStrategy(workqueue.StrategyFor(cfg.Imports.WorkerConcurrency)),
		workqueue.WithHistoryLimit(cfg.Imports.TaskHistory),
		workqueue.WithRetryConfig(uploadRetryConfig(cfg.Imports)))

	uploadHandler := services.NewUploadHandler(services.UploadHandlerDeps{
		Imports:    importsRepo,
		Files:      filesRepo,
		Importers:  services.NewImporterRegistry(importerDeps),
		Validator:  services.NewColumnValidator(thresholds),
		Transactor: database.ContextTransactor{},
		Queue:      queue,
		GetScope:   services.NewScopeContextFunc(db),
		Config:     cfg.Imports,
		Logger:     logger.Named("import"),
	})
	dataImportService := services.NewDataImportService(services.DataImportServiceDeps{
		Imports:            importsRepo,
		Files:              filesRepo,
		Occupancy:          importerDeps.Occupancy,
		FundingSummary:     importerDeps.FundingSummary,
		SupplementaryData:  importerDeps.SupplementaryData,
		ProviderAllocation: importerDeps.ProviderAllocation,
		ReferenceData:      importerDeps.ReferenceData,
		Transactor:         database.ContextTransactor{},
		Logger:             logger.Named("imports"),
	})
	reportingService := services.NewReportingService(importerDeps)

	var opsPusher services.FundingSummaryPusher
	if cfg.Ops.Enabled {
		opsPusher = ops.NewClient(ops.Config{
			BaseURL:            cfg.Ops.BaseURL,
			FundingSummaryPath: cfg.Ops.FundingSummaryPath,
			Username:           cfg.Ops.Username,
			Password:           cfg.Ops.Password,
			Timeout:            cfg.Ops.Timeout,
		}, logger)
	} else {
		logger.Info("OPS export disabled")
	}
	opsExportService := services.NewOpsExportService(services.OpsExportServiceDeps{
		Imports:        importsRepo,
		FundingSummary: importerDeps.FundingSummary,
		Pusher:         opsPusher,
		Logger:         logger,
	})

	scope := database.WithScope(db, logger)
	mux := http.NewServeMux()

	handlers.NewHealthHandler(cfg, db, queue, logger).RegisterRoutes(mux)
	handlers.NewImportHandler(uploadHandler, dataImportService, queue, cfg.Imports.MaxUploadBytes, logger).RegisterRoutes(mux, scope)
	handlers.NewFileHandler(dataImportService, logger).RegisterRoutes(mux, scope)
	handlers.NewReportHandler(reportingService, logger).RegisterRoutes(mux, scope)
	handlers.NewOpsHandler(opsExportService, logger).RegisterRoutes(mux, scope)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           middleware.RequestLogger(logger)(middleware.WithUser(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting ilr-engine",
			zap.String("addr", server.Addr),
			zap.Bool("tls", cfg.TLSCertPath != ""),
			zap.String("version", cfg.Version))

		var err error
		if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", zap.Error(err))
		}
		// Running uploads finish before the pool closes; queued ones are failed.
		if err := queue.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Upload queue did not drain", zap.Error(err),
				zap.Int("remaining", queue.TaskCount()))
		}
		return nil
	})

	return g.Wait()
}

func connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*database.DB, error) {
	dbCfg := &database.Config{
		URL:              cfg.Database.URL(),
		MaxConnections:   cfg.Database.MaxConnections,
		MinConnections:   cfg.Database.MinConnections,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		StatementTimeout: cfg.Database.StatementTimeout,
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = 5
	retryCfg.InitialDelay = time.Second

	db, err := retry.DoWithResult(ctx, retryCfg, func() (*database.DB, error) {
		db, err := database.NewConnection(ctx, dbCfg)
		if err != nil {
			logger.Warn("Database not ready", zap.String("error", logging.SanitizeError(err)))
		}
		return db, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %s", logging.SanitizeError(err))
	}
	return db, nil
}

func migrate(url string, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", url)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %s", logging.SanitizeError(err))
	}
	defer sqlDB.Close()

	return database.RunMigrations(sqlDB, migrations.FS, logger)
}

// uploadRetryConfig applies the configured retry budget to the queue defaults.
func uploadRetryConfig(ic config.ImportsConfig) workqueue.RetryConfig {
	rc := workqueue.DefaultRetryConfig()
	rc.MaxRetries = ic.TaskMaxRetries
	return rc
}
