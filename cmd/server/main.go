package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	appinv "github.com/clinic/backend/internal/application/inventory"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/clinic/backend/internal/infrastructure/cache"
	"github.com/clinic/backend/internal/infrastructure/config"
	"github.com/clinic/backend/internal/infrastructure/event"
	"github.com/clinic/backend/internal/infrastructure/logger"
	"github.com/clinic/backend/internal/infrastructure/migration"
	"github.com/clinic/backend/internal/infrastructure/persistence"
	"github.com/clinic/backend/internal/infrastructure/scheduler"
	"github.com/clinic/backend/internal/infrastructure/telemetry"
	"github.com/clinic/backend/migrations"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const shutdownTimeout = 30 * time.Second

// ledger groups the services exposed to the clinic's front ends
type ledger struct {
	stock    *appinv.StockTransactionManager
	expiry   *appinv.ExpiryMonitor
	disposal *appinv.DisposalWorkflow
	review   *appinv.BatchReviewService
}

func main() {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	ctx := context.Background()

	// Log export has to exist before the logger so zap can tee into it
	bootLog, err := logger.NewForEnvironment(cfg.App.Env)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfigFrom(cfg.Telemetry), bootLog)
	if err != nil {
		bootLog.Fatal("Failed to initialize log exporter", zap.Error(err))
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}, telemetry.NewZapOTELCore(telemetry.ZapBridgeConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		LoggerProvider: loggerProvider,
		Level:          level,
	}))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting clinic inventory ledger",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
	)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.ConfigFrom(cfg.Telemetry), log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfigFrom(cfg.Telemetry), log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfigFrom(cfg.Telemetry), log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	if profiler.IsEnabled() {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to link spans to profiles", zap.Error(err))
		}
	}

	gormLog := logger.NewGormLoggerFromConfig(log, cfg.Database.LogLevel, cfg.Telemetry.DBSlowQueryThresh)
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connected",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.DBName),
	)

	if cfg.Database.AutoMigrate {
		if err := migrate(db, log); err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	if err := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfigFrom(cfg.Telemetry), log).RegisterOtelGorm(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	dbMetrics, err := telemetry.RegisterDBMetrics(db.DB, meterProvider, telemetry.DBMetricsConfigFrom(cfg.Telemetry), log)
	if err != nil {
		log.Fatal("Failed to register database metrics", zap.Error(err))
	}
	if dbMetrics != nil {
		dbMetrics.StartPoolStatsCollection(ctx)
	}

	idempotencyStore, err := cache.NewIdempotencyStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(!cfg.App.IsProduction()),
	).CreateStore(ctx)
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}

	// Audit events commit with the batch rows they describe
	serializer := event.NewLedgerSerializer()
	recorder := event.NewOutboxRecorder(db.DB, serializer, cfg.Event.MaxRetries)
	scope := persistence.NewGormTransactionScope(db.DB, recorder.Factory())
	batchRepo := persistence.NewGormBatchRepository(db.DB)

	var ledgerMetrics *telemetry.LedgerMetrics
	if meterProvider.IsEnabled() {
		ledgerMetrics, err = telemetry.NewLedgerMetrics(telemetry.LedgerMetricsConfig{
			Meter:         meterProvider.Meter(telemetry.TracerName),
			Logger:        log,
			StatsProvider: telemetry.NewGormLedgerStatsProvider(db.DB),
		})
		if err != nil {
			log.Fatal("Failed to create ledger metrics", zap.Error(err))
		}
		ledgerMetrics.StartPeriodicCollection(ctx)
	}

	svc := newLedger(cfg, scope, batchRepo, log)
	svc.stock.SetProductCatalog(persistence.NewGormProductCatalog(db.DB))
	if ledgerMetrics != nil {
		svc.stock.SetMetrics(ledgerMetrics)
		svc.expiry.SetMetrics(ledgerMetrics)
		svc.disposal.SetMetrics(ledgerMetrics)
		svc.review.SetMetrics(ledgerMetrics)
	}

	eventBus := event.NewInMemoryEventBus(log)
	auditHandler := event.NewIdempotentHandler(
		event.NewAuditLogHandler(log),
		idempotencyStore,
		shared.IdempotencyConfig{TTL: cfg.Inventory.IdempotencyTTL, Enabled: true},
		log,
	)
	eventBus.Subscribe(auditHandler)
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	var outboxProcessor *event.OutboxProcessor
	if cfg.Event.ProcessorEnabled {
		outboxProcessor = event.NewOutboxProcessor(
			event.NewGormOutboxRepository(db.DB),
			eventBus,
			serializer,
			event.OutboxProcessorConfig{
				BatchSize:        cfg.Event.BatchSize,
				PollInterval:     cfg.Event.PollInterval,
				CleanupEnabled:   cfg.Event.CleanupEnabled,
				CleanupRetention: cfg.Event.CleanupRetention,
			},
			log,
		)
		if err := outboxProcessor.Start(ctx); err != nil {
			log.Fatal("Failed to start outbox processor", zap.Error(err))
		}
		log.Info("Outbox processor started",
			zap.Int("batch_size", cfg.Event.BatchSize),
			zap.Duration("poll_interval", cfg.Event.PollInterval),
		)
	}

	jobs := scheduler.NewScheduler(scheduler.ConfigFrom(cfg.Scheduler), log)
	jobs.Register(scheduler.ExpirySweepJob, scheduler.NewSweepExecutor(svc.expiry, log))
	sweepTrigger := scheduler.NewIntervalTrigger(scheduler.IntervalTriggerConfig{
		JobName:    scheduler.ExpirySweepJob,
		Interval:   cfg.Scheduler.SweepInterval,
		RunOnStart: true,
	}, jobs, log)
	if cfg.Scheduler.Enabled {
		if err := jobs.Start(ctx); err != nil {
			log.Fatal("Failed to start scheduler", zap.Error(err))
		}
		if err := sweepTrigger.Start(ctx); err != nil {
			log.Fatal("Failed to start expiry sweep trigger", zap.Error(err))
		}
		log.Info("Expiry sweep scheduled", zap.Duration("interval", cfg.Scheduler.SweepInterval))
	}

	log.Info("Ledger ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Reverse start order: stop producing work, drain, then flush telemetry
	if cfg.Scheduler.Enabled {
		if err := sweepTrigger.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping sweep trigger", zap.Error(err))
		}
		if err := jobs.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping scheduler", zap.Error(err))
		}
	}
	if outboxProcessor != nil {
		if err := outboxProcessor.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping outbox processor", zap.Error(err))
		}
	}
	if err := eventBus.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping event bus", zap.Error(err))
	}
	if ledgerMetrics != nil {
		ledgerMetrics.Stop()
	}
	if dbMetrics != nil {
		dbMetrics.Stop()
	}
	if closer, ok := idempotencyStore.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Error("Error closing idempotency store", zap.Error(err))
		}
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}
	if err := profiler.Stop(); err != nil {
		log.Error("Error stopping profiler", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}

	log.Info("Ledger stopped")
	_ = logger.Sync(log)
	if err := loggerProvider.Shutdown(shutdownCtx); err != nil {
		bootLog.Error("Error shutting down log exporter", zap.Error(err))
	}
}

func newLedger(cfg *config.Config, scope appinv.TransactionScope, batchRepo *persistence.GormBatchRepository, log *zap.Logger) *ledger {
	ledgerCfg := appinv.LedgerConfig{
		ExpiringSoonDays: cfg.Inventory.ExpiringSoonDays,
		Retry: appinv.RetryPolicy{
			MaxAttempts:     cfg.Inventory.DeductMaxAttempts,
			InitialInterval: cfg.Inventory.RetryInitialInterval,
			MaxInterval:     cfg.Inventory.RetryMaxInterval,
		},
	}

	expiry := appinv.NewExpiryMonitor(scope, batchRepo, ledgerCfg, log)
	expiry.SetBatchSize(cfg.Inventory.SweepBatchSize)

	return &ledger{
		stock:    appinv.NewStockTransactionManager(scope, batchRepo, ledgerCfg, log),
		expiry:   expiry,
		disposal: appinv.NewDisposalWorkflow(scope, ledgerCfg, log),
		review:   appinv.NewBatchReviewService(scope, ledgerCfg, log),
	}
}

func migrate(db *persistence.Database, log *zap.Logger) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	// the migrator is not closed: that would close the shared pool
	m, err := migration.NewEmbedded(sqlDB, migrations.FS, log)
	if err != nil {
		return err
	}
	return m.Up()
}
