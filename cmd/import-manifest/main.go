package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	appinv "github.com/clinic/backend/internal/application/inventory"
	"github.com/clinic/backend/internal/infrastructure/config"
	"github.com/clinic/backend/internal/infrastructure/event"
	"github.com/clinic/backend/internal/infrastructure/logger"
	"github.com/clinic/backend/internal/infrastructure/manifest"
	"github.com/clinic/backend/internal/infrastructure/persistence"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	var (
		actor     string
		dryRun    bool
		maxErrors int
		logLevel  string
	)
	flag.StringVar(&actor, "actor", "", "Staff id recorded as the receiver of every batch (required)")
	flag.BoolVar(&dryRun, "dry-run", false, "Validate the manifest without receiving anything")
	flag.IntVar(&maxErrors, "max-errors", 100, "Row errors to report before truncating")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: import-manifest -actor <id> [flags] <manifest.csv>\n\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 || actor == "" {
		flag.Usage()
		os.Exit(2)
	}

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	file, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatal("Failed to open manifest", zap.Error(err))
	}
	defer file.Close()

	db, err := persistence.NewDatabaseWithLogger(&cfg.Database,
		logger.NewGormLoggerFromConfig(log, cfg.Database.LogLevel, cfg.Telemetry.DBSlowQueryThresh))
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	recorder := event.NewOutboxRecorder(db.DB, event.NewLedgerSerializer(), cfg.Event.MaxRetries)
	manager := appinv.NewStockTransactionManager(
		persistence.NewGormTransactionScope(db.DB, recorder.Factory()),
		persistence.NewGormBatchRepository(db.DB),
		appinv.LedgerConfig{ExpiringSoonDays: cfg.Inventory.ExpiringSoonDays},
		log,
	)
	manager.SetProductCatalog(persistence.NewGormProductCatalog(db.DB))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, log = logger.WithActor(ctx, log, actor)
	result, err := manifest.NewImporter(manager, log).Import(ctx, file, manifest.Options{
		Actor:     actor,
		DryRun:    dryRun,
		MaxErrors: maxErrors,
	})
	if err != nil {
		log.Fatal("Manifest import failed", zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatal("Failed to write result", zap.Error(err))
	}
	if result.TotalErrors > 0 {
		_ = logger.Sync(log)
		os.Exit(1)
	}
}
