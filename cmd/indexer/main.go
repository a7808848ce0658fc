package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/patrickhere/proxy-machine-sub001/internal/adapter"
	"github.com/patrickhere/proxy-machine-sub001/internal/config"
	"github.com/patrickhere/proxy-machine-sub001/internal/ingest"
	"github.com/patrickhere/proxy-machine-sub001/internal/logger"
	"github.com/patrickhere/proxy-machine-sub001/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
	inputFile  = flag.String("input", "", "Path to the bulk catalog dump (\"-\" for stdin)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadIndexerConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags: map[string]string{
			"service": "indexer",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.Info("Starting indexer", zap.String("database", cfg.Database.Path))

	if *inputFile == "" {
		logger.Fatal("no catalog dump given, use -input")
	}

	// Handle shutdown signals for cooperative cancellation
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warn("Received signal, canceling build", zap.String("signal", sig.String()))
		cancel()
	}()

	// The build path is the single writer; readers go through the fetcher
	db, err := gorm.Open(sqlite.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		logger.Fatal("Failed to open card index", zap.Error(err), zap.String("path", cfg.Database.Path))
	}

	dataStore := store.NewSQLiteStore(db)

	input := os.Stdin
	if *inputFile != "-" {
		input, err = os.Open(*inputFile)
		if err != nil {
			logger.Fatal("Failed to open catalog dump", zap.Error(err), zap.String("path", *inputFile))
		}
		defer func() {
			if err := input.Close(); err != nil {
				logger.Warn("failed to close catalog dump", zap.Error(err))
			}
		}()
	}

	ingester := ingest.NewIngester(dataStore, adapter.NewClock(), cfg.Ingest.BatchSize)
	report, err := ingester.Run(ctx, input)
	if err != nil {
		logger.Fatal("Build failed", zap.Error(err))
	}

	stats, err := dataStore.Stats(ctx)
	if err != nil {
		logger.Fatal("Failed to read index stats", zap.Error(err))
	}

	logger.Info("Index build complete",
		zap.Int("ingested", report.Ingested),
		zap.Int("skipped", report.Skipped),
		zap.Int64("prints", stats.Prints),
		zap.Int64("relationships", stats.Relationships),
		zap.Int64("search_rows", stats.SearchRows),
		zap.Bool("full_text", dataStore.FullTextAvailable(ctx)),
		zap.Duration("elapsed", report.Elapsed),
	)
}
