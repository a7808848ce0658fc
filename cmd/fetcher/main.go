package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/patrickhere/proxy-machine-sub001/internal/adapter"
	"github.com/patrickhere/proxy-machine-sub001/internal/config"
	"github.com/patrickhere/proxy-machine-sub001/internal/deck"
	"github.com/patrickhere/proxy-machine-sub001/internal/domain"
	"github.com/patrickhere/proxy-machine-sub001/internal/fetch"
	"github.com/patrickhere/proxy-machine-sub001/internal/index"
	"github.com/patrickhere/proxy-machine-sub001/internal/logger"
	"github.com/patrickhere/proxy-machine-sub001/internal/resolver"
	"github.com/patrickhere/proxy-machine-sub001/internal/retry"
	"github.com/patrickhere/proxy-machine-sub001/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
	deckFile   = flag.String("deck", "", "Path to the deck list (\"-\" for stdin)")
	deckFormat = flag.String("format", "plain", "Deck list format: "+strings.Join(deck.Names(), ", "))
	prefSet    = flag.String("set", "", "Preferred set code for ambiguous names")
	prefLang   = flag.String("lang", "", "Preferred language for ambiguous names")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadFetcherConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags: map[string]string{
			"service": "fetcher",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.Info("Starting fetcher", zap.String("database", cfg.Database.Path))

	if *deckFile == "" {
		logger.Fatal("no deck list given, use -deck")
	}

	parser, ok := deck.Lookup(*deckFormat)
	if !ok {
		logger.Fatal("unknown deck format",
			zap.String("format", *deckFormat),
			zap.Strings("available", deck.Names()),
		)
	}

	// Handle shutdown signals: stop scheduling new downloads, let in-flight
	// jobs finish or time out
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warn("Received signal, canceling batch", zap.String("signal", sig.String()))
		cancel()
	}()

	db, err := gorm.Open(sqlite.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		logger.Fatal("Failed to open card index", zap.Error(err), zap.String("path", cfg.Database.Path))
	}

	dataStore := store.NewSQLiteStore(db)
	cardIndex := index.New(dataStore, index.Config{
		CacheSize: cfg.Cache.Size,
		CacheTTL:  cfg.Cache.TTL,
	})

	if err := cardIndex.Verify(ctx); err != nil {
		if errors.Is(err, domain.ErrDatabaseUnavailable) {
			logger.Fatal("Card index missing or corrupt, run the indexer first",
				zap.Error(err), zap.String("path", cfg.Database.Path))
		}
		logger.Fatal("Failed to verify card index", zap.Error(err))
	}

	requests := parseDeck(parser, *deckFile)

	res, err := resolver.New(cardIndex).Resolve(ctx, requests, domain.ResolveOptions{
		PreferredSet:  *prefSet,
		PreferredLang: *prefLang,
	})
	if err != nil {
		logger.Fatal("Resolution failed", zap.Error(err))
	}
	for _, name := range res.NotFound {
		logger.Warn("card not found in index", zap.String("name", name))
	}

	prints, err := cardIndex.PrintsByIDs(ctx, res.PrintIDs)
	if err != nil {
		logger.Fatal("Failed to load resolved prints", zap.Error(err))
	}

	jobs, err := fetch.Plan(cfg.Fetch.OutputDir, prints)
	if err != nil {
		logger.Fatal("Invalid fetch batch", zap.Error(err))
	}

	orchestrator := fetch.NewOrchestrator(
		adapter.NewHTTPClient(cfg.Fetch.Timeout),
		adapter.NewFileSystem(),
		adapter.NewClock(),
		retry.NewPolicy(cfg.Fetch.MaxRetries, cfg.Fetch.BaseDelay, cfg.Fetch.MaxDelay),
		fetch.Config{
			Concurrency:       cfg.Fetch.Concurrency,
			SkipExisting:      cfg.Fetch.SkipExisting,
			RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		},
	)

	summary, err := orchestrator.Run(ctx, jobs)
	if err != nil {
		logger.Fatal("Fetch batch rejected", zap.Error(err))
	}

	logger.Info("Fetch complete",
		zap.String("batch_id", summary.BatchID),
		zap.Int("requested", summary.TotalRequested),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("not_found", len(res.NotFound)),
		zap.Int64("bytes", summary.TotalBytes),
		zap.Duration("elapsed", summary.Elapsed),
	)

	if summary.Failed > 0 {
		for _, job := range summary.FailedJobs {
			logger.Warn("failed job", zap.String("name", job.DisplayName), zap.String("uri", job.SourceURI))
		}
		os.Exit(1)
	}
}

func parseDeck(parser deck.Parser, path string) []domain.Request {
	input := os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			logger.Fatal("Failed to open deck list", zap.Error(err), zap.String("path", path))
		}
		defer func() {
			if err := f.Close(); err != nil {
				logger.Warn("failed to close deck list", zap.Error(err))
			}
		}()
		input = f
	}

	requests, err := parser.Parse(input)
	if err != nil {
		logger.Fatal("Failed to parse deck list", zap.Error(err), zap.String("path", path))
	}
	return requests
}
