package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/topos-sec/topos-engine/pkg/classify"
	"github.com/topos-sec/topos-engine/pkg/config"
	"github.com/topos-sec/topos-engine/pkg/database"
	"github.com/topos-sec/topos-engine/pkg/exposure"
	"github.com/topos-sec/topos-engine/pkg/extract"
	"github.com/topos-sec/topos-engine/pkg/logging"
	"github.com/topos-sec/topos-engine/pkg/repositories"
	"github.com/topos-sec/topos-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting topos-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	if err := database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	shareRepo := repositories.NewShareRepository()
	fileRepo := repositories.NewFileRepository()
	principalRepo := repositories.NewPrincipalRepository()
	accessRepo := repositories.NewAccessRepository()
	documentRepo := repositories.NewDocumentRepository()
	jobRepo := repositories.NewJobRepository()

	registry := extract.NewRegistry()
	classifier := classify.NewRuleClassifier(classify.DefaultRules())
	scorer := exposure.NewScorer(exposure.Config{
		MediumThreshold:    cfg.Scoring.MediumThreshold,
		HighThreshold:      cfg.Scoring.HighThreshold,
		MaxBroadGroupNames: cfg.Scoring.MaxBroadGroupNames,
	})

	extraction := services.NewExtractionWorker(
		shareRepo, fileRepo, documentRepo, jobRepo, registry, cfg.Pipeline, logger)
	enrichment := services.NewEnrichmentWorker(
		documentRepo, principalRepo, accessRepo, classifier, scorer, cfg.Scoring, logger)
	pool := services.NewWorkerPool(db, jobRepo, extraction, enrichment, cfg.Pipeline, logger)

	pool.Run(ctx)
	logger.Info("shutdown complete")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
