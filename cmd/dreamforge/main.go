package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/dreamforge/dreamforge/internal/api"
	"github.com/dreamforge/dreamforge/internal/config"
	"github.com/dreamforge/dreamforge/internal/database"
	"github.com/dreamforge/dreamforge/internal/forge"
	"github.com/dreamforge/dreamforge/internal/history"
	"github.com/dreamforge/dreamforge/internal/horde"
	"github.com/dreamforge/dreamforge/internal/ledger"
	"github.com/dreamforge/dreamforge/internal/repository"
	"github.com/dreamforge/dreamforge/internal/session"
	"github.com/dreamforge/dreamforge/internal/storage"
	"github.com/dreamforge/dreamforge/internal/workflow"
	"github.com/dreamforge/dreamforge/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	profileRepo := repository.NewProfileRepository(db)
	generationRepo := repository.NewGenerationRepository(db)

	historyStore, err := history.NewStore(cfg.HistoryDir, cfg.HistoryLimit, logr)
	if err != nil {
		log.Fatalf("history store: %v", err)
	}

	sessions := session.NewController(profileRepo, logr, cfg.JWTSecret, cfg.SessionTTL)
	creditLedger := ledger.New(profileRepo, logr, ledger.RetryPolicy{
		MaxAttempts: cfg.ProfileFetchAttempts,
		Delay:       cfg.ProfileFetchDelay,
	}, cfg.FreeDailyReward, cfg.ProDailyReward)

	catalog := horde.NewClient(cfg.ModelsURL, cfg.RequestTimeout)
	generator := forge.NewClient(cfg.GenerateWebhookURL, cfg.RequestTimeout, logr)

	var archiver workflow.Archiver
	if cfg.ArchivalEnabled() {
		uploader, err := storage.NewUploader(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
		if err != nil {
			log.Fatalf("storage uploader: %v", err)
		}
		archiver = uploader
	}

	flow := workflow.New(logr, generator, creditLedger, historyStore, generationRepo, archiver, cfg.GenerationCost)

	server := api.NewServer(cfg.ListenAddr, logr, sessions, api.Deps{
		Catalog:       catalog,
		Ledger:        creditLedger,
		Workflow:      flow,
		History:       historyStore,
		AdminStore:    profileRepo,
		AdminActivity: generationRepo,
	})

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("api server stopped", "err", err)
	}
}
