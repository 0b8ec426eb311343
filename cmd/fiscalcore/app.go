// Package main is the admin command-line entry point for the fiscal
// transaction submission core: enqueue, consume-once, queue status,
// audit-logs, device enrollment, and the reset-item operation. The
// surface is gated off entirely in production.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"fiscalcore/breaker"
	"fiscalcore/config"
	"fiscalcore/logging"
	"fiscalcore/mtls"
	"fiscalcore/profile"
	"fiscalcore/queue"
	"fiscalcore/secrets"
	"fiscalcore/store"
)

// app bundles every component the CLI subcommands need, built once from
// the loaded Config.
type app struct {
	cfg         *config.Config
	log         *logging.Context
	db          *gorm.DB
	cache       *redis.Client
	queueRepo   *store.QueueRepository
	receiptRepo *store.ReceiptRepository
	auditRepo   *store.AuditRepository
	entityRepo  *store.EntityRepository
	rawDB       *store.RawDB
	breaker     *breaker.Breaker
	profiles    *profile.Resolver
	worker      *queue.Worker
	mtlsClient  *mtls.Client
}

func newApp(cfg *config.Config) (*app, error) {
	logger := logging.New(logging.DefaultConfig())
	logCtx := logging.NewContext(logger, map[string]interface{}{"service": "fiscalcore", "environment": string(cfg.Environment)})

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("fiscalcore: open database: %w", err)
	}
	if err := store.Migrate(db); err != nil {
		return nil, fmt.Errorf("fiscalcore: migrate store tables: %w", err)
	}
	if err := profile.Migrate(db); err != nil {
		return nil, fmt.Errorf("fiscalcore: migrate profile table: %w", err)
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("fiscalcore: parse redis url: %w", err)
		}
		cache = redis.NewClient(opts)
	}

	rawDB, err := store.NewRawDB(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("fiscalcore: open raw pgx pool: %w", err)
	}

	secretStore := secrets.NewStore(cfg.EncryptionKey)
	queueRepo := store.NewQueueRepository(db)
	receiptRepo := store.NewReceiptRepository(db)
	auditRepo := store.NewAuditRepository(db)
	entityRepo := store.NewEntityRepository(db)
	circuitBreaker := breaker.New(db, cache)
	profiles := profile.NewResolver(db, secretStore)
	client := mtls.NewClient(cfg.BaseURL, time.Duration(0))
	receiptStore := queue.NewReceiptStore(
		queue.ReceiptTarget(cfg.ReceiptsTarget),
		cfg.ReceiptsDir,
		cfg.StorageWritesAllowed,
		receiptRepo,
	)

	worker := queue.NewWorker(queue.Config{
		QueueRepo:      queueRepo,
		ReceiptRepo:    receiptRepo,
		AuditRepo:      auditRepo,
		Breaker:        circuitBreaker,
		Profiles:       profiles,
		Entities:       entityRepo,
		Client:         client,
		Logger:         logCtx,
		ReceiptStore:   receiptStore,
		Environment:    string(cfg.Environment),
		NetworkEnabled: cfg.NetworkEnabled,
		MaxRetries:     cfg.MaxRetries,
		BackoffBase:    cfg.BackoffBaseSeconds,
		BackoffMax:     cfg.BackoffMaxSeconds,
	})

	return &app{
		cfg:         cfg,
		log:         logCtx,
		db:          db,
		cache:       cache,
		queueRepo:   queueRepo,
		receiptRepo: receiptRepo,
		auditRepo:   auditRepo,
		entityRepo:  entityRepo,
		rawDB:       rawDB,
		breaker:     circuitBreaker,
		profiles:    profiles,
		worker:      worker,
		mtlsClient:  client,
	}, nil
}

func (a *app) requireAdminEnabled() error {
	if !a.cfg.AdminEnabled() {
		return fmt.Errorf("fiscalcore: admin surface is disabled in production")
	}
	return nil
}
