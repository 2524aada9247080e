package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/segment-engine/app/scheduler"
	"github.com/amirphl/segment-engine/app/services"
	"github.com/amirphl/segment-engine/config"
	"github.com/amirphl/segment-engine/repository"
	"github.com/amirphl/segment-engine/segmentation"
	"github.com/amirphl/segment-engine/utils"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const cacheHealthInterval = 30 * time.Second

// components is everything the commands share: storage, engine and background workers
type components struct {
	cfg       *config.ProductionConfig
	db        *gorm.DB
	redis     *redis.Client
	segments  repository.SegmentRepository
	snapshots repository.SegmentSnapshotRepository
	engine    *segmentation.Engine
	actions   *segmentation.Dispatcher
	locker    scheduler.SegmentLocker
	logger    *log.Logger
	stopFuncs []func()
}

// close releases connections and stops background goroutines in reverse order
func (c *components) close() {
	for i := len(c.stopFuncs) - 1; i >= 0; i-- {
		c.stopFuncs[i]()
	}
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache connects to redis when it is the configured provider.
// A nil client means locks stay in process.
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled || cfg.Provider != "redis" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established (db=%d)", cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor periodically pings Redis until the returned function is called
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration, logger *log.Logger) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					logger.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeComponents opens storage and builds the recomputation engine with every action
func initializeComponents(cfg *config.ProductionConfig) (*components, error) {
	logger := utils.NewLogger(cfg.Logging.Options(), "segments ")

	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	c := &components{cfg: cfg, db: db, logger: logger}
	c.stopFuncs = append(c.stopFuncs, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		c.close()
		return nil, err
	}
	if rc != nil {
		c.redis = rc
		c.locker = scheduler.NewRedisLocker(rc, cfg.Cache.RedisPrefix)
		c.stopFuncs = append(c.stopFuncs, func() { _ = rc.Close() })
		c.stopFuncs = append(c.stopFuncs, startCacheHealthMonitor(context.Background(), rc, cacheHealthInterval, logger))
	} else {
		c.locker = scheduler.NewMemoryLocker()
	}

	notifier, err := services.NewNotificationService(cfg.Messenger, logger)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("failed to initialize notification service: %w", err)
	}
	webhooks := services.NewWebhookClient(cfg.Segments.WebhookTimeout, cfg.Segments.WebhookMaxRetries, cfg.Segments.WebhookRetryDelay)

	c.segments = repository.NewSegmentRepository(db)
	c.snapshots = repository.NewSegmentSnapshotRepository(db)
	docs := repository.NewSalesDocumentRepository(db)
	loyalty := repository.NewLoyaltyRepository(db)

	actions := append(
		segmentation.NewTagActions(segmentation.RepositoryTagMutator{Tags: repository.NewTagRepository(db)}),
		segmentation.NewNotificationAction(repository.NewCashboxUserRepository(db), notifier),
		segmentation.NewLoyaltyAction(loyalty),
		segmentation.NewWebhookAction(webhooks, cfg.Segments.WebhookDelay),
	)
	c.actions = segmentation.NewDispatcher(logger, actions...)
	evaluator := segmentation.NewEvaluator(db, docs, loyalty, cfg.Segments.BatchSize)
	c.engine = segmentation.NewEngine(db, c.segments, c.snapshots, docs, evaluator, c.actions, logger)

	return c, nil
}
