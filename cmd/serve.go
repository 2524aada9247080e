package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/segment-engine/app/handlers"
	"github.com/amirphl/segment-engine/app/middleware"
	"github.com/amirphl/segment-engine/app/router"
	"github.com/amirphl/segment-engine/app/scheduler"
	"github.com/amirphl/segment-engine/app/services"
	businessflow "github.com/amirphl/segment-engine/business_flow"
	"github.com/amirphl/segment-engine/repository"
	"github.com/amirphl/segment-engine/utils"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the work queue and the periodic scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := initializeComponents(cfg)
	if err != nil {
		return err
	}
	defer c.close()

	c.logger.Printf("Starting segment engine %s (%s)", cfg.Deployment.Version, cfg.Deployment.Environment)

	tokenService, err := services.NewTokenService(
		cfg.JWT.AccessTokenTTL,
		cfg.JWT.RefreshTokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.UseRSAKeys,
		cfg.JWT.PrivateKey,
		cfg.JWT.PublicKey,
		cfg.JWT.SecretKey,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize token service: %w", err)
	}
	c.logger.Printf("Token service initialized with issuer: %s, audience: %s", cfg.JWT.Issuer, cfg.JWT.Audience)

	queue := scheduler.NewSegmentQueue(
		c.engine,
		c.locker,
		cfg.Segments.Concurrency,
		cfg.Segments.TaskTimeout,
		cfg.Segments.LockTTL,
		utils.NewLogger(cfg.Logging.Options(), "queue "),
	)
	sched := scheduler.NewSegmentScheduler(
		c.segments,
		queue,
		utils.NewLogger(cfg.Logging.Options(), "scheduler "),
		cfg.Segments.RecomputeInterval,
		time.Duration(cfg.Segments.DefaultIntervalMin)*time.Minute,
	)

	flow := businessflow.NewSegmentFlow(c.segments, c.snapshots, repository.NewContragentRepository(c.db), c.actions, queue, cfg.Segments.ExportLimit, c.logger)

	httpLogger := utils.NewLogger(cfg.Logging.Options(), "http ")
	appRouter := router.NewFiberRouter(
		cfg,
		handlers.NewSegmentHandler(flow, httpLogger),
		handlers.NewAuthHandler(tokenService, cfg.JWT.AccessTokenTTL, httpLogger),
		middleware.NewAuthMiddleware(tokenService),
		c.healthChecks(),
		httpLogger,
	)
	appRouter.SetupRoutes()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopScheduler := sched.Start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		serverErr <- appRouter.Start(address)
	}()

	select {
	case <-ctx.Done():
		c.logger.Println("Shutting down gracefully...")
	case err := <-serverErr:
		stopScheduler()
		queue.Stop()
		return fmt.Errorf("server stopped: %w", err)
	}

	// Stop accepting triggers before draining running tasks
	stopScheduler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := appRouter.GetApp().ShutdownWithContext(shutdownCtx); err != nil {
		c.logger.Printf("Error during shutdown: %v", err)
	}

	queue.Stop()
	c.logger.Println("Server stopped")
	return nil
}

// healthChecks pings the database and, when configured, redis
func (c *components) healthChecks() map[string]router.HealthCheck {
	checks := map[string]router.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := c.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if c.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return c.redis.Ping(ctx).Err()
		}
	}
	return checks
}
