package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/hospital-scheduling/cmd/mainconfig"
	"github.com/wolfman30/hospital-scheduling/internal/app/bootstrap"
	appconfig "github.com/wolfman30/hospital-scheduling/internal/config"
	"github.com/wolfman30/hospital-scheduling/internal/events"
	"github.com/wolfman30/hospital-scheduling/internal/notify"
	"github.com/wolfman30/hospital-scheduling/pkg/logging"
)

func main() {
	_ = appconfig.LoadDotEnv()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel).With("component", "notify-worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Error("notify worker requires DATABASE_URL")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	deliverer, err := buildDeliverer(ctx, cfg, pool, logger)
	if err != nil {
		logger.Error("failed to build deliverer", "error", err)
		os.Exit(1)
	}

	logger.Info("notify worker started", "interval", cfg.OutboxPollInterval, "batch_size", cfg.OutboxBatchSize)
	deliverer.Start(ctx)
	logger.Info("notify worker shutting down")
}

func buildDeliverer(ctx context.Context, cfg *appconfig.Config, pool *pgxpool.Pool, logger *logging.Logger) (*events.Deliverer, error) {
	var awsCfg *aws.Config
	if cfg.EmailProvider == "ses" {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		awsCfg = &loaded
	}
	delivery, err := bootstrap.BuildDeliveryService(cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	return events.NewDeliverer(events.NewOutboxStore(pool), notify.NewOutboxHandler(delivery), logger).
		WithBatchSize(int32(cfg.OutboxBatchSize)).
		WithInterval(cfg.OutboxPollInterval).
		WithClaims(events.NewProcessedStore(pool)), nil
}
