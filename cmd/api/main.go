package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/hospital-scheduling/cmd/mainconfig"
	"github.com/wolfman30/hospital-scheduling/internal/api/router"
	"github.com/wolfman30/hospital-scheduling/internal/app/bootstrap"
	"github.com/wolfman30/hospital-scheduling/internal/audit"
	appconfig "github.com/wolfman30/hospital-scheduling/internal/config"
	"github.com/wolfman30/hospital-scheduling/internal/directory"
	"github.com/wolfman30/hospital-scheduling/internal/events"
	httpmiddleware "github.com/wolfman30/hospital-scheduling/internal/http/middleware"
	"github.com/wolfman30/hospital-scheduling/internal/observability/metrics"
	"github.com/wolfman30/hospital-scheduling/internal/prescriptions"
	"github.com/wolfman30/hospital-scheduling/internal/scheduling"
	"github.com/wolfman30/hospital-scheduling/internal/vitals"
	"github.com/wolfman30/hospital-scheduling/pkg/logging"
)

func main() {
	if err := appconfig.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting hospital scheduling API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build application", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	if application.limiter != nil {
		go application.limiter.Run(ctx, time.Minute, 10*time.Minute)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      application.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

type app struct {
	handler http.Handler
	limiter *httpmiddleware.RateLimiter
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires stores, the engine and the router. Without DATABASE_URL
// everything runs on in-memory stores; a configured database must be reachable.
func buildApp(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*app, error) {
	a := &app{}

	var (
		availability scheduling.AvailabilityStore
		commitments  scheduling.CommitmentStore
		dir          scheduling.Directory
		dirRepo      directory.Repository
		vitalsRepo   vitals.Repository
		rxRepo       prescriptions.Repository
		auditSvc     *audit.Service
		outbox       *events.OutboxStore
		healthCheck  func(context.Context) error
	)

	pool, err := connectPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if pool != nil {
		a.closers = append(a.closers, pool.Close)
		store := scheduling.NewPostgresStore(pool, cfg.Location())
		availability, commitments = store, store
		pgDir := directory.NewPostgresRepository(pool)
		dir, dirRepo = pgDir, pgDir
		vitalsRepo = vitals.NewPostgresRepository(pool)
		rxRepo = prescriptions.NewPostgresRepository(pool)
		sqlDB := stdlib.OpenDBFromPool(pool)
		a.closers = append(a.closers, func() { _ = sqlDB.Close() })
		auditSvc = audit.NewService(sqlDB)
		outbox = events.NewOutboxStore(pool)
		healthCheck = pool.Ping
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory stores")
		store := scheduling.NewMemoryStore()
		availability, commitments = store, store
		memDir := directory.NewInMemoryRepository()
		if cfg.IsDevelopment() {
			seedDevelopmentDirectory(memDir, logger)
		}
		dir, dirRepo = memDir, memDir
		vitalsRepo = vitals.NewMemoryRepository()
		rxRepo = prescriptions.NewMemoryRepository()
	}

	var awsCfg *aws.Config
	if mainconfig.NeedsAWS(cfg) {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		awsCfg = &loaded
	}
	notifier, err := bootstrap.BuildNotifier(cfg, bootstrap.NotifierDeps{Outbox: outbox, AWS: awsCfg}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	metricsHandler, schedulingMetrics := setupMetrics()

	svc := scheduling.NewService(availability, commitments, logger).
		WithOptions(scheduling.Options{
			Location:       cfg.Location(),
			Step:           time.Duration(cfg.SlotStepMinutes) * time.Minute,
			Duration:       time.Duration(cfg.SlotDurationMinutes) * time.Minute,
			MeetingBaseURL: cfg.MeetingBaseURL,
		}).
		WithDirectory(dir).
		WithMetrics(schedulingMetrics)
	rxHandler := prescriptions.NewHandler(rxRepo, dirRepo, auditSvc, logger)
	if notifier != nil {
		svc.WithNotifier(notifier)
		rxHandler.WithNotifier(notifier)
	}
	if auditSvc != nil {
		svc.WithAudit(auditSvc)
	}
	if redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true); redisClient != nil {
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
		if guard := bootstrap.BuildVelocityGuard(redisClient, cfg, logger); guard != nil {
			svc.WithGuard(guard)
		}
	}

	if cfg.RateLimitRPS > 0 {
		a.limiter = httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.SessionJWTSecret == "" && !cfg.IsDevelopment() {
		logger.Warn("SESSION_JWT_SECRET not set; every authenticated route will reject requests")
	}

	routerCfg := &router.Config{
		Logger:             logger,
		Scheduling:         scheduling.NewHandler(svc, logger),
		Directory:          directory.NewHandler(dirRepo, logger),
		Vitals:             vitals.NewHandler(vitalsRepo, auditSvc, logger),
		Prescriptions:      rxHandler,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		SessionSecret:      cfg.SessionJWTSecret,
		DevSessions:        cfg.IsDevelopment(),
		RateLimiter:        a.limiter,
		HealthCheck:        healthCheck,
	}
	if auditSvc != nil {
		routerCfg.Audit = audit.NewHandler(auditSvc, logger)
	}
	a.handler = router.New(routerCfg)
	return a, nil
}

// connectPostgresPool returns a nil pool only when databaseURL is empty; a
// configured but unreachable database is an error.
func connectPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("reach postgres: %w", err)
	}
	return pool, nil
}

func setupMetrics() (http.Handler, *metrics.SchedulingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewSchedulingMetrics(reg)
}

func seedDevelopmentDirectory(repo *directory.InMemoryRepository, logger *logging.Logger) {
	doctor := repo.AddDoctor(directory.DoctorRef{Name: "Meredith Grey", Specialization: "General Surgery", Email: "grey@hospital.test"})
	patient := repo.AddPatient(directory.PatientRef{Name: "Sample Patient", Email: "patient@hospital.test"})
	logger.Info("seeded development directory", "doctor_id", doctor.ID, "patient_id", patient.ID)
}
