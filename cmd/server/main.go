package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/SlotBoard/config"
	appmodel "github.com/sifan077/SlotBoard/internal/app/model"
	"github.com/sifan077/SlotBoard/internal/app/policy"
	"github.com/sifan077/SlotBoard/internal/app/ratelimit"
	apprepository "github.com/sifan077/SlotBoard/internal/app/repository"
	appserver "github.com/sifan077/SlotBoard/internal/app/server"
	"github.com/sifan077/SlotBoard/internal/app/service"
	"github.com/sifan077/SlotBoard/internal/app/validate"
	inthttp "github.com/sifan077/SlotBoard/internal/http/handler"
	httpUtil "github.com/sifan077/SlotBoard/internal/http/util"
	"github.com/sifan077/SlotBoard/internal/infra/logger"
	infraNATS "github.com/sifan077/SlotBoard/internal/infra/nats"
	infraPostgres "github.com/sifan077/SlotBoard/internal/infra/postgres"
	infraPrometheus "github.com/sifan077/SlotBoard/internal/infra/prometheus"
	infraRedis "github.com/sifan077/SlotBoard/internal/infra/redis"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.MustInit(logger.FromEnv())
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	log.Info("Configuration loaded successfully",
		zap.String("postgres_host", cfg.Postgres.Host),
		zap.Int("postgres_port", cfg.Postgres.Port),
		zap.String("postgres_db", cfg.Postgres.Database),
		zap.String("redis_host", cfg.Redis.Host),
		zap.Int("redis_port", cfg.Redis.Port),
		zap.String("nats_host", cfg.NATS.Host),
		zap.Bool("nats_disabled", cfg.NATS.Disabled),
		zap.Int("categories", len(cfg.Queue.Categories)),
	)

	board, err := policy.FromConfig(cfg.Queue)
	if err != nil {
		log.Fatal("Invalid queue policy", zap.Error(err))
	}
	submitRule, err := ratelimit.RuleFromConfig("submit", cfg.RateLimit.Submit)
	if err != nil {
		log.Fatal("Invalid submit rate limit", zap.Error(err))
	}
	readRule, err := ratelimit.RuleFromConfig("read", cfg.RateLimit.Read)
	if err != nil {
		log.Fatal("Invalid read rate limit", zap.Error(err))
	}
	writeRule, err := ratelimit.RuleFromConfig("write", cfg.RateLimit.Write)
	if err != nil {
		log.Fatal("Invalid write rate limit", zap.Error(err))
	}

	gormDB, err := infraPostgres.NewGorm(cfg.Postgres, log)
	if err != nil {
		log.Fatal("Failed to open GORM connection", zap.Error(err))
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatal("Failed to access underlying SQL DB", zap.Error(err))
	}
	defer sqlDB.Close()

	if err := infraPostgres.AutoMigrate(ctx, gormDB, &appmodel.Listing{}); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}

	pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer pool.Close()
	log.Info("Connected to Postgres successfully")

	redisClient, err := infraRedis.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	log.Info("Connected to Redis successfully")

	metrics := infraPrometheus.NewQueueMetrics(cfg.Prometheus.Namespace)
	limiter := ratelimit.NewRedisLimiter(redisClient, cfg.RateLimit.KeyPrefix)

	deps := service.Deps{
		Logger:           log,
		Listings:         apprepository.NewListingRepository(gormDB, pool),
		Policy:           board,
		Limiter:          limiter,
		SubmitRule:       submitRule,
		Validator:        validate.Default(),
		Guard:            service.NewDuplicateGuard(cfg.Queue.DuplicateGuard),
		Metrics:          metrics,
		ReadSweepRate:    cfg.Queue.ReadSweepRate,
		ReadSweepTimeout: cfg.Queue.ReadSweepTimeout,
		PromoteTimeout:   cfg.Queue.PromoteTimeout,
	}

	var js nats.JetStreamContext
	if cfg.NATS.Disabled {
		log.Info("NATS disabled, read-path sweeps run in-process and events are dropped")
	} else {
		var natsConn *nats.Conn
		natsConn, js, err = infraNATS.Connect(cfg.NATS)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer natsConn.Drain()

		if err := infraNATS.EnsureListingStream(js); err != nil {
			log.Fatal("Failed to prepare listing stream", zap.Error(err))
		}
		log.Info("Connected to NATS successfully", zap.String("stream", appmodel.ListingStreamName))

		deps.Events = service.NewListingEventPublisher(js)
		deps.SweepSink = service.NewSweepRequestPublisher(js).RequestSweep
	}

	queue := service.NewQueueService(deps)

	var sweepConsumer *service.SweepConsumer
	if js != nil {
		sweepConsumer = service.NewSweepConsumer(js, log, queue, cfg.Queue.ReadSweepTimeout)
		if err := sweepConsumer.Start(ctx); err != nil {
			log.Fatal("Failed to start sweep consumer", zap.Error(err))
		}
	}

	sweeper := service.NewSweeper(log, queue, cfg.Queue.SweepInterval)
	sweeper.Start()

	promServer := infraPrometheus.NewServer(cfg.Prometheus, metrics, log)
	go func() {
		log.Info("Starting Prometheus metrics server", zap.Int("port", cfg.Prometheus.Port))
		if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
		}
	}()

	cursors, err := httpUtil.NewCursorSigner([]byte(cfg.Cursor.Secret))
	if err != nil {
		log.Fatal("Failed to build cursor signer", zap.Error(err))
	}
	if cfg.Cursor.Secret == "" {
		log.Warn("cursor.secret not set, using a random key; page cursors will not survive restarts")
	}
	if cfg.Server.AdminToken == "" {
		log.Warn("server.admin_token not set, operator routes are disabled")
	}

	server := appserver.New(appserver.Dependencies{
		Logger:      log,
		Queue:       queue,
		Cursors:     cursors,
		Limiter:     limiter,
		ReadRule:    readRule,
		WriteRule:   writeRule,
		AdminToken:  cfg.Server.AdminToken,
		Observer:    metrics,
		RateLimited: metrics.RateLimited,
		Checks: map[string]inthttp.Check{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
	})

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", zap.String("addr", cfg.Server.Addr))
		serverErr <- server.Listen(cfg.Server.Addr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			log.Error("Fiber server exited", zap.Error(err))
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to shut down HTTP server", zap.Error(err))
	}
	sweeper.Stop()
	queue.Wait()
	stop()
	if sweepConsumer != nil {
		select {
		case <-sweepConsumer.Done():
		case <-shutdownCtx.Done():
			log.Warn("Sweep consumer did not stop in time")
		}
	}
	if err := promServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn("Failed to close Prometheus server", zap.Error(err))
	}
	log.Info("Server stopped")
}
