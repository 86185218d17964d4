package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/karmaloop/automation-server-go/internal/config"
	"github.com/karmaloop/automation-server-go/internal/database"
	"github.com/karmaloop/automation-server-go/internal/engine"
	"github.com/karmaloop/automation-server-go/internal/handler"
	"github.com/karmaloop/automation-server-go/internal/jobs"
	"github.com/karmaloop/automation-server-go/internal/middleware"
	"github.com/karmaloop/automation-server-go/internal/queue"
	"github.com/karmaloop/automation-server-go/internal/redis"
	"github.com/karmaloop/automation-server-go/internal/repository"
	"github.com/karmaloop/automation-server-go/internal/sse"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	accountRepo := repository.NewAccountRepository(db.DB)
	jobRepo := repository.NewJobRepository(db.DB)
	healthRepo := repository.NewHealthRepository(db.DB)
	alertRepo := repository.NewAlertRepository(db.DB)

	var quota engine.QuotaStore
	switch cfg.QuotaBackend {
	case "redis":
		quota = engine.NewRedisQuota(redisClient.Client, log.Logger)
		log.Info().Msg("quota backend: redis")
	default:
		quota = engine.NewMemoryQuota()
		log.Info().Msg("quota backend: memory")
	}

	broker := sse.NewBroker(redisClient)
	defer broker.Close()
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "automation_stream_clients",
		Help: "Number of connected executor job streams",
	}, func() float64 { return float64(broker.TotalClients()) })

	publisher := engine.MultiPublisher{broker}
	if cfg.KafkaEnabled() {
		producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		publisher = append(publisher, producer)
		log.Info().Str("topic", cfg.KafkaTopic).Msg("kafka producer enabled")
	}

	penalties := engine.TrustPenalties{
		Ban:      cfg.PenaltyBan,
		Deletion: cfg.PenaltyDeletion,
		Removal:  cfg.PenaltyRemoval,
	}

	// No HealthSource is wired in: executors push snapshots over the API,
	// so the hourly refresh pass is a no-op until a probe is plugged in.
	var healthSource engine.HealthSource

	eng := engine.New(engine.Config{
		Breaker: engine.BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			WindowSize:       cfg.BreakerWindowSize,
			BaseCooldown:     cfg.BreakerBaseCooldown,
			MaxCooldown:      cfg.BreakerMaxCooldown,
		},
		Monitor: engine.MonitorConfig{
			TrustFloor: cfg.TrustFloor,
			Penalties:  penalties,
			CacheTTL:   config.HealthCacheTTL,
			CacheSize:  config.HealthCacheSize,
		},
		Scheduler: engine.SchedulerConfig{
			JobDeadline: cfg.JobDeadline,
			TrustFloor:  cfg.TrustFloor,
		},
		Optimizer: engine.OptimizerConfig{
			ReviewPeriod:    cfg.OptimizerReviewPeriod,
			MinSample:       cfg.OptimizerMinSample,
			SoftFailureRate: cfg.SoftFailureRate,
			HighSuccessRate: cfg.HighSuccessRate,
			NarrowFactor:    cfg.WindowNarrowFactor,
			Jitter:          cfg.WindowJitter,
			MinWindowWidth:  cfg.MinWindowWidthMinutes,
			MinMaxScale:     cfg.MinMaxScale,
		},
		Analyzer: engine.AnalyzerConfig{
			Period:                cfg.AnalyzerPeriod,
			PatternAlertThreshold: cfg.PatternAlertThreshold,
			TrustFloor:            cfg.TrustFloor,
			TrustWarnBelow:        cfg.TrustWarnBelow,
			Penalties:             penalties,
			JobRetention:          cfg.JobRetention,
			AlertRetention:        cfg.AlertRetention,
			SnapshotRetention:     cfg.SnapshotRetention,
		},
		Pace: engine.PaceConfig{
			UpvotesPerHour:  cfg.PaceUpvotesPerHour,
			CommentsPerHour: cfg.PaceCommentsPerHour,
			PostsPerHour:    cfg.PacePostsPerHour,
		},
	}, accountRepo, jobRepo, healthRepo, alertRepo, quota, healthSource, publisher, log.Logger)

	startCtx, startCancel := context.WithTimeout(context.Background(), config.EngineStartTimeout)
	if err := eng.Start(startCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to start engine")
	}
	startCancel()

	eventsHandler := handler.NewEventsHandler(broker, accountRepo, jobRepo)
	accountsHandler := handler.NewAccountsHandler(accountRepo, healthRepo, eng.Monitor, eng.Analyzer)
	jobsHandler := handler.NewJobsHandler(jobRepo, eng.Scheduler, eventsHandler)
	alertsHandler := handler.NewAlertsHandler(alertRepo)
	reportsHandler := handler.NewReportsHandler(eng.Analyzer, cfg.AnalyzerPeriod)

	authMiddleware := middleware.NewAuthMiddleware(cfg.ServiceToken, middleware.NewAuthRateLimiter())
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(redisClient.Client, cfg.APIRateLimitPerMin)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(middleware.MaxBody(0))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
		defer cancel()

		status := http.StatusOK
		checks := map[string]string{"database": "ok", "redis": "ok"}
		if err := db.Ping(ctx); err != nil {
			checks["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unreachable"
			status = http.StatusServiceUnavailable
		}

		statusText := "ok"
		if status != http.StatusOK {
			statusText = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    statusText,
			"version":   Version,
			"checks":    checks,
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Mount("/accounts", accountsHandler.Routes())
		r.Mount("/jobs", jobsHandler.Routes())
		r.Mount("/alerts", alertsHandler.Routes())
		r.Mount("/reports", reportsHandler.Routes())
	})

	runner := jobs.NewRunner()
	runner.Every("tick", cfg.TickInterval, eng.Tick)
	runner.Every("expire-overdue", cfg.TickInterval, eng.ExpireOverdue)
	runner.Every("account-audit", cfg.AuditInterval, eng.AuditAccounts)
	runner.Every("health-refresh", cfg.HealthRefreshInterval, eng.RefreshHealth)
	runner.Every("breaker-sweep", cfg.BreakerSweepInterval, eng.SweepBreakers)

	mustCron := func(name, expr string, fn jobs.TriggerFunc) {
		if err := runner.Cron(name, expr, fn); err != nil {
			log.Fatal().Err(err).Str("job", name).Msg("invalid cron expression")
		}
	}
	mustCron("quota-reset", cfg.QuotaResetCron, eng.ResetQuotas)
	mustCron("safety-report", cfg.SafetyReportCron, eng.DailySafetyReport)
	mustCron("error-analysis", cfg.ErrorAnalysisCron, eng.AnalyzeErrors)
	mustCron("optimize", cfg.OptimizeCron, eng.Optimize)
	mustCron("cleanup", cfg.CleanupCron, eng.Cleanup)

	runner.Start()
	defer runner.Stop()

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: r,
		// WriteTimeout stays 0 so long-lived job streams are not cut off.
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("version", Version).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
