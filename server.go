package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/notification_backend/config"
	"bitbucket.org/mmdatafocus/notification_backend/middlewares"
	"bitbucket.org/mmdatafocus/notification_backend/models"
	"bitbucket.org/mmdatafocus/notification_backend/transport"
	"bitbucket.org/mmdatafocus/notification_backend/utils"
	"bitbucket.org/mmdatafocus/notification_backend/workflow"
	"bitbucket.org/mmdatafocus/notification_backend/workpool"
	"cloud.google.com/go/pubsub"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout    = 30 * time.Second
	dedupeLockPrefix   = "notification:dedupe:"
	readHeaderTimeout  = 10 * time.Second
	defaultRateLimit   = int64(600)
	defaultRateWindowS = int64(60)
)

type routerDeps struct {
	Logger   *logrus.Logger
	Registry *prometheus.Registry
	// Redis is optional; it backs the rate limiter when RATE_LIMIT_ENABLED=true.
	Redis *redis.Client
}

func main() {
	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	if err := run(sigCtx, logger); err != nil {
		logger.WithFields(logrus.Fields{"field": "server"}).Fatal(err.Error())
	}
}

func run(ctx context.Context, logger *logrus.Logger) error {
	cfg := config.LoadNotificationConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := config.ConnectDatabaseWithRetry(ctx)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	// AutoMigrate can run blocking DDL; allow running it as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.MigrateTable(db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		// Local SQLite runs have no booking service to own the directory tables.
		if strings.EqualFold(os.Getenv("DB_DRIVER"), "sqlite") {
			if err := models.MigrateDirectoryTables(db); err != nil {
				return fmt.Errorf("migrate directory: %w", err)
			}
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	var rdb *redis.Client
	if os.Getenv("REDIS_ADDRESS") != "" {
		rdb, err = config.ConnectRedisWithRetry(ctx)
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "redis"}).Warn("redis unavailable; dedupe locking disabled: " + err.Error())
		} else {
			defer rdb.Close()
		}
	}

	emailSink, smsSender, psClient, err := buildTransports(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if psClient != nil {
		defer psClient.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	retry := workpool.RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		Base:           cfg.BackoffBase,
		MaxBackoff:     workpool.DefaultRetryPolicy.MaxBackoff,
	}
	pool := workpool.New(workpool.Config{
		Parallelism:    cfg.Parallelism,
		QueueSize:      cfg.QueueSize,
		RetryByDefault: true,
		DefaultRetry:   retry,
		Logger:         logger,
		Metrics:        workpool.NewMetrics(registry),
	})
	pool.Start()

	directory := models.NewGormDirectory(db)
	executor := workflow.NewExecutor(directory, transport.NewEmailer(emailSink), smsSender, cfg.BusinessName, logger)
	engine := workflow.NewEngine(workflow.EngineDeps{
		Store:     models.NewDispatchRepository(db),
		Directory: directory,
		Queue:     pool,
		Deliverer: executor,
		Locker:    utils.NewKeyLocker(rdb, logger, dedupeLockPrefix),
		Logger:    logger,
		Metrics:   workflow.NewMetrics(registry),
	}, workflow.EngineConfig{
		AdminEmailTo: cfg.AdminEmailTo,
		AdminSmsTo:   cfg.AdminSmsTo,
		OfflineMode:  cfg.OfflineMode,
		RetryPolicy:  retry,
		// Deliveries refused by a full queue share the pool's concurrency cap.
		FallbackParallelism: cfg.Parallelism,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           newRouter(engine, routerDeps{Logger: logger, Registry: registry, Redis: rdb}),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"field":        "http",
			"port":         cfg.HTTPPort,
			"offline_mode": cfg.OfflineMode,
		}).Info("notification server started")
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		// Stop taking events first; pool shutdown then cancels queued and in-flight
		// jobs, recording them as canceled, and fallback runs finish on their own.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := pool.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("workpool shutdown: %w", err))
		}
		engine.Wait()
		logger.WithFields(logrus.Fields{"field": "server"}).Info("notification server stopped")
		return errors.Join(errs...)
	})
	return g.Wait()
}

// buildTransports publishes email and SMS jobs to Pub/Sub when both topics are
// configured and falls back to logging them otherwise.
func buildTransports(ctx context.Context, cfg config.NotificationConfig, logger *logrus.Logger) (transport.EmailSink, workflow.SmsSender, *pubsub.Client, error) {
	if cfg.EmailTopic == "" || cfg.SmsTopic == "" {
		logger.WithFields(logrus.Fields{"field": "transport"}).Warn("PUBSUB_EMAIL_TOPIC/PUBSUB_SMS_TOPIC not set; notifications are only logged")
		sender := transport.NewLogSender(logger)
		return sender, sender, nil, nil
	}

	client, err := config.NewPubSubClient(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	emailTopic, err := config.CreateTopicIfNotExists(ctx, client, cfg.EmailTopic)
	if err != nil {
		client.Close()
		return nil, nil, nil, err
	}
	smsTopic, err := config.CreateTopicIfNotExists(ctx, client, cfg.SmsTopic)
	if err != nil {
		client.Close()
		return nil, nil, nil, err
	}
	sender := transport.NewPubSubSender(emailTopic, smsTopic)
	return sender, sender, client, nil
}

func newRouter(q EventQueuer, deps routerDeps) *gin.Engine {
	logger := deps.Logger
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.NewHTTPMetrics(deps.Registry).Middleware())

	corsConfig := cors.DefaultConfig()
	// In production require an explicit CORS_ALLOWED_ORIGINS allowlist; elsewhere allow all.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Deny all; cors rejects an empty allowlist without an origin func.
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", middlewares.CorrelationIdHeader)
	corsConfig.AddExposeHeaders("Content-Length", middlewares.CorrelationIdHeader)
	r.Use(cors.New(corsConfig))

	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		limit := int64FromEnv("RATE_LIMIT_MAX_REQUESTS", defaultRateLimit)
		windowSec := int64FromEnv("RATE_LIMIT_WINDOW_SECONDS", defaultRateWindowS)
		if deps.Redis == nil {
			logger.WithFields(logrus.Fields{"field": "http"}).Warn("RATE_LIMIT_ENABLED=true but redis is unavailable; rate limiting disabled")
		}
		r.Use(middlewares.NewRateLimiter(deps.Redis, limit, time.Duration(windowSec)*time.Second).Middleware())
	}

	r.Use(middlewares.ErrorLogger(logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))

	// Pub/Sub push authenticates with its own OIDC token at the ingress, so it sits outside the internal token check.
	r.POST("/pubsub/notification-events", notificationEventPubSubHandler(q, logger))

	internal := r.Group("/", middlewares.InternalTokenMiddleware(os.Getenv("EVENTS_API_TOKEN")))
	internal.POST("/events/new-customer-onboarded", newCustomerOnboardedHandler(q, logger))
	internal.POST("/events/appointment-lifecycle", appointmentLifecycleHandler(q, logger))
	internal.POST("/events/review-submitted", reviewSubmittedHandler(q, logger))
	internal.GET("/dispatches/:id", getDispatchHandler(q, logger))

	r.NoRoute(customNotFoundHandler)
	return r
}

func int64FromEnv(key string, def int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
