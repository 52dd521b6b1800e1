package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/jtbnz/razor-library-sub001/pkg/api"
	"github.com/jtbnz/razor-library-sub001/pkg/auth"
	"github.com/jtbnz/razor-library-sub001/pkg/config"
	"github.com/jtbnz/razor-library-sub001/pkg/images"
	"github.com/jtbnz/razor-library-sub001/pkg/items"
	"github.com/jtbnz/razor-library-sub001/pkg/observability"
	"github.com/jtbnz/razor-library-sub001/pkg/ratelimit"
	"github.com/jtbnz/razor-library-sub001/pkg/storage"
	"github.com/jtbnz/razor-library-sub001/pkg/subscription"
)

var migrate = flag.Bool("migrate", false, "Run database migrations on startup")

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenPostgres(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	if *migrate {
		if err := storage.RunMigrations(ctx, db); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		logger.Info("Database migrations applied")
	}

	attempts, err := buildAttemptStore(ctx, cfg, db, logger)
	if err != nil {
		log.Fatalf("Failed to initialize rate limit backend: %v", err)
	}

	blobs, err := buildBlobStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize blob storage: %v", err)
	}

	var requester images.DerivativeRequester = images.NoopRequester{}
	if cfg.Images.ResizerEndpoint != "" {
		requester = images.NewHTTPRequester(cfg.Images.ResizerEndpoint)
		logger.Infof("Derivative requests will be sent to %s", cfg.Images.ResizerEndpoint)
	} else {
		logger.Warn("No resizer endpoint configured, derivative generation disabled")
	}

	accounts := auth.NewService(auth.NewPostgresStore(db))
	subscriptions := subscription.NewPostgresService(db, cfg.Subscription.TrialLengthDays)
	gate := subscription.NewGate(subscriptions, cfg.Subscription.GateCacheTTL, metrics)

	server := api.NewServer(api.Deps{
		Logger:        logger,
		Metrics:       metrics,
		Accounts:      accounts,
		Trials:        subscriptions,
		Limiter:       ratelimit.NewLimiter(attempts, metrics),
		LoginPolicy:   cfg.RateLimits.Login,
		ResetPolicy:   cfg.RateLimits.PasswordReset,
		Items:         items.NewPostgresService(db),
		Counters:      items.NewCounterService(db, metrics),
		Images:        images.NewService(db, blobs, requester, metrics, logger),
		Subscriptions: subscriptions,
		Gate:          gate,
		WebhookSecret: cfg.Billing.WebhookSecret,

		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
	})

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.MetricsHandler(registry))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if metrics != nil {
		group.Go(func() error {
			observability.SampleDBStats(groupCtx, db, metrics, 15*time.Second)
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("API server shutdown failed")
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Health server shutdown failed")
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	logger.Info("Shutdown complete")
}

// buildAttemptStore picks the rate limit backend. Postgres is the default;
// Redis trades the shared audit table for cheaper counting under load.
func buildAttemptStore(ctx context.Context, cfg *config.Config, db *sql.DB, logger *observability.Logger) (ratelimit.AttemptStore, error) {
	switch cfg.RateLimits.Backend {
	case "redis":
		client, err := storage.OpenRedis(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		logger.Info("Rate limiting backed by Redis")
		keyTTL := cfg.RateLimits.Login.Window
		if cfg.RateLimits.PasswordReset.Window > keyTTL {
			keyTTL = cfg.RateLimits.PasswordReset.Window
		}
		return ratelimit.NewRedisStore(client, keyTTL), nil
	case "memory":
		logger.Warn("Rate limiting backed by process memory, not suitable for multi-instance deployments")
		return ratelimit.NewMemoryStore(), nil
	default:
		logger.Info("Rate limiting backed by PostgreSQL")
		return ratelimit.NewPostgresStore(db), nil
	}
}

func buildBlobStore(ctx context.Context, cfg storage.Config) (images.BlobStore, error) {
	if cfg.BlobBackend == "s3" {
		return images.NewS3Store(ctx, images.S3Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
	}
	return images.NewFilesystemStore(cfg.FilesystemRoot)
}
