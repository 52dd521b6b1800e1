package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/jtbnz/razor-library-sub001/pkg/auth"
	"github.com/jtbnz/razor-library-sub001/pkg/config"
	"github.com/jtbnz/razor-library-sub001/pkg/ratelimit"
	"github.com/jtbnz/razor-library-sub001/pkg/storage"
	"github.com/jtbnz/razor-library-sub001/pkg/subscription"
)

var (
	pruneSchedule   = flag.String("prune-schedule", "0 * * * *", "Cron schedule for pruning old auth attempts (default: every hour)")
	refreshSchedule = flag.String("refresh-schedule", "*/15 * * * *", "Cron schedule for refreshing stale subscription caches (default: every 15 minutes)")
	sessionSchedule = flag.String("session-schedule", "30 * * * *", "Cron schedule for deleting expired sessions (default: hourly at :30)")
	staleBatchSize  = flag.Int("stale-batch", 500, "Max stale subscriptions refreshed per run")
	runOnce         = flag.Bool("run-once", false, "Run all sweeps once and exit")
)

// sweeper holds the maintenance jobs. None of them affect correctness:
// attempt reads filter by window, session reads check expiry, and the
// subscription state column is a reporting cache behind Evaluate.
type sweeper struct {
	attempts      ratelimit.AttemptStore
	sessions      *auth.PostgresStore
	subscriptions *subscription.PostgresService

	// attemptRetention is the largest configured rate limit window;
	// anything older can never influence a decision
	attemptRetention time.Duration
	staleBatch       int
}

func main() {
	flag.Parse()

	log.SetFormatter(&log.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenPostgres(ctx, cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	retention := cfg.RateLimits.Login.Window
	if cfg.RateLimits.PasswordReset.Window > retention {
		retention = cfg.RateLimits.PasswordReset.Window
	}

	s := &sweeper{
		attempts:         ratelimit.NewPostgresStore(db),
		sessions:         auth.NewPostgresStore(db),
		subscriptions:    subscription.NewPostgresService(db, 0),
		attemptRetention: retention,
		staleBatch:       *staleBatchSize,
	}

	if *runOnce {
		s.pruneAttempts(ctx)
		s.refreshSubscriptions(ctx)
		s.pruneSessions(ctx)
		log.Info("Sweep completed")
		return
	}

	c := cron.New()

	if _, err := c.AddFunc(*pruneSchedule, func() { s.pruneAttempts(context.Background()) }); err != nil {
		log.WithError(err).Fatal("Failed to schedule attempt prune")
	}
	if _, err := c.AddFunc(*refreshSchedule, func() { s.refreshSubscriptions(context.Background()) }); err != nil {
		log.WithError(err).Fatal("Failed to schedule subscription refresh")
	}
	if _, err := c.AddFunc(*sessionSchedule, func() { s.pruneSessions(context.Background()) }); err != nil {
		log.WithError(err).Fatal("Failed to schedule session prune")
	}

	c.Start()
	log.WithFields(log.Fields{
		"prune_schedule":   *pruneSchedule,
		"refresh_schedule": *refreshSchedule,
		"session_schedule": *sessionSchedule,
	}).Info("Sweeper started")

	<-ctx.Done()
	log.Info("Shutting down gracefully...")

	stopCtx := c.Stop()
	<-stopCtx.Done()

	log.Info("Sweeper stopped")
}

// pruneAttempts deletes attempt rows too old to count toward any window
func (s *sweeper) pruneAttempts(ctx context.Context) {
	cutoff := time.Now().Add(-s.attemptRetention)
	if err := s.attempts.PruneBefore(ctx, cutoff); err != nil {
		log.WithError(err).Error("Attempt prune failed")
		return
	}
	log.WithField("cutoff", cutoff.Format(time.RFC3339)).Info("Pruned old auth attempts")
}

// refreshSubscriptions re-derives cached states that no longer match the
// timestamps, so reporting queries on the state column stay honest
func (s *sweeper) refreshSubscriptions(ctx context.Context) {
	now := time.Now()

	stale, err := s.subscriptions.ListStale(ctx, now, s.staleBatch)
	if err != nil {
		log.WithError(err).Error("Failed to list stale subscriptions")
		return
	}
	if len(stale) == 0 {
		log.Debug("No stale subscriptions")
		return
	}

	refreshed := 0
	for _, sub := range stale {
		if _, err := s.subscriptions.RefreshState(ctx, sub, now); err != nil {
			log.WithError(err).WithField("subscription_id", sub.ID).Error("Failed to refresh subscription state")
			continue
		}
		refreshed++
	}
	log.WithFields(log.Fields{
		"stale":     len(stale),
		"refreshed": refreshed,
	}).Info("Refreshed stale subscription states")
}

// pruneSessions removes sessions past their expiry
func (s *sweeper) pruneSessions(ctx context.Context) {
	deleted, err := s.sessions.DeleteExpiredSessions(ctx, time.Now())
	if err != nil {
		log.WithError(err).Error("Session prune failed")
		return
	}
	if deleted > 0 {
		log.WithField("deleted", deleted).Info("Deleted expired sessions")
	}
}
