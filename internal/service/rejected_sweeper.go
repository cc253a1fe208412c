package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

type rejectedPurger interface {
	PurgeRejected(ctx context.Context, retention time.Duration) (int64, error)
}

type bundleCleaner interface {
	CleanupOlderThan(dir string, ttl time.Duration) ([]string, error)
}

type pendingReplayer interface {
	ReplayPending(ctx context.Context) (int, error)
}

// SweeperConfig sets the intervals of the maintenance jobs. A zero interval disables that job.
type SweeperConfig struct {
	RejectedRetention time.Duration
	RejectedInterval  time.Duration
	BundleRetention   time.Duration
	BundleInterval    time.Duration
	ReplayInterval    time.Duration
}

// RejectedSweeper runs periodic maintenance: purging old rejected requests, expiring archive bundles
// and re-queueing intents that never reached the dispatcher.
type RejectedSweeper struct {
	requests rejectedPurger
	bundles  bundleCleaner
	intents  pendingReplayer
	logger   *zap.Logger
	cfg      SweeperConfig
	sched    gocron.Scheduler
}

// NewRejectedSweeper constructs the sweeper. Any collaborator may be nil to skip its job.
func NewRejectedSweeper(requests rejectedPurger, bundles bundleCleaner, intents pendingReplayer, logger *zap.Logger, cfg SweeperConfig) *RejectedSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RejectedSweeper{requests: requests, bundles: bundles, intents: intents, logger: logger, cfg: cfg}
}

// Start registers the jobs on a fresh gocron scheduler and starts it.
func (s *RejectedSweeper) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	jobs := []struct {
		name     string
		interval time.Duration
		enabled  bool
		run      func(context.Context)
	}{
		{"purge-rejected-requests", s.cfg.RejectedInterval, s.requests != nil, s.SweepRejected},
		{"expire-archive-bundles", s.cfg.BundleInterval, s.bundles != nil, s.ExpireBundles},
		{"replay-pending-intents", s.cfg.ReplayInterval, s.intents != nil, s.ReplayPending},
	}
	for _, job := range jobs {
		if !job.enabled || job.interval <= 0 {
			continue
		}
		if _, err := sched.NewJob(
			gocron.DurationJob(job.interval),
			gocron.NewTask(job.run, ctx),
			gocron.WithName(job.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			_ = sched.Shutdown()
			return fmt.Errorf("register %s: %w", job.name, err)
		}
		s.logger.Info("maintenance job scheduled", zap.String("job", job.name), zap.Duration("interval", job.interval))
	}

	sched.Start()
	s.sched = sched
	return nil
}

// Stop shuts the scheduler down and waits for running jobs.
func (s *RejectedSweeper) Stop() error {
	if s.sched == nil {
		return nil
	}
	return s.sched.Shutdown()
}

// SweepRejected deletes rejected requests past retention.
func (s *RejectedSweeper) SweepRejected(ctx context.Context) {
	n, err := s.requests.PurgeRejected(ctx, s.cfg.RejectedRetention)
	if err != nil {
		s.logger.Error("rejected request sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("rejected requests purged", zap.Int64("count", n), zap.Duration("retention", s.cfg.RejectedRetention))
	}
}

// ExpireBundles removes archive bundles whose download window has passed.
func (s *RejectedSweeper) ExpireBundles(ctx context.Context) {
	removed, err := s.bundles.CleanupOlderThan("bundles", s.cfg.BundleRetention)
	if err != nil {
		s.logger.Error("bundle cleanup failed", zap.Error(err))
		return
	}
	if len(removed) > 0 {
		s.logger.Info("expired archive bundles removed", zap.Strings("files", removed))
	}
}

// ReplayPending re-queues intents still waiting for dispatch.
func (s *RejectedSweeper) ReplayPending(ctx context.Context) {
	n, err := s.intents.ReplayPending(ctx)
	if err != nil {
		s.logger.Warn("pending intent replay failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Debug("pending intents replayed", zap.Int("count", n))
	}
}
