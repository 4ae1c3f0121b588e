package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/lifelink-engine/internal/observability"
	"github.com/kursadbilgin/lifelink-engine/internal/repository"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultRetention    = 90 * 24 * time.Hour
	defaultPruneSpec    = "@daily"
	defaultPruneTimeout = time.Minute
)

// Cleaner prunes escalation logs past their retention window on a cron
// schedule. Logs of requests still awaiting a blood-bank handoff are pruned
// like any other once they age out.
type Cleaner struct {
	escalations repository.EscalationRepository
	cron        *cron.Cron
	now         func() time.Time
	logger      *zap.Logger
	metrics     *observability.Metrics
	retention   time.Duration
	schedule    string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

func WithRetention(retention time.Duration) Option {
	return func(cleaner *Cleaner) {
		if retention > 0 {
			cleaner.retention = retention
		}
	}
}

// WithSchedule overrides the cron specification of the prune job.
func WithSchedule(schedule string) Option {
	return func(cleaner *Cleaner) {
		if schedule != "" {
			cleaner.schedule = schedule
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(cleaner *Cleaner) {
		if logger != nil {
			cleaner.logger = logger
		}
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(cleaner *Cleaner) {
		cleaner.metrics = metrics
	}
}

func NewCleaner(escalations repository.EscalationRepository, opts ...Option) (*Cleaner, error) {
	if escalations == nil {
		return nil, errors.New("escalation repository is required")
	}

	cleaner := &Cleaner{
		escalations: escalations,
		now:         time.Now,
		logger:      zap.NewNop(),
		retention:   defaultRetention,
		schedule:    defaultPruneSpec,
	}
	for _, opt := range opts {
		opt(cleaner)
	}
	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner, nil
}

// Start registers the prune job and launches the scheduler.
func (c *Cleaner) Start() error {
	if _, err := c.cron.AddFunc(c.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultPruneTimeout)
		defer cancel()
		if _, err := c.RunOnce(ctx); err != nil {
			c.logger.Warn("escalation log cleanup failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule escalation log cleanup: %w", err)
	}

	c.cron.Start()
	c.logger.Info("maintenance scheduler started",
		zap.String("schedule", c.schedule),
		zap.Duration("retention", c.retention),
	)
	return nil
}

// Stop halts the scheduler. The returned context is done once a running job
// completes.
func (c *Cleaner) Stop() context.Context {
	return c.cron.Stop()
}

// RunOnce deletes escalation logs older than the retention window.
func (c *Cleaner) RunOnce(ctx context.Context) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cutoff := c.now().UTC().Add(-c.retention)
	deleted, err := c.escalations.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune escalation logs before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	c.metrics.AddEscalationLogsPruned(deleted)
	if deleted > 0 {
		c.logger.Info("escalation logs pruned", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}
