package maintenance

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/sftpgate/internal/services"
	"github.com/charlesng35/sftpgate/pkg/logger"
)

const (
	defaultAuditRetentionDays = 90
	defaultAuditSpec          = "@daily"
	defaultPruneSpec          = "@every 1m"
)

// Pruner closes held SFTP sessions whose transport has dropped.
type Pruner interface {
	Prune() int
}

// Cleaner coordinates background maintenance: enforcing audit retention and
// pruning dead sessions held by the session manager.
type Cleaner struct {
	audit     *services.AuditService
	sessions  Pruner
	cron      *cron.Cron
	log       *zap.Logger
	retention int

	auditSchedule string
	pruneSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithAuditRetentionDays adjusts how long operation logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// WithPruneSchedule overrides the cron specification for session pruning.
func WithPruneSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.pruneSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner. A nil dependency skips the corresponding job.
func NewCleaner(audit *services.AuditService, sessions Pruner, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		audit:         audit,
		sessions:      sessions,
		retention:     defaultAuditRetentionDays,
		auditSchedule: defaultAuditSpec,
		pruneSchedule: defaultPruneSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

func (c *Cleaner) enabled() bool {
	return c.audit != nil || c.sessions != nil
}

// Start registers the maintenance jobs and launches the scheduler if any job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled() {
		return nil
	}

	if c.audit != nil {
		if _, err := c.cron.AddFunc(c.auditSchedule, func() {
			if _, err := c.cleanupAudit(context.Background()); err != nil {
				c.log.Warn("audit cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.sessions != nil {
		if _, err := c.cron.AddFunc(c.pruneSchedule, func() {
			c.prune()
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once running jobs finish.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if c.audit != nil {
		if _, err := c.cleanupAudit(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if c.sessions != nil {
		c.prune()
	}
	return errs
}

func (c *Cleaner) cleanupAudit(ctx context.Context) (int64, error) {
	removed, err := c.audit.CleanupOlderThan(ctx, c.retention)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		c.log.Info("operation logs purged", zap.Int64("removed", removed), zap.Int("retention_days", c.retention))
	}
	return removed, nil
}

func (c *Cleaner) prune() {
	if n := c.sessions.Prune(); n > 0 {
		c.log.Info("pruned disconnected sessions", zap.Int("closed", n))
	}
}
