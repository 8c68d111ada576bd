package sftp

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/sftpgate/pkg/logger"
	"github.com/charlesng35/sftpgate/pkg/metrics"
)

// RetryPolicy controls how many times Connect dials and how long it waits between attempts.
// The wait after failed attempt n (1-based) is BaseDelay * 2^n.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultRetryPolicy makes three attempts waiting 2s and then 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: time.Second}
}

// Delay returns the wait that follows failed attempt n.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return p.BaseDelay << uint(attempt)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy RetryPolicy) FactoryOption {
	return func(f *Factory) {
		if policy.Attempts > 0 {
			f.retry.Attempts = policy.Attempts
		}
		if policy.BaseDelay >= 0 {
			f.retry.BaseDelay = policy.BaseDelay
		}
	}
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(sleep SleepFunc) FactoryOption {
	return func(f *Factory) {
		if sleep != nil {
			f.sleep = sleep
		}
	}
}

// WithLogger sets the factory logger.
func WithLogger(log *zap.Logger) FactoryOption {
	return func(f *Factory) {
		if log != nil {
			f.log = log
		}
	}
}

// Factory produces connected sessions, retrying failed dials with exponential backoff.
type Factory struct {
	cfg    Config
	dialer Dialer
	retry  RetryPolicy
	sleep  SleepFunc
	log    *zap.Logger
}

// NewFactory validates cfg and returns a factory using dialer for each attempt.
func NewFactory(cfg Config, dialer Dialer, opts ...FactoryOption) (*Factory, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dialer == nil {
		return nil, fmt.Errorf("%w: dialer is required", ErrConfiguration)
	}

	f := &Factory{
		cfg:    cfg,
		dialer: dialer,
		retry:  DefaultRetryPolicy(),
		sleep:  sleepContext,
		log:    logger.WithModule("sftp.factory"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Config returns the validated configuration.
func (f *Factory) Config() Config {
	return f.cfg
}

// Connect dials until a session is established or the retry budget is spent.
func (f *Factory) Connect(ctx context.Context) (Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= f.retry.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("sftp: connect cancelled: %w", err)
		}

		conn, err := f.dialer.Dial(ctx)
		if err == nil {
			metrics.ConnectAttempts.WithLabelValues("success").Inc()
			if attempt > 1 {
				f.log.Info("sftp connection established after retry",
					zap.String("address", f.cfg.Address()),
					zap.Int("attempt", attempt),
				)
			}
			return conn, nil
		}

		metrics.ConnectAttempts.WithLabelValues("failure").Inc()
		lastErr = err
		if attempt == f.retry.Attempts {
			break
		}

		delay := f.retry.Delay(attempt)
		f.log.Warn("sftp connection attempt failed",
			zap.String("address", f.cfg.Address()),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", f.retry.Attempts),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("sftp: connect cancelled during backoff: %w", err)
		}
	}

	f.log.Error("sftp connection failed",
		zap.String("address", f.cfg.Address()),
		zap.Int("attempts", f.retry.Attempts),
		zap.Error(lastErr),
	)
	return nil, &ConnectError{Attempts: f.retry.Attempts, Err: lastErr}
}
