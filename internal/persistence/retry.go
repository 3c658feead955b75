package persistence

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/spec-kit/salescrm/internal/config"
	"github.com/spec-kit/salescrm/internal/observability"
)

// RetryPolicy is the bounded exponential backoff applied to transient errors.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries three times after 1s, 2s and 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxInterval:     30 * time.Second,
	}
}

// RetryPolicyFromConfig converts the env-driven retry settings.
func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.InitialInterval,
		Multiplier:      cfg.Multiplier,
		MaxInterval:     cfg.MaxInterval,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	maxInterval := p.MaxInterval
	if maxInterval < p.InitialInterval {
		// the exponential sequence collapses to zero once MaxInterval is hit
		maxInterval = time.Duration(float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(p.MaxRetries)))
	}
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.InitialInterval),
		backoff.WithRandomizationFactor(0),
		backoff.WithMultiplier(p.Multiplier),
		backoff.WithMaxInterval(maxInterval),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(max(p.MaxRetries, 0))), ctx)
}

// Option configures an Executor or Coordinator.
type Option func(*options)

type options struct {
	policy           RetryPolicy
	statementTimeout time.Duration
	logger           *zap.Logger
	metrics          *observability.Metrics
	newTimer         func() backoff.Timer
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithStatementTimeout bounds a single statement. Caller cancellation does
// not interrupt a running statement, so this is the only upper bound.
func WithStatementTimeout(d time.Duration) Option {
	return func(o *options) { o.statementTimeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func newOptions(opts []Option) options {
	o := options{policy: DefaultRetryPolicy()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = observability.OrNop(o.logger)
	return o
}

// retrier runs store operations under the retry policy.
type retrier struct {
	pool *Pool
	options
}

// do runs op until it succeeds, fails permanently, or the policy is spent,
// and maps the terminal error into the caller-facing taxonomy.
func (r *retrier) do(ctx context.Context, name string, op func() error) error {
	attempts := 0
	wrapped := func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		class := Classify(err)
		if !class.Transient() {
			return backoff.Permanent(err)
		}
		return err
	}
	// notify only runs when another attempt is scheduled.
	notify := func(err error, wait time.Duration) {
		class := Classify(err)
		if class == ClassConnectionLost {
			r.pool.Reset()
		}
		r.metrics.RecordRetry(class.String())
		r.logger.Warn("transient store error, retrying",
			zap.String("op", name),
			zap.Stringer("class", class),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	var timer backoff.Timer
	if r.newTimer != nil {
		timer = r.newTimer()
	}
	err := backoff.RetryNotifyWithTimer(wrapped, r.policy.backOff(ctx), notify, timer)
	if err == nil {
		return nil
	}
	return mapStoreError(ctx, err, attempts)
}

// statementContext detaches the statement from caller cancellation so an
// in-flight statement always runs to completion.
func statementContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if timeout > 0 {
		return context.WithTimeout(base, timeout)
	}
	return base, func() {}
}
