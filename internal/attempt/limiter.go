// Package attempt throttles repeated authentication failures with a
// redis-backed sliding-window counter and lockout.
//
// The counter uses INCR+EXPIRE, but the check-then-lock step is not a single
// compare-and-swap: concurrent failures from the same identifier can
// under-count and delay the lockout by a few attempts. That race only ever
// postpones throttling, never grants access, so it is accepted rather than
// paid for with a lock.
package attempt

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Defaults mirror the usual login-throttle policy.
const (
	DefaultMaxAttempts = 5
	DefaultWindow      = 15 * time.Minute
	DefaultLockout     = 30 * time.Minute
)

// Config tunes the limiter.
type Config struct {
	MaxAttempts int
	Window      time.Duration
	Lockout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Lockout <= 0 {
		c.Lockout = DefaultLockout
	}
	return c
}

// Option overrides the limiter configuration for a single Add call.
type Option func(*Config)

// WithMaxAttempts overrides the lockout threshold.
func WithMaxAttempts(n int) Option {
	return func(c *Config) { c.MaxAttempts = n }
}

// WithLockout overrides the lockout duration.
func WithLockout(d time.Duration) Option {
	return func(c *Config) { c.Lockout = d }
}

// Status reports the lockout state of an identifier.
type Status struct {
	Locked bool
	// RemainingSeconds is rounded up so a locked identifier never reports
	// zero seconds remaining.
	RemainingSeconds int64
}

// Limiter counts failures per (bucket, identifier) and locks identifiers out
// after too many. It is a throttle, not authorization ground truth: when
// redis is unreachable, Check fails open and Add/Reset are best-effort.
type Limiter struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger
	clock  func() time.Time
}

// NewLimiter constructs a Limiter.
func NewLimiter(client *redis.Client, cfg Config, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		client: client,
		cfg:    cfg.withDefaults(),
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

func countKey(bucket, identifier string) string {
	return fmt.Sprintf("attempt:%s:%s:count", bucket, identifier)
}

func lockKey(bucket, identifier string) string {
	return fmt.Sprintf("attempt:%s:%s:lock", bucket, identifier)
}

// Check reports whether the identifier is locked out. An expired lockout is
// opportunistically cleared. Redis errors report not-locked: availability of
// the wider system takes priority over the throttle.
func (l *Limiter) Check(ctx context.Context, bucket, identifier string) Status {
	raw, err := l.client.Get(ctx, lockKey(bucket, identifier)).Result()
	if err == redis.Nil {
		return Status{}
	}
	if err != nil {
		l.logger.Warn("attempt check", slog.String("bucket", bucket), slog.Any("error", err))
		return Status{}
	}
	until, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		l.logger.Warn("attempt lock decode", slog.String("bucket", bucket), slog.String("value", raw))
		l.Reset(ctx, bucket, identifier)
		return Status{}
	}
	now := l.clock().Unix()
	if until <= now {
		l.Reset(ctx, bucket, identifier)
		return Status{}
	}
	return Status{Locked: true, RemainingSeconds: until - now}
}

// Add records a failed attempt. Reaching the threshold sets a lockout for the
// configured duration; further Adds while locked are no-ops and do not extend
// it. Persistence is best-effort.
func (l *Limiter) Add(ctx context.Context, bucket, identifier string, opts ...Option) {
	cfg := l.cfg
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	if l.Check(ctx, bucket, identifier).Locked {
		return
	}

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, countKey(bucket, identifier))
	pipe.Expire(ctx, countKey(bucket, identifier), cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("attempt add", slog.String("bucket", bucket), slog.Any("error", err))
		return
	}

	if incr.Val() < int64(cfg.MaxAttempts) {
		return
	}
	until := l.clock().Add(cfg.Lockout).Unix()
	if err := l.client.Set(ctx, lockKey(bucket, identifier), until, cfg.Lockout).Err(); err != nil {
		l.logger.Warn("attempt lock", slog.String("bucket", bucket), slog.Any("error", err))
	}
}

// Reset clears the record unconditionally, typically on successful
// authentication. Best-effort.
func (l *Limiter) Reset(ctx context.Context, bucket, identifier string) {
	if err := l.client.Del(ctx, countKey(bucket, identifier), lockKey(bucket, identifier)).Err(); err != nil {
		l.logger.Warn("attempt reset", slog.String("bucket", bucket), slog.Any("error", err))
	}
}
