// Package lock provides named distributed locks in a dedicated Redis keyspace.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hiennguyen9874/api-base-project/internal/telemetry"
)

const tracerName = "apibase/lock"

// KeyPrefix namespaces every lock key. ReleaseAll only touches keys under it.
const KeyPrefix = "Lock:"

var (
	// ErrDenied means the lock stayed held by someone else for the whole acquire timeout.
	ErrDenied = errors.New("lock denied")
	// ErrUnavailable means the lock store could not be reached. It is never reported as ErrDenied.
	ErrUnavailable = errors.New("lock store unavailable")
	// ErrNotHeld is returned by Release when the hold timeout already expired.
	ErrNotHeld = errors.New("lock not held")
)

// DeniedPolicy tells WithLock what to do when acquisition is denied.
type DeniedPolicy int

const (
	// FailOnDenied returns ErrDenied.
	FailOnDenied DeniedPolicy = iota
	// SkipOnDenied skips the critical section and returns nil.
	SkipOnDenied
)

// Options for WithLock.
type Options struct {
	Hold     time.Duration
	Acquire  time.Duration
	OnDenied DeniedPolicy
	// Retry, when set, retries ErrUnavailable. Denied is never retried.
	Retry backoff.BackOff
}

// Manager hands out locks backed by a Redis client that must not share the cache database.
type Manager struct {
	client        redis.UniversalClient
	locker        *redislock.Client
	logger        *slog.Logger
	metrics       *telemetry.LockMetrics
	retryInterval time.Duration
}

// NewManager wraps client. metrics may be nil.
func NewManager(client redis.UniversalClient, logger *slog.Logger, metrics *telemetry.LockMetrics) *Manager {
	return &Manager{
		client:        client,
		locker:        redislock.New(client),
		logger:        telemetry.OrDefault(logger).With("component", "lock"),
		metrics:       metrics,
		retryInterval: 100 * time.Millisecond,
	}
}

// Handle is a held lock.
type Handle struct {
	name string
	lock *redislock.Lock
}

// Name returns the lock name without the key prefix.
func (h *Handle) Name() string { return h.name }

// Acquire takes the named lock. It auto-expires after hold and waits at most
// acquire for a competing holder; acquire <= 0 tries exactly once.
func (m *Manager) Acquire(ctx context.Context, name string, hold, acquire time.Duration) (*Handle, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "lock.Acquire", attribute.String(telemetry.AttrLockName, name))
	defer span.End()

	if hold <= 0 {
		return nil, fmt.Errorf("lock %s: hold timeout must be positive", name)
	}

	start := time.Now()
	acqCtx := ctx
	strategy := redislock.NoRetry()
	if acquire > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, acquire)
		defer cancel()
		strategy = redislock.LinearBackoff(m.retryInterval)
	}

	lk, err := m.locker.Obtain(acqCtx, KeyPrefix+name, hold, &redislock.Options{RetryStrategy: strategy})
	waitMs := float64(time.Since(start).Microseconds()) / 1000
	if err == nil {
		m.metrics.RecordAcquire(ctx, name, "acquired", waitMs)
		m.logger.Debug("lock acquired", "lock", name, "duration_ms", waitMs)
		return &Handle{name: name, lock: lk}, nil
	}

	err = m.classifyAcquire(ctx, acqCtx, name, err)
	switch {
	case errors.Is(err, ErrDenied):
		m.metrics.RecordAcquire(ctx, name, "denied", waitMs)
	case errors.Is(err, ErrUnavailable):
		m.metrics.RecordAcquire(ctx, name, "unavailable", waitMs)
	}
	telemetry.RecordError(span, err)
	return nil, err
}

func (m *Manager) classifyAcquire(parent, acqCtx context.Context, name string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, redislock.ErrNotObtained) {
		return fmt.Errorf("lock %s: %w", name, ErrDenied)
	}
	if acqCtx.Err() != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		return fmt.Errorf("lock %s: %w", name, ErrDenied)
	}
	return fmt.Errorf("lock %s: %w: %w", name, ErrUnavailable, err)
}

// AcquireWithRetry is Acquire with ErrUnavailable retried according to bo.
func (m *Manager) AcquireWithRetry(ctx context.Context, name string, hold, acquire time.Duration, bo backoff.BackOff) (*Handle, error) {
	var h *Handle
	op := func() error {
		var err error
		h, err = m.Acquire(ctx, name, hold, acquire)
		if err != nil && !errors.Is(err, ErrUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		m.logger.Warn("lock store unavailable, retrying", "lock", name, "retry_in", wait.String(), "error", err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, err
	}
	return h, nil
}

// Release gives the lock back. It returns ErrNotHeld when the hold timeout
// already expired or another process now owns the key.
func (m *Manager) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	err := h.lock.Release(ctx)
	switch {
	case err == nil:
		m.logger.Debug("lock released", "lock", h.name)
		return nil
	case errors.Is(err, redislock.ErrLockNotHeld):
		return fmt.Errorf("lock %s: %w", h.name, ErrNotHeld)
	default:
		return fmt.Errorf("lock %s: %w: %w", h.name, ErrUnavailable, err)
	}
}

// WithLock runs fn while holding the named lock and always releases it afterwards.
func (m *Manager) WithLock(ctx context.Context, name string, opts Options, fn func(ctx context.Context) error) error {
	var (
		h   *Handle
		err error
	)
	if opts.Retry != nil {
		h, err = m.AcquireWithRetry(ctx, name, opts.Hold, opts.Acquire, opts.Retry)
	} else {
		h, err = m.Acquire(ctx, name, opts.Hold, opts.Acquire)
	}
	if err != nil {
		if errors.Is(err, ErrDenied) && opts.OnDenied == SkipOnDenied {
			m.logger.Info("lock denied, skipping critical section", "lock", name)
			return nil
		}
		return err
	}

	defer func() {
		// release with a fresh context so a cancelled caller still frees the key
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := m.Release(relCtx, h); rerr != nil {
			m.logger.Warn("lock release failed", "lock", name, "error", rerr)
		}
	}()

	return fn(ctx)
}

// ReleaseAll deletes every lock key. Run it once at cold start, before
// anything in the new process takes a lock.
func (m *Manager) ReleaseAll(ctx context.Context) (int, error) {
	released := 0
	iter := m.client.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := m.client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		released += int(n)
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := flush(); err != nil {
				return released, fmt.Errorf("release all locks: %w: %w", ErrUnavailable, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return released, fmt.Errorf("release all locks: %w: %w", ErrUnavailable, err)
	}
	if err := flush(); err != nil {
		return released, fmt.Errorf("release all locks: %w: %w", ErrUnavailable, err)
	}
	m.logger.Info("released abandoned locks", "count", released)
	return released, nil
}
