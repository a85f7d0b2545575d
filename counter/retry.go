package counter

import (
	"context"
	"errors"
	"time"

	"github.com/aluko123/hitcounter/pkg/logger"
	"github.com/aluko123/hitcounter/pkg/metrics"
	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds Increment retries
type RetryPolicy struct {
	MaxAttempts     int // total attempts, including the first
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns two attempts with a short exponential backoff
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     2,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

// Retrying retries Increment on StoreUnavailable and Throttled errors.
// Get and List are passed through unchanged.
type Retrying struct {
	Store
	policy RetryPolicy
}

// NewRetrying wraps store with policy. A policy with fewer than one
// attempt is treated as a single attempt.
func NewRetrying(store Store, policy RetryPolicy) *Retrying {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Retrying{
		Store:  store,
		policy: policy,
	}
}

func (r *Retrying) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.policy.InitialInterval > 0 {
		b.InitialInterval = r.policy.InitialInterval
	}
	if r.policy.MaxInterval > 0 {
		b.MaxInterval = r.policy.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.policy.MaxAttempts-1)), ctx)
}

func (r *Retrying) Increment(ctx context.Context, key string) (int64, error) {
	attempt := 0
	op := func() (int64, error) {
		attempt++
		n, err := r.Store.Increment(ctx, key)
		if err != nil && !Retryable(err) {
			return 0, backoff.Permanent(err)
		}
		return n, err
	}
	notify := func(err error, wait time.Duration) {
		metrics.StoreRetries.WithLabelValues(string(KindOf(err))).Inc()
		logger.FromContext(ctx).Debug("retrying counter increment",
			"key", key, "attempt", attempt, "wait", wait, "error", err)
	}

	n, err := backoff.RetryNotifyWithData(op, r.newBackOff(ctx), notify)
	if err == nil {
		return n, nil
	}
	// the backoff returns a bare context error when ctx ends between attempts
	if !Retryable(err) && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return 0, unavailable("increment", key, err)
	}
	return 0, err
}

// List delegates to the wrapped store when it supports listing
func (r *Retrying) List(ctx context.Context) ([]Record, error) {
	l, ok := r.Store.(Lister)
	if !ok {
		return nil, ErrListUnsupported
	}
	return l.List(ctx)
}

// Close closes the wrapped store when it holds resources
func (r *Retrying) Close() error {
	if c, ok := r.Store.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
