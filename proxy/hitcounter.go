package proxy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aluko123/hitcounter/counter"
	"github.com/aluko123/hitcounter/pkg/logger"
	"github.com/aluko123/hitcounter/pkg/metrics"
)

// FailurePolicy decides what happens to a request whose hit could not be recorded
type FailurePolicy string

const (
	// FailClosed rejects the request with KindCountingFailed
	FailClosed FailurePolicy = "fail_closed"
	// FailOpen forwards the request anyway
	FailOpen FailurePolicy = "fail_open"
)

// ParseFailurePolicy accepts "fail_closed", "fail_open" or "" (fail_closed)
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailClosed:
		return FailClosed, nil
	case FailOpen:
		return FailOpen, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}

// Config holds hit counter configuration
type Config struct {
	StoreTimeout      time.Duration
	DownstreamTimeout time.Duration
	Policy            FailurePolicy
}

// DefaultConfig returns the default hit counter configuration
func DefaultConfig() Config {
	return Config{
		StoreTimeout:      3 * time.Second,
		DownstreamTimeout: 5 * time.Second,
		Policy:            FailClosed,
	}
}

// HitCounter records one hit per request in a counter store, then forwards
// the request to its downstream handler. It keeps no state of its own and
// is safe for concurrent use.
type HitCounter struct {
	store        counter.Store
	downstream   Handler
	forwarder    *Forwarder
	storeTimeout time.Duration
	policy       FailurePolicy
}

// New creates a hit counter in front of downstream
func New(store counter.Store, downstream Handler, cfg Config) *HitCounter {
	if cfg.Policy == "" {
		cfg.Policy = FailClosed
	}
	return &HitCounter{
		store:        store,
		downstream:   downstream,
		forwarder:    NewForwarder(cfg.DownstreamTimeout),
		storeTimeout: cfg.StoreTimeout,
		policy:       cfg.Policy,
	}
}

// Handle counts the request and forwards it. The increment always happens
// before the forward and is never undone, so counts are proxy attempts,
// not successful downstream responses.
func (h *HitCounter) Handle(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	metrics.ActiveRequests.Inc()
	defer metrics.ActiveRequests.Dec()

	key, err := KeyFor(req)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("", metrics.OutcomeInvalid).Inc()
		return nil, err
	}
	method := strings.ToUpper(req.Method)
	defer func() {
		metrics.RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	log := logger.FromContext(ctx).With("key", key)

	count, err := h.increment(ctx, key)
	if err != nil {
		metrics.CountingFailures.WithLabelValues(string(counter.KindOf(err)), string(h.policy)).Inc()
		if h.policy != FailOpen {
			log.Error("hit not recorded, request rejected", "error", err)
			metrics.RequestsTotal.WithLabelValues(method, metrics.OutcomeRejected).Inc()
			return nil, &Error{
				Kind:    KindCountingFailed,
				Key:     key,
				Msg:     "hit could not be recorded",
				Timeout: ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded),
				Err:     err,
			}
		}
		log.Warn("hit not recorded, forwarding anyway", "error", err)
	} else {
		log.Debug("hit recorded", "count", count)
	}

	resp, err := h.forwarder.Invoke(ctx, h.downstream, req)
	if err != nil {
		log.Error("downstream failed", "error", err)
		metrics.RequestsTotal.WithLabelValues(method, metrics.OutcomeDownstreamFail).Inc()
		var e *Error
		if errors.As(err, &e) {
			e.Key = key
		}
		return nil, err
	}

	metrics.RequestsTotal.WithLabelValues(method, metrics.OutcomeForwarded).Inc()
	return resp, nil
}

// ServeRequest implements Handler, so hit counters can be chained or
// served by any entry adapter
func (h *HitCounter) ServeRequest(ctx context.Context, req *Request) (*Response, error) {
	return h.Handle(ctx, req)
}

func (h *HitCounter) increment(ctx context.Context, key string) (int64, error) {
	ctx, cancel := h.withStoreTimeout(ctx)
	defer cancel()

	start := time.Now()
	n, err := h.store.Increment(ctx, key)
	metrics.StoreDuration.WithLabelValues("increment").Observe(time.Since(start).Seconds())
	return n, err
}

// Hits returns the recorded count of key
func (h *HitCounter) Hits(ctx context.Context, key string) (int64, bool, error) {
	ctx, cancel := h.withStoreTimeout(ctx)
	defer cancel()

	start := time.Now()
	n, found, err := h.store.Get(ctx, key)
	metrics.StoreDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())
	return n, found, err
}

// AllHits lists every recorded counter when the store supports it
func (h *HitCounter) AllHits(ctx context.Context) ([]counter.Record, error) {
	l, ok := h.store.(counter.Lister)
	if !ok {
		return nil, counter.ErrListUnsupported
	}
	ctx, cancel := h.withStoreTimeout(ctx)
	defer cancel()

	start := time.Now()
	records, err := l.List(ctx)
	metrics.StoreDuration.WithLabelValues("list").Observe(time.Since(start).Seconds())
	return records, err
}

func (h *HitCounter) withStoreTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.storeTimeout > 0 {
		return context.WithTimeout(ctx, h.storeTimeout)
	}
	return context.WithCancel(ctx)
}
