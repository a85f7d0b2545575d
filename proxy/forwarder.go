package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aluko123/hitcounter/pkg/metrics"
)

var errNoResponse = errors.New("downstream returned no response")

// Forwarder invokes a downstream handler once and hands back its response
// untouched. It never retries, so a non-idempotent downstream runs at most
// once per request.
type Forwarder struct {
	Timeout time.Duration
}

// NewForwarder creates a forwarder bounded by timeout (0 means no bound
// beyond the caller's context)
func NewForwarder(timeout time.Duration) *Forwarder {
	return &Forwarder{Timeout: timeout}
}

// Invoke sends req to target. Failures come back as *Error of KindDownstream
// wrapping the downstream's own error.
func (f *Forwarder) Invoke(ctx context.Context, target Handler, req *Request) (*Response, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := target.ServeRequest(ctx, req)
	switch {
	case err != nil:
	case resp == nil:
		err = errNoResponse
	case resp.StatusCode < 100 || resp.StatusCode > 999:
		err = fmt.Errorf("downstream returned invalid status %d", resp.StatusCode)
	}
	if err != nil {
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
		reason := "error"
		if timedOut {
			reason = "timeout"
		}
		metrics.DownstreamErrors.WithLabelValues(reason).Inc()
		return nil, &Error{
			Kind:    KindDownstream,
			Msg:     "downstream invocation failed",
			Timeout: timedOut,
			Err:     err,
		}
	}

	metrics.DownstreamDuration.WithLabelValues(metrics.StatusClass(resp.StatusCode)).Observe(time.Since(start).Seconds())
	return resp, nil
}
