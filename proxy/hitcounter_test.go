package proxy

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aluko123/hitcounter/counter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingHandler returns a canned response and counts invocations
type countingHandler struct {
	calls atomic.Int32
	resp  *Response
	err   error
	delay time.Duration
}

func (c *countingHandler) ServeRequest(ctx context.Context, _ *Request) (*Response, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.resp, c.err
}

func cannedResponse() *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/plain"}, "X-Downstream": {"hello"}},
		Body:       []byte("Hello, CDK! You've hit /hello\n"),
	}
}

// failingStore fails every increment with a retryable error
type failingStore struct {
	counter.Store
	calls atomic.Int32
}

func (f *failingStore) Increment(ctx context.Context, key string) (int64, error) {
	f.calls.Add(1)
	return 0, &counter.Error{Kind: counter.KindUnavailable, Op: "increment", Key: key, Err: errors.New("connection refused")}
}

func fastRetrying(s counter.Store) counter.Store {
	return counter.NewRetrying(s, counter.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond})
}

func TestHitCounter_CountsAndForwards(t *testing.T) {
	store := counter.NewMemoryStore()
	downstream := &countingHandler{resp: cannedResponse()}
	hc := New(store, downstream, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		resp, err := hc.Handle(ctx, &Request{Method: "GET", Path: "/hello"})
		require.NoError(t, err)
		assert.Equal(t, cannedResponse(), resp)
	}

	count, found, err := store.Get(ctx, "GET /hello")
	require.NoError(t, err)
	assert.True(t, found)
	assert.EqualValues(t, 3, count)
	assert.EqualValues(t, 3, downstream.calls.Load())

	count, found, err = hc.Hits(ctx, "GET /hello")
	require.NoError(t, err)
	assert.True(t, found)
	assert.EqualValues(t, 3, count)
}

func TestHitCounter_FailClosed(t *testing.T) {
	store := &failingStore{Store: counter.NewMemoryStore()}
	downstream := &countingHandler{resp: cannedResponse()}
	hc := New(fastRetrying(store), downstream, DefaultConfig())

	resp, err := hc.Handle(context.Background(), &Request{Method: "GET", Path: "/hello"})
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.Equal(t, KindCountingFailed, KindOf(err))
	assert.ErrorIs(t, err, counter.ErrUnavailable)
	assert.EqualValues(t, 0, downstream.calls.Load())
	assert.EqualValues(t, 2, store.calls.Load())
}

func TestHitCounter_FailOpen(t *testing.T) {
	store := &failingStore{Store: counter.NewMemoryStore()}
	downstream := &countingHandler{resp: cannedResponse()}
	cfg := DefaultConfig()
	cfg.Policy = FailOpen
	hc := New(fastRetrying(store), downstream, cfg)

	resp, err := hc.Handle(context.Background(), &Request{Method: "GET", Path: "/hello"})
	require.NoError(t, err)
	assert.Equal(t, cannedResponse(), resp)
	assert.EqualValues(t, 1, downstream.calls.Load())
}

func TestHitCounter_DownstreamErrorKeepsCount(t *testing.T) {
	store := counter.NewMemoryStore()
	boom := errors.New("function crashed")
	downstream := &countingHandler{err: boom}
	hc := New(store, downstream, DefaultConfig())

	resp, err := hc.Handle(context.Background(), &Request{Method: "POST", Path: "/orders"})
	assert.Nil(t, resp)
	assert.Equal(t, KindDownstream, KindOf(err))
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsTimeout(err))

	count, _, err := store.Get(context.Background(), "POST /orders")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count, "increment is not undone when the downstream fails")
	assert.EqualValues(t, 1, downstream.calls.Load(), "downstream is not retried")
}

func TestHitCounter_DownstreamTimeout(t *testing.T) {
	store := counter.NewMemoryStore()
	downstream := &countingHandler{resp: cannedResponse(), delay: time.Second}
	cfg := DefaultConfig()
	cfg.DownstreamTimeout = 20 * time.Millisecond
	hc := New(store, downstream, cfg)

	_, err := hc.Handle(context.Background(), &Request{Method: "GET", Path: "/slow"})
	assert.Equal(t, KindDownstream, KindOf(err))
	assert.True(t, IsTimeout(err))

	count, _, _ := store.Get(context.Background(), "GET /slow")
	assert.EqualValues(t, 1, count)
}

func TestHitCounter_NilResponseIsDownstreamError(t *testing.T) {
	hc := New(counter.NewMemoryStore(), &countingHandler{}, DefaultConfig())

	_, err := hc.Handle(context.Background(), &Request{Method: "GET", Path: "/"})
	assert.Equal(t, KindDownstream, KindOf(err))
}

func TestHitCounter_InvalidStatusIsDownstreamError(t *testing.T) {
	for _, code := range []int{0, 99, 1000} {
		store := counter.NewMemoryStore()
		hc := New(store, &countingHandler{resp: &Response{StatusCode: code, Body: []byte("hi")}}, DefaultConfig())

		resp, err := hc.Handle(context.Background(), &Request{Method: "GET", Path: "/bad"})
		assert.Nil(t, resp, code)
		assert.Equal(t, KindDownstream, KindOf(err), code)
		assert.False(t, IsTimeout(err), code)

		n, _, _ := store.Get(context.Background(), "GET /bad")
		assert.EqualValues(t, 1, n, code)
	}
}

func TestHitCounter_InvalidRequest(t *testing.T) {
	store := counter.NewMemoryStore()
	downstream := &countingHandler{resp: cannedResponse()}
	hc := New(store, downstream, DefaultConfig())

	_, err := hc.Handle(context.Background(), &Request{Path: "/hello"})
	assert.Equal(t, KindInvalidRequest, KindOf(err))
	assert.EqualValues(t, 0, downstream.calls.Load())

	records, err := hc.AllHits(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHitCounter_ConcurrentSameKey(t *testing.T) {
	store := counter.NewMemoryStore()
	downstream := &countingHandler{resp: cannedResponse()}
	hc := New(store, downstream, DefaultConfig())

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := hc.Handle(context.Background(), &Request{Method: "get", Path: "/hello/"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, _, err := store.Get(context.Background(), "GET /hello")
	require.NoError(t, err)
	assert.EqualValues(t, n, count)
	assert.EqualValues(t, n, downstream.calls.Load())
}

func TestHitCounter_Chained(t *testing.T) {
	inner := counter.NewMemoryStore()
	outer := counter.NewMemoryStore()
	downstream := &countingHandler{resp: cannedResponse()}
	hc := New(outer, New(inner, downstream, DefaultConfig()), DefaultConfig())

	_, err := hc.Handle(context.Background(), &Request{Method: "GET", Path: "/hello"})
	require.NoError(t, err)

	for _, s := range []*counter.MemoryStore{inner, outer} {
		count, _, err := s.Get(context.Background(), "GET /hello")
		require.NoError(t, err)
		assert.EqualValues(t, 1, count)
	}
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailClosed, p)

	p, err = ParseFailurePolicy("FAIL_OPEN")
	require.NoError(t, err)
	assert.Equal(t, FailOpen, p)

	_, err = ParseFailurePolicy("sometimes")
	assert.Error(t, err)
}
