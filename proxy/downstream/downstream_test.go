package downstream

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/aluko123/hitcounter/counter"
	"github.com/aluko123/hitcounter/pkg/logger"
	"github.com/aluko123/hitcounter/proxy"
	"github.com/aluko123/hitcounter/proxy/apigw"
	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func hello(_ context.Context, req *proxy.Request) (*proxy.Response, error) {
	return &proxy.Response{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/plain"}},
		Body:       []byte("Hello, CDK! You've hit " + req.Path + "\n"),
	}, nil
}

func TestHTTP_PassThrough(t *testing.T) {
	var gotPath, gotQuery, gotBody, gotHeader string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotHeader = r.Header.Get("X-Custom")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("X-Upstream", "yes")
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))
	defer upstream.Close()

	cfg := DefaultHTTPConfig()
	cfg.BaseURL = upstream.URL + "/api"
	h, err := NewHTTP(cfg)
	require.NoError(t, err)

	resp, err := h.ServeRequest(context.Background(), &proxy.Request{
		Method:  "POST",
		Path:    "/orders",
		Query:   url.Values{"a": {"1"}},
		Headers: http.Header{"X-Custom": {"v"}},
		Body:    []byte("payload"),
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/orders", gotPath)
	assert.Equal(t, "a=1", gotQuery)
	assert.Equal(t, "v", gotHeader)
	assert.Equal(t, "payload", gotBody)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "yes", resp.Headers.Get("X-Upstream"))
	assert.Empty(t, resp.Headers.Get("Connection"))
	assert.Equal(t, "created", string(resp.Body))
}

func TestHTTP_KeepsEscapedPath(t *testing.T) {
	var gotEscaped, gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEscaped = r.URL.EscapedPath()
		gotPath = r.URL.Path
	}))
	defer upstream.Close()

	cfg := DefaultHTTPConfig()
	cfg.BaseURL = upstream.URL + "/api"
	h, err := NewHTTP(cfg)
	require.NoError(t, err)

	_, err = h.ServeRequest(context.Background(), &proxy.Request{
		Method:  "GET",
		Path:    "/files/a/b.txt",
		RawPath: "/files/a%2Fb.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, "/api/files/a%2Fb.txt", gotEscaped)
	assert.Equal(t, "/api/files/a/b.txt", gotPath)
}

func TestHTTP_PropagatesRequestID(t *testing.T) {
	var got string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Request-ID")
	}))
	defer upstream.Close()

	cfg := DefaultHTTPConfig()
	cfg.BaseURL = upstream.URL
	h, err := NewHTTP(cfg)
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), logger.RequestIDKey, "req-123")
	_, err = h.ServeRequest(ctx, &proxy.Request{Method: "GET", Path: "/"})
	require.NoError(t, err)
	assert.Equal(t, "req-123", got)
}

func TestHTTP_ResponseTooLarge(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 64))
	}))
	defer upstream.Close()

	cfg := DefaultHTTPConfig()
	cfg.BaseURL = upstream.URL
	cfg.MaxResponseBytes = 16
	h, err := NewHTTP(cfg)
	require.NoError(t, err)

	_, err = h.ServeRequest(context.Background(), &proxy.Request{Method: "GET", Path: "/"})
	assert.Error(t, err)
}

func TestNewHTTP_RejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "ftp://example.com", "http://"} {
		_, err := NewHTTP(HTTPConfig{BaseURL: u})
		assert.Error(t, err, u)
	}
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "/hello", joinPath("", "/hello"))
	assert.Equal(t, "/", joinPath("/", ""))
	assert.Equal(t, "/api", joinPath("/api", "/"))
	assert.Equal(t, "/api/hello", joinPath("/api/", "/hello"))
}

func newBufconnGRPC(t *testing.T, h proxy.Handler) *GRPC {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterGRPC(srv, h)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	g, err := NewGRPC("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestGRPC_RoundTrip(t *testing.T) {
	var seen *proxy.Request
	g := newBufconnGRPC(t, proxy.HandlerFunc(func(ctx context.Context, req *proxy.Request) (*proxy.Response, error) {
		seen = req
		return &proxy.Response{
			StatusCode: http.StatusAccepted,
			Headers:    http.Header{"X-Multi": {"a", "b"}},
			Body:       []byte{0x00, 0xff, 'o', 'k'},
		}, nil
	}))

	in := &proxy.Request{
		Method:  "PUT",
		Path:    "/items/7",
		RawPath: "/items%2F7",
		Query:   url.Values{"q": {"x"}},
		Headers: http.Header{"Content-Type": {"application/octet-stream"}},
		Body:    []byte{0x01, 0x02},
	}
	resp, err := g.ServeRequest(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, in, seen)
	assert.Equal(t, &proxy.Response{
		StatusCode: http.StatusAccepted,
		Headers:    http.Header{"X-Multi": {"a", "b"}},
		Body:       []byte{0x00, 0xff, 'o', 'k'},
	}, resp)
}

func TestGRPC_HandlerError(t *testing.T) {
	g := newBufconnGRPC(t, proxy.HandlerFunc(func(context.Context, *proxy.Request) (*proxy.Response, error) {
		return nil, errors.New("kaboom")
	}))

	_, err := g.ServeRequest(context.Background(), &proxy.Request{Method: "GET", Path: "/"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestGRPC_BehindHitCounter(t *testing.T) {
	g := newBufconnGRPC(t, proxy.HandlerFunc(hello))
	store := counter.NewMemoryStore()
	hc := proxy.New(store, g, proxy.DefaultConfig())

	for i := 0; i < 3; i++ {
		resp, err := hc.Handle(context.Background(), &proxy.Request{Method: "GET", Path: "/hello"})
		require.NoError(t, err)
		assert.Equal(t, "Hello, CDK! You've hit /hello\n", string(resp.Body))
	}
	count, _, err := store.Get(context.Background(), "GET /hello")
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

// fakeLambda runs a proxy.Handler as if it were a deployed function
type fakeLambda struct {
	handler  proxy.Handler
	function string
	fail     bool
}

func (f *fakeLambda) Invoke(ctx context.Context, in *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	f.function = aws.ToString(in.FunctionName)
	if f.fail {
		return &lambda.InvokeOutput{
			StatusCode:    200,
			FunctionError: aws.String("Unhandled"),
			Payload:       []byte(`{"errorMessage":"boom","errorType":"Error"}`),
		}, nil
	}
	var ev events.APIGatewayProxyRequest
	if err := json.Unmarshal(in.Payload, &ev); err != nil {
		return nil, err
	}
	req, err := apigw.ToRequest(ev)
	if err != nil {
		return nil, err
	}
	resp, err := f.handler.ServeRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(events.APIGatewayProxyResponse{
		StatusCode: resp.StatusCode,
		Headers:    map[string]string{"Content-Type": resp.Headers.Get("Content-Type")},
		Body:       string(resp.Body),
	})
	if err != nil {
		return nil, err
	}
	return &lambda.InvokeOutput{StatusCode: 200, Payload: payload}, nil
}

func TestLambda_Invoke(t *testing.T) {
	fake := &fakeLambda{handler: proxy.HandlerFunc(hello)}
	l := NewLambda(fake, "MyFuncHandler")

	resp, err := l.ServeRequest(context.Background(), &proxy.Request{Method: "GET", Path: "/hello"})
	require.NoError(t, err)
	assert.Equal(t, "MyFuncHandler", fake.function)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Headers.Get("Content-Type"))
	assert.Equal(t, "Hello, CDK! You've hit /hello\n", string(resp.Body))
}

func TestLambda_FunctionError(t *testing.T) {
	l := NewLambda(&fakeLambda{fail: true}, "MyFuncHandler")

	_, err := l.ServeRequest(context.Background(), &proxy.Request{Method: "GET", Path: "/hello"})
	var fe *FunctionError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "Unhandled", fe.Type)
	assert.Contains(t, fe.Payload, "boom")
}

func TestLambdaOptions_SDKRetriesDisabled(t *testing.T) {
	var o lambda.Options
	LambdaOptions{Function: "MyFuncHandler"}.clientOptions(&o)
	assert.Equal(t, 1, o.RetryMaxAttempts)
	assert.Nil(t, o.BaseEndpoint)
}
