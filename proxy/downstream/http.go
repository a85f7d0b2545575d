// Package downstream provides the handlers a hit counter can forward to:
// an HTTP upstream, a gRPC service, or an AWS Lambda function.
package downstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aluko123/hitcounter/pkg/logger"
	"github.com/aluko123/hitcounter/proxy"
)

// HTTPConfig holds HTTP downstream configuration
type HTTPConfig struct {
	BaseURL             string
	DialTimeout         time.Duration
	IdleConnTimeout     time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxResponseBytes    int64
}

// DefaultHTTPConfig returns the default HTTP downstream configuration
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		DialTimeout:         10 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        500,
		MaxIdleConnsPerHost: 200,
		MaxResponseBytes:    10 << 20,
	}
}

// HTTP forwards requests to a fixed upstream base URL
type HTTP struct {
	base      *url.URL
	transport http.RoundTripper
	maxBytes  int64
}

// NewHTTP creates an HTTP downstream from cfg
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse downstream url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("downstream url %q must be http or https", cfg.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("downstream url %q has no host", cfg.BaseURL)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: cfg.DialTimeout,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}

	return &HTTP{
		base:      base,
		transport: transport,
		maxBytes:  cfg.MaxResponseBytes,
	}, nil
}

func (h *HTTP) target(req *proxy.Request) *url.URL {
	u := *h.base
	u.Path = joinPath(h.base.Path, req.Path)
	u.RawPath = ""
	if req.RawPath != "" {
		u.RawPath = joinPath(h.base.EscapedPath(), req.RawPath)
	}
	u.RawQuery = req.Query.Encode()
	return &u
}

// ServeRequest sends req to the upstream and returns status, headers and
// body as received, minus hop-by-hop headers
func (h *HTTP) ServeRequest(ctx context.Context, req *proxy.Request) (*proxy.Response, error) {
	out, err := http.NewRequestWithContext(ctx, req.Method, h.target(req).String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	proxy.CopyHeader(out.Header, req.Headers)
	if id := logger.RequestID(ctx); id != "" && out.Header.Get("X-Request-ID") == "" {
		out.Header.Set("X-Request-ID", id)
	}

	resp, err := h.transport.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if h.maxBytes > 0 {
		body = io.LimitReader(resp.Body, h.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read downstream body: %w", err)
	}
	if h.maxBytes > 0 && int64(len(data)) > h.maxBytes {
		return nil, fmt.Errorf("downstream body exceeds %d bytes", h.maxBytes)
	}

	headers := make(http.Header, len(resp.Header))
	proxy.CopyHeader(headers, resp.Header)
	return &proxy.Response{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       data,
	}, nil
}

func joinPath(base, p string) string {
	switch {
	case base == "" || base == "/":
		if p == "" {
			return "/"
		}
		if !strings.HasPrefix(p, "/") {
			return "/" + p
		}
		return p
	case p == "" || p == "/":
		return base
	default:
		return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(p, "/")
	}
}
