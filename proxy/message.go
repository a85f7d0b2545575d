// Package proxy counts hits per route and forwards requests to a
// downstream handler.
package proxy

import (
	"context"
	"net/http"
	"net/url"
)

// Request is the protocol-neutral description of an incoming call.
// Only Method and Path are interpreted, to build the counter key.
type Request struct {
	Method  string
	Path    string
	// RawPath is the escaped form of Path when it differs from the default
	// encoding, as in url.URL. It is never part of the counter key.
	RawPath string
	Query   url.Values
	Headers http.Header
	Body    []byte
}

// Response is the protocol-neutral description of a downstream reply.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Handler produces a response for a request. Downstream targets and the
// hit counter itself implement it.
type Handler interface {
	ServeRequest(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

func (f HandlerFunc) ServeRequest(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

var hopHeaders = map[string]bool{
	"Connection":          true,
	"Proxy-Connection":    true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// CopyHeader copies HTTP headers from source to destination, skipping
// hop-by-hop headers
func CopyHeader(dst, src http.Header) {
	for k, vv := range src {
		if !hopHeaders[http.CanonicalHeaderKey(k)] {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
