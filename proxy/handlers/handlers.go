// Package handlers exposes a proxy.Handler to callers: a net/http entry
// point, an API Gateway Lambda entry point, and the hits endpoint.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/aluko123/hitcounter/pkg/logger"
	"github.com/aluko123/hitcounter/proxy"
)

// DefaultMaxBodyBytes bounds request bodies read by the HTTP entry point
const DefaultMaxBodyBytes int64 = 10 << 20

// HTTP serves a proxy.Handler over net/http
type HTTP struct {
	handler proxy.Handler
	maxBody int64
}

// NewHTTP wraps h. A maxBody of 0 selects DefaultMaxBodyBytes.
func NewHTTP(h proxy.Handler, maxBody int64) *HTTP {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &HTTP{
		handler: h,
		maxBody: maxBody,
	}
}

func (s *HTTP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "could not read request body", http.StatusBadRequest)
		return
	}

	req := &proxy.Request{
		Method:  r.Method,
		Path:    r.URL.Path,
		RawPath: r.URL.RawPath,
		Query:   r.URL.Query(),
		Headers: make(http.Header, len(r.Header)),
		Body:    body,
	}
	proxy.CopyHeader(req.Headers, r.Header)

	resp, err := s.handler.ServeRequest(r.Context(), req)
	if err != nil {
		logger.FromContext(r.Context()).Debug("request failed", "error", err)
		http.Error(w, err.Error(), StatusFor(err))
		return
	}

	proxy.CopyHeader(w.Header(), resp.Headers)
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

// StatusFor maps a proxy error to the status code returned to the caller
func StatusFor(err error) int {
	switch proxy.KindOf(err) {
	case proxy.KindCountingFailed:
		return http.StatusServiceUnavailable
	case proxy.KindDownstream:
		if proxy.IsTimeout(err) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case proxy.KindInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
