package proxy

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFor(t *testing.T) {
	tests := []struct {
		method, path string
		want         string
	}{
		{"GET", "/hello", "GET /hello"},
		{"get", "/hello", "GET /hello"},
		{"GET", "hello", "GET /hello"},
		{"GET", "/hello/", "GET /hello"},
		{"GET", "//a/./b/../c", "GET /a/c"},
		{"POST", "", "POST /"},
		{"DELETE", "/", "DELETE /"},
	}
	for _, tt := range tests {
		key, err := KeyFor(&Request{Method: tt.method, Path: tt.path})
		require.NoError(t, err)
		assert.Equal(t, tt.want, key, "%s %q", tt.method, tt.path)
	}
}

func TestKeyFor_IgnoresHeadersQueryAndBody(t *testing.T) {
	a := &Request{Method: "GET", Path: "/hello", Headers: http.Header{"A": {"1"}}, Body: []byte("x")}
	b := &Request{Method: "GET", Path: "/hello", Query: url.Values{"q": {"y"}}, Body: []byte("something else")}

	ka, err := KeyFor(a)
	require.NoError(t, err)
	kb, err := KeyFor(b)
	require.NoError(t, err)
	assert.Equal(t, ka, kb)
}

func TestKeyFor_Invalid(t *testing.T) {
	_, err := KeyFor(nil)
	assert.Equal(t, KindInvalidRequest, KindOf(err))

	_, err = KeyFor(&Request{Method: " ", Path: "/"})
	assert.Equal(t, KindInvalidRequest, KindOf(err))

	_, err = KeyFor(&Request{Method: "GET /x", Path: "/"})
	assert.Equal(t, KindInvalidRequest, KindOf(err))
}

func TestCopyHeader_SkipsHopByHop(t *testing.T) {
	dst := http.Header{}
	CopyHeader(dst, http.Header{
		"Content-Type":      {"text/plain"},
		"Connection":        {"close"},
		"Transfer-Encoding": {"chunked"},
		"X-Multi":           {"a", "b"},
	})
	assert.Equal(t, http.Header{"Content-Type": {"text/plain"}, "X-Multi": {"a", "b"}}, dst)
}
