package proxy

import (
	"path"
	"strings"
)

// KeyFor derives the counter key of a request: the upper-cased method and
// the normalized path separated by a space, e.g. "GET /hello". Query,
// headers and body never take part.
func KeyFor(req *Request) (string, error) {
	if req == nil {
		return "", invalidRequest("nil request")
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		return "", invalidRequest("missing method")
	}
	if strings.ContainsAny(method, " \t\r\n") {
		return "", invalidRequest("malformed method")
	}
	return method + " " + NormalizePath(req.Path), nil
}

// NormalizePath cleans p and roots it at "/". Empty paths become "/".
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}
