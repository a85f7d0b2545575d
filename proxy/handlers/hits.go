package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/aluko123/hitcounter/counter"
	"github.com/aluko123/hitcounter/pkg/logger"
	"github.com/aluko123/hitcounter/proxy"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HitsReader is implemented by *proxy.HitCounter
type HitsReader interface {
	Hits(ctx context.Context, key string) (int64, bool, error)
	AllHits(ctx context.Context) ([]counter.Record, error)
}

// Hits serves recorded counts as JSON.
//
//	GET /_hits                        all counters
//	GET /_hits?key=GET%20/hello       one counter by key
//	GET /_hits?method=GET&path=/hello one counter, key derived like the proxy does
type Hits struct {
	reader HitsReader
}

func NewHits(r HitsReader) *Hits {
	return &Hits{reader: r}
}

type hitsResponse struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
	Found bool   `json:"found"`
}

func (h *Hits) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	key := q.Get("key")
	if key == "" && q.Has("path") {
		method := q.Get("method")
		if method == "" {
			method = http.MethodGet
		}
		k, err := proxy.KeyFor(&proxy.Request{Method: method, Path: q.Get("path")})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		key = k
	}

	if key == "" {
		records, err := h.reader.AllHits(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if records == nil {
			records = []counter.Record{}
		}
		writeJSON(w, http.StatusOK, records)
		return
	}

	n, found, err := h.reader.Hits(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	code := http.StatusOK
	if !found {
		code = http.StatusNotFound
	}
	writeJSON(w, code, hitsResponse{Key: key, Count: n, Found: found})
}

func (h *Hits) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, counter.ErrListUnsupported):
		http.Error(w, err.Error(), http.StatusNotImplemented)
	case errors.Is(err, counter.ErrEmptyKey):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.FromContext(r.Context()).Error("reading hits failed", "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(append(data, '\n'))
}
