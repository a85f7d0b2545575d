// Package counter stores per-key hit counts behind an atomic increment.
package counter

import (
	"context"
	"errors"
)

// ErrEmptyKey is returned when an operation is called with an empty key.
var ErrEmptyKey = errors.New("counter: empty key")

// ErrListUnsupported is returned by List on stores that cannot enumerate keys.
var ErrListUnsupported = errors.New("counter: store does not support listing")

// Record is a single counter row.
type Record struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Store maps a key to the number of hits observed for it.
type Store interface {
	// Increment atomically adds one to the count of key and returns the
	// new value. An unseen key starts at zero.
	Increment(ctx context.Context, key string) (int64, error)

	// Get returns the current count of key without changing it.
	Get(ctx context.Context, key string) (count int64, found bool, err error)
}

// Lister is implemented by stores that can enumerate their records.
type Lister interface {
	List(ctx context.Context) ([]Record, error)
}
