package counter

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind tags a store failure.
type Kind string

const (
	// KindUnavailable means the backing storage could not be reached.
	KindUnavailable Kind = "StoreUnavailable"
	// KindThrottled means the backing storage rejected the call for capacity reasons.
	KindThrottled Kind = "Throttled"
)

var (
	// ErrUnavailable matches any store error of KindUnavailable via errors.Is.
	ErrUnavailable = &Error{Kind: KindUnavailable}
	// ErrThrottled matches any store error of KindThrottled via errors.Is.
	ErrThrottled = &Error{Kind: KindThrottled}
)

// Error is a retryable store failure.
type Error struct {
	Kind Kind
	Op   string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " %q", e.Key)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a store error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of a store error, or "" if err is not one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether err is a transient store failure.
func Retryable(err error) bool {
	return KindOf(err) != ""
}

func unavailable(op, key string, err error) error {
	return &Error{Kind: KindUnavailable, Op: op, Key: key, Err: err}
}

func throttled(op, key string, err error) error {
	return &Error{Kind: KindThrottled, Op: op, Key: key, Err: err}
}

// ctxErr converts a finished context into an unavailable error.
func ctxErr(ctx context.Context, op, key string) error {
	if err := ctx.Err(); err != nil {
		return unavailable(op, key, err)
	}
	return nil
}
