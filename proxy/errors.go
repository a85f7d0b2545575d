package proxy

import (
	"errors"
	"fmt"
)

// Kind tags a proxy failure
type Kind string

const (
	// KindCountingFailed means the hit could not be recorded and the
	// request was not forwarded.
	KindCountingFailed Kind = "CountingFailed"
	// KindDownstream means the downstream handler failed.
	KindDownstream Kind = "DownstreamError"
	// KindInvalidRequest means no counter key could be derived.
	KindInvalidRequest Kind = "InvalidRequest"
)

// Error is returned by HitCounter.Handle and Forwarder.Invoke
type Error struct {
	Kind Kind
	Key  string
	Msg  string
	// Timeout is set when the failing operation ran out of time
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Key != "" {
		msg += fmt.Sprintf(" [%s]", e.Key)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a proxy error, or "" if err is not one
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTimeout reports whether err is a proxy error caused by a timeout
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Timeout
}

func invalidRequest(msg string) error {
	return &Error{Kind: KindInvalidRequest, Msg: msg}
}
