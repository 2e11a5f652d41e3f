// Package faults classifies failures of the grading pipeline and its
// collaborators so callers can decide between retrying, degrading to a
// partial result and giving up.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Kind is the failure class.
type Kind string

const (
	// KindTransientNetwork is a connection-level failure. Retryable.
	KindTransientNetwork Kind = "transient_network"
	// KindTimeout is a deadline exceeded on a single call. Retryable.
	KindTimeout Kind = "timeout"
	// KindParseFailure is an unreadable response. Not retryable.
	KindParseFailure Kind = "parse_failure"
	// KindUpstreamServer is a non-2xx upstream response. 5xx retryable, 4xx not.
	KindUpstreamServer Kind = "upstream_server_error"
	// KindPreconditionNotMet means required input is not visible yet, such
	// as an empty transcript. Retryable up to a bound.
	KindPreconditionNotMet Kind = "precondition_not_met"
	// KindModelInvocation is a scoring-model failure after its own retries.
	KindModelInvocation Kind = "model_invocation_failure"
	// KindUnknown is anything unclassified.
	KindUnknown Kind = "unknown"
)

// Error is a classified failure.
type Error struct {
	Kind       Kind   // failure class
	Op         string // operation that failed (e.g., "score_session", "fetch_session")
	StatusCode int    // upstream HTTP status, when there was one
	Err        error  // underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + " failed: " + msg
	}
	return msg
}

// Unwrap allows errors.Is and errors.As to reach the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, faults.Timeout)
// works against the sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.StatusCode == 0 && t.Kind == e.Kind
}

// Retryable reports whether this failure may succeed on retry.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransientNetwork, KindTimeout, KindPreconditionNotMet:
		return true
	case KindUpstreamServer:
		return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == 429
	default:
		return false
	}
}

// Sentinels for errors.Is.
var (
	TransientNetwork   = &Error{Kind: KindTransientNetwork}
	Timeout            = &Error{Kind: KindTimeout}
	ParseFailure       = &Error{Kind: KindParseFailure}
	UpstreamServer     = &Error{Kind: KindUpstreamServer}
	PreconditionNotMet = &Error{Kind: KindPreconditionNotMet}
	ModelInvocation    = &Error{Kind: KindModelInvocation}
)

// New creates a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Upstream creates an upstream-server error for an HTTP status.
func Upstream(op string, status int, err error) *Error {
	return &Error{Kind: KindUpstreamServer, Op: op, StatusCode: status, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, classifying
// bare network and context errors when there is none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Classify("", err).Kind
}

// Retryable reports whether err may succeed on retry.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return Classify("", err).Retryable()
}

// Classify wraps an unclassified error from a network call. Errors that are
// already classified are returned unchanged.
func Classify(op string, err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(KindTimeout, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return New(KindTimeout, op, err)
	}
	var urlErr *url.Error
	var opErr *net.OpError
	if errors.As(err, &urlErr) || errors.As(err, &opErr) || errors.As(err, &netErr) {
		return New(KindTransientNetwork, op, err)
	}
	return New(KindUnknown, op, err)
}
