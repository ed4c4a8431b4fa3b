// Package orcherr defines the error-kind taxonomy shared across the
// orchestrator's subsystems. Every caught error is classified into one of
// these kinds so the Job Manager and Retry Bridge can decide local
// behavior (retry, fail, alert) without depending on concrete error types
// from the package that raised it.
package orcherr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind string

const (
	// KindTransport covers network/connection failures from the Unified
	// API Client. Retried with backoff up to the configured max.
	KindTransport Kind = "transport"
	// KindTimeout covers any I/O exceeding its deadline. Retried if retry
	// budget remains, else the Job fails with a timeout reason.
	KindTimeout Kind = "timeout"
	// KindAuthFailed is a Key Pool 401/403 outcome. The key is deactivated
	// and an alert raised; the caller retries with a different key.
	KindAuthFailed Kind = "auth_failed"
	// KindRateLimited is a Key Pool 429 outcome. The key cools down; the
	// caller retries with a different key.
	KindRateLimited Kind = "rate_limited"
	// KindParseError means the response body could not be decoded. Never
	// retried.
	KindParseError Kind = "parse_error"
	// KindPolicyReject is not an error condition — the Storage Policy
	// Engine declined to store a record. Tallied, never surfaced as a job
	// failure.
	KindPolicyReject Kind = "policy_reject"
	// KindQueueFull is returned when the Async Storage Queue's target
	// priority lane is full; the caller falls back to synchronous storage.
	KindQueueFull Kind = "queue_full"
	// KindCancelled marks a job stopped via force=true. Surfaces as
	// STOPPED, not FAILED.
	KindCancelled Kind = "cancelled"
	// KindJobTimeout is raised by the Scheduler when a job body exceeds
	// its deadline. The body is canceled and the Job fails.
	KindJobTimeout Kind = "job_timeout"
	// KindConfigError aborts startup with a non-zero process exit.
	KindConfigError Kind = "config_error"
	// KindDBError covers persistence failures. Retried once, then failed
	// with an alert.
	KindDBError Kind = "db_error"
	// KindNoKeyAvailable is returned by the Key Pool when no key in the
	// provider's pool is currently selectable.
	KindNoKeyAvailable Kind = "no_key_available"
)

// Retryable reports whether errors of this kind are ever eligible for
// retry. Parse errors and policy rejections never are.
func (k Kind) Retryable() bool {
	switch k {
	case KindParseError, KindPolicyReject, KindCancelled, KindConfigError:
		return false
	default:
		return true
	}
}

// Error is a classified error: a Kind plus the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error. Returns ("", false) otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is classified with the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Sentinel errors for conditions that are always the same regardless of
// underlying cause.
var (
	ErrNoKeyAvailable = New(KindNoKeyAvailable, "", errors.New("no key available"))
	ErrQueueFull      = New(KindQueueFull, "", errors.New("queue is full"))
	ErrCancelled      = New(KindCancelled, "", errors.New("operation cancelled"))
)
