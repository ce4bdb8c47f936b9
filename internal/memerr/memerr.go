// Package memerr defines the error taxonomy shared by every memcore
// component. Each failure is surfaced as a distinct kind so callers can
// decide between retrying, aborting, and reporting without string matching.
package memerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind categorizes an error.
type Kind string

const (
	// KindConfig marks missing or invalid configuration, including dimension
	// and weight-count mismatches. Never retried.
	KindConfig Kind = "config"
	// KindStore marks database I/O or serialization failures.
	KindStore Kind = "store"
	// KindEmbedding marks embedding-provider failures.
	KindEmbedding Kind = "embedding"
	// KindNotFound marks a missing entity. Stores prefer an absent sentinel
	// where idiomatic; this kind exists for callers that need an error.
	KindNotFound Kind = "not_found"
	// KindValidation marks caller input that fails invariants (empty text,
	// empty source/action). Never retried.
	KindValidation Kind = "validation"
	// KindCancelled marks caller-initiated deadline or cancellation.
	KindCancelled Kind = "cancelled"
	// KindFatal marks an invariant violation in stored data; operator
	// intervention is expected.
	KindFatal Kind = "fatal"
)

// Error carries a kind, an optional transient flag, and the wrapped cause.
type Error struct {
	Kind      Kind
	Transient bool
	Msg       string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

// Unwrap exposes the cause for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error. A nil cause returns nil.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Transient marks a wrapped error as retryable.
func Transient(kind Kind, err error, format string, args ...any) *Error {
	e := Wrap(kind, err, format, args...)
	if e != nil {
		e.Transient = true
	}
	return e
}

// KindOf extracts the kind from an error chain. Context errors map to
// KindCancelled; unclassified errors report an empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return ""
}

// IsTransient reports whether the error chain is marked retryable.
// Cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var me *Error
	if errors.As(err, &me) {
		return me.Transient
	}
	return false
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// FromContext converts a context error into a Cancelled kind, or returns the
// error unchanged when it is not a context error.
func FromContext(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindCancelled, err, "operation cancelled")
	}
	return err
}
