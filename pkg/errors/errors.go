package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Kind identifies why a single manifest entry failed to download
type Kind string

const (
	// KindResourceExhausted means every strategy for triggering the transfer failed
	KindResourceExhausted Kind = "resource_exhausted"
	// KindMissingRequiredToken means the photo page carried no ixid token
	KindMissingRequiredToken Kind = "missing_required_token"
	// KindEmptyTransfer means the transfer completed but produced a zero-byte file
	KindEmptyTransfer Kind = "empty_transfer"
	// KindTimeout covers navigation failures and transfers that never completed in time
	KindTimeout Kind = "timeout"
	// KindCancelled means the run was cancelled while the entry was in flight or queued
	KindCancelled Kind = "cancelled"
	// KindUnknown is used for anything that was not classified at its origin
	KindUnknown Kind = "unknown"
)

// Kinds lists every kind in a stable order
func Kinds() []Kind {
	return []Kind{
		KindResourceExhausted,
		KindMissingRequiredToken,
		KindEmptyTransfer,
		KindTimeout,
		KindCancelled,
		KindUnknown,
	}
}

// Error is a per-entry download failure
type Error struct {
	Kind    Kind
	EntryID string
	Attempt int
	Message string
	Err     error
}

// New creates an error of the given kind
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.EntryID == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s error for %s (attempt %d): %s", e.Kind, e.EntryID, e.Attempt, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithEntry classifies err and stamps it with the entry and attempt it belongs to.
// Context errors become KindCancelled or KindTimeout, anything else unclassified
// becomes KindUnknown.
func WithEntry(err error, entryID string, attempt int) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if stderrors.As(err, &e) {
		out := *e
		out.EntryID = entryID
		out.Attempt = attempt
		return &out
	}

	kind := KindUnknown
	switch {
	case stderrors.Is(err, context.Canceled):
		kind = KindCancelled
	case stderrors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	}

	return &Error{Kind: kind, EntryID: entryID, Attempt: attempt, Err: err}
}

// KindOf returns the kind carried by err, or KindUnknown
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	switch {
	case stderrors.Is(err, context.Canceled):
		return KindCancelled
	case stderrors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	return KindUnknown
}

// IsRetryable checks if a failure of this kind should be attempted again
func IsRetryable(kind Kind) bool {
	switch kind {
	case KindCancelled:
		return false
	case KindResourceExhausted, KindMissingRequiredToken, KindEmptyTransfer, KindTimeout, KindUnknown:
		return true
	default:
		return false
	}
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
