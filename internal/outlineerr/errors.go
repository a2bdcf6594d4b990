// Package outlineerr defines the error-kind taxonomy shared across the
// indexing and live-state subsystem, so callers can classify a failure with
// errors.Is instead of string matching.
package outlineerr

import "errors"

// Kind identifies one of the error categories in the propagation policy.
type Kind string

const (
	KindNotFound       Kind = "not-found"
	KindParseWarning   Kind = "parse-warning"
	KindParseFatal     Kind = "parse-fatal"
	KindDuplicateID    Kind = "duplicate-id"
	KindStoreError     Kind = "store-error"
	KindRenderError    Kind = "render-error"
	KindTimeout        Kind = "timeout"
	KindUnavailable    Kind = "unavailable"
	KindSlowSubscriber Kind = "slow-subscriber"
	KindCancelled      Kind = "cancelled"
)

// Error wraps an underlying cause with a classification Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + string(e.Kind)
	}
	return e.Op + ": " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error for op, wrapping err (which may be nil).
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether target is an *Error carrying the same Kind, letting
// callers write errors.Is(err, outlineerr.NotFound).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// Sentinel values usable with errors.Is(err, outlineerr.NotFound) and so on.
var (
	NotFound       = &Error{Kind: KindNotFound}
	ParseWarning   = &Error{Kind: KindParseWarning}
	ParseFatal     = &Error{Kind: KindParseFatal}
	DuplicateID    = &Error{Kind: KindDuplicateID}
	StoreError     = &Error{Kind: KindStoreError}
	RenderError    = &Error{Kind: KindRenderError}
	Timeout        = &Error{Kind: KindTimeout}
	Unavailable    = &Error{Kind: KindUnavailable}
	SlowSubscriber = &Error{Kind: KindSlowSubscriber}
	Cancelled      = &Error{Kind: KindCancelled}
)

// Of extracts the Kind from err, if it (or something it wraps) is an *Error.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
