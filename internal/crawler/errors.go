package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a URL is not present in the frontier.
	ErrNotFound = errors.New("url not found in frontier")
	// ErrInvalidTransition is returned when a status change leaves the transition graph.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ErrorKind classifies a raised render failure so the worker can branch on
// it instead of inspecting error text.
type ErrorKind int

// Render failure kinds.
const (
	// KindTransient covers single-page failures such as navigation timeouts.
	// The worker retries these once.
	KindTransient ErrorKind = iota
	// KindDeterministic covers failures that will not change on retry.
	KindDeterministic
	// KindSessionFatal means the render session itself is gone and must be
	// recreated before any further URL can be processed.
	KindSessionFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindDeterministic:
		return "deterministic"
	case KindSessionFatal:
		return "session_fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FetchError is the classified error returned by render backends.
type FetchError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

// NewFetchError wraps err with a kind.
func NewFetchError(kind ErrorKind, url string, err error) *FetchError {
	return &FetchError{Kind: kind, URL: url, Err: err}
}

func (e *FetchError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s render failure: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s render failure for %s: %v", e.Kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind carried by err. Errors that were never classified
// are treated as transient.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}

// IsSessionFatal reports whether err requires a new render session.
func IsSessionFatal(err error) bool {
	return err != nil && KindOf(err) == KindSessionFatal
}
