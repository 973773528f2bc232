package archive

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInputFormat marks an unreadable or malformed image. Fatal for the item,
// with no side effects.
var ErrInputFormat = errors.New("input format error: unreadable image")

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrorKind classifies a capability failure for retry decisions.
type ErrorKind string

// Capability error kinds.
const (
	KindRateLimited ErrorKind = "rate_limited"
	KindTransient   ErrorKind = "transient"
	KindPermanent   ErrorKind = "permanent"
)

// CapabilityError wraps a failure from an external capability with the
// three-way classification the adapters assign at the boundary.
type CapabilityError struct {
	Capability string
	Kind       ErrorKind
	Err        error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s capability %s: %v", e.Capability, e.Kind, e.Err)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// NewCapabilityError builds a classified capability failure.
func NewCapabilityError(capability string, kind ErrorKind, err error) *CapabilityError {
	return &CapabilityError{Capability: capability, Kind: kind, Err: err}
}

// ClassifyHTTPStatus maps an HTTP response code onto an error kind using the
// convention shared by all remote capability backends: 429 means the shared
// quota is exhausted, other 4xx mean the input was rejected, everything else
// is worth retrying.
func ClassifyHTTPStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 400 && status < 500:
		return KindPermanent
	default:
		return KindTransient
	}
}

// ErrorKindOf extracts the classification from err, defaulting unclassified
// failures (network errors already wrapped by adapters) to transient.
func ErrorKindOf(err error) ErrorKind {
	var capErr *CapabilityError
	if errors.As(err, &capErr) {
		return capErr.Kind
	}
	return KindTransient
}

// IsRateLimited reports whether err is a rate-limit capability failure.
func IsRateLimited(err error) bool {
	var capErr *CapabilityError
	return errors.As(err, &capErr) && capErr.Kind == KindRateLimited
}

// IsPermanent reports whether err is a permanent capability failure.
func IsPermanent(err error) bool {
	var capErr *CapabilityError
	return errors.As(err, &capErr) && capErr.Kind == KindPermanent
}
