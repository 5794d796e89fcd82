// Package syncerr classifies failures of the sync path so callers can decide
// between "retry next cycle" and "surface to the operator".
package syncerr

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind identifies the class of a sync failure.
type Kind string

const (
	KindNetworkUnavailable Kind = "network_unavailable"
	KindTimeout            Kind = "timeout"
	KindAuthorityRejected  Kind = "authority_rejected"
	KindMalformedResponse  Kind = "malformed_response"
	KindQuotaExceeded      Kind = "local_storage_quota_exceeded"
)

// Error is a classified sync failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error.
func New(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf reports the kind of err, or "" when err is not a sync error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// Is reports whether err is a sync error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Transient reports whether the failure should simply be retried on the next
// poll or mutation.
func Transient(err error) bool {
	switch KindOf(err) {
	case KindNetworkUnavailable, KindTimeout:
		return true
	}
	return false
}

// FromTransport classifies an error returned by a network client call.
func FromTransport(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(KindTimeout, op, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return New(KindTimeout, op, err)
	}
	return New(KindNetworkUnavailable, op, err)
}
