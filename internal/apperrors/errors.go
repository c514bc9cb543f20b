// Package apperrors defines the error taxonomy of the authorization core.
// Every client-facing failure maps to an RFC 6749 error code and HTTP status;
// internal detail stays behind the boundary.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindInvalidClient        Kind = "invalid_client"
	KindInvalidGrant         Kind = "invalid_grant"
	KindInvalidScope         Kind = "invalid_scope"
	KindInvalidRedirectURI   Kind = "invalid_redirect_uri"
	KindUnsupportedGrantType Kind = "unsupported_grant_type"
	KindReplayDetected       Kind = "replay_detected"
	KindServerError          Kind = "server_error"
)

type Error struct {
	Kind        Kind
	Description string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, description string) *Error {
	return &Error{Kind: kind, Description: description}
}

func Wrap(kind Kind, description string, err error) *Error {
	return &Error{Kind: kind, Description: description, Err: err}
}

// Code returns the wire-level RFC 6749 error code. Replay detection is
// reported as invalid_grant so the response does not leak the theft signal,
// and a bad redirect URI is an invalid_request per the RFC.
func (e *Error) Code() string {
	switch e.Kind {
	case KindReplayDetected:
		return string(KindInvalidGrant)
	case KindInvalidRedirectURI:
		return "invalid_request"
	default:
		return string(e.Kind)
	}
}

func (e *Error) Status() int {
	switch e.Kind {
	case KindInvalidClient:
		return http.StatusUnauthorized
	case KindServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// IsKind reports whether err carries the given taxonomy kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// AsError extracts the taxonomy error, falling back to an opaque server_error
// so no internal detail ever crosses the HTTP boundary.
func AsError(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return &Error{Kind: KindServerError, Description: "Internal server error", Err: err}
}
