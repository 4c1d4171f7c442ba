package bilibili

import (
	"errors"
	"fmt"
)

var (
	// ErrSignatureRejected is returned when the upstream refuses a WBI signature
	// or flags the request by risk control.
	ErrSignatureRejected = errors.New("bilibili: signature rejected")
	// ErrNotFound is returned for deleted or missing videos.
	ErrNotFound = errors.New("bilibili: not found")
	// ErrLoginRequired is returned when the endpoint needs a logged-in cookie.
	ErrLoginRequired = errors.New("bilibili: login required")
)

// Upstream business codes.
const (
	codeOK            = 0
	codeNotLoggedIn   = -101
	codeRiskControl   = -352
	codeForbidden     = -403
	codeNotFound      = -404
	codeVideoDeleted  = 62002
	codeVideoReviewed = 62004
)

// APIError is a non-zero business code returned by the upstream.
type APIError struct {
	Endpoint string
	Code     int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bilibili: %s: API error code %d: %s", e.Endpoint, e.Code, e.Message)
}

// Unwrap maps well-known codes to sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case codeRiskControl, codeForbidden:
		return ErrSignatureRejected
	case codeNotFound, codeVideoDeleted, codeVideoReviewed:
		return ErrNotFound
	case codeNotLoggedIn:
		return ErrLoginRequired
	default:
		return nil
	}
}

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bilibili: %s: unexpected status code %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Unwrap maps 412 (risk control precondition) to ErrSignatureRejected.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == 412 {
		return ErrSignatureRejected
	}
	return nil
}

// permanent reports whether retrying err cannot succeed.
func permanent(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 && statusErr.StatusCode != 429
	}
	return false
}
