package deviceflow

import (
	"fmt"
	"net/http"
)

// Error is an OAuth2 protocol error as defined by RFC 6749 §5.2 and
// RFC 8628 §3.5. It serializes into the standard error response body.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches errors by OAuth error code so wrapped instances compare
// equal to the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Protocol errors returned by the token and authorization endpoints.
var (
	// ErrAuthorizationPending tells the client to keep polling.
	ErrAuthorizationPending = &Error{
		Code:        "authorization_pending",
		Description: "the user has not yet completed the authorization",
		Status:      http.StatusBadRequest,
	}

	// ErrSlowDown tells the client it polled too fast. Each occurrence
	// extends the advertised interval.
	ErrSlowDown = &Error{
		Code:        "slow_down",
		Description: "polling too frequently, increase the interval",
		Status:      http.StatusBadRequest,
	}

	// ErrAccessDenied reports that the user refused the request.
	ErrAccessDenied = &Error{
		Code:        "access_denied",
		Description: "the user denied the authorization request",
		Status:      http.StatusForbidden,
	}

	// ErrExpiredToken reports that the device code's lifetime elapsed
	// before a decision was made.
	ErrExpiredToken = &Error{
		Code:        "expired_token",
		Description: "the device code has expired",
		Status:      http.StatusBadRequest,
	}

	// ErrInvalidGrant reports an unknown or already consumed device
	// code.
	ErrInvalidGrant = &Error{
		Code:        "invalid_grant",
		Description: "the device code is invalid",
		Status:      http.StatusBadRequest,
	}

	// ErrInvalidClient reports an unregistered client identifier.
	ErrInvalidClient = &Error{
		Code:        "invalid_client",
		Description: "unknown client",
		Status:      http.StatusUnauthorized,
	}

	// ErrUnsupportedGrantType reports a grant_type other than the
	// device code grant.
	ErrUnsupportedGrantType = &Error{
		Code:        "unsupported_grant_type",
		Description: "grant_type must be urn:ietf:params:oauth:grant-type:device_code",
		Status:      http.StatusBadRequest,
	}

	// ErrInvalidRequest reports a malformed request.
	ErrInvalidRequest = &Error{
		Code:        "invalid_request",
		Description: "the request is missing a required parameter",
		Status:      http.StatusBadRequest,
	}
)

// invalidRequest builds an ErrInvalidRequest with a specific
// description.
func invalidRequest(description string) *Error {
	return &Error{
		Code:        ErrInvalidRequest.Code,
		Description: description,
		Status:      ErrInvalidRequest.Status,
	}
}
