package auth

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/retail-console/internal/platform/httpx"
)

// ErrProfileNotFound is returned by a ProfileStore when the identity has no profile yet.
var ErrProfileNotFound = errors.New("auth: profile not found")

// AuthFailure means no usable principal could be produced for the session.
// The user has to authenticate again; Retryable failures may succeed later.
type AuthFailure struct {
	Message   string
	Retryable bool
	Err       error
}

func (e *AuthFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Message, e.Err)
	}
	return "auth: " + e.Message
}

func (e *AuthFailure) Unwrap() []error {
	if e.Err != nil {
		return []error{httpx.ErrUnauthorized, e.Err}
	}
	return []error{httpx.ErrUnauthorized}
}

func failure(message string, err error) *AuthFailure {
	return &AuthFailure{Message: message, Err: err}
}

func retryable(message string, err error) *AuthFailure {
	return &AuthFailure{Message: message, Retryable: true, Err: err}
}
