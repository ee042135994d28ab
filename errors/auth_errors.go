package errors

import (
	stderrors "errors"
	"fmt"
)

// AuthError is an identity-provider failure carrying a stable code the UI
// can branch on. The code survives wrapping; use AuthCodeOf to recover it.
type AuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
	Err         error  `json:"-"`
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Stable auth error codes
const (
	InvalidCredentials = "invalid_credentials"
	EmailInUse         = "email_in_use"
	WeakPassword       = "weak_password"
	InvalidToken       = "invalid_token"
	RateLimited        = "rate_limited"
	EmailUnconfirmed   = "email_unconfirmed"
	SessionExpired     = "session_expired"
	Unknown            = "unknown"
)

// Common error constructors
func NewInvalidCredentials(description string) *AuthError {
	return &AuthError{
		Code:        InvalidCredentials,
		Description: description,
	}
}

func NewEmailInUse(description string) *AuthError {
	return &AuthError{
		Code:        EmailInUse,
		Description: description,
	}
}

func NewWeakPassword(description string) *AuthError {
	return &AuthError{
		Code:        WeakPassword,
		Description: description,
	}
}

func NewInvalidToken(description string) *AuthError {
	return &AuthError{
		Code:        InvalidToken,
		Description: description,
	}
}

func NewRateLimited(description string) *AuthError {
	return &AuthError{
		Code:        RateLimited,
		Description: description,
	}
}

func NewEmailUnconfirmed(description string) *AuthError {
	return &AuthError{
		Code:        EmailUnconfirmed,
		Description: description,
	}
}

func NewSessionExpired(description string) *AuthError {
	return &AuthError{
		Code:        SessionExpired,
		Description: description,
	}
}

func NewUnknown(description string, err error) *AuthError {
	return &AuthError{
		Code:        Unknown,
		Description: description,
		Err:         err,
	}
}

// AuthCodeOf returns the code of the AuthError in err's chain, or Unknown
// when there is none.
func AuthCodeOf(err error) string {
	var ae *AuthError
	if stderrors.As(err, &ae) {
		return ae.Code
	}
	return Unknown
}

// IsAuthCode reports whether err carries an AuthError with the given code.
func IsAuthCode(err error, code string) bool {
	var ae *AuthError
	return stderrors.As(err, &ae) && ae.Code == code
}
