package errors

import (
	stderrors "errors"
	"fmt"
)

// ProfileError classifies a profile-store failure. Kind tells callers whether
// a retry can help.
type ProfileError struct {
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	Status      int    `json:"-"`
	Err         error  `json:"-"`
}

func (e *ProfileError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

func (e *ProfileError) Unwrap() error { return e.Err }

// Profile failure kinds
const (
	// ProfileNotFound means no row exists for the identity. Not retried.
	ProfileNotFound = "profile_not_found"

	// ProfileValidation means the store rejected the request shape or
	// payload. Not retried.
	ProfileValidation = "profile_validation"

	// ProfileTransient covers network failures and 5xx responses. Safe to
	// retry with backoff.
	ProfileTransient = "profile_transient"
)

func NewProfileNotFound(identity string) *ProfileError {
	return &ProfileError{
		Kind:        ProfileNotFound,
		Description: fmt.Sprintf("no profile row for identity %q", identity),
	}
}

func NewProfileValidation(description string) *ProfileError {
	return &ProfileError{
		Kind:        ProfileValidation,
		Description: description,
	}
}

func NewProfileTransient(description string, err error) *ProfileError {
	return &ProfileError{
		Kind:        ProfileTransient,
		Description: description,
		Err:         err,
	}
}

// ProfileKindOf returns the kind of the ProfileError in err's chain, or
// ProfileTransient when there is none: an unclassified failure is treated as
// retryable.
func ProfileKindOf(err error) string {
	var pe *ProfileError
	if stderrors.As(err, &pe) {
		return pe.Kind
	}
	return ProfileTransient
}

// IsProfileKind reports whether err carries a ProfileError with the given kind.
func IsProfileKind(err error, kind string) bool {
	var pe *ProfileError
	return stderrors.As(err, &pe) && pe.Kind == kind
}
