package session

import (
	"errors"
	"fmt"
)

// ErrRecordNotFound signals that no user record exists for a UID.
var ErrRecordNotFound = errors.New("session: user record not found")

// ErrAlreadyStarted signals a second Bootstrap call on the same coordinator.
var ErrAlreadyStarted = errors.New("session: coordinator already started")

// CredentialError covers invalid, duplicate, or weak credentials and unknown
// reset addresses. It is always surfaced to the caller and never retried.
type CredentialError struct {
	Reason string
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session: credential error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("session: credential error: %s", e.Reason)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// ProviderError covers transport or infrastructure failures talking to the
// identity provider. Logout leaves session state unchanged when it occurs.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("session: provider error during %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsCredentialError reports whether err is (or wraps) a CredentialError.
func IsCredentialError(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}

// IsProviderError reports whether err is (or wraps) a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
