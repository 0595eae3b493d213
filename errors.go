package trustcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthenticated is matched by every *AuthenticationError.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrRateLimited is matched by every *RateLimitedError.
	ErrRateLimited = errors.New("rate limited")
	// ErrCrypto is matched by every *CryptoError.
	ErrCrypto = errors.New("crypto failure")
	// ErrStore is matched by every *StoreError.
	ErrStore = errors.New("store failure")

	// ErrMFARequired is returned by Login when the password was correct but a
	// second factor is needed.
	ErrMFARequired = errors.New("mfa required")
	// ErrMFAAlreadyEnabled is returned by SetupMFA for an enabled user.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrUsernameTaken is returned by RegisterUser. It also matches
	// ErrValidation.
	ErrUsernameTaken error = &ValidationError{Field: "username", Reason: "already taken"}
	// ErrEngineClosed is returned after Close.
	ErrEngineClosed = errors.New("engine closed")
)

// ValidationError reports malformed input. No state was changed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return "invalid " + e.Field + ": " + e.Reason
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Internal reasons carried by AuthenticationError.
const (
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonInvalidToken       = "invalid_token"
	ReasonSessionNotFound    = "session_not_found"
	ReasonSessionExpired     = "session_expired"
	ReasonUserNotFound       = "user_not_found"
	ReasonUserBanned         = "user_banned"
	ReasonInvalidMFACode     = "invalid_mfa_code"
)

// AuthenticationError is returned for bad credentials and rejected sessions.
// Error never includes Reason; it is kept for audit and logs.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string { return "authentication failed" }

// Is matches ErrUnauthenticated.
func (e *AuthenticationError) Is(target error) bool { return target == ErrUnauthenticated }

// RateLimitedError tells the caller to back off for RetryAfter.
type RateLimitedError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	return fmt.Sprintf("%s rate limited: try again in %d seconds", e.Scope, secs)
}

// Is matches ErrRateLimited.
func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// CryptoError wraps an encryption, decryption or hashing fault.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string { return "crypto: " + e.Op + ": " + e.Err.Error() }

func (e *CryptoError) Unwrap() error { return e.Err }

// Is matches ErrCrypto.
func (e *CryptoError) Is(target error) bool { return target == ErrCrypto }

// StoreError wraps a persistence failure. It is never retried here.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "store: " + e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

// Is matches ErrStore.
func (e *StoreError) Is(target error) bool { return target == ErrStore }

func authFailure(reason string) error {
	return &AuthenticationError{Reason: reason}
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
