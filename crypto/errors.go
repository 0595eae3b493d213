package crypto

import "errors"

var (
	// ErrEncryption is returned when sealing a payload fails internally.
	ErrEncryption = errors.New("encryption failed")
	// ErrDecryption is returned for a wrong key or corrupted payload.
	ErrDecryption = errors.New("decryption failed: wrong key or corrupted data")
	// ErrInvalidKey is returned when the caller passes an empty key.
	ErrInvalidKey = errors.New("encryption key must not be empty")
	// ErrEmptyPlaintext is returned by Encrypt for zero-length input.
	ErrEmptyPlaintext = errors.New("plaintext must not be empty")
	// ErrHash is returned when a password hash cannot be produced.
	ErrHash = errors.New("password hashing failed")
	// ErrInvalidWorkFactor is returned for a bcrypt cost outside [4, 31].
	ErrInvalidWorkFactor = errors.New("invalid password work factor")
	// ErrPasswordTooLong is returned for passwords bcrypt would silently truncate.
	ErrPasswordTooLong = errors.New("password exceeds 72 bytes")
	// ErrEmptyPassword is returned when hashing an empty password.
	ErrEmptyPassword = errors.New("password must not be empty")
	// ErrInvalidLength is returned by GenerateToken for non-positive lengths.
	ErrInvalidLength = errors.New("token length must be positive")
)
