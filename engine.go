package trustcore

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/crypto"
	"github.com/MrEthical07/trustcore/jwt"
	"github.com/MrEthical07/trustcore/mfa"
	"github.com/MrEthical07/trustcore/ratelimit"
	"github.com/MrEthical07/trustcore/store"
)

// Engine is the entry point for every trust operation. Build it with
// New().WithStore(...).Build().
type Engine struct {
	config Config
	log    zerolog.Logger
	now    func() time.Time

	users          store.UserRepository
	sessions       store.SessionRepository
	tokens         *jwt.Manager
	loginLimiter   ratelimit.Limiter
	messageLimiter ratelimit.Limiter
	memLimiters    []*ratelimit.MemoryLimiter
	audit          *audit.Engine
	mfa            *mfa.Manager
	metrics        *Metrics

	dummyOnce sync.Once
	dummyHash string

	stop      chan struct{}
	workers   sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
}

// Close stops background work and flushes queued audit events. It is safe
// to call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.stop)
		e.workers.Wait()
		e.audit.Close()
		e.stopLimiters()
	})
}

func (e *Engine) stopLimiters() {
	for _, l := range e.memLimiters {
		l.Stop()
	}
}

// Config returns a copy of the engine's configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// MetricsSnapshot returns the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditStats returns the audit pipeline's counters.
func (e *Engine) AuditStats() audit.Stats {
	return e.audit.Stats()
}

// Audit exposes the audit engine for hosts that record their own events.
func (e *Engine) Audit() *audit.Engine {
	return e.audit
}

// MFA exposes the MFA manager.
func (e *Engine) MFA() *mfa.Manager {
	return e.mfa
}

// LoginLimiter returns the login attempt limiter.
func (e *Engine) LoginLimiter() ratelimit.Limiter {
	return e.loginLimiter
}

// MessageLimiter returns the message-send limiter.
func (e *Engine) MessageLimiter() ratelimit.Limiter {
	return e.messageLimiter
}

// Encrypt seals plaintext under the configured key.
func (e *Engine) Encrypt(plaintext string) (string, error) {
	out, err := crypto.EncryptString(plaintext, e.config.Crypto.EncryptionKey)
	if err != nil {
		if errors.Is(err, crypto.ErrEmptyPlaintext) {
			return "", &ValidationError{Field: "plaintext", Reason: "must not be empty"}
		}
		return "", &CryptoError{Op: "encrypt", Err: err}
	}
	return out, nil
}

// Decrypt opens a payload produced by Encrypt. A wrong key or corrupted
// payload is a *CryptoError, never garbage plaintext.
func (e *Engine) Decrypt(payload string) (string, error) {
	out, err := crypto.DecryptString(payload, e.config.Crypto.EncryptionKey)
	if err != nil {
		return "", &CryptoError{Op: "decrypt", Err: err}
	}
	return out, nil
}

// HashPassword hashes password at the configured work factor.
func (e *Engine) HashPassword(password string) (string, error) {
	h, err := crypto.HashPassword(password, e.config.Crypto.PasswordWorkFactor)
	if err != nil {
		switch {
		case errors.Is(err, crypto.ErrEmptyPassword):
			return "", &ValidationError{Field: "password", Reason: "must not be empty"}
		case errors.Is(err, crypto.ErrPasswordTooLong):
			return "", &ValidationError{Field: "password", Reason: "must be at most 72 bytes"}
		}
		return "", &CryptoError{Op: "hash_password", Err: err}
	}
	return h, nil
}

// VerifyPassword reports whether password matches stored.
func (e *Engine) VerifyPassword(password, stored string) bool {
	return crypto.VerifyPassword(password, stored)
}

// dummyPasswordHash is verified against when the user does not exist, so
// unknown usernames cost the same as wrong passwords.
func (e *Engine) dummyPasswordHash() string {
	e.dummyOnce.Do(func() {
		h, err := crypto.HashPassword("trustcore-dummy-password", e.config.Crypto.PasswordWorkFactor)
		if err == nil {
			e.dummyHash = h
		}
	})
	return e.dummyHash
}
