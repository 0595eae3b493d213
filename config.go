package trustcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/crypto"
	"github.com/MrEthical07/trustcore/jwt"
	"github.com/MrEthical07/trustcore/mfa"
	"github.com/MrEthical07/trustcore/ratelimit"
)

// Config holds every tunable of an Engine. Builder clones it, so later
// changes by the caller have no effect on a built Engine.
type Config struct {
	Crypto    CryptoConfig
	Token     TokenConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Audit     audit.Config
	MFA       mfa.Config
	Metrics   MetricsConfig
}

/*
====================================
CRYPTO CONFIG
====================================
*/

// CryptoConfig sets the payload key and password cost.
type CryptoConfig struct {
	// EncryptionKey protects MFA material at rest. Required.
	EncryptionKey string
	// PasswordWorkFactor is the bcrypt cost for new hashes. Existing hashes
	// keep the cost they were created with.
	PasswordWorkFactor int
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig configures the signed session token.
type TokenConfig struct {
	TTL           time.Duration
	SigningMethod jwt.SigningMethod
	// Secret is the HS256 key, or the Ed25519 private key.
	Secret    []byte
	PublicKey []byte
	Issuer    string
	Audience  string
	Leeway    time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures server-side session rows.
type SessionConfig struct {
	// RedisPrefix namespaces session keys when a Redis client is supplied.
	RedisPrefix string
	// SweepInterval is used by StartSweeper when it is passed zero.
	SweepInterval time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig configures the login and message-send limiters.
type RateLimitConfig struct {
	Login   ratelimit.Config
	Message ratelimit.Config
	// ResetLoginOnSuccess forgives earlier failed attempts after a
	// successful login from the same identifier.
	ResetLoginOnSuccess bool
	RedisPrefix         string
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults. Crypto.EncryptionKey and
// Token.Secret are empty and must be set.
func DefaultConfig() Config {
	return Config{
		Crypto: CryptoConfig{
			PasswordWorkFactor: crypto.DefaultWorkFactor,
		},
		Token: TokenConfig{
			TTL:           jwt.DefaultTTL,
			SigningMethod: jwt.MethodHS256,
			Issuer:        "trustcore",
		},
		Session: SessionConfig{
			RedisPrefix:   "tc:sess:",
			SweepInterval: time.Hour,
		},
		RateLimit: RateLimitConfig{
			Login:               ratelimit.LoginConfig(),
			Message:             ratelimit.MessageConfig(),
			ResetLoginOnSuccess: true,
			RedisPrefix:         "tc:rl:",
		},
		Audit: audit.DefaultConfig(),
		MFA:   mfa.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks the whole configuration and reports the first problem.
func (c *Config) Validate() error {
	if c.Crypto.EncryptionKey == "" {
		return errors.New("crypto: encryption key is required")
	}
	if wf := c.Crypto.PasswordWorkFactor; wf < 4 || wf > 31 {
		return errors.New("crypto: password work factor must be within [4, 31]")
	}

	if c.Token.TTL <= 0 {
		return errors.New("token: ttl must be positive")
	}
	if c.Token.SigningMethod != jwt.MethodHS256 && c.Token.SigningMethod != jwt.MethodEd25519 {
		return fmt.Errorf("token: unsupported signing method %q", c.Token.SigningMethod)
	}
	if c.Token.SigningMethod == jwt.MethodHS256 && len(c.Token.Secret) < 32 {
		return errors.New("token: hs256 secret must be at least 32 bytes")
	}

	if c.Session.SweepInterval < 0 {
		return errors.New("session: sweep interval must not be negative")
	}

	if err := c.RateLimit.Login.Validate(); err != nil {
		return fmt.Errorf("rate limit: login: %w", err)
	}
	if err := c.RateLimit.Message.Validate(); err != nil {
		return fmt.Errorf("rate limit: message: %w", err)
	}

	if err := c.Audit.Validate(); err != nil {
		return err
	}
	if err := c.MFA.Validate(); err != nil {
		return err
	}

	return nil
}

func cloneConfig(c Config) Config {
	out := c
	out.Token.Secret = cloneBytes(c.Token.Secret)
	out.Token.PublicKey = cloneBytes(c.Token.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
