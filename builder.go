package trustcore

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/jwt"
	"github.com/MrEthical07/trustcore/mfa"
	"github.com/MrEthical07/trustcore/ratelimit"
	"github.com/MrEthical07/trustcore/session"
	"github.com/MrEthical07/trustcore/store"
)

// Builder assembles an Engine. A Builder is single-use: Build may succeed
// only once.
type Builder struct {
	config     Config
	store      store.Store
	redis      redis.UniversalClient
	logger     zerolog.Logger
	geo        audit.GeoLocator
	signatures *audit.Signatures
	now        func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		logger: zerolog.Nop(),
	}
}

// WithConfig replaces the configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the durable store. Required.
func (b *Builder) WithStore(st store.Store) *Builder {
	b.store = st
	return b
}

// WithRedis moves session rows and both rate limiters into Redis, so they
// are shared between processes. Users, audit and MFA stay in the store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the operational logger. The default discards everything.
func (b *Builder) WithLogger(l zerolog.Logger) *Builder {
	b.logger = l
	return b
}

// WithGeoLocator enables audit geolocation enrichment.
func (b *Builder) WithGeoLocator(g audit.GeoLocator) *Builder {
	b.geo = g
	return b
}

// WithSignatures replaces the audit detection table.
func (b *Builder) WithSignatures(sigs *audit.Signatures) *Builder {
	b.signatures = sigs
	return b
}

// WithClock replaces time.Now in every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the ValidateSession latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		config:  cfg,
		log:     b.logger,
		now:     now,
		users:   b.store,
		metrics: NewMetrics(cfg.Metrics),
		stop:    make(chan struct{}),
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.Token.TTL,
		SigningMethod: cfg.Token.SigningMethod,
		PrivateKey:    cloneBytes(cfg.Token.Secret),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}
	e.tokens = jm.WithClock(now)

	// -------- SESSIONS AND LIMITERS --------
	if b.redis != nil {
		e.sessions = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix).WithClock(now)

		login, err := ratelimit.NewRedisLimiter(b.redis, cfg.RateLimit.RedisPrefix+"login:", cfg.RateLimit.Login)
		if err != nil {
			return nil, err
		}
		message, err := ratelimit.NewRedisLimiter(b.redis, cfg.RateLimit.RedisPrefix+"msg:", cfg.RateLimit.Message)
		if err != nil {
			return nil, err
		}
		e.loginLimiter, e.messageLimiter = login, message
	} else {
		e.sessions = b.store

		login, err := ratelimit.NewMemoryLimiter(cfg.RateLimit.Login, ratelimit.WithClock(now))
		if err != nil {
			return nil, err
		}
		message, err := ratelimit.NewMemoryLimiter(cfg.RateLimit.Message, ratelimit.WithClock(now))
		if err != nil {
			return nil, err
		}
		login.Start()
		message.Start()
		e.loginLimiter, e.messageLimiter = login, message
		e.memLimiters = []*ratelimit.MemoryLimiter{login, message}
	}

	// -------- AUDIT --------
	auditOpts := []audit.Option{
		audit.WithLogger(b.logger.With().Str("component", "audit").Logger()),
		audit.WithClock(now),
	}
	if b.geo != nil {
		auditOpts = append(auditOpts, audit.WithGeoLocator(b.geo))
	}
	if b.signatures != nil {
		auditOpts = append(auditOpts, audit.WithSignatures(b.signatures))
	}
	ae, err := audit.New(b.store, cfg.Audit, auditOpts...)
	if err != nil {
		e.stopLimiters()
		return nil, err
	}
	e.audit = ae

	// -------- MFA --------
	mm, err := mfa.New(b.store, cfg.Crypto.EncryptionKey, cfg.MFA,
		mfa.WithAuditor(contextAuditor{engine: e}),
		mfa.WithLogger(b.logger.With().Str("component", "mfa").Logger()),
		mfa.WithClock(now),
	)
	if err != nil {
		ae.Close()
		e.stopLimiters()
		return nil, err
	}
	e.mfa = mm

	b.built = true

	return e, nil
}
