package mfa

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/crypto"
	"github.com/MrEthical07/trustcore/store"
)

var (
	// ErrInvalidCode is returned for every failed verification, whatever the
	// cause.
	ErrInvalidCode = errors.New("mfa: invalid code")
	// ErrAlreadyEnabled is returned by SetupTOTP once MFA is enabled.
	ErrAlreadyEnabled = errors.New("mfa: already enabled")
	// ErrInvalidInput reports a malformed argument.
	ErrInvalidInput = errors.New("mfa: invalid input")
	// ErrInvalidConfig reports an unusable Config.
	ErrInvalidConfig = errors.New("mfa: invalid config")
	// ErrKeyMaterial reports a failure to draw a secret or backup code.
	ErrKeyMaterial = errors.New("mfa: key material unavailable")
)

// Method selects the factor checked by VerifyToken.
type Method string

const (
	MethodTOTP       Method = "totp"
	MethodBackupCode Method = "backup_code"
)

// Audit event types.
const (
	EventSetup          = "mfa_setup_initiated"
	EventEnabled        = "mfa_enabled"
	EventEnableFailed   = "mfa_enable_failed"
	EventVerified       = "mfa_verification_success"
	EventVerifyFailed   = "mfa_verification_failed"
	EventBackupCodeUsed = "mfa_backup_code_used"
	EventDisabled       = "mfa_disabled"
	EventCodesReissued  = "mfa_backup_codes_regenerated"
)

// Auditor receives one entry per MFA outcome.
type Auditor interface {
	LogSecurityEvent(ctx context.Context, entry audit.Entry)
}

// Config tunes the TOTP parameters and backup code shape.
type Config struct {
	Issuer           string
	Period           uint
	Skew             uint
	Digits           otp.Digits
	Algorithm        otp.Algorithm
	SecretSize       uint
	BackupCodeCount  int
	BackupCodeLength int
	QRSize           int
}

// DefaultConfig returns 6-digit SHA1 codes on a 30 second step, accepted
// two steps either side, and ten 8-character backup codes.
func DefaultConfig() Config {
	return Config{
		Issuer:           "trustcore",
		Period:           30,
		Skew:             2,
		Digits:           otp.DigitsSix,
		Algorithm:        otp.AlgorithmSHA1,
		SecretSize:       20,
		BackupCodeCount:  10,
		BackupCodeLength: 8,
		QRSize:           256,
	}
}

// Validate rejects unusable settings.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Issuer) == "":
		return fmt.Errorf("%w: issuer is required", ErrInvalidConfig)
	case c.Period == 0:
		return fmt.Errorf("%w: period must be positive", ErrInvalidConfig)
	case c.Skew > 10:
		return fmt.Errorf("%w: skew must be at most 10", ErrInvalidConfig)
	case c.Digits != otp.DigitsSix && c.Digits != otp.DigitsEight:
		return fmt.Errorf("%w: digits must be 6 or 8", ErrInvalidConfig)
	case c.SecretSize < 16:
		return fmt.Errorf("%w: secret size must be at least 16 bytes", ErrInvalidConfig)
	case c.BackupCodeCount < 1:
		return fmt.Errorf("%w: backup code count must be positive", ErrInvalidConfig)
	case c.BackupCodeLength < 6:
		return fmt.Errorf("%w: backup code length must be at least 6", ErrInvalidConfig)
	case c.QRSize < 64:
		return fmt.Errorf("%w: qr size must be at least 64", ErrInvalidConfig)
	}
	return nil
}

func (c Config) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    c.Period,
		Skew:      c.Skew,
		Digits:    c.Digits,
		Algorithm: c.Algorithm,
	}
}

// Setup is returned once by SetupTOTP.
type Setup struct {
	Secret      string   `json:"secret"`
	URL         string   `json:"otpauth_url"`
	QRCode      string   `json:"qr_code"`
	BackupCodes []string `json:"backup_codes"`
}

// Status summarizes a user's MFA state.
type Status struct {
	Enabled              bool       `json:"enabled"`
	Methods              []Method   `json:"methods"`
	BackupCodesRemaining int        `json:"backup_codes_remaining"`
	LastUsedAt           *time.Time `json:"last_used_at,omitempty"`
}

// Option customizes a Manager.
type Option func(*Manager)

// WithAuditor sets the audit sink.
func WithAuditor(a Auditor) Option {
	return func(m *Manager) { m.audit = a }
}

// WithLogger sets the operational logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithClock replaces time.Now for code validation and timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager implements the MFA lifecycle. It holds no per-user state and is
// safe for concurrent use.
type Manager struct {
	repo  store.MFARepository
	key   string
	cfg   Config
	audit Auditor
	log   zerolog.Logger
	now   func() time.Time
}

// New returns a Manager that encrypts factor material with encryptionKey.
func New(repo store.MFARepository, encryptionKey string, cfg Config, opts ...Option) (*Manager, error) {
	if repo == nil {
		return nil, fmt.Errorf("%w: repository is required", ErrInvalidConfig)
	}
	if encryptionKey == "" {
		return nil, fmt.Errorf("%w: encryption key is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		repo: repo,
		key:  encryptionKey,
		cfg:  cfg,
		log:  zerolog.Nop(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// SetupTOTP issues a new secret and backup codes and leaves MFA pending.
// Calling it again before VerifyAndEnable replaces the pending material.
func (m *Manager) SetupTOTP(ctx context.Context, userID, username string) (*Setup, error) {
	if userID == "" || username == "" {
		return nil, fmt.Errorf("%w: user id and username are required", ErrInvalidInput)
	}

	existing, err := m.load(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.IsEnabled {
		return nil, ErrAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.cfg.Issuer,
		AccountName: username,
		Period:      m.cfg.Period,
		SecretSize:  m.cfg.SecretSize,
		Digits:      m.cfg.Digits,
		Algorithm:   m.cfg.Algorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: generate secret: %v", ErrKeyMaterial, err)
	}

	qr, err := m.qrDataURL(key)
	if err != nil {
		return nil, err
	}

	encSecret, err := crypto.EncryptString(key.Secret(), m.key)
	if err != nil {
		return nil, fmt.Errorf("mfa: encrypt secret: %w", err)
	}
	codes, encCodes, err := m.newBackupCodes()
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	settings := &store.MFASettings{
		UserID:      userID,
		TOTPSecret:  encSecret,
		BackupCodes: encCodes,
		IsEnabled:   false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.repo.UpsertMFASettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("mfa: save settings: %w", err)
	}

	m.emit(ctx, userID, EventSetup, true, nil)

	return &Setup{
		Secret:      key.Secret(),
		URL:         key.URL(),
		QRCode:      qr,
		BackupCodes: codes,
	}, nil
}

// VerifyAndEnable checks code against the pending secret and enables MFA.
func (m *Manager) VerifyAndEnable(ctx context.Context, userID, code string) error {
	settings, err := m.load(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.emit(ctx, userID, EventEnableFailed, false, map[string]any{"reason": "not_configured"})
			return ErrInvalidCode
		}
		return err
	}
	if settings.IsEnabled {
		return ErrAlreadyEnabled
	}
	if settings.TOTPSecret == "" {
		m.emit(ctx, userID, EventEnableFailed, false, map[string]any{"reason": "not_configured"})
		return ErrInvalidCode
	}

	ok, err := m.checkTOTP(settings, code)
	if err != nil {
		return err
	}
	if !ok {
		m.emit(ctx, userID, EventEnableFailed, false, map[string]any{"reason": "invalid_code"})
		return ErrInvalidCode
	}

	if err := m.repo.EnableMFA(ctx, userID, m.now().UTC()); err != nil {
		return fmt.Errorf("mfa: enable: %w", err)
	}

	m.emit(ctx, userID, EventEnabled, true, nil)
	return nil
}

// VerifyToken checks a code for an enabled user. A backup code is consumed
// on success and fails on any later submission.
func (m *Manager) VerifyToken(ctx context.Context, userID, code string, method Method) error {
	if method != MethodTOTP && method != MethodBackupCode {
		return fmt.Errorf("%w: unknown method %q", ErrInvalidInput, method)
	}

	settings, err := m.load(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.emit(ctx, userID, EventVerifyFailed, false, map[string]any{"method": string(method), "reason": "not_enabled"})
			return ErrInvalidCode
		}
		return err
	}
	if !settings.IsEnabled {
		m.emit(ctx, userID, EventVerifyFailed, false, map[string]any{"method": string(method), "reason": "not_enabled"})
		return ErrInvalidCode
	}

	if method == MethodBackupCode {
		return m.consumeBackupCode(ctx, settings, code)
	}

	ok, err := m.checkTOTP(settings, code)
	if err != nil {
		return err
	}
	if !ok {
		m.emit(ctx, userID, EventVerifyFailed, false, map[string]any{"method": string(method), "reason": "invalid_code"})
		return ErrInvalidCode
	}

	// Only the usage time is written; the backup-code list may have changed
	// since the load.
	if err := m.repo.TouchMFA(ctx, userID, m.now().UTC()); err != nil {
		return fmt.Errorf("mfa: record use: %w", err)
	}

	m.emit(ctx, userID, EventVerified, true, map[string]any{"method": string(method)})
	return nil
}

func (m *Manager) consumeBackupCode(ctx context.Context, settings *store.MFASettings, code string) error {
	fail := func(reason string) error {
		m.emit(ctx, settings.UserID, EventVerifyFailed, false, map[string]any{
			"method": string(MethodBackupCode),
			"reason": reason,
		})
		return ErrInvalidCode
	}

	submitted := []byte(strings.ToUpper(strings.TrimSpace(code)))
	if len(submitted) == 0 {
		return fail("invalid_code")
	}

	// Every stored code is decrypted and compared so timing does not reveal
	// the position of a match.
	match := -1
	for i, enc := range settings.BackupCodes {
		plain, err := crypto.DecryptString(enc, m.key)
		if err != nil {
			return fmt.Errorf("mfa: decrypt backup code: %w", err)
		}
		if subtle.ConstantTimeCompare(submitted, []byte(strings.ToUpper(plain))) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return fail("invalid_code")
	}

	removed, err := m.repo.RemoveBackupCode(ctx, settings.UserID, settings.BackupCodes[match], m.now().UTC())
	if err != nil {
		return fmt.Errorf("mfa: consume backup code: %w", err)
	}
	if !removed {
		return fail("code_already_used")
	}

	m.emit(ctx, settings.UserID, EventBackupCodeUsed, true, map[string]any{
		"method":    string(MethodBackupCode),
		"remaining": len(settings.BackupCodes) - 1,
	})
	return nil
}

// Disable clears all factor material after a valid TOTP check. The settings
// row is kept.
func (m *Manager) Disable(ctx context.Context, userID, code string) error {
	if _, err := m.requireTOTP(ctx, userID, code, "disable"); err != nil {
		return err
	}

	if err := m.repo.DisableMFA(ctx, userID, m.now().UTC()); err != nil {
		return fmt.Errorf("mfa: disable: %w", err)
	}

	m.emit(ctx, userID, EventDisabled, true, nil)
	return nil
}

// RegenerateBackupCodes replaces every backup code after a valid TOTP check
// and returns the new plaintext codes.
func (m *Manager) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	if _, err := m.requireTOTP(ctx, userID, code, "regenerate_backup_codes"); err != nil {
		return nil, err
	}

	codes, encCodes, err := m.newBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := m.repo.ReplaceBackupCodes(ctx, userID, encCodes, m.now().UTC()); err != nil {
		return nil, fmt.Errorf("mfa: save backup codes: %w", err)
	}

	m.emit(ctx, userID, EventCodesReissued, true, map[string]any{"count": len(codes)})
	return codes, nil
}

// Status reports the user's MFA state without changing it. A user who never
// ran setup is reported as disabled.
func (m *Manager) Status(ctx context.Context, userID string) (Status, error) {
	settings, err := m.load(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Status{Methods: []Method{}}, nil
		}
		return Status{}, err
	}

	st := Status{
		Enabled:              settings.IsEnabled,
		Methods:              []Method{},
		BackupCodesRemaining: len(settings.BackupCodes),
		LastUsedAt:           settings.LastUsedAt,
	}
	if settings.IsEnabled {
		st.Methods = append(st.Methods, MethodTOTP)
		if len(settings.BackupCodes) > 0 {
			st.Methods = append(st.Methods, MethodBackupCode)
		}
	}
	return st, nil
}

// Enabled reports whether userID has completed setup.
func (m *Manager) Enabled(ctx context.Context, userID string) (bool, error) {
	st, err := m.Status(ctx, userID)
	return st.Enabled, err
}

func (m *Manager) requireTOTP(ctx context.Context, userID, code, action string) (*store.MFASettings, error) {
	settings, err := m.load(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if settings == nil || !settings.IsEnabled {
		m.emit(ctx, userID, EventVerifyFailed, false, map[string]any{"action": action, "reason": "not_enabled"})
		return nil, ErrInvalidCode
	}

	ok, err := m.checkTOTP(settings, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		m.emit(ctx, userID, EventVerifyFailed, false, map[string]any{"action": action, "reason": "invalid_code"})
		return nil, ErrInvalidCode
	}
	return settings, nil
}

func (m *Manager) load(ctx context.Context, userID string) (*store.MFASettings, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	settings, err := m.repo.GetMFASettings(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("mfa: load settings: %w", err)
	}
	return settings, nil
}

func (m *Manager) checkTOTP(settings *store.MFASettings, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if len(code) != m.cfg.Digits.Length() {
		return false, nil
	}

	secret, err := crypto.DecryptString(settings.TOTPSecret, m.key)
	if err != nil {
		return false, fmt.Errorf("mfa: decrypt secret: %w", err)
	}

	ok, err := totp.ValidateCustom(code, secret, m.now().UTC(), m.cfg.validateOpts())
	if err != nil {
		// Malformed codes are ordinary failures.
		m.log.Debug().Err(err).Str("user_id", settings.UserID).Msg("totp validation error")
		return false, nil
	}
	return ok, nil
}

func (m *Manager) newBackupCodes() ([]string, []string, error) {
	codes := make([]string, 0, m.cfg.BackupCodeCount)
	encrypted := make([]string, 0, m.cfg.BackupCodeCount)
	seen := make(map[string]struct{}, m.cfg.BackupCodeCount)

	for len(codes) < m.cfg.BackupCodeCount {
		code, err := crypto.GenerateCode(m.cfg.BackupCodeLength)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: generate backup code: %v", ErrKeyMaterial, err)
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}

		enc, err := crypto.EncryptString(code, m.key)
		if err != nil {
			return nil, nil, fmt.Errorf("mfa: encrypt backup code: %w", err)
		}
		codes = append(codes, code)
		encrypted = append(encrypted, enc)
	}
	return codes, encrypted, nil
}

func (m *Manager) qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(m.cfg.QRSize, m.cfg.QRSize)
	if err != nil {
		return "", fmt.Errorf("mfa: render qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("mfa: encode qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (m *Manager) emit(ctx context.Context, userID, eventType string, success bool, details map[string]any) {
	if !success {
		m.log.Info().Str("user_id", userID).Str("event", eventType).Msg("mfa check failed")
	}
	if m.audit == nil {
		return
	}

	severity := store.SeverityInfo
	if !success {
		severity = store.SeverityMedium
	}
	entry := audit.Entry{
		UserID:    userID,
		EventType: eventType,
		Category:  store.CategoryAuthentication,
		Severity:  severity,
		Details:   details,
		Success:   success,
	}
	if !success {
		entry.ErrorMessage = "mfa verification failed"
	}
	m.audit.LogSecurityEvent(ctx, entry)
}
