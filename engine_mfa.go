package trustcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/trustcore/crypto"
	"github.com/MrEthical07/trustcore/mfa"
	"github.com/MrEthical07/trustcore/store"
)

// SetupMFA starts TOTP enrollment for userID. The returned secret and backup
// codes are shown once and never stored in plaintext.
func (e *Engine) SetupMFA(ctx context.Context, userID string) (*mfa.Setup, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "is required"}
	}
	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &ValidationError{Field: "user_id", Reason: "unknown user"}
		}
		return nil, storeErr("get_user", err)
	}

	setup, err := e.mfa.SetupTOTP(ctx, user.ID, user.Username)
	if err != nil {
		return nil, mapMFAErr("setup_mfa", err)
	}
	return setup, nil
}

// EnableMFA confirms enrollment with the first TOTP code.
func (e *Engine) EnableMFA(ctx context.Context, userID, code string) error {
	if err := e.mfa.VerifyAndEnable(ctx, userID, code); err != nil {
		return mapMFAErr("enable_mfa", err)
	}
	return nil
}

// VerifyMFA checks a TOTP or backup code for an enabled user.
func (e *Engine) VerifyMFA(ctx context.Context, userID, code string, method mfa.Method) error {
	if err := e.mfa.VerifyToken(ctx, userID, code, method); err != nil {
		e.metrics.Inc(MetricMFAFailure)
		return mapMFAErr("verify_mfa", err)
	}
	e.metrics.Inc(MetricMFASuccess)
	if method == mfa.MethodBackupCode {
		e.metrics.Inc(MetricBackupCodeUsed)
	}
	return nil
}

// DisableMFA turns MFA off after a valid TOTP code.
func (e *Engine) DisableMFA(ctx context.Context, userID, code string) error {
	if err := e.mfa.Disable(ctx, userID, code); err != nil {
		return mapMFAErr("disable_mfa", err)
	}
	return nil
}

// RegenerateBackupCodes replaces the backup codes after a valid TOTP code.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	codes, err := e.mfa.RegenerateBackupCodes(ctx, userID, code)
	if err != nil {
		return nil, mapMFAErr("regenerate_backup_codes", err)
	}
	e.metrics.Inc(MetricBackupCodeRegenerated)
	return codes, nil
}

// MFAStatus reports the user's MFA state.
func (e *Engine) MFAStatus(ctx context.Context, userID string) (mfa.Status, error) {
	st, err := e.mfa.Status(ctx, userID)
	if err != nil {
		return mfa.Status{}, mapMFAErr("mfa_status", err)
	}
	return st, nil
}

func mapMFAErr(op string, err error) error {
	switch {
	case errors.Is(err, mfa.ErrInvalidCode):
		return authFailure(ReasonInvalidMFACode)
	case errors.Is(err, mfa.ErrAlreadyEnabled):
		return ErrMFAAlreadyEnabled
	case errors.Is(err, mfa.ErrInvalidInput):
		return &ValidationError{Field: "mfa", Reason: err.Error()}
	case errors.Is(err, crypto.ErrDecryption),
		errors.Is(err, crypto.ErrEncryption),
		errors.Is(err, crypto.ErrInvalidKey),
		errors.Is(err, mfa.ErrKeyMaterial):
		return &CryptoError{Op: op, Err: err}
	}
	return storeErr(op, err)
}
