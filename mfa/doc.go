// Package mfa manages TOTP second factors and single-use backup codes.
//
// A user moves from unconfigured to pending on SetupTOTP, from pending to
// enabled on VerifyAndEnable, and back to unconfigured on Disable. The shared
// secret and every backup code are stored encrypted; plaintext codes are
// returned once, from SetupTOTP or RegenerateBackupCodes.
package mfa
