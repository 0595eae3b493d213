// Package trustcore is the trust and security core of a chat service: session
// tokens with server-side revocation, payload encryption, fixed-window rate
// limiting, scored security auditing with incident escalation, and TOTP
// multi-factor authentication.
//
// The package is consumed through one [Engine] built by a [Builder]. Engine
// methods are safe to call from multiple goroutines after Build.
//
// # Architecture boundaries
//
// The Engine composes the sub-packages: crypto (leaf), ratelimit, jwt,
// session and store, audit, and mfa. Sub-packages never import trustcore.
// They export their own sentinel errors, which the Engine maps into the
// taxonomy in errors.go.
//
// # What this package must NOT do
//
//   - Trust claims inside a signed token over the durable user record.
//   - Tell a caller why a session was rejected.
//   - Fail an operation because the audit pipeline failed.
package trustcore
