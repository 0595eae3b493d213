// Package jwt issues and verifies the signed session claims handed to clients
// at login.
//
// Verification here is purely cryptographic: signature, algorithm, issuer,
// audience and expiry. Whether the session is still live is decided by the
// server-side session row, not by this package.
package jwt
