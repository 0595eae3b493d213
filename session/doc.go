// Package session provides a Redis-backed implementation of
// store.SessionRepository with a compact binary row encoding.
//
// # Keys
//
// Each session lives at <prefix>s:<token hash> with a PX expiry equal to the
// session's remaining lifetime. A per-user set at <prefix>u:<user id> indexes
// a user's token hashes so all of them can be revoked together.
//
// # Binary encoding
//
// Rows are versioned. New versions may append fields but never reinterpret
// old ones.
//
// # What this package must NOT do
//
//   - Interpret tokens or decide whether a session is valid.
//   - Store the raw session token.
package session
