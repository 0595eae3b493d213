// Package middleware adapts trustcore.Engine session checks to net/http.
//
// # Guards
//
//   - [Guard] requires a valid session and puts the user on the request context.
//   - [RequireAdmin] additionally requires the user's current admin flag.
//   - [MessageGuard] applies the message-send rate limit before the session check.
//
// Every guard reads the Authorization bearer token and attaches the client IP
// and User-Agent to the context so audit events carry them. Rejections are
// plain-text 401, 403 or 429 responses that never say why a session failed.
//
// # What this package must NOT do
//
//   - Parse or sign tokens itself (delegates to Engine).
//   - Talk to a store directly.
package middleware
