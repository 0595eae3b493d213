// Package crypto holds the primitives every other trustcore component leans on:
// authenticated symmetric encryption of opaque payloads, slow password hashing,
// and random token generation.
//
// Encrypted payloads are self-describing. The version, salt, and nonce travel
// inside the encoded string, so callers only persist one value per secret.
package crypto
