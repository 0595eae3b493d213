package crypto

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultWorkFactor is the bcrypt cost used when HashPassword gets 0.
const DefaultWorkFactor = 12

// bcrypt output is "$2a$" + 2-digit cost + "$" + 22 salt chars, then 31 hash chars.
const bcryptSaltLen = 29

const argon2Prefix = "$" + argon2AlgorithmID + "$"

// HashPassword derives a bcrypt hash and returns it as "salt:hash".
//
// The salt half keeps bcrypt's "$2a$<cost>$" prefix, so the work factor is
// recorded with every hash and VerifyPassword never has to assume one.
func HashPassword(password string, workFactor int) (string, error) {
	if workFactor == 0 {
		workFactor = DefaultWorkFactor
	}
	if workFactor < bcrypt.MinCost || workFactor > bcrypt.MaxCost {
		return "", ErrInvalidWorkFactor
	}
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > 72 {
		return "", ErrPasswordTooLong
	}

	raw, err := bcrypt.GenerateFromPassword([]byte(password), workFactor)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHash, err)
	}

	encoded := string(raw)
	return encoded[:bcryptSaltLen] + ":" + encoded[bcryptSaltLen:], nil
}

// VerifyPassword reports whether password matches stored. Malformed stored
// values yield false rather than an error. Argon2id PHC strings produced by
// Argon2Hasher are accepted as well.
func VerifyPassword(password, stored string) bool {
	if strings.HasPrefix(stored, argon2Prefix) {
		ok, err := verifyArgon2(password, stored)
		return err == nil && ok
	}

	salt, hash, ok := splitStored(stored)
	if !ok {
		return false
	}

	err := bcrypt.CompareHashAndPassword([]byte(salt+hash), []byte(password))
	return err == nil
}

// WorkFactor returns the bcrypt cost recorded in stored.
func WorkFactor(stored string) (int, error) {
	salt, hash, ok := splitStored(stored)
	if !ok {
		return 0, errors.New("invalid password hash format")
	}
	return bcrypt.Cost([]byte(salt + hash))
}

// NeedsRehash reports whether stored was produced with a lower cost than
// workFactor, or by a different scheme.
func NeedsRehash(stored string, workFactor int) bool {
	if workFactor == 0 {
		workFactor = DefaultWorkFactor
	}
	cost, err := WorkFactor(stored)
	if err != nil {
		return true
	}
	return cost < workFactor
}

func splitStored(stored string) (string, string, bool) {
	salt, hash, ok := strings.Cut(stored, ":")
	if !ok || len(salt) != bcryptSaltLen || hash == "" || !strings.HasPrefix(salt, "$2") {
		return "", "", false
	}
	return salt, hash, true
}
