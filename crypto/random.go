package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// TokenAlphabet is the character set GenerateToken draws from.
const TokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// CodeAlphabet is the character set GenerateCode draws from.
const CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateToken returns length characters chosen uniformly from TokenAlphabet.
// It is meant for key bootstrap and opaque identifiers, not for session
// signing.
func GenerateToken(length int) (string, error) {
	return generate(length, TokenAlphabet)
}

// GenerateCode returns length uppercase alphanumerics, the format used for
// backup codes.
func GenerateCode(length int) (string, error) {
	return generate(length, CodeAlphabet)
}

func generate(length int, alphabet string) (string, error) {
	if length <= 0 {
		return "", ErrInvalidLength
	}
	size := big.NewInt(int64(len(alphabet)))

	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		b.WriteByte(alphabet[n.Int64()])
	}

	return b.String(), nil
}

// GenerateKey returns 32 random bytes encoded as standard base64, suitable as
// an Encrypt key or HS256 signing secret.
func GenerateKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// HashToken returns the hex SHA-256 digest used to index stored sessions.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
