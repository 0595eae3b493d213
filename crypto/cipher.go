package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	payloadVersion byte = 1
	saltSize            = 16
	nonceSize           = 12
	derivedKeySize      = 32
	tagSize             = 16
	headerSize          = 1 + saltSize + nonceSize
)

var payloadInfo = []byte("trustcore payload v1")

// Encrypt seals plaintext under key and returns a base64url payload of
// version | salt | nonce | ciphertext+tag. Each call draws a fresh salt, so the
// AES-256 key is different for every payload even when key is reused.
func Encrypt(plaintext []byte, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	if len(plaintext) == 0 {
		return "", ErrEmptyPlaintext
	}

	out := make([]byte, headerSize, headerSize+len(plaintext)+tagSize)
	out[0] = payloadVersion
	if _, err := io.ReadFull(rand.Reader, out[1:headerSize]); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	salt := out[1 : 1+saltSize]
	nonce := out[1+saltSize : headerSize]

	aead, err := newAEAD(key, salt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	out = aead.Seal(out, nonce, plaintext, out[:1])
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// EncryptString is Encrypt for string inputs.
func EncryptString(plaintext, key string) (string, error) {
	return Encrypt([]byte(plaintext), key)
}

// Decrypt opens a payload produced by Encrypt. Any failure, including an
// authentication mismatch from a wrong key, is reported as ErrDecryption.
func Decrypt(payload, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid encoding", ErrDecryption)
	}
	if len(raw) < headerSize+tagSize {
		return nil, fmt.Errorf("%w: payload too short", ErrDecryption)
	}
	if raw[0] != payloadVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrDecryption, raw[0])
	}

	salt := raw[1 : 1+saltSize]
	nonce := raw[1+saltSize : headerSize]

	aead, err := newAEAD(key, salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	plaintext, err := aead.Open(nil, nonce, raw[headerSize:], raw[:1])
	if err != nil {
		return nil, ErrDecryption
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("%w: empty result", ErrDecryption)
	}

	return plaintext, nil
}

// DecryptString is Decrypt returning a string.
func DecryptString(payload, key string) (string, error) {
	plaintext, err := Decrypt(payload, key)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func newAEAD(key string, salt []byte) (cipher.AEAD, error) {
	derived := make([]byte, derivedKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(key), salt, payloadInfo), derived); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}
