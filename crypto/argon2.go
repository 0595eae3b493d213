package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argon2AlgorithmID        = "argon2id"
	argon2MinMemoryKB uint32 = 8 * 1024
	argon2MinTime     uint32 = 1
	argon2MinThreads  uint8  = 1
	argon2MinSaltLen  uint32 = 16
	argon2MinKeyLen   uint32 = 16
)

// Argon2Config tunes Argon2Hasher. Memory is in KiB.
type Argon2Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Config returns the parameters recommended for interactive logins.
func DefaultArgon2Config() Argon2Config {
	return Argon2Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2Hasher produces argon2id hashes in PHC string format. Its output is
// accepted by VerifyPassword alongside bcrypt "salt:hash" values.
type Argon2Hasher struct {
	config Argon2Config
}

type argon2Params struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

// NewArgon2Hasher validates cfg and returns a hasher.
func NewArgon2Hasher(cfg Argon2Config) (*Argon2Hasher, error) {
	if cfg.Memory < argon2MinMemoryKB {
		return nil, errors.New("argon2 memory must be >= 8192 KiB")
	}
	if cfg.Time < argon2MinTime {
		return nil, errors.New("argon2 time must be >= 1")
	}
	if cfg.Parallelism < argon2MinThreads {
		return nil, errors.New("argon2 parallelism must be >= 1")
	}
	if cfg.SaltLength < argon2MinSaltLen {
		return nil, errors.New("argon2 salt length must be >= 16")
	}
	if cfg.KeyLength < argon2MinKeyLen {
		return nil, errors.New("argon2 key length must be >= 16")
	}
	return &Argon2Hasher{config: cfg}, nil
}

// Hash returns the PHC encoding of password.
func (a *Argon2Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("%w: %v", ErrHash, err)
	}

	key := argon2.IDKey([]byte(password), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2AlgorithmID,
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify checks password against a PHC string. The parameters are taken from
// the encoded value, not from the hasher's config.
func (a *Argon2Hasher) Verify(password, encoded string) (bool, error) {
	return verifyArgon2(password, encoded)
}

// NeedsUpgrade reports whether encoded was produced with weaker parameters
// than the hasher is configured for.
func (a *Argon2Hasher) NeedsUpgrade(encoded string) (bool, error) {
	p, err := parseArgon2(encoded)
	if err != nil {
		return false, err
	}
	return a.config.Memory > p.memory ||
		a.config.Time > p.time ||
		a.config.Parallelism > p.parallelism ||
		a.config.KeyLength != uint32(len(p.hash)), nil
}

func verifyArgon2(password, encoded string) (bool, error) {
	p, err := parseArgon2(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.hash)))
	return subtle.ConstantTimeCompare(computed, p.hash) == 1, nil
}

func parseArgon2(encoded string) (*argon2Params, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != argon2AlgorithmID {
		return nil, errors.New("unsupported algorithm")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") {
		return nil, errors.New("invalid argon2 version")
	}
	if version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	p := &argon2Params{}
	var seen int
	for _, pair := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.New("invalid parameter entry")
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid %s parameter", k)
		}
		switch k {
		case "m":
			if uint32(n) < argon2MinMemoryKB {
				return nil, errors.New("invalid memory parameter")
			}
			p.memory = uint32(n)
		case "t":
			if uint32(n) < argon2MinTime {
				return nil, errors.New("invalid time parameter")
			}
			p.time = uint32(n)
		case "p":
			if n < uint64(argon2MinThreads) || n > 255 {
				return nil, errors.New("invalid parallelism parameter")
			}
			p.parallelism = uint8(n)
		default:
			return nil, errors.New("unsupported parameter")
		}
		seen++
	}
	if seen != 3 || p.memory == 0 || p.time == 0 || p.parallelism == 0 {
		return nil, errors.New("missing parameters")
	}

	p.salt, err = base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(p.salt) < int(argon2MinSaltLen) {
		return nil, errors.New("invalid salt")
	}
	p.hash, err = base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(p.hash) == 0 {
		return nil, errors.New("invalid hash")
	}

	return p, nil
}
