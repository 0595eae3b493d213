package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/MrEthical07/trustcore/store"
)

const formatVersionCurrent byte = 1

const (
	flagAdmin  byte = 1 << 0
	flagBanned byte = 1 << 1
)

var errInvalidVersion = errors.New("invalid session version")

// Encode serializes the row fields of s. TokenHash is the key, not part of
// the value.
func Encode(s *store.Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(formatVersionCurrent)

	for _, field := range []struct {
		name  string
		value string
	}{{"userID", s.UserID}, {"username", s.Username}, {"ip", s.IP}} {
		if len(field.value) > 255 {
			return nil, errors.New(field.name + " too long")
		}
		buf.WriteByte(byte(len(field.value)))
		buf.WriteString(field.value)
	}

	if len(s.UserAgent) > 0xFFFF {
		return nil, errors.New("userAgent too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(s.UserAgent))); err != nil {
		return nil, err
	}
	buf.WriteString(s.UserAgent)

	var flags byte
	if s.IsAdmin {
		flags |= flagAdmin
	}
	if s.IsBanned {
		flags |= flagBanned
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, s.IssuedAt.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a value produced by Encode.
func Decode(data []byte) (*store.Session, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != formatVersionCurrent {
		return nil, errInvalidVersion
	}

	s := &store.Session{}
	for _, dst := range []*string{&s.UserID, &s.Username, &s.IP} {
		n, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if *dst, err = readString(r, int(n)); err != nil {
			return nil, err
		}
	}

	var uaLen uint16
	if err := binary.Read(r, binary.BigEndian, &uaLen); err != nil {
		return nil, err
	}
	if s.UserAgent, err = readString(r, int(uaLen)); err != nil {
		return nil, err
	}

	flags, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	s.IsAdmin = flags&flagAdmin != 0
	s.IsBanned = flags&flagBanned != 0

	var issued, expires int64
	if err := binary.Read(r, binary.BigEndian, &issued); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &expires); err != nil {
		return nil, err
	}
	s.IssuedAt = time.UnixMilli(issued).UTC()
	s.ExpiresAt = time.UnixMilli(expires).UTC()

	if r.Len() != 0 {
		return nil, errors.New("trailing session bytes")
	}

	return s, nil
}

func readString(r *bytes.Reader, n int) (string, error) {
	if n == 0 {
		return "", nil
	}
	if n > r.Len() {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
