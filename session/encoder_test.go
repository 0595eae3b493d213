package session

import (
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/trustcore/store"
)

func TestEncodeDecodeFlags(t *testing.T) {
	in := &store.Session{
		UserID:    "u1",
		IsBanned:  true,
		IssuedAt:  time.UnixMilli(1_700_000_000_000).UTC(),
		ExpiresAt: time.UnixMilli(1_700_000_600_000).UTC(),
	}

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.IsAdmin || !out.IsBanned || out.UserID != "u1" || out.Username != "" {
		t.Fatalf("unexpected decode: %+v", out)
	}
	if !out.ExpiresAt.Equal(in.ExpiresAt) {
		t.Fatalf("expiry mismatch: %v vs %v", out.ExpiresAt, in.ExpiresAt)
	}
}

func TestEncodeRejectsOversizedFields(t *testing.T) {
	if _, err := Encode(&store.Session{UserID: strings.Repeat("x", 256)}); err == nil {
		t.Fatalf("expected error for long user id")
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	data, _ := Encode(&store.Session{UserID: "u1"})
	data[0] = 99
	if _, err := Decode(data); err != errInvalidVersion {
		t.Fatalf("expected errInvalidVersion, got %v", err)
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	data, _ := Encode(&store.Session{UserID: "u1"})
	if _, err := Decode(append(data, 0)); err == nil {
		t.Fatalf("expected error for trailing bytes")
	}
}

func FuzzDecode(f *testing.F) {
	seed, _ := Encode(&store.Session{UserID: "u1", Username: "alice", IP: "1.2.3.4", UserAgent: "ua"})
	f.Add(seed)
	f.Add([]byte{})
	f.Add([]byte{formatVersionCurrent, 255})

	f.Fuzz(func(t *testing.T, data []byte) {
		s, err := Decode(data)
		if err != nil {
			return
		}
		again, err := Encode(s)
		if err != nil {
			t.Fatalf("re-encode failed: %v", err)
		}
		if _, err := Decode(again); err != nil {
			t.Fatalf("decode of re-encoded value failed: %v", err)
		}
	})
}
