package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/trustcore/audit"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestKeygen(t *testing.T) {
	out, err := run(t, "", "keygen")
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	var keys generatedKeys
	if err := yaml.Unmarshal([]byte(out), &keys); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if keys.EncryptionKey == "" || len(keys.TokenSecret) < 32 || keys.EncryptionKey == keys.TokenSecret {
		t.Fatalf("unexpected keys: %+v", keys)
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := run(t, "hunter22\n", "hash-password", "--cost", "4")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	hash = strings.TrimSpace(hash)

	if out, err := run(t, "hunter22\n", "verify-password", "--hash", hash); err != nil || strings.TrimSpace(out) != "ok" {
		t.Fatalf("verify failed: %q %v", out, err)
	}
	if _, err := run(t, "hunter23\n", "verify-password", "--hash", hash); !errors.Is(err, errPasswordMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if _, err := run(t, "", "hash-password"); err == nil {
		t.Fatalf("expected empty input to fail")
	}
}

func TestAuditScore(t *testing.T) {
	event := `
event_type: search
category: data_access
severity: high
source_ip: 203.0.113.9
user_agent: sqlmap/1.7
details:
  q: "1 UNION SELECT password FROM users"
success: true
`
	out, err := run(t, event, "audit", "score")
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	var res scoreResult
	if err := yaml.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if !res.Scanner || !res.Incident || len(res.Indicators) != 1 || res.Indicators[0] != audit.IndicatorSQLInjection {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.RiskScore != 85 {
		t.Fatalf("expected score 85, got %d", res.RiskScore)
	}

	if _, err := run(t, "event_type: x\nbogus: 1\n", "audit", "score"); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
}

func TestAuditScoreWithExtraSignatures(t *testing.T) {
	dir := t.TempDir()
	sigPath := filepath.Join(dir, "sigs.yaml")
	sigs := "patterns:\n  - indicator: xss_attempt\n    patterns: [\"<svg\"]\n"
	if err := os.WriteFile(sigPath, []byte(sigs), 0o600); err != nil {
		t.Fatalf("write signatures: %v", err)
	}
	t.Setenv("TRUSTCORE_SIGNATURES_FILE", sigPath)

	out, err := run(t, "event_type: comment\ndetails:\n  body: \"<svg/x>\"\n", "audit", "score")
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if !strings.Contains(out, audit.IndicatorXSS) {
		t.Fatalf("expected xss indicator, got:\n%s", out)
	}
}

func TestConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trustcore.yaml")
	body := "encryption_key: abc\ntoken_secret: 0123456789abcdef0123456789abcdef\ntoken_ttl: 1h\npassword_work_factor: 6\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TRUSTCORE_TOKEN_ISSUER", "chat-prod")

	fc, err := loadConfig(newViper(), path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	cfg, err := fc.engineConfig()
	if err != nil {
		t.Fatalf("engine config failed: %v", err)
	}
	if cfg.Token.Issuer != "chat-prod" || cfg.Token.TTL.Hours() != 1 || cfg.Crypto.PasswordWorkFactor != 6 {
		t.Fatalf("unexpected config: %+v", cfg.Token)
	}
	if cfg.RateLimit.Login.MaxAttempts != 5 {
		t.Fatalf("defaults lost: %+v", cfg.RateLimit)
	}

	fc.EncryptionKey = ""
	if _, err := fc.engineConfig(); err == nil {
		t.Fatalf("expected missing key to fail validation")
	}
}

func TestLoadtestSmallRun(t *testing.T) {
	out, err := run(t, "", "loadtest", "--users", "3", "--ops", "20", "--concurrency", "2")
	if err != nil {
		t.Fatalf("loadtest failed: %v", err)
	}
	if !strings.Contains(out, "validate: ops=20 failures=0") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}
