package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/MrEthical07/trustcore"
	"github.com/MrEthical07/trustcore/audit"
)

const envPrefix = "TRUSTCORE"

// fileConfig is the on-disk and environment shape of the engine config.
type fileConfig struct {
	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`

	EncryptionKey      string `mapstructure:"encryption_key"`
	PasswordWorkFactor int    `mapstructure:"password_work_factor"`

	TokenSecret   string        `mapstructure:"token_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	TokenIssuer   string        `mapstructure:"token_issuer"`
	TokenAudience string        `mapstructure:"token_audience"`

	DatabaseDSN string `mapstructure:"database_dsn"`
	RedisAddr   string `mapstructure:"redis_addr"`

	SignaturesFile    string `mapstructure:"signatures_file"`
	IncidentThreshold int    `mapstructure:"incident_threshold"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	def := trustcore.DefaultConfig()
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("encryption_key", "")
	v.SetDefault("password_work_factor", def.Crypto.PasswordWorkFactor)
	v.SetDefault("token_secret", "")
	v.SetDefault("token_ttl", def.Token.TTL.String())
	v.SetDefault("token_issuer", def.Token.Issuer)
	v.SetDefault("token_audience", "")
	v.SetDefault("database_dsn", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("signatures_file", "")
	v.SetDefault("incident_threshold", def.Audit.IncidentThreshold)
	return v
}

// loadConfig reads path when set, then applies TRUSTCORE_* overrides.
func loadConfig(v *viper.Viper, path string) (fileConfig, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fileConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return fileConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return fc, nil
}

// engineConfig maps fc onto trustcore defaults.
func (fc fileConfig) engineConfig() (trustcore.Config, error) {
	cfg := trustcore.DefaultConfig()
	cfg.Crypto.EncryptionKey = fc.EncryptionKey
	cfg.Crypto.PasswordWorkFactor = fc.PasswordWorkFactor
	cfg.Token.Secret = []byte(fc.TokenSecret)
	cfg.Token.TTL = fc.TokenTTL
	cfg.Token.Issuer = fc.TokenIssuer
	cfg.Token.Audience = fc.TokenAudience
	cfg.Audit.IncidentThreshold = fc.IncidentThreshold

	if err := cfg.Validate(); err != nil {
		return trustcore.Config{}, err
	}
	return cfg, nil
}

func (fc fileConfig) signatures() (*audit.Signatures, error) {
	if fc.SignaturesFile == "" {
		return audit.DefaultSignatures(), nil
	}
	f, err := os.Open(fc.SignaturesFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	extra, err := audit.LoadSignatures(f)
	if err != nil {
		return nil, fmt.Errorf("load signatures %s: %w", fc.SignaturesFile, err)
	}
	return audit.DefaultSignatures().Merge(extra), nil
}

func newLogger(fc fileConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(fc.LogLevel)
	if err != nil {
		return zerolog.Nop(), errors.New("log_level: " + err.Error())
	}

	var l zerolog.Logger
	if fc.LogPretty {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		l = zerolog.New(os.Stderr)
	}
	return l.Level(level).With().Timestamp().Str("app", "trustctl").Logger(), nil
}
