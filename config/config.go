package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration, read from the environment (and a .env
// file loaded beforehand by main).
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":3002"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	StorageType    string `env:"STORAGE_TYPE" envDefault:"memory"`
	DataSourceName string `env:"DATA_SOURCE_NAME" envDefault:"chat-relay.db"`
	BadgerPath     string `env:"BADGER_PATH" envDefault:"./data/badger"`
	S3BucketName   string `env:"S3_BUCKET_NAME"`

	JWTSecret     string `env:"JWT_SECRET"`
	OIDCIssuerURL string `env:"OIDC_ISSUER_URL"`
	OIDCClientID  string `env:"OIDC_CLIENT_ID"`

	AuthTimeout       time.Duration `env:"AUTH_TIMEOUT" envDefault:"10s"`
	TypingTimeout     time.Duration `env:"TYPING_TIMEOUT" envDefault:"3s"`
	OutboundQueueSize int           `env:"OUTBOUND_QUEUE_SIZE" envDefault:"64"`
	MaxContentLength  int           `env:"MAX_CONTENT_LENGTH" envDefault:"5000"`

	CensoredWords []string `env:"CENSORED_WORDS" envSeparator:","`
	CensorChar    string   `env:"CENSOR_CHAR" envDefault:"*"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	OTELEndpoint string `env:"OTEL_EXPORTER_ENDPOINT"`
	OTELEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
}

// Load parses the environment into a Config and checks it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StorageType {
	case "memory", "sqlite", "badger", "s3":
	default:
		return fmt.Errorf("unknown STORAGE_TYPE %q", c.StorageType)
	}
	if c.StorageType == "s3" && c.S3BucketName == "" {
		return fmt.Errorf("S3_BUCKET_NAME must be set for s3 storage type")
	}
	if c.AuthTimeout <= 0 {
		return fmt.Errorf("AUTH_TIMEOUT must be positive")
	}
	if c.TypingTimeout <= 0 {
		return fmt.Errorf("TYPING_TIMEOUT must be positive")
	}
	if c.OutboundQueueSize <= 0 {
		return fmt.Errorf("OUTBOUND_QUEUE_SIZE must be positive")
	}
	if c.MaxContentLength <= 0 {
		return fmt.Errorf("MAX_CONTENT_LENGTH must be positive")
	}
	if len([]rune(c.CensorChar)) != 1 {
		return fmt.Errorf("CENSOR_CHAR must be a single character")
	}
	return nil
}

// OIDCEnabled reports whether ID tokens should be verified against an issuer
// instead of the shared JWT secret.
func (c *Config) OIDCEnabled() bool {
	return c.OIDCIssuerURL != "" && c.OIDCClientID != ""
}
