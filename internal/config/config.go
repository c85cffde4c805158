// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration. It is loaded once at startup and
// passed to the components that need it; required fields missing from the
// environment abort startup.
type Config struct {
	Server struct {
		Addr            string        `env:"SERVER_ADDR,default=:8080"`
		ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT,default=15s"`
		WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT,default=30s"`
		ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=10s"`
	}

	Database struct {
		URL string `env:"DATABASE_URL,required"`
	}

	Session struct {
		Secret string        `env:"SESSION_SECRET,required"`
		TTL    time.Duration `env:"SESSION_TTL,default=720h"`
		Issuer string        `env:"SESSION_ISSUER,default=plantree"`
	}

	Chain struct {
		RPCURL    string        `env:"CHAIN_RPC_URL,required"`
		ChainID   string        `env:"CHAIN_ID,default=894710606"`
		SpaceHash string        `env:"SPACE_CONTRACT_HASH,required"`
		NameHash  string        `env:"NAME_SERVICE_HASH"`
		PlanIndex int64         `env:"SUBSCRIPTION_PLAN_INDEX,default=0"`
		Timeout   time.Duration `env:"CHAIN_TIMEOUT,default=30s"`
	}

	Provider struct {
		AppID     string `env:"WALLET_PROVIDER_APP_ID"`
		AppSecret string `env:"WALLET_PROVIDER_APP_SECRET"`
		VerifyURL string `env:"WALLET_PROVIDER_VERIFY_URL,default=https://auth.privy.io/api/v1/verify"`
	}

	Google struct {
		ClientID     string `env:"GOOGLE_CLIENT_ID"`
		ClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	}

	Blob struct {
		Endpoint   string `env:"BLOB_ENDPOINT"`
		Bucket     string `env:"BLOB_BUCKET,default=uploads"`
		ServiceKey string `env:"BLOB_SERVICE_KEY"`
	}

	Redis struct {
		Addr     string `env:"REDIS_ADDR"`
		Password string `env:"REDIS_PASSWORD"`
		DB       int    `env:"REDIS_DB,default=0"`
	}

	HTTP struct {
		AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:3000;http://localhost:5173"`
		RateLimit      float64  `env:"RATE_LIMIT_RPS,default=20"`
		RateBurst      int      `env:"RATE_LIMIT_BURST,default=40"`
	}

	Redirect struct {
		Error  string `env:"OAUTH_ERROR_REDIRECT,default=/error"`
		Backup string `env:"OAUTH_BACKUP_REDIRECT,default=/~/backup"`
	}

	Logging struct {
		Level string `env:"LOG_LEVEL,default=info"`
	}
}

// Load reads configuration from the environment. A .env file is honored for
// local runs and silently skipped when absent.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// BlobConfigured reports whether object storage credentials are present.
// The upload endpoint refuses requests without them.
func (c *Config) BlobConfigured() bool {
	return c.Blob.Endpoint != "" && c.Blob.ServiceKey != ""
}
