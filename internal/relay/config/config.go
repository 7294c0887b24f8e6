package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "voltlink/libs/config"
)

// Config defines relay configuration. The relay is the only process that
// holds the upstream API key; the mobile client never sees it.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"RELAY_HTTP_PORT"`
	} `yaml:"http"`
	Upstream struct {
		BaseURL string        `yaml:"baseUrl" env:"UPSTREAM_BASE_URL"`
		APIKey  string        `yaml:"apiKey" env:"UPSTREAM_API_KEY"`
		Timeout time.Duration `yaml:"timeout" env:"UPSTREAM_HTTP_TIMEOUT"`
	} `yaml:"upstream"`
	Auth struct {
		JWTSecret string        `yaml:"jwtSecret" env:"RELAY_JWT_SECRET"`
		TokenTTL  time.Duration `yaml:"tokenTtl" env:"RELAY_TOKEN_TTL"`
		// AppID and AppSecretHash identify the mobile app build allowed to
		// request tokens. The hash is bcrypt; generate with relay -hash-secret.
		AppID         string `yaml:"appId" env:"RELAY_APP_ID"`
		AppSecretHash string `yaml:"appSecretHash" env:"RELAY_APP_SECRET_HASH"`
	} `yaml:"auth"`
	Redis struct {
		Addr      string        `yaml:"addr" env:"RELAY_REDIS_ADDR"`
		Password  string        `yaml:"password" env:"RELAY_REDIS_PASSWORD"`
		ActiveTTL time.Duration `yaml:"activeTtl" env:"RELAY_ACTIVE_SESSION_TTL"`
	} `yaml:"redis"`
	Postgres struct {
		DSN string `yaml:"dsn" env:"RELAY_POSTGRES_DSN"`
	} `yaml:"postgres"`
}

// Load configuration via the shared helper.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8090"

	if err := libconfig.Load(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Upstream.BaseURL) == "" {
		return nil, errors.New("config: upstream base url required")
	}
	if strings.TrimSpace(cfg.Upstream.APIKey) == "" {
		return nil, errors.New("config: upstream api key required")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("config: jwt secret required")
	}
	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8090"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// UpstreamTimeout returns the upstream request timeout for non-streaming calls.
func (c *Config) UpstreamTimeout() time.Duration {
	if c.Upstream.Timeout <= 0 {
		return 15 * time.Second
	}
	return c.Upstream.Timeout
}

// TokenTTL returns how long issued tokens stay valid.
func (c *Config) TokenTTL() time.Duration {
	if c.Auth.TokenTTL <= 0 {
		return 12 * time.Hour
	}
	return c.Auth.TokenTTL
}

// ActiveSessionTTL returns the cache TTL for active-session lookups.
func (c *Config) ActiveSessionTTL() time.Duration {
	if c.Redis.ActiveTTL <= 0 {
		return 10 * time.Second
	}
	return c.Redis.ActiveTTL
}
