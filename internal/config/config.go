package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mr9733n/blog-site/internal/pkg/jwt"
)

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"
	defaultPort       = 5001
	defaultEnv        = "development"
	defaultDSN        = "root:password@tcp(127.0.0.1:3306)/blog?charset=utf8mb4&parseTime=True&loc=Local"
	defaultRedisURL   = "redis://localhost:6379/0"
)

// AppConfig holds runtime startup configuration loaded from YAML,
// with environment variable overrides applied on top.
type AppConfig struct {
	Port           int        `yaml:"port"`
	DSN            string     `yaml:"dsn"` // MySQL DSN
	RedisURL       string     `yaml:"redis_url"`
	Env            string     `yaml:"env"` // "development" | "production"
	JWTSecret      string     `yaml:"jwt_secret"`
	AllowedOrigins []string   `yaml:"allowed_origins"`
	Auth           AuthConfig `yaml:"auth"`
}

// AuthConfig controls token and session defaults. Lifetimes are in
// seconds and are clamped into the allowed ranges on load.
type AuthConfig struct {
	AccessTokenTTL  int    `yaml:"access_token_ttl"`
	RefreshTokenTTL int    `yaml:"refresh_token_ttl"`
	MaxInactivity   int    `yaml:"max_inactivity"`
	CookieSecure    bool   `yaml:"cookie_secure"`
	CookieSameSite  string `yaml:"cookie_samesite"` // "strict" | "lax" | "none"
	RateLimit       int    `yaml:"rate_limit"`      // requests per minute per IP, 0 disables
}

// Load reads YAML config from path (missing file is fine, defaults apply)
// and then applies environment overrides.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{
		Port:     defaultPort,
		DSN:      defaultDSN,
		RedisURL: defaultRedisURL,
		Env:      defaultEnv,
		Auth: AuthConfig{
			AccessTokenTTL:  jwt.DefaultAccessTTL,
			RefreshTokenTTL: jwt.DefaultRefreshTTL,
			MaxInactivity:   3600,
			CookieSameSite:  "strict",
			RateLimit:       120,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

func (c *AppConfig) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.DSN = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("ACCESS_TOKEN_TTL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Auth.AccessTokenTTL = n
		}
	}
	if v := os.Getenv("REFRESH_TOKEN_TTL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Auth.RefreshTokenTTL = n
		}
	}
	if v := os.Getenv("MAX_INACTIVITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Auth.MaxInactivity = n
		}
	}
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		c.Auth.CookieSecure = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("COOKIE_SAMESITE"); v != "" {
		c.Auth.CookieSameSite = strings.ToLower(v)
	}
}

func (c *AppConfig) normalize() {
	c.Auth.AccessTokenTTL = jwt.ClampAccessTTL(c.Auth.AccessTokenTTL)
	c.Auth.RefreshTokenTTL = jwt.ClampRefreshTTL(c.Auth.RefreshTokenTTL)
	if c.Auth.MaxInactivity <= 0 {
		c.Auth.MaxInactivity = 3600
	}
	switch c.Auth.CookieSameSite {
	case "strict", "lax", "none":
	default:
		c.Auth.CookieSameSite = "strict"
	}
}

// IsDev reports whether the app runs in development mode.
func (c *AppConfig) IsDev() bool {
	return !strings.EqualFold(c.Env, "production")
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
