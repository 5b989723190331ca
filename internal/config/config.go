package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"clientdesk.org/internal/security"
)

var ErrInvalid = errors.New("config: invalid")

// Config holds the service configuration read from CLIENTDESK_* variables.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Auth     AuthConfig
	Captcha  CaptchaConfig
	LogLevel string
	Security security.Settings
}

type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    float64
	RateLimitBurst  int
	TrustedProxies  []netip.Prefix
	MaxBodyBytes    int64
}

// StorageConfig selects the request log backend: Postgres when PGDSN is set, Redis when
// RedisURL is set, memory otherwise. Users and roles always come from Postgres when it is
// configured.
type StorageConfig struct {
	PGDSN               string
	RedisURL            string
	RequestLogRetention time.Duration
}

type AuthConfig struct {
	Secret   string
	TokenTTL time.Duration
}

type CaptchaConfig struct {
	Secret     string
	VerifyURL  string
	MinScore   float64
	ReplaySize int
}

// Load reads the environment and, when CLIENTDESK_SECURITY_FILE is set, the security YAML.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("CLIENTDESK_ADDR", ":8080"),
			ReadTimeout:     getEnvDuration("CLIENTDESK_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("CLIENTDESK_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("CLIENTDESK_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("CLIENTDESK_SHUTDOWN_TIMEOUT", 10*time.Second),
			RateLimitRPS:    getEnvFloat("CLIENTDESK_RATE_LIMIT_RPS", 20),
			RateLimitBurst:  getEnvInt("CLIENTDESK_RATE_LIMIT_BURST", 40),
			MaxBodyBytes:    int64(getEnvInt("CLIENTDESK_MAX_BODY_BYTES", 1<<20)),
		},
		Storage: StorageConfig{
			PGDSN:               os.Getenv("CLIENTDESK_PG_DSN"),
			RedisURL:            os.Getenv("CLIENTDESK_REDIS_URL"),
			RequestLogRetention: getEnvDuration("CLIENTDESK_REQUEST_LOG_RETENTION", 31*24*time.Hour),
		},
		Auth: AuthConfig{
			Secret:   os.Getenv("CLIENTDESK_AUTH_SECRET"),
			TokenTTL: getEnvDuration("CLIENTDESK_TOKEN_TTL", 12*time.Hour),
		},
		Captcha: CaptchaConfig{
			Secret:     os.Getenv("CLIENTDESK_RECAPTCHA_SECRET"),
			VerifyURL:  os.Getenv("CLIENTDESK_RECAPTCHA_URL"),
			MinScore:   getEnvFloat("CLIENTDESK_RECAPTCHA_MIN_SCORE", 0.5),
			ReplaySize: getEnvInt("CLIENTDESK_RECAPTCHA_REPLAY_SIZE", 4096),
		},
		LogLevel: getEnv("CLIENTDESK_LOG_LEVEL", "info"),
		Security: security.DefaultSettings(),
	}

	proxies, err := ParsePrefixes(os.Getenv("CLIENTDESK_TRUSTED_PROXIES"))
	if err != nil {
		return nil, err
	}
	cfg.Server.TrustedProxies = proxies

	if path := strings.TrimSpace(os.Getenv("CLIENTDESK_SECURITY_FILE")); path != "" {
		settings, err := LoadSecurityFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Security = settings
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("%w: CLIENTDESK_ADDR is empty", ErrInvalid)
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return fmt.Errorf("%w: CLIENTDESK_AUTH_SECRET is required", ErrInvalid)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("%w: CLIENTDESK_TOKEN_TTL must be positive", ErrInvalid)
	}
	if c.Server.RateLimitRPS <= 0 || c.Server.RateLimitBurst <= 0 {
		return fmt.Errorf("%w: rate limit must be positive", ErrInvalid)
	}
	if c.Captcha.MinScore < 0 || c.Captcha.MinScore > 1 {
		return fmt.Errorf("%w: CLIENTDESK_RECAPTCHA_MIN_SCORE must be within 0..1", ErrInvalid)
	}
	// The request log must cover the monthly email window.
	if c.Storage.RequestLogRetention < 30*24*time.Hour {
		return fmt.Errorf("%w: CLIENTDESK_REQUEST_LOG_RETENTION must cover 30 days", ErrInvalid)
	}
	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("%w: security: %v", ErrInvalid, err)
	}
	return nil
}

// LoadSecurityFile reads abuse-check settings from YAML. Keys left out keep their defaults.
func LoadSecurityFile(path string) (security.Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return security.Settings{}, fmt.Errorf("read security file: %w", err)
	}
	return ParseSecurity(raw)
}

// ParseSecurity decodes YAML on top of security.DefaultSettings.
func ParseSecurity(raw []byte) (security.Settings, error) {
	doc := struct {
		Security security.Settings `yaml:"security"`
	}{Security: security.DefaultSettings()}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return security.Settings{}, fmt.Errorf("%w: security file: %v", ErrInvalid, err)
	}
	settings := doc.Security
	if err := settings.Validate(); err != nil {
		return security.Settings{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return settings, nil
}

// ParsePrefixes parses a comma separated list of CIDR prefixes or single addresses.
func ParsePrefixes(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "/") {
			addr, err := netip.ParseAddr(part)
			if err != nil {
				return nil, fmt.Errorf("%w: trusted proxy %q: %v", ErrInvalid, part, err)
			}
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(part)
		if err != nil {
			return nil, fmt.Errorf("%w: trusted proxy %q: %v", ErrInvalid, part, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}
