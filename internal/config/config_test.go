package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clientdesk.org/internal/security"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CLIENTDESK_AUTH_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, security.DefaultSettings(), cfg.Security)
	assert.Empty(t, cfg.Server.TrustedProxies)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("CLIENTDESK_AUTH_SECRET", "")

	_, err := Load()
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CLIENTDESK_AUTH_SECRET", "s3cret")
	t.Setenv("CLIENTDESK_ADDR", ":9090")
	t.Setenv("CLIENTDESK_TOKEN_TTL", "30m")
	t.Setenv("CLIENTDESK_RATE_LIMIT_RPS", "2.5")
	t.Setenv("CLIENTDESK_TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1")
	t.Setenv("CLIENTDESK_READ_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Auth.TokenTTL)
	assert.InDelta(t, 2.5, cfg.Server.RateLimitRPS, 0.001)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout, "unparsable values fall back to defaults")
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.1/32"),
	}, cfg.Server.TrustedProxies)
}

func TestLoadRejectsBadProxy(t *testing.T) {
	t.Setenv("CLIENTDESK_AUTH_SECRET", "s3cret")
	t.Setenv("CLIENTDESK_TRUSTED_PROXIES", "10.0.0.0/33")

	_, err := Load()
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadRejectsShortRetention(t *testing.T) {
	t.Setenv("CLIENTDESK_AUTH_SECRET", "s3cret")
	t.Setenv("CLIENTDESK_REQUEST_LOG_RETENTION", "24h")

	_, err := Load()
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseSecurity(t *testing.T) {
	src := []byte(`
security:
  throttle_email: false
  timespan: 30m
  login_throttle_rules:
    - threshold: 3
      delay: 5
    - threshold: 6
      delay: captcha
  global_daily_email_threshold: 50
`)
	s, err := ParseSecurity(src)
	require.NoError(t, err)

	defaults := security.DefaultSettings()
	assert.True(t, s.ThrottleLogin, "omitted keys keep their defaults")
	assert.False(t, s.ThrottleEmail)
	assert.Equal(t, 30*time.Minute, s.Timespan)
	require.Len(t, s.LoginThrottleRules, 2)
	assert.Equal(t, 5, s.LoginThrottleRules[0].Delay.Seconds())
	assert.True(t, s.LoginThrottleRules[1].Delay.IsCaptcha())
	assert.Equal(t, 50, s.GlobalDailyEmailThreshold)
	assert.Equal(t, defaults.GlobalMonthlyEmailThreshold, s.GlobalMonthlyEmailThreshold)
	assert.Equal(t, defaults.UserEmailThrottleRules, s.UserEmailThrottleRules)
}

func TestParseSecurityRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":    "security:\n  throttle_logins: true\n",
		"bad delay":      "security:\n  login_throttle_rules:\n    - threshold: 3\n      delay: later\n",
		"zero threshold": "security:\n  login_throttle_rules:\n    - threshold: 0\n      delay: 3\n",
		"bad percentage": "security:\n  login_failure_percentage: 120\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSecurity([]byte(src))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestParseSecurityEmpty(t *testing.T) {
	s, err := ParseSecurity(nil)
	require.NoError(t, err)
	assert.Equal(t, security.DefaultSettings(), s)
}

func TestLoadSecurityFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "security.yaml")
	require.NoError(t, os.WriteFile(path, []byte("security:\n  global_login_min_requests: 5\n"), 0o600))
	t.Setenv("CLIENTDESK_AUTH_SECRET", "s3cret")
	t.Setenv("CLIENTDESK_SECURITY_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Security.GlobalLoginMinRequests)

	_, err = LoadSecurityFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
