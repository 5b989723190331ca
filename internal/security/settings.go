package security

import (
	"fmt"
	"time"
)

// Settings holds the abuse-check configuration. A zero global email threshold disables that
// check.
type Settings struct {
	ThrottleLogin bool          `yaml:"throttle_login"`
	ThrottleEmail bool          `yaml:"throttle_email"`
	Timespan      time.Duration `yaml:"timespan"`

	LoginThrottleRules     ThrottleRules `yaml:"login_throttle_rules"`
	LoginFailurePercentage int           `yaml:"login_failure_percentage"`
	GlobalLoginMinRequests int           `yaml:"global_login_min_requests"`

	UserEmailThrottleRules      ThrottleRules `yaml:"user_email_throttle_rules"`
	GlobalDailyEmailThreshold   int           `yaml:"global_daily_email_threshold"`
	GlobalMonthlyEmailThreshold int           `yaml:"global_monthly_email_threshold"`
}

// DefaultSettings returns the configuration used when no security file is provided.
func DefaultSettings() Settings {
	return Settings{
		ThrottleLogin: true,
		ThrottleEmail: true,
		Timespan:      time.Hour,
		LoginThrottleRules: ThrottleRules{
			{Threshold: 4, Delay: Seconds(10)},
			{Threshold: 9, Delay: Seconds(120)},
			{Threshold: 12, Delay: Captcha},
		},
		LoginFailurePercentage: 20,
		GlobalLoginMinRequests: 20,
		UserEmailThrottleRules: ThrottleRules{
			{Threshold: 5, Delay: Seconds(2)},
			{Threshold: 10, Delay: Seconds(4)},
			{Threshold: 20, Delay: Captcha},
		},
		GlobalDailyEmailThreshold:   300,
		GlobalMonthlyEmailThreshold: 1000,
	}
}

// Validate reports the first configuration error. Callers treat it as fatal.
func (s Settings) Validate() error {
	if s.Timespan <= 0 {
		return fmt.Errorf("%w: timespan must be positive", ErrInvalidSettings)
	}
	if err := s.LoginThrottleRules.Validate(); err != nil {
		return fmt.Errorf("login_throttle_rules: %w", err)
	}
	if err := s.UserEmailThrottleRules.Validate(); err != nil {
		return fmt.Errorf("user_email_throttle_rules: %w", err)
	}
	if s.LoginFailurePercentage < 0 || s.LoginFailurePercentage > 100 {
		return fmt.Errorf("%w: login_failure_percentage must be within 0..100, got %d", ErrInvalidSettings, s.LoginFailurePercentage)
	}
	if s.GlobalLoginMinRequests < 0 {
		return fmt.Errorf("%w: global_login_min_requests must not be negative", ErrInvalidSettings)
	}
	if s.GlobalDailyEmailThreshold < 0 || s.GlobalMonthlyEmailThreshold < 0 {
		return fmt.Errorf("%w: global email thresholds must not be negative", ErrInvalidSettings)
	}
	return nil
}
