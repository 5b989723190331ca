package security

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"clientdesk.org/internal/obs"
)

// Option configures a checker.
type Option func(*checker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *checker) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCaptcha sets the verifier consulted for captcha tokens. Without one, tokens are ignored.
func WithCaptcha(v CaptchaVerifier) Option {
	return func(c *checker) {
		c.captcha = v
	}
}

type checker struct {
	store    RequestStore
	settings Settings
	captcha  CaptchaVerifier
	now      func() time.Time
}

func newChecker(store RequestStore, settings Settings, opts []Option) (checker, error) {
	if store == nil {
		return checker{}, ErrStoreRequired
	}
	if err := settings.Validate(); err != nil {
		return checker{}, err
	}
	c := checker{
		store:    store,
		settings: settings,
		now:      time.Now,
	}
	c.settings.LoginThrottleRules = settings.LoginThrottleRules.Sorted()
	c.settings.UserEmailThrottleRules = settings.UserEmailThrottleRules.Sorted()
	for _, opt := range opts {
		opt(&c)
	}
	return c, nil
}

// Settings returns the validated configuration.
func (c checker) Settings() Settings { return c.settings }

// verifyCaptcha reports whether a valid token was presented. A rejected token is a throttle
// error of its own; a verifier failure falls back to the regular checks.
func (c checker) verifyCaptcha(ctx context.Context, token string, t SecurityType) (bool, error) {
	if token == "" || c.captcha == nil {
		return false, nil
	}
	ok, err := c.captcha.Verify(ctx, token, t)
	if err != nil {
		obs.FromContext(ctx).WithError(err).WithField("security_type", string(t)).Warn("captcha verification unavailable")
		return false, nil
	}
	if !ok {
		return false, c.reject(ctx, &ThrottleError{Type: t, Delay: Captcha, Reason: "Captcha verification failed."}, nil)
	}
	return true, nil
}

func (c checker) reject(ctx context.Context, te *ThrottleError, fields logrus.Fields) error {
	obs.ObserveThrottle(string(te.Type))
	obs.FromContext(ctx).
		WithFields(fields).
		WithFields(logrus.Fields{
			"security_type":   string(te.Type),
			"remaining_delay": te.Delay.String(),
		}).
		Warn(te.Reason)
	return te
}
