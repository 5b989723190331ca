package security

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/sirupsen/logrus"
)

// LoginChecker decides whether a login attempt may proceed.
type LoginChecker struct {
	checker
}

// NewLoginChecker validates settings and returns a checker reading from store.
func NewLoginChecker(store RequestStore, settings Settings, opts ...Option) (*LoginChecker, error) {
	c, err := newChecker(store, settings, opts)
	if err != nil {
		return nil, err
	}
	return &LoginChecker{checker: c}, nil
}

// CheckLogin returns a *ThrottleError when the attempt from email and ip must be delayed or
// requires a captcha. Other errors come from the request store.
func (c *LoginChecker) CheckLogin(ctx context.Context, email string, ip netip.Addr, captchaToken string) error {
	if !c.settings.ThrottleLogin {
		return nil
	}
	if ok, err := c.verifyCaptcha(ctx, captchaToken, TypeUserLogin); ok || err != nil {
		return err
	}
	if err := c.checkIndividual(ctx, NormalizeEmail(email), ip); err != nil {
		return err
	}
	return c.checkGlobal(ctx)
}

func (c *LoginChecker) checkIndividual(ctx context.Context, email string, ip netip.Addr) error {
	now := c.now()
	byEmail, byIP, err := c.store.StatsForEmailAndIP(ctx, email, ip, now.Add(-c.settings.Timespan))
	if err != nil {
		return fmt.Errorf("security: load login stats: %w", err)
	}
	dims := []struct {
		name  string
		stats RequestStats
	}{
		{"email", byEmail},
		{"ip", byIP},
	}
	for _, d := range dims {
		delay, throttled := c.settings.LoginThrottleRules.Evaluate(d.stats.LoginFailures, d.stats.LastLoginAt, now)
		if !throttled {
			continue
		}
		reason := "Too many failed login attempts."
		if delay.IsCaptcha() {
			reason = "Too many failed login attempts, captcha required."
		}
		return c.reject(ctx, &ThrottleError{Type: TypeUserLogin, Delay: delay, Reason: reason}, logrus.Fields{
			"dimension": d.name,
			"failures":  d.stats.LoginFailures,
			"email":     email,
			"ip":        ip.String(),
		})
	}
	return nil
}

func (c *LoginChecker) checkGlobal(ctx context.Context) error {
	pct := c.settings.LoginFailurePercentage
	if pct <= 0 {
		return nil
	}
	summary, err := c.store.GlobalLoginSummary(ctx, c.now().Add(-c.settings.Timespan))
	if err != nil {
		return fmt.Errorf("security: load global login summary: %w", err)
	}
	if summary.Total == 0 || summary.Total < c.settings.GlobalLoginMinRequests {
		return nil
	}
	if summary.Failures*100 < summary.Total*pct {
		return nil
	}
	return c.reject(ctx, &ThrottleError{
		Type:   TypeGlobalLogin,
		Delay:  Captcha,
		Reason: "Maximum rate of failed logins reached site-wide.",
	}, logrus.Fields{
		"total":    summary.Total,
		"failures": summary.Failures,
	})
}
