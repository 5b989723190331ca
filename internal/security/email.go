package security

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	day   = 24 * time.Hour
	month = 30 * day
)

// EmailChecker decides whether an outbound email may be sent on behalf of a request.
type EmailChecker struct {
	checker
}

// NewEmailChecker validates settings and returns a checker reading from store.
func NewEmailChecker(store RequestStore, settings Settings, opts ...Option) (*EmailChecker, error) {
	c, err := newChecker(store, settings, opts)
	if err != nil {
		return nil, err
	}
	return &EmailChecker{checker: c}, nil
}

// CheckEmail returns a *ThrottleError when sending to email on behalf of ip must be delayed
// or requires a captcha.
func (c *EmailChecker) CheckEmail(ctx context.Context, email string, ip netip.Addr, captchaToken string) error {
	if !c.settings.ThrottleEmail {
		return nil
	}
	if ok, err := c.verifyCaptcha(ctx, captchaToken, TypeUserEmail); ok || err != nil {
		return err
	}
	if err := c.checkIndividual(ctx, NormalizeEmail(email), ip); err != nil {
		return err
	}
	return c.checkGlobal(ctx)
}

func (c *EmailChecker) checkIndividual(ctx context.Context, email string, ip netip.Addr) error {
	now := c.now()
	byEmail, byIP, err := c.store.StatsForEmailAndIP(ctx, email, ip, now.Add(-c.settings.Timespan))
	if err != nil {
		return fmt.Errorf("security: load email stats: %w", err)
	}
	dims := []struct {
		name  string
		stats RequestStats
	}{
		{"email", byEmail},
		{"ip", byIP},
	}
	for _, d := range dims {
		delay, throttled := c.settings.UserEmailThrottleRules.Evaluate(d.stats.SentEmails, d.stats.LastEmailAt, now)
		if !throttled {
			continue
		}
		return c.reject(ctx, &ThrottleError{
			Type:   TypeUserEmail,
			Delay:  delay,
			Reason: "Too many emails requested.",
		}, logrus.Fields{
			"dimension":   d.name,
			"sent_emails": d.stats.SentEmails,
			"email":       email,
			"ip":          ip.String(),
		})
	}
	return nil
}

// checkGlobal tests the daily threshold before the monthly one.
func (c *EmailChecker) checkGlobal(ctx context.Context) error {
	now := c.now()
	windows := []struct {
		name      string
		threshold int
		since     time.Time
		reason    string
	}{
		{"daily", c.settings.GlobalDailyEmailThreshold, now.Add(-day), "Maximum amount of unrestricted email sending daily reached site-wide."},
		{"monthly", c.settings.GlobalMonthlyEmailThreshold, now.Add(-month), "Maximum amount of unrestricted email sending monthly reached site-wide."},
	}
	for _, w := range windows {
		if w.threshold <= 0 {
			continue
		}
		sent, err := c.store.GlobalSentEmailAmount(ctx, w.since)
		if err != nil {
			return fmt.Errorf("security: load %s email amount: %w", w.name, err)
		}
		if sent < w.threshold {
			continue
		}
		return c.reject(ctx, &ThrottleError{Type: TypeGlobalEmail, Delay: Captcha, Reason: w.reason}, logrus.Fields{
			"window":    w.name,
			"sent":      sent,
			"threshold": w.threshold,
		})
	}
	return nil
}
