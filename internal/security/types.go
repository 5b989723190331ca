package security

import (
	"context"
	"net/netip"
	"strings"
	"time"
)

// RequestLogEntry is one row of the request log: a login attempt, or an outbound email when
// SentEmail is set.
type RequestLogEntry struct {
	ID        string
	Email     string
	IP        netip.Addr
	Success   bool
	SentEmail bool
	CreatedAt time.Time
}

// IsLogin reports whether the entry records a login attempt.
func (e RequestLogEntry) IsLogin() bool { return !e.SentEmail }

// IsLoginFailure reports whether the entry records a failed login attempt.
func (e RequestLogEntry) IsLoginFailure() bool { return e.IsLogin() && !e.Success }

// RequestStats aggregates request log entries for one email address or one IP.
type RequestStats struct {
	RequestAmount  int
	SentEmails     int
	LoginFailures  int
	LoginSuccesses int
	LastLoginAt    time.Time
	LastEmailAt    time.Time
}

// Add folds one entry into the stats.
func (s *RequestStats) Add(e RequestLogEntry) {
	s.RequestAmount++
	if e.SentEmail {
		s.SentEmails++
		if e.CreatedAt.After(s.LastEmailAt) {
			s.LastEmailAt = e.CreatedAt
		}
		return
	}
	if e.Success {
		s.LoginSuccesses++
	} else {
		s.LoginFailures++
	}
	if e.CreatedAt.After(s.LastLoginAt) {
		s.LastLoginAt = e.CreatedAt
	}
}

// LoginSummary counts site-wide login attempts over a window.
type LoginSummary struct {
	Total    int
	Failures int
}

// Successes is the number of successful attempts in the summary.
func (s LoginSummary) Successes() int { return s.Total - s.Failures }

// RequestStore reads and appends the request log. Implementations must be safe for
// concurrent use.
type RequestStore interface {
	StatsForEmailAndIP(ctx context.Context, email string, ip netip.Addr, since time.Time) (byEmail, byIP RequestStats, err error)
	GlobalLoginSummary(ctx context.Context, since time.Time) (LoginSummary, error)
	GlobalSentEmailAmount(ctx context.Context, since time.Time) (int, error)
	Append(ctx context.Context, entry RequestLogEntry) error
}

// CaptchaVerifier validates a captcha token presented with a request.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token string, action SecurityType) (bool, error)
}

// NormalizeEmail is the canonical form used as the email dimension key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// PackIP returns the compact binary form of ip (4 bytes for IPv4, 16 for IPv6).
func PackIP(ip netip.Addr) []byte {
	if !ip.IsValid() {
		return nil
	}
	return ip.Unmap().AsSlice()
}

// UnpackIP reverses PackIP. Invalid input yields the zero Addr.
func UnpackIP(b []byte) netip.Addr {
	ip, ok := netip.AddrFromSlice(b)
	if !ok {
		return netip.Addr{}
	}
	return ip
}
