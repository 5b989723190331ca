package memory

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"clientdesk.org/internal/ids"
	"clientdesk.org/internal/security"
)

// RequestLog is an in-process request log for single-instance deployments and tests.
type RequestLog struct {
	mu      sync.RWMutex
	entries []security.RequestLogEntry
}

var _ security.RequestStore = (*RequestLog)(nil)

// NewRequestLog returns an empty log.
func NewRequestLog() *RequestLog {
	return &RequestLog{}
}

func (l *RequestLog) Append(_ context.Context, e security.RequestLogEntry) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.Email = security.NormalizeEmail(e.Email)
	e.IP = e.IP.Unmap()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

func (l *RequestLog) StatsForEmailAndIP(_ context.Context, email string, ip netip.Addr, since time.Time) (security.RequestStats, security.RequestStats, error) {
	email = security.NormalizeEmail(email)
	ip = ip.Unmap()

	l.mu.RLock()
	defer l.mu.RUnlock()
	var byEmail, byIP security.RequestStats
	for _, e := range l.entries {
		if e.CreatedAt.Before(since) {
			continue
		}
		if e.Email == email {
			byEmail.Add(e)
		}
		if ip.IsValid() && e.IP == ip {
			byIP.Add(e)
		}
	}
	return byEmail, byIP, nil
}

func (l *RequestLog) GlobalLoginSummary(_ context.Context, since time.Time) (security.LoginSummary, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out security.LoginSummary
	for _, e := range l.entries {
		if !e.IsLogin() || e.CreatedAt.Before(since) {
			continue
		}
		out.Total++
		if !e.Success {
			out.Failures++
		}
	}
	return out, nil
}

func (l *RequestLog) GlobalSentEmailAmount(_ context.Context, since time.Time) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, e := range l.entries {
		if e.SentEmail && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// Prune drops entries created before the given time.
func (l *RequestLog) Prune(_ context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.entries[:0]
	for _, e := range l.entries {
		if !e.CreatedAt.Before(before) {
			kept = append(kept, e)
		}
	}
	removed := int64(len(l.entries) - len(kept))
	l.entries = kept
	return removed, nil
}

// Len returns the number of stored entries.
func (l *RequestLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
