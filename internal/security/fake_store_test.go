package security

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"time"
)

type fakeStore struct {
	mu      sync.Mutex
	entries []RequestLogEntry
	err     error
	calls   []string
}

func (s *fakeStore) add(e RequestLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *fakeStore) StatsForEmailAndIP(_ context.Context, email string, ip netip.Addr, since time.Time) (RequestStats, RequestStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "stats")
	if s.err != nil {
		return RequestStats{}, RequestStats{}, s.err
	}
	var byEmail, byIP RequestStats
	for _, e := range s.entries {
		if e.CreatedAt.Before(since) {
			continue
		}
		if e.Email == email {
			byEmail.Add(e)
		}
		if e.IP == ip {
			byIP.Add(e)
		}
	}
	return byEmail, byIP, nil
}

func (s *fakeStore) GlobalLoginSummary(_ context.Context, since time.Time) (LoginSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "global_login")
	if s.err != nil {
		return LoginSummary{}, s.err
	}
	var sum LoginSummary
	for _, e := range s.entries {
		if e.CreatedAt.Before(since) || !e.IsLogin() {
			continue
		}
		sum.Total++
		if !e.Success {
			sum.Failures++
		}
	}
	return sum, nil
}

func (s *fakeStore) GlobalSentEmailAmount(_ context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "global_email:"+since.UTC().Format(time.RFC3339))
	if s.err != nil {
		return 0, s.err
	}
	n := 0
	for _, e := range s.entries {
		if e.SentEmail && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Append(_ context.Context, e RequestLogEntry) error {
	s.add(e)
	return nil
}

type stubCaptcha struct {
	valid bool
	err   error
	seen  []string
}

func (c *stubCaptcha) Verify(_ context.Context, token string, _ SecurityType) (bool, error) {
	c.seen = append(c.seen, token)
	return c.valid, c.err
}

var errBoom = errors.New("boom")

var (
	fixedNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	clientIP = netip.MustParseAddr("203.0.113.7")
	otherIP  = netip.MustParseAddr("198.51.100.9")
)

func clock() func() time.Time { return func() time.Time { return fixedNow } }
