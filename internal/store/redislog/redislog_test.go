package redislog

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clientdesk.org/internal/security"
)

var (
	now = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	ip  = netip.MustParseAddr("192.0.2.10")
)

func setupStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	s, err := New(rdb, opts...)
	require.NoError(t, err)
	return s, mr
}

func TestAppendAndStats(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()

	entries := []security.RequestLogEntry{
		{ID: "1", Email: "a@x.io", IP: ip, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "2", Email: "a@x.io", IP: ip, CreatedAt: now.Add(-time.Minute)},
		{ID: "3", Email: "A@x.io", IP: ip, Success: true, CreatedAt: now},
		{ID: "4", Email: "b@x.io", IP: ip, SentEmail: true, CreatedAt: now.Add(-30 * time.Second)},
	}
	for _, e := range entries {
		require.NoError(t, s.Append(ctx, e))
	}
	assert.True(t, mr.Exists("reqlog:email:a@x.io"))
	assert.True(t, mr.Exists("reqlog:ip:192.0.2.10"))

	byEmail, byIP, err := s.StatsForEmailAndIP(ctx, "a@x.io", ip, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, byEmail.RequestAmount)
	assert.Equal(t, 1, byEmail.LoginFailures)
	assert.Equal(t, 1, byEmail.LoginSuccesses)
	assert.Equal(t, now, byEmail.LastLoginAt)
	assert.Equal(t, 3, byIP.RequestAmount)
	assert.Equal(t, 1, byIP.SentEmails)
	assert.Equal(t, now.Add(-30*time.Second), byIP.LastEmailAt)
}

func TestGlobalCounters(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	for i, success := range []bool{false, false, true, false} {
		require.NoError(t, s.Append(ctx, security.RequestLogEntry{
			ID: string(rune('a' + i)), Email: "u@x.io", IP: ip, Success: success, CreatedAt: now.Add(time.Duration(-i) * time.Minute),
		}))
	}
	require.NoError(t, s.Append(ctx, security.RequestLogEntry{ID: "m1", Email: "u@x.io", SentEmail: true, CreatedAt: now.Add(-25 * time.Hour)}))
	require.NoError(t, s.Append(ctx, security.RequestLogEntry{ID: "m2", Email: "u@x.io", SentEmail: true, CreatedAt: now}))

	sum, err := s.GlobalLoginSummary(ctx, now.Add(-2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, security.LoginSummary{Total: 3, Failures: 2}, sum)

	daily, err := s.GlobalSentEmailAmount(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, daily)

	monthly, err := s.GlobalSentEmailAmount(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, monthly)
}

func TestAppendTrimsBeyondRetention(t *testing.T) {
	s, mr := setupStore(t, WithRetention(time.Hour), WithPrefix("test"))
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, security.RequestLogEntry{ID: "old", Email: "a@x.io", CreatedAt: now.Add(-3 * time.Hour)}))
	require.NoError(t, s.Append(ctx, security.RequestLogEntry{ID: "new", Email: "a@x.io", CreatedAt: now}))

	members, err := mr.ZMembers("test:email:a@x.io")
	require.NoError(t, err)
	assert.Equal(t, []string{"new:f"}, members)
	assert.Equal(t, time.Hour, mr.TTL("test:email:a@x.io"))
}

func TestChecksAgainstRedis(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	settings := security.DefaultSettings()
	settings.LoginThrottleRules = security.ThrottleRules{{Threshold: 3, Delay: security.Seconds(60)}}

	checker, err := security.NewLoginChecker(s, settings, security.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, checker.CheckLogin(ctx, "a@x.io", ip, ""))
		require.NoError(t, s.Append(ctx, security.RequestLogEntry{Email: "a@x.io", IP: ip, CreatedAt: now.Add(-10 * time.Second)}))
	}
	err = checker.CheckLogin(ctx, "a@x.io", ip, "")
	te, ok := security.AsThrottle(err)
	require.True(t, ok)
	assert.Equal(t, 50, te.Delay.Seconds())
}

func TestRedisErrors(t *testing.T) {
	s, mr := setupStore(t)
	mr.Close()

	_, _, err := s.StatsForEmailAndIP(context.Background(), "a@x.io", ip, now)
	assert.Error(t, err)
	assert.Error(t, s.Append(context.Background(), security.RequestLogEntry{Email: "a@x.io"}))
	assert.Error(t, s.Ping(context.Background()))
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilClient)

	_, err = Dial("not a url")
	assert.Error(t, err)
}
