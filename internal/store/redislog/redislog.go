// Package redislog keeps the request log in Redis sorted sets so several API instances share
// one view of login and email activity.
package redislog

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"clientdesk.org/internal/ids"
	"clientdesk.org/internal/security"
)

const (
	defaultPrefix    = "reqlog"
	defaultRetention = 31 * 24 * time.Hour

	kindSuccess = "s"
	kindFailure = "f"
	kindEmail   = "e"
)

var ErrNilClient = errors.New("redislog: redis client is required")

// Store implements security.RequestStore. Each entry is a sorted-set member scored by its
// creation time in milliseconds, written to the email key, the IP key and one global key.
type Store struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
}

var _ security.RequestStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key namespace.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRetention bounds how long entries are kept. It must cover the longest window the
// checkers query.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// New wraps rdb.
func New(rdb redis.UniversalClient, opts ...Option) (*Store, error) {
	if rdb == nil {
		return nil, ErrNilClient
	}
	s := &Store{rdb: rdb, prefix: defaultPrefix, retention: defaultRetention}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dial parses a redis:// URL and returns a Store using it.
func Dial(url string, opts ...Option) (*Store, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redislog: parse url: %w", err)
	}
	return New(redis.NewClient(o), opts...)
}

// Ping reports whether Redis answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the client.
func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) emailKey(email string) string {
	return s.prefix + ":email:" + security.NormalizeEmail(email)
}

func (s *Store) ipKey(ip netip.Addr) string {
	return s.prefix + ":ip:" + ip.Unmap().String()
}

func (s *Store) loginKey() string { return s.prefix + ":global:login" }

func (s *Store) emailSentKey() string { return s.prefix + ":global:email" }

func score(t time.Time) float64 { return float64(t.UnixMilli()) }

func minScore(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

func entryKind(e security.RequestLogEntry) string {
	switch {
	case e.SentEmail:
		return kindEmail
	case e.Success:
		return kindSuccess
	default:
		return kindFailure
	}
}

// Append writes the entry to every key it belongs to and trims expired members.
func (s *Store) Append(ctx context.Context, e security.RequestLogEntry) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	member := &redis.Z{Score: score(e.CreatedAt), Member: e.ID + ":" + entryKind(e)}
	keys := []string{s.emailKey(e.Email)}
	if e.IP.IsValid() {
		keys = append(keys, s.ipKey(e.IP))
	}
	if e.SentEmail {
		keys = append(keys, s.emailSentKey())
	} else {
		keys = append(keys, s.loginKey())
	}
	cutoff := "(" + minScore(e.CreatedAt.Add(-s.retention))

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.ZAdd(ctx, key, member)
			pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
			pipe.Expire(ctx, key, s.retention)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redislog: append: %w", err)
	}
	return nil
}

func (s *Store) StatsForEmailAndIP(ctx context.Context, email string, ip netip.Addr, since time.Time) (security.RequestStats, security.RequestStats, error) {
	byEmail, err := s.stats(ctx, s.emailKey(email), since)
	if err != nil {
		return security.RequestStats{}, security.RequestStats{}, err
	}
	var byIP security.RequestStats
	if ip.IsValid() {
		if byIP, err = s.stats(ctx, s.ipKey(ip), since); err != nil {
			return security.RequestStats{}, security.RequestStats{}, err
		}
	}
	return byEmail, byIP, nil
}

func (s *Store) stats(ctx context.Context, key string, since time.Time) (security.RequestStats, error) {
	members, err := s.rdb.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: minScore(since), Max: "+inf"}).Result()
	if err != nil {
		return security.RequestStats{}, fmt.Errorf("redislog: stats %s: %w", key, err)
	}
	var out security.RequestStats
	for _, z := range members {
		out.Add(decode(z))
	}
	return out, nil
}

func decode(z redis.Z) security.RequestLogEntry {
	member, _ := z.Member.(string)
	e := security.RequestLogEntry{CreatedAt: time.UnixMilli(int64(z.Score)).UTC()}
	id, kind, _ := strings.Cut(member, ":")
	e.ID = id
	switch kind {
	case kindEmail:
		e.SentEmail = true
	case kindSuccess:
		e.Success = true
	}
	return e
}

func (s *Store) GlobalLoginSummary(ctx context.Context, since time.Time) (security.LoginSummary, error) {
	members, err := s.rdb.ZRangeByScore(ctx, s.loginKey(), &redis.ZRangeBy{Min: minScore(since), Max: "+inf"}).Result()
	if err != nil {
		return security.LoginSummary{}, fmt.Errorf("redislog: global login summary: %w", err)
	}
	out := security.LoginSummary{Total: len(members)}
	for _, m := range members {
		if strings.HasSuffix(m, ":"+kindFailure) {
			out.Failures++
		}
	}
	return out, nil
}

func (s *Store) GlobalSentEmailAmount(ctx context.Context, since time.Time) (int, error) {
	n, err := s.rdb.ZCount(ctx, s.emailSentKey(), minScore(since), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redislog: global sent emails: %w", err)
	}
	return int(n), nil
}
