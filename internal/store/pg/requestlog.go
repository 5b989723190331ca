package pg

import (
	"context"
	"database/sql"
	"fmt"
	"net/netip"
	"time"

	"clientdesk.org/internal/ids"
	"clientdesk.org/internal/security"
)

const (
	loginSuccess = "success"
	loginFailure = "failure"
)

var _ security.RequestStore = (*Store)(nil)

// Append inserts one request log row. Login rows carry is_login, email rows sent_email.
func (s *Store) Append(ctx context.Context, e security.RequestLogEntry) error {
	if s.db == nil {
		return ErrUnavailable
	}
	id := e.ID
	if id == "" {
		id = ids.New()
	}
	var isLogin sql.NullString
	if e.IsLogin() {
		isLogin = sql.NullString{String: loginFailure, Valid: true}
		if e.Success {
			isLogin.String = loginSuccess
		}
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into request_track (id, email, ip_address, sent_email, is_login, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, id, security.NormalizeEmail(e.Email), security.PackIP(e.IP), e.SentEmail, isLogin, created.UTC())
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: request %s", ErrDuplicate, id)
		}
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// StatsForEmailAndIP aggregates rows since the given time for both dimensions.
func (s *Store) StatsForEmailAndIP(ctx context.Context, email string, ip netip.Addr, since time.Time) (security.RequestStats, security.RequestStats, error) {
	if s.db == nil {
		return security.RequestStats{}, security.RequestStats{}, ErrUnavailable
	}
	byEmail, err := s.stats(ctx, "email", security.NormalizeEmail(email), since)
	if err != nil {
		return security.RequestStats{}, security.RequestStats{}, err
	}
	var byIP security.RequestStats
	if ip.IsValid() {
		byIP, err = s.stats(ctx, "ip_address", security.PackIP(ip), since)
		if err != nil {
			return security.RequestStats{}, security.RequestStats{}, err
		}
	}
	return byEmail, byIP, nil
}

// stats runs the aggregate for one dimension. column is never user supplied.
func (s *Store) stats(ctx context.Context, column string, value any, since time.Time) (security.RequestStats, error) {
	var (
		out       security.RequestStats
		lastLogin sql.NullTime
		lastEmail sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		select count(*),
			count(*) filter (where sent_email),
			count(*) filter (where is_login = 'failure'),
			count(*) filter (where is_login = 'success'),
			max(created_at) filter (where is_login is not null),
			max(created_at) filter (where sent_email)
		from request_track
		where %s = $1 and created_at >= $2
	`, column), value, since.UTC()).Scan(
		&out.RequestAmount,
		&out.SentEmails,
		&out.LoginFailures,
		&out.LoginSuccesses,
		&lastLogin,
		&lastEmail,
	)
	if err != nil {
		return security.RequestStats{}, fmt.Errorf("request stats by %s: %w", column, err)
	}
	if lastLogin.Valid {
		out.LastLoginAt = lastLogin.Time
	}
	if lastEmail.Valid {
		out.LastEmailAt = lastEmail.Time
	}
	return out, nil
}

// GlobalLoginSummary counts all login attempts since the given time.
func (s *Store) GlobalLoginSummary(ctx context.Context, since time.Time) (security.LoginSummary, error) {
	if s.db == nil {
		return security.LoginSummary{}, ErrUnavailable
	}
	var out security.LoginSummary
	err := s.db.QueryRowContext(ctx, `
		select count(*), count(*) filter (where is_login = 'failure')
		from request_track
		where is_login is not null and created_at >= $1
	`, since.UTC()).Scan(&out.Total, &out.Failures)
	if err != nil {
		return security.LoginSummary{}, fmt.Errorf("global login summary: %w", err)
	}
	return out, nil
}

// GlobalSentEmailAmount counts all emails sent since the given time.
func (s *Store) GlobalSentEmailAmount(ctx context.Context, since time.Time) (int, error) {
	if s.db == nil {
		return 0, ErrUnavailable
	}
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from request_track where sent_email and created_at >= $1
	`, since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("global sent emails: %w", err)
	}
	return n, nil
}

// Prune deletes rows older than before and returns how many were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	if s.db == nil {
		return 0, ErrUnavailable
	}
	res, err := s.db.ExecContext(ctx, `delete from request_track where created_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune request log: %w", err)
	}
	return res.RowsAffected()
}
