package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clientdesk.org/internal/account"
	"clientdesk.org/internal/authz"
	"clientdesk.org/internal/security"
)

var (
	_ account.UserStore = (*Store)(nil)
	_ authz.RoleFinder  = (*Store)(nil)
)

// FindUserByEmail loads the account registered under email, deleted ones included.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (account.User, error) {
	if s.db == nil {
		return account.User{}, ErrUnavailable
	}
	var (
		u       account.User
		role    string
		deleted sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select u.id, u.email, u.password_hash, u.status, u.deleted_at, r.name
		from users u
		join user_roles r on r.id = u.user_role_id
		where lower(u.email) = $1
	`, security.NormalizeEmail(email)).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Status, &deleted, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return account.User{}, account.ErrUserNotFound
	}
	if err != nil {
		return account.User{}, fmt.Errorf("find user: %w", err)
	}
	if u.Role, err = authz.ParseRole(role); err != nil {
		return account.User{}, err
	}
	u.DeletedAt = nullableTime(deleted)
	return u, nil
}

// FindRole returns the current role of an active user.
func (s *Store) FindRole(ctx context.Context, userID string) (authz.Role, error) {
	if s.db == nil {
		return "", ErrUnavailable
	}
	var name string
	err := s.db.QueryRowContext(ctx, `
		select r.name
		from users u
		join user_roles r on r.id = u.user_role_id
		where u.id = $1 and u.deleted_at is null
	`, userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", account.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find role: %w", err)
	}
	return authz.ParseRole(name)
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
