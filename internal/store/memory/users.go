package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"clientdesk.org/internal/account"
	"clientdesk.org/internal/authz"
	"clientdesk.org/internal/security"
)

// Users is an in-process user directory.
type Users struct {
	mu      sync.RWMutex
	byID    map[string]account.User
	byEmail map[string]string
}

var (
	_ account.UserStore = (*Users)(nil)
	_ authz.RoleFinder  = (*Users)(nil)
)

// NewUsers returns a directory seeded with users.
func NewUsers(users ...account.User) *Users {
	u := &Users{byID: map[string]account.User{}, byEmail: map[string]string{}}
	for _, user := range users {
		_ = u.Put(user)
	}
	return u
}

// Put inserts or replaces a user.
func (u *Users) Put(user account.User) error {
	user.ID = strings.TrimSpace(user.ID)
	if user.ID == "" {
		return fmt.Errorf("%w: user id is required", account.ErrInvalidInput)
	}
	user.Email = security.NormalizeEmail(user.Email)

	u.mu.Lock()
	defer u.mu.Unlock()
	if prev, ok := u.byID[user.ID]; ok {
		delete(u.byEmail, prev.Email)
	}
	u.byID[user.ID] = user
	if user.Email != "" {
		u.byEmail[user.Email] = user.ID
	}
	return nil
}

// SetRole changes the role of an existing user.
func (u *Users) SetRole(id string, role authz.Role) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.byID[id]
	if !ok {
		return account.ErrUserNotFound
	}
	user.Role = role
	u.byID[id] = user
	return nil
}

func (u *Users) FindUserByEmail(_ context.Context, email string) (account.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	id, ok := u.byEmail[security.NormalizeEmail(email)]
	if !ok {
		return account.User{}, account.ErrUserNotFound
	}
	return u.byID[id], nil
}

func (u *Users) FindRole(_ context.Context, userID string) (authz.Role, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	user, ok := u.byID[strings.TrimSpace(userID)]
	if !ok || user.DeletedAt != nil {
		return "", account.ErrUserNotFound
	}
	return user.Role, nil
}
