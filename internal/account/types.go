package account

import (
	"context"
	"net/netip"
	"time"

	"clientdesk.org/internal/authz"
)

// User is the account record consulted at login.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         authz.Role
	Status       string
	DeletedAt    *time.Time
}

// Active reports whether the account may log in.
func (u User) Active() bool {
	return u.DeletedAt == nil && u.Status != StatusLocked
}

// StatusLocked marks accounts that were disabled by a managing advisor.
const StatusLocked = "locked"

// UserStore looks users up by their normalized email address.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (User, error)
}

// LoginGuard is the login abuse check, normally *security.LoginChecker.
type LoginGuard interface {
	CheckLogin(ctx context.Context, email string, ip netip.Addr, captchaToken string) error
}

// EmailGuard is the outbound email abuse check, normally *security.EmailChecker.
type EmailGuard interface {
	CheckEmail(ctx context.Context, email string, ip netip.Addr, captchaToken string) error
}

// TokenIssuer signs session tokens, normally *auth.Issuer.
type TokenIssuer interface {
	Issue(userID string) (string, time.Time, error)
}

// Message is an outbound email handed to a Mailer.
type Message struct {
	To       string
	Template string
	Data     map[string]string
}

// Mailer queues messages for delivery.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
