package account

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"clientdesk.org/internal/audit"
	"clientdesk.org/internal/auth"
	"clientdesk.org/internal/ids"
	"clientdesk.org/internal/obs"
	"clientdesk.org/internal/security"
)

// LoginRequest is one credential submission.
type LoginRequest struct {
	Email        string
	Password     string
	CaptchaToken string
	IP           netip.Addr
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	User      User
	Token     string
	ExpiresAt time.Time
}

// Authenticator verifies credentials behind the login abuse check and records every
// attempt in the request log.
type Authenticator struct {
	guard  LoginGuard
	users  UserStore
	log    security.RequestStore
	tokens TokenIssuer
	now    func() time.Time
}

// AuthenticatorOption configures an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithClock overrides the time source used for log entries.
func WithClock(now func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator wires the login flow.
func NewAuthenticator(guard LoginGuard, users UserStore, log security.RequestStore, tokens TokenIssuer, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{guard: guard, users: users, log: log, tokens: tokens, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Login returns a session for valid credentials. A *security.ThrottleError is returned when
// the attempt is blocked, before or after the credentials were checked.
func (a *Authenticator) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	email := security.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return LoginResult{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	if err := a.guard.CheckLogin(ctx, email, req.IP, req.CaptchaToken); err != nil {
		if security.IsThrottle(err) {
			obs.ObserveLogin("throttled")
		}
		return LoginResult{}, err
	}

	user, ok, err := a.verify(ctx, email, req.Password)
	if err != nil {
		return LoginResult{}, err
	}
	if err := a.record(ctx, email, req.IP, ok); err != nil {
		return LoginResult{}, err
	}

	if !ok {
		obs.ObserveLogin("failure")
		_ = audit.LogEvent(ctx, "auth.login_failed", map[string]any{"email": email, "ip": req.IP.String()})
		// The failure just recorded may push the client over a threshold.
		if err := a.guard.CheckLogin(ctx, email, req.IP, ""); err != nil {
			if security.IsThrottle(err) {
				return LoginResult{}, err
			}
			obs.FromContext(ctx).WithError(err).Warn("login recheck after failure")
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	token, expires, err := a.tokens.Issue(user.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue session: %w", err)
	}
	obs.ObserveLogin("success")
	_ = audit.LogEvent(obs.WithActorID(ctx, user.ID), "auth.login", map[string]any{"ip": req.IP.String()})
	return LoginResult{User: user, Token: token, ExpiresAt: expires}, nil
}

func (a *Authenticator) verify(ctx context.Context, email, password string) (User, bool, error) {
	user, err := a.users.FindUserByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		_ = auth.VerifyPassword("", password)
		return User{}, false, nil
	case err != nil:
		return User{}, false, fmt.Errorf("find user: %w", err)
	}
	if err := auth.VerifyPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return User{}, false, nil
		}
		return User{}, false, fmt.Errorf("verify password: %w", err)
	}
	if !user.Active() {
		return User{}, false, nil
	}
	return user, true, nil
}

func (a *Authenticator) record(ctx context.Context, email string, ip netip.Addr, success bool) error {
	created := a.now().UTC()
	entry := security.RequestLogEntry{
		ID:        ids.NewAt(created),
		Email:     email,
		IP:        ip,
		Success:   success,
		CreatedAt: created,
	}
	if err := a.log.Append(ctx, entry); err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}
