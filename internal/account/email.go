package account

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"clientdesk.org/internal/ids"
	"clientdesk.org/internal/obs"
	"clientdesk.org/internal/security"
)

// TemplatePasswordRecovery is the template used for password recovery mails.
const TemplatePasswordRecovery = "password_recovery"

// EmailRequest asks for one outbound email on behalf of a client.
type EmailRequest struct {
	To           string
	Template     string
	Data         map[string]string
	IP           netip.Addr
	CaptchaToken string
}

// Dispatcher sends emails behind the email abuse check and records each send.
type Dispatcher struct {
	guard  EmailGuard
	mailer Mailer
	log    security.RequestStore
	now    func() time.Time
}

// NewDispatcher wires the outbound email flow.
func NewDispatcher(guard EmailGuard, mailer Mailer, log security.RequestStore) *Dispatcher {
	return &Dispatcher{guard: guard, mailer: mailer, log: log, now: time.Now}
}

// Send checks, queues and records one email.
func (d *Dispatcher) Send(ctx context.Context, req EmailRequest) error {
	to := security.NormalizeEmail(req.To)
	if to == "" || strings.TrimSpace(req.Template) == "" {
		return fmt.Errorf("%w: recipient and template are required", ErrInvalidInput)
	}
	if err := d.guard.CheckEmail(ctx, to, req.IP, req.CaptchaToken); err != nil {
		return err
	}
	if err := d.mailer.Send(ctx, Message{To: to, Template: req.Template, Data: req.Data}); err != nil {
		return fmt.Errorf("queue email: %w", err)
	}
	created := d.now().UTC()
	entry := security.RequestLogEntry{
		ID:        ids.NewAt(created),
		Email:     to,
		IP:        req.IP,
		SentEmail: true,
		CreatedAt: created,
	}
	if err := d.log.Append(ctx, entry); err != nil {
		return fmt.Errorf("record sent email: %w", err)
	}
	return nil
}

// PasswordRecovery sends recovery mails to existing accounts.
type PasswordRecovery struct {
	users      UserStore
	dispatcher *Dispatcher
}

// NewPasswordRecovery returns the recovery flow.
func NewPasswordRecovery(users UserStore, dispatcher *Dispatcher) *PasswordRecovery {
	return &PasswordRecovery{users: users, dispatcher: dispatcher}
}

// Request sends a recovery mail when email belongs to an active account. Unknown addresses
// still pass the abuse check but send nothing, so callers cannot probe for accounts.
func (p *PasswordRecovery) Request(ctx context.Context, email string, ip netip.Addr, captchaToken string) error {
	email = security.NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	user, err := p.users.FindUserByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		if err := p.dispatcher.guard.CheckEmail(ctx, email, ip, captchaToken); err != nil {
			return err
		}
		obs.FromContext(ctx).WithField("email", email).Info("password recovery for unknown email")
		return nil
	case err != nil:
		return fmt.Errorf("find user: %w", err)
	}
	if !user.Active() {
		return p.dispatcher.guard.CheckEmail(ctx, email, ip, captchaToken)
	}
	return p.dispatcher.Send(ctx, EmailRequest{
		To:           user.Email,
		Template:     TemplatePasswordRecovery,
		Data:         map[string]string{"user_id": user.ID},
		IP:           ip,
		CaptchaToken: captchaToken,
	})
}
