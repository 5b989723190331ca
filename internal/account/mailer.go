package account

import (
	"context"
	"sync"

	"clientdesk.org/internal/obs"
)

// LogMailer records messages in the service log instead of delivering them. Delivery
// belongs to a separate mail service.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, msg Message) error {
	obs.FromContext(ctx).WithFields(map[string]any{
		"to":       msg.To,
		"template": msg.Template,
	}).Info("email queued")
	return nil
}

// MemoryMailer keeps messages in memory.
type MemoryMailer struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

func (m *MemoryMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// Sent returns a copy of the queued messages.
func (m *MemoryMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
