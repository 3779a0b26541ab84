package mail

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
)

// LogMailer writes messages to the log instead of delivering them. Bodies
// are never logged since they may carry a temporary password.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg domain.Message) error {
	m.logger.Info("mail delivery skipped, no smtp host configured",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	return nil
}

// Outbox keeps sent messages in memory
type Outbox struct {
	mu       sync.Mutex
	messages []domain.Message
	fail     error
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

// FailWith makes every later Send return err; nil restores delivery
func (o *Outbox) FailWith(err error) {
	o.mu.Lock()
	o.fail = err
	o.mu.Unlock()
}

func (o *Outbox) Send(_ context.Context, msg domain.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return o.fail
	}
	o.messages = append(o.messages, msg)
	return nil
}

// Messages returns a copy of everything delivered so far
func (o *Outbox) Messages() []domain.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.Message(nil), o.messages...)
}
