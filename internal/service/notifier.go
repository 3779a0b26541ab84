package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
	"github.com/aryan0dhankhar/sitefactory/internal/observability/metrics"
	"github.com/aryan0dhankhar/sitefactory/internal/reliability/retry"
)

// Welcome is everything the welcome mail needs
type Welcome struct {
	SiteName string
	SiteURL  string
	AdminURL string
	Account  *domain.AdminAccount
}

// Notifier sends the welcome mail after a site is provisioned
type Notifier struct {
	mailer  domain.Mailer
	policy  retry.Policy
	timeout time.Duration
	logger  *slog.Logger
}

func NewNotifier(mailer domain.Mailer, timeout time.Duration, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Notifier{mailer: mailer, policy: retry.DefaultPolicy(), timeout: timeout, logger: logger}
}

// SendWelcome reads the account's temporary credential, if any, composes
// the mail and delivers it with retries. The credential is erased whether
// or not delivery succeeds.
func (n *Notifier) SendWelcome(ctx context.Context, w Welcome) error {
	msg := ComposeWelcome(w)
	w.Account.Credential.Erase()

	_, err := retry.Do(ctx, n.policy, n.logger, "welcome_mail", func(ctx context.Context) (struct{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()
		return struct{}{}, n.mailer.Send(attemptCtx, msg)
	})
	if err != nil {
		metrics.ObserveMail("failed")
		return &NotificationError{To: msg.To, Err: err}
	}
	metrics.ObserveMail("sent")
	return nil
}

// ComposeWelcome builds the welcome message. It consumes the account's
// temporary credential; reused accounts are told to keep their password.
func ComposeWelcome(w Welcome) domain.Message {
	password, fresh := w.Account.Credential.Reveal()
	if !fresh {
		password = "(use your existing password)"
	}
	name := w.Account.DisplayName
	if name == "" {
		name = w.Account.Username
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", name)
	fmt.Fprintf(&b, "Welcome to %s! Your new website has been created successfully.\n\n", w.SiteName)
	b.WriteString("Here are your login details:\n")
	fmt.Fprintf(&b, "Website: %s\n", w.SiteURL)
	fmt.Fprintf(&b, "Admin URL: %s\n", w.AdminURL)
	fmt.Fprintf(&b, "Username: %s\n", w.Account.Username)
	fmt.Fprintf(&b, "Password: %s\n\n", password)
	if fresh {
		b.WriteString("Please log in and change your password immediately for security.\n\n")
	}
	b.WriteString("If you have any questions, please don't hesitate to contact us.\n\n")
	b.WriteString("Best regards,\nThe Website Factory Team\n")

	return domain.Message{
		To:      w.Account.Email,
		Subject: fmt.Sprintf("Welcome to %s - Your New Website", w.SiteName),
		Body:    b.String(),
	}
}
