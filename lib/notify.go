package classvault

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	mail "github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Attachment is a file carried inline with a notification.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Notification is one message to the operator channel.
type Notification struct {
	Subject    string
	Body       string
	Attachment *Attachment
}

// Notifier delivers notifications to the operator.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// SMTPNotifier sends notifications as plain text emails, with the artifact
// attached when one travels inline.
type SMTPNotifier struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       string
}

func NewSMTPNotifier(host string, port int, username, password, from, to string) *SMTPNotifier {
	return &SMTPNotifier{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
	}
}

func (s *SMTPNotifier) Notify(ctx context.Context, n Notification) error {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("set from address: %w", err)
	}
	if err := msg.To(s.to); err != nil {
		return fmt.Errorf("set to address: %w", err)
	}
	msg.Subject(n.Subject)
	msg.SetBodyString(mail.TypeTextPlain, n.Body)

	if n.Attachment != nil {
		err := msg.AttachReader(n.Attachment.Filename, bytes.NewReader(n.Attachment.Content),
			mail.WithFileContentType(mail.ContentType(n.Attachment.ContentType)))
		if err != nil {
			return fmt.Errorf("attach artifact: %w", err)
		}
	}

	opts := []mail.Option{mail.WithPort(s.port)}
	if s.username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.username),
			mail.WithPassword(s.password),
		)
	}
	client, err := mail.NewClient(s.host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// RetryingNotifier wraps another notifier with bounded retries and
// exponential backoff. Only the last error surfaces once attempts run out.
type RetryingNotifier struct {
	next     Notifier
	attempts uint
	delay    time.Duration
}

func NewRetryingNotifier(next Notifier, attempts uint, delay time.Duration) *RetryingNotifier {
	if attempts == 0 {
		attempts = 1
	}
	return &RetryingNotifier{
		next:     next,
		attempts: attempts,
		delay:    delay,
	}
}

func (r *RetryingNotifier) Notify(ctx context.Context, n Notification) error {
	return retry.Do(
		func() error { return r.next.Notify(ctx, n) },
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			zlog.Warn("notification attempt failed, retrying",
				zap.Uint("attempt", attempt+1),
				zap.Error(err),
			)
		}),
	)
}
