// Package mailer sends mail directly over SMTP, for deployments that do
// not run the queue-backed mail worker.
package mailer

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"
)

type Mailer struct {
	dialer  *gomail.Dialer
	from    string
	timeout time.Duration
}

func New(host string, port int, username, password, from string, timeout time.Duration) *Mailer {
	return &Mailer{
		dialer:  gomail.NewDialer(host, port, username, password),
		from:    from,
		timeout: timeout,
	}
}

// Send delivers one message under the configured timeout. gomail's
// DialAndSend has no context support, so it runs in a goroutine and the
// ctx/timeout race decides the outcome; a timeout is a delivery failure.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	const op = "mailer.Send"

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- m.dialer.DialAndSend(msg)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}
}
