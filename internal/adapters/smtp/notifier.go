// Package smtp delivers buyer notifications by email.
package smtp

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"gopkg.in/gomail.v2"

	"github.com/robertarktes/event-ticketing/internal/ticketing"
)

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type Notifier struct {
	dialer sender
	from   string
}

func NewNotifier(host string, port int, username, password, from string) *Notifier {
	return &Notifier{dialer: gomail.NewDialer(host, port, username, password), from: from}
}

// Notify sends n. gomail has no context support, so ctx is only checked
// before dialing.
func (s *Notifier) Notify(ctx context.Context, n ticketing.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.To == "" {
		return errors.New("smtp: notification has no recipient")
	}
	if err := s.dialer.DialAndSend(s.message(n)); err != nil {
		return errors.Wrapf(err, "smtp: send to %s", n.To)
	}
	return nil
}

func (s *Notifier) message(n ticketing.Notification) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", n.To)
	m.SetHeader("Subject", n.Subject)
	m.SetBody("text/html", n.HTML)
	for _, a := range n.Attachments {
		data := a.Data
		m.Attach(a.Filename,
			gomail.Rename(a.Filename),
			gomail.SetHeader(map[string][]string{"Content-Type": {a.ContentType}}),
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
		)
	}
	return m
}
