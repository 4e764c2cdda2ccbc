package gateway

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"
)

// Notifier delivers operational alerts. Implementations are fire-and-forget:
// they must not block callers and must swallow their own failures (logged,
// never propagated).
type Notifier interface {
	Alert(subject, body string)
}

// LogNotifier writes alerts to the structured log. It is the fallback when
// no outbound alerting channel is configured.
type LogNotifier struct {
	Log *slog.Logger
}

// Alert implements Notifier.
func (n LogNotifier) Alert(subject, body string) {
	if n.Log == nil {
		return
	}
	n.Log.Warn("notify.alert", "subject", subject, "body", body)
}

// SMTPNotifier emails alerts to a fixed recipient list.
type SMTPNotifier struct {
	Log  *slog.Logger
	Addr string // host:port
	From string
	To   []string
	Auth smtp.Auth
}

// Alert implements Notifier. Delivery happens on its own goroutine so a slow
// or unreachable relay never blocks queue processing.
func (n *SMTPNotifier) Alert(subject, body string) {
	if n == nil || n.Addr == "" || len(n.To) == 0 {
		return
	}

	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nDate: %s\r\n\r\n%s\r\n",
		n.From,
		strings.Join(n.To, ", "),
		subject,
		time.Now().UTC().Format(time.RFC1123Z),
		body,
	)

	go func() {
		if err := smtp.SendMail(n.Addr, n.Auth, n.From, n.To, []byte(msg)); err != nil && n.Log != nil {
			n.Log.Error("notify.smtp.fail", "subject", subject, "err", err)
		}
	}()
}
