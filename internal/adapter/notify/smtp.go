package notify

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/fairyhunter13/taskhub/internal/domain"
)

// EmailChannel sends alarm notifications over SMTP.
type EmailChannel struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string

	// send is swappable in tests.
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel constructs the channel.
func NewEmailChannel(host string, port int, username, password, from string, to []string) *EmailChannel {
	return &EmailChannel{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     from,
		To:       to,
		send:     smtp.SendMail,
	}
}

// Name implements domain.NotificationChannel.
func (e *EmailChannel) Name() string { return "email" }

// Notify sends one alarm email to every configured recipient.
func (e *EmailChannel) Notify(ctx domain.Context, a domain.Alarm) error {
	if len(e.To) == 0 {
		return nil
	}
	var auth smtp.Auth
	if e.Username != "" {
		auth = smtp.PlainAuth("", e.Username, e.Password, e.Host)
	}
	addr := fmt.Sprintf("%s:%d", e.Host, e.Port)
	msg := e.message(a)
	if err := e.send(addr, auth, e.From, e.To, msg); err != nil {
		return fmt.Errorf("op=email.Notify: %w", err)
	}
	return nil
}

func (e *EmailChannel) message(a domain.Alarm) []byte {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(a.Severity)), a.Title)
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "Alarm: %s\r\n", a.Title)
	fmt.Fprintf(&b, "Severity: %s\r\n", a.Severity)
	fmt.Fprintf(&b, "Type: %s\r\n", a.Type)
	if a.QueueName != "" {
		fmt.Fprintf(&b, "Queue: %s\r\n", a.QueueName)
	}
	if a.TaskID != "" {
		fmt.Fprintf(&b, "Task: %s\r\n", a.TaskID)
	}
	fmt.Fprintf(&b, "Triggered: %s\r\n", a.TriggeredAt.UTC().Format(time.RFC3339))
	if a.OccurrenceCount > 1 {
		fmt.Fprintf(&b, "Occurrences: %d (last %s)\r\n", a.OccurrenceCount, a.LastOccurrence.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "\r\n%s\r\n", a.Description)
	return []byte(b.String())
}
