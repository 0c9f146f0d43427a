// Package notify implements the alarm notification channels: a chat
// webhook and SMTP email.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fairyhunter13/taskhub/internal/domain"
)

// ChatWebhook posts alarm summaries to a chat-compatible webhook URL.
type ChatWebhook struct {
	URL    string
	Client *http.Client
}

// NewChatWebhook constructs the channel with a bounded client.
func NewChatWebhook(url string) *ChatWebhook {
	return &ChatWebhook{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements domain.NotificationChannel.
func (c *ChatWebhook) Name() string { return "chat_webhook" }

type webhookPayload struct {
	Text string `json:"text"`
}

// Notify posts a formatted alarm message. Non-2xx responses are errors so
// the engine can count the failure.
func (c *ChatWebhook) Notify(ctx domain.Context, a domain.Alarm) error {
	body, err := json.Marshal(webhookPayload{Text: FormatAlarmText(a)})
	if err != nil {
		return fmt.Errorf("op=webhook.Notify marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("op=webhook.Notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("op=webhook.Notify post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("op=webhook.Notify: webhook returned %d", resp.StatusCode)
	}
	return nil
}

// severityEmoji maps a severity to the marker the chat message leads with.
func severityEmoji(s domain.AlarmSeverity) string {
	switch s {
	case domain.SeverityCritical:
		return "🚨"
	case domain.SeverityError:
		return "❌"
	case domain.SeverityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// FormatAlarmText renders one alarm as a multi-line chat message.
func FormatAlarmText(a domain.Alarm) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s\n", severityEmoji(a.Severity), strings.ToUpper(string(a.Severity)), a.Title)
	fmt.Fprintf(&b, "%s\n", a.Description)
	fmt.Fprintf(&b, "Type: %s", a.Type)
	if a.QueueName != "" {
		fmt.Fprintf(&b, " | Queue: %s", a.QueueName)
	}
	if a.OccurrenceCount > 1 {
		fmt.Fprintf(&b, " | Occurrences: %d", a.OccurrenceCount)
	}
	fmt.Fprintf(&b, "\nTriggered: %s", a.TriggeredAt.UTC().Format(time.RFC3339))
	return b.String()
}
