package worker

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fairyhunter13/taskhub/internal/domain"
)

// RegisterBuiltins installs the stock handlers every deployment carries.
// The health_check handler reports the registry's own contents, so it is
// bound to r.
func RegisterBuiltins(r *Registry) {
	r.Register("noop", NoopHandler)
	r.Register("data_validation", DataValidationHandler)
	r.Register("webhook_processing", WebhookProcessingHandler)
	r.Register("system_maintenance", SystemMaintenanceHandler)
	r.Register("health_check", func(ctx domain.Context, payload map[string]any) (any, error) {
		return map[string]any{
			"status":     "ok",
			"task_types": r.Types(),
			"checked_at": time.Now().UTC().Format(time.RFC3339),
		}, nil
	})
}

// NoopHandler completes immediately, echoing nothing. Used by smoke tests
// and the submit-path examples.
func NoopHandler(ctx domain.Context, payload map[string]any) (any, error) {
	return map[string]any{"ok": true}, nil
}

// DataValidationHandler checks that the payload's "records" entries carry
// the fields named in "required_fields".
func DataValidationHandler(ctx domain.Context, payload map[string]any) (any, error) {
	records, _ := payload["records"].([]any)
	required, _ := payload["required_fields"].([]any)

	var invalid int
	for _, rec := range records {
		m, ok := rec.(map[string]any)
		if !ok {
			invalid++
			continue
		}
		for _, f := range required {
			name, _ := f.(string)
			if _, present := m[name]; !present {
				invalid++
				break
			}
		}
	}
	return map[string]any{
		"total":   len(records),
		"invalid": invalid,
		"valid":   len(records) - invalid,
	}, nil
}

// WebhookProcessingHandler delivers the payload body to the payload's
// "url" with a bounded timeout. Non-2xx responses are transient failures
// so the normal retry path applies.
func WebhookProcessingHandler(ctx domain.Context, payload map[string]any) (any, error) {
	raw, _ := payload["url"].(string)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, MarkPermanent(fmt.Errorf("invalid webhook url %q", raw))
	}
	body, _ := payload["body"].(string)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(body))
	if err != nil {
		return nil, MarkPermanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return map[string]any{"delivered": true, "status_code": resp.StatusCode}, nil
}

// SystemMaintenanceHandler runs a named maintenance action. Actions are
// placeholders for deployment-specific jobs; unknown actions fail
// permanently so operators notice typos instead of burning retries.
func SystemMaintenanceHandler(ctx domain.Context, payload map[string]any) (any, error) {
	action, _ := payload["action"].(string)
	switch action {
	case "vacuum", "trim_metrics", "rotate_logs":
		slog.Info("maintenance action executed", slog.String("action", action))
		return map[string]any{"action": action, "done": true}, nil
	default:
		return nil, MarkPermanent(fmt.Errorf("unknown maintenance action %q", action))
	}
}
