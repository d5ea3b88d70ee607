package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"slatrack/internal/sla"
)

// Webhook is one outbound notification target. The URL may be given inline
// or read from the environment variable named by URLEnv.
type Webhook struct {
	Type   string `yaml:"type"`
	URL    string `yaml:"url"`
	URLEnv string `yaml:"url_env"`
}

func (w Webhook) Target() string {
	if w.URLEnv != "" {
		if v := os.Getenv(w.URLEnv); v != "" {
			return v
		}
	}
	return w.URL
}

type WebhookDispatcher struct {
	webhooks []Webhook
	client   *http.Client
	logger   *slog.Logger
}

func NewWebhookDispatcher(webhooks []Webhook, client *http.Client, logger *slog.Logger) *WebhookDispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookDispatcher{webhooks: webhooks, client: client, logger: logger}
}

func (d *WebhookDispatcher) Dispatch(ctx context.Context, evt sla.AlertEvent) error {
	var errs []error
	for _, wh := range d.webhooks {
		url := wh.Target()
		if url == "" {
			continue
		}
		var body []byte
		switch wh.Type {
		case "slack":
			body, _ = json.Marshal(map[string]string{"text": slackText(evt)})
		case "http", "":
			body, _ = json.Marshal(map[string]any{"alert": evt})
		default:
			d.logger.Warn("unknown webhook type, skipping", slog.String("type", wh.Type))
			continue
		}
		if err := d.post(ctx, url, body); err != nil {
			d.logger.Error("webhook delivery failed",
				slog.String("type", wh.Type),
				slog.String("level", string(evt.Level)),
				slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		d.logger.Debug("webhook delivered", slog.String("type", wh.Type), slog.String("level", string(evt.Level)))
	}
	return joinErrors(errs)
}

func (d *WebhookDispatcher) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func slackText(evt sla.AlertEvent) string {
	label := "[WARNING]"
	noun := "at risk"
	if evt.Level == sla.StatusBreached {
		label = "[CRITICAL]"
		noun = "breached"
	}
	return fmt.Sprintf("*%s* %d SLA window(s) %s as of %s", label, evt.Count, noun, evt.At.Format(time.RFC3339))
}
