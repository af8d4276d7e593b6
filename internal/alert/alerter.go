// Package alert pushes operator notifications when an upstream
// dependency changes health. Channels are outbound webhooks; a cooldown
// window keeps a flapping dependency from flooding them.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/metrics"
)

// Type categorizes the kind of alert.
type Type string

const (
	TypeUpstreamDown Type = "UPSTREAM_DOWN"
	TypeRecovery     Type = "RECOVERY"
)

// Alert is a single operator notification. Component names the
// dependency it concerns, such as "indexer" or "bundler".
type Alert struct {
	Type      Type
	Component string
	Title     string
	Message   string
	Fields    map[string]string
}

// Alerter delivers alerts to one channel.
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// MultiAlerter fans out alerts to multiple channels with a shared
// per-component cooldown.
type MultiAlerter struct {
	alerters []Alerter
	cooldown time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewMultiAlerter(cooldown time.Duration, logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	return &MultiAlerter{
		alerters: alerters,
		cooldown: cooldown,
		logger:   logger.With("component", "alerter"),
		lastSent: make(map[string]time.Time),
	}
}

func cooldownKey(a Alert) string {
	return fmt.Sprintf("%s:%s", a.Type, a.Component)
}

// Send dispatches the alert to every channel. A repeat of the same type
// for the same component inside the cooldown window is suppressed.
func (m *MultiAlerter) Send(ctx context.Context, alert Alert) error {
	key := cooldownKey(alert)

	m.mu.Lock()
	if last, ok := m.lastSent[key]; ok && time.Since(last) < m.cooldown {
		m.mu.Unlock()
		m.logger.Debug("alert suppressed by cooldown", "key", key)
		for _, a := range m.alerters {
			metrics.AlertsCooldownSkipped.WithLabelValues(alerterName(a), string(alert.Type)).Inc()
		}
		return nil
	}
	m.lastSent[key] = time.Now()
	m.mu.Unlock()

	var firstErr error
	for _, a := range m.alerters {
		if err := a.Send(ctx, alert); err != nil {
			m.logger.Warn("alert send failed",
				"channel", alerterName(a),
				"type", alert.Type,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
		} else {
			metrics.AlertsSentTotal.WithLabelValues(alerterName(a), string(alert.Type)).Inc()
		}
	}
	return firstErr
}

func alerterName(a Alerter) string {
	switch a.(type) {
	case *SlackAlerter:
		return "slack"
	case *WebhookAlerter:
		return "webhook"
	default:
		return "unknown"
	}
}

// SlackAlerter posts alerts to a Slack incoming webhook.
type SlackAlerter struct {
	webhookURL string
	client     *http.Client
}

func NewSlackAlerter(webhookURL string) *SlackAlerter {
	return &SlackAlerter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackAlerter) Send(ctx context.Context, alert Alert) error {
	emoji := ":warning:"
	switch alert.Type {
	case TypeUpstreamDown:
		emoji = ":rotating_light:"
	case TypeRecovery:
		emoji = ":white_check_mark:"
	}

	text := fmt.Sprintf("%s *[%s]* %s: %s\n%s",
		emoji, alert.Type, alert.Component, alert.Title, alert.Message)

	if len(alert.Fields) > 0 {
		text += "\n"
		for k, v := range alert.Fields {
			text += fmt.Sprintf("- *%s*: %s\n", k, v)
		}
	}

	payload := map[string]string{"text": text}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

// WebhookAlerter posts alerts to a generic HTTP endpoint as JSON.
type WebhookAlerter struct {
	url    string
	client *http.Client
}

func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookAlerter) Send(ctx context.Context, alert Alert) error {
	payload := map[string]any{
		"type":      string(alert.Type),
		"component": alert.Component,
		"title":     alert.Title,
		"message":   alert.Message,
		"fields":    alert.Fields,
		"time":      time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NoopAlerter drops everything. Used when no alert channels are
// configured.
type NoopAlerter struct{}

func (n *NoopAlerter) Send(_ context.Context, _ Alert) error { return nil }
