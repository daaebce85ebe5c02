package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/qiniu/watchtower/internal/alerting/model"
	"github.com/rs/zerolog/log"
)

// Notifier delivers anomaly transitions to an alert destination.
// A returned error makes the dispatcher retry the delivery later.
type Notifier interface {
	OnAlertFired(ctx context.Context, ev model.AlertFired, alert *model.Alert) error
	OnAlertRecovered(ctx context.Context, ev model.AlertRecovered, alert *model.Alert) error
}

// LogNotifier writes transitions to the log. It backs channels whose delivery
// lives outside this service (email, sms, push).
type LogNotifier struct{}

func (LogNotifier) OnAlertFired(ctx context.Context, ev model.AlertFired, alert *model.Alert) error {
	log.Warn().
		Str("anomaly_id", ev.AnomalyID).
		Str("monitor_id", ev.MonitorID).
		Str("alert_id", alert.ID).
		Str("kind", string(alert.Kind)).
		Str("target", alert.Target).
		Time("started_at", ev.StartedAt).
		Msg("alert fired")
	return nil
}

func (LogNotifier) OnAlertRecovered(ctx context.Context, ev model.AlertRecovered, alert *model.Alert) error {
	log.Info().
		Str("anomaly_id", ev.AnomalyID).
		Str("monitor_id", ev.MonitorID).
		Str("alert_id", alert.ID).
		Str("kind", string(alert.Kind)).
		Str("target", alert.Target).
		Dur("duration", ev.EndedAt.Sub(ev.StartedAt)).
		Msg("alert recovered")
	return nil
}

// WebhookPayload is the JSON body posted by WebhookNotifier.
type WebhookPayload struct {
	Event     model.TransitionKind `json:"event"`
	AnomalyID string               `json:"anomalyId"`
	MonitorID string               `json:"monitorId"`
	AlertID   string               `json:"alertId"`
	AlertName string               `json:"alertName,omitempty"`
	StartedAt time.Time            `json:"startedAt"`
	EndedAt   *time.Time           `json:"endedAt,omitempty"`
}

// WebhookNotifier posts a JSON payload to the alert's target URL.
type WebhookNotifier struct {
	Client *http.Client
}

func NewWebhookNotifier(timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{Client: &http.Client{Timeout: timeout}}
}

func (w *WebhookNotifier) OnAlertFired(ctx context.Context, ev model.AlertFired, alert *model.Alert) error {
	return w.post(ctx, alert, WebhookPayload{
		Event:     model.TransitionFired,
		AnomalyID: ev.AnomalyID,
		MonitorID: ev.MonitorID,
		AlertID:   ev.AlertID,
		AlertName: alert.Name,
		StartedAt: ev.StartedAt,
	})
}

func (w *WebhookNotifier) OnAlertRecovered(ctx context.Context, ev model.AlertRecovered, alert *model.Alert) error {
	return w.post(ctx, alert, WebhookPayload{
		Event:     model.TransitionRecovered,
		AnomalyID: ev.AnomalyID,
		MonitorID: ev.MonitorID,
		AlertID:   ev.AlertID,
		AlertName: alert.Name,
		StartedAt: ev.StartedAt,
		EndedAt:   model.TimePtr(ev.EndedAt),
	})
}

func (w *WebhookNotifier) post(ctx context.Context, alert *model.Alert, payload WebhookPayload) error {
	if alert.Target == "" {
		return fmt.Errorf("alert %s has no webhook target", alert.ID)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, alert.Target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", payload.AnomalyID+":"+string(payload.Event))

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned %d", alert.Target, resp.StatusCode)
	}
	return nil
}

// Router picks a notifier by alert kind.
type Router struct {
	Routes   map[model.AlertKind]Notifier
	Fallback Notifier
}

// NewRouter sends webhook and slack alerts over HTTP and logs the rest.
func NewRouter(webhook *WebhookNotifier) *Router {
	return &Router{
		Routes: map[model.AlertKind]Notifier{
			model.AlertWebhook: webhook,
			model.AlertSlack:   webhook,
		},
		Fallback: LogNotifier{},
	}
}

func (r *Router) pick(kind model.AlertKind) Notifier {
	if n, ok := r.Routes[kind]; ok && n != nil {
		return n
	}
	if r.Fallback != nil {
		return r.Fallback
	}
	return LogNotifier{}
}

func (r *Router) OnAlertFired(ctx context.Context, ev model.AlertFired, alert *model.Alert) error {
	return r.pick(alert.Kind).OnAlertFired(ctx, ev, alert)
}

func (r *Router) OnAlertRecovered(ctx context.Context, ev model.AlertRecovered, alert *model.Alert) error {
	return r.pick(alert.Kind).OnAlertRecovered(ctx, ev, alert)
}
