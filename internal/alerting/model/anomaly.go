package model

import "time"

// AlertKind is the notification channel of an alert destination.
type AlertKind string

const (
	AlertEmail   AlertKind = "email"
	AlertSlack   AlertKind = "slack"
	AlertSMS     AlertKind = "sms"
	AlertPush    AlertKind = "push"
	AlertWebhook AlertKind = "webhook"
	AlertLog     AlertKind = "log"
)

// Alert is a notification destination that can be attached to many monitors.
type Alert struct {
	ID        string    `json:"id" yaml:"id"`
	OwnerID   string    `json:"ownerId" yaml:"owner"`
	Name      string    `json:"name" yaml:"name"`
	Kind      AlertKind `json:"kind" yaml:"kind"`
	Target    string    `json:"target" yaml:"target"`
	CreatedAt time.Time `json:"createdAt" yaml:"-"`
}

// Anomaly is a contiguous failure run for one (monitor, alert) pair.
// EndedAt == nil means the anomaly is open.
type Anomaly struct {
	ID        string     `json:"id"`
	MonitorID string     `json:"monitorId"`
	AlertID   string     `json:"alertId"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

func (a *Anomaly) IsOpen() bool { return a.EndedAt == nil }

// TransitionKind names an anomaly lifecycle edge that produces a notification.
type TransitionKind string

const (
	TransitionNone      TransitionKind = ""
	TransitionFired     TransitionKind = "fired"
	TransitionRecovered TransitionKind = "recovered"
)

// AlertFired is the outbound payload for an anomaly opening.
type AlertFired struct {
	AnomalyID string    `json:"anomalyId"`
	MonitorID string    `json:"monitorId"`
	AlertID   string    `json:"alertId"`
	StartedAt time.Time `json:"startedAt"`
}

// AlertRecovered is the outbound payload for an anomaly closing.
type AlertRecovered struct {
	AnomalyID string    `json:"anomalyId"`
	MonitorID string    `json:"monitorId"`
	AlertID   string    `json:"alertId"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
}
