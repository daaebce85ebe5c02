package model

import "time"

// Notification is a pending or delivered dispatch, keyed by (AnomalyID, Kind).
// Rows are written in the same transaction as the anomaly transition that produced them.
type Notification struct {
	AnomalyID string         `json:"anomalyId"`
	Kind      TransitionKind `json:"kind"`
	MonitorID string         `json:"monitorId"`
	AlertID   string         `json:"alertId"`
	DueAt     time.Time      `json:"dueAt"`
	CreatedAt time.Time      `json:"createdAt"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"lastError,omitempty"`
	SentAt    *time.Time     `json:"sentAt,omitempty"`
	DeadAt    *time.Time     `json:"deadAt,omitempty"`
}

// Key identifies the notification for idempotency purposes.
func (n *Notification) Key() string { return n.AnomalyID + ":" + string(n.Kind) }
