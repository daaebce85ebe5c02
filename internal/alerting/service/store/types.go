package store

import (
	"context"
	"errors"
	"time"

	"github.com/qiniu/watchtower/internal/alerting/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// AnomalyFilter narrows ListAnomalies. Open == nil returns both open and closed anomalies.
type AnomalyFilter struct {
	Open  *bool
	Limit int
}

// Store abstracts persistence of monitors, checks, anomalies and the notification outbox.
type Store interface {
	GetMonitor(ctx context.Context, id string) (*model.Monitor, error)
	// ListMonitors returns all monitors, or only those of ownerID when it is non-empty.
	ListMonitors(ctx context.Context, ownerID string) ([]*model.Monitor, error)
	ListEnabledMonitors(ctx context.Context) ([]*model.Monitor, error)
	UpsertMonitor(ctx context.Context, m *model.Monitor) error

	GetAlert(ctx context.Context, id string) (*model.Alert, error)
	UpsertAlert(ctx context.Context, a *model.Alert) error
	AttachAlert(ctx context.Context, monitorID, alertID string) error

	InsertCheck(ctx context.Context, c *model.Check) error
	GetCheck(ctx context.Context, id string) (*model.Check, error)
	// ListChecks returns the newest checks of a monitor first.
	ListChecks(ctx context.Context, monitorID string, limit int) ([]*model.Check, error)
	// ListUnevaluatedChecks returns checks created before the given time that were never evaluated, oldest first.
	ListUnevaluatedChecks(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Check, error)

	GetAnomaly(ctx context.Context, id string) (*model.Anomaly, error)
	ListAnomalies(ctx context.Context, monitorID string, f AnomalyFilter) ([]*model.Anomaly, error)
	ListAnomalyChecks(ctx context.Context, anomalyID string) ([]*model.Check, error)

	RecordPulse(ctx context.Context, monitorID string, at time.Time) error
	InsertServerMetric(ctx context.Context, m *model.ServerMetric) error
	LatestServerMetric(ctx context.Context, monitorID string) (*model.ServerMetric, error)

	// ClaimDueNotifications leases up to limit unsent notifications whose due time has passed.
	// A leased row is not returned again until the lease expires.
	ClaimDueNotifications(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*model.Notification, error)
	MarkNotificationSent(ctx context.Context, anomalyID string, kind model.TransitionKind, at time.Time) error
	// MarkNotificationFailed records a failed attempt. When dead is true the row is
	// dead-lettered at nextDue and never claimed again.
	MarkNotificationFailed(ctx context.Context, anomalyID string, kind model.TransitionKind, nextDue time.Time, lastErr string, dead bool) error

	// WithMonitorTx runs fn in one transaction holding the monitor's lock. Writes
	// made through the Tx are committed only when fn returns nil.
	WithMonitorTx(ctx context.Context, monitorID string, fn func(Tx) error) error
}

// Tx is the set of operations available to a check evaluation.
type Tx interface {
	GetMonitor(ctx context.Context, id string) (*model.Monitor, error)
	GetCheck(ctx context.Context, id string) (*model.Check, error)
	// RecentChecks returns up to limit checks with checked_at <= upTo, newest first.
	RecentChecks(ctx context.Context, monitorID string, upTo time.Time, limit int) ([]*model.Check, error)
	// PendingChecksBefore returns up to limit unevaluated checks of the monitor
	// with checked_at < before, oldest first.
	PendingChecksBefore(ctx context.Context, monitorID string, before time.Time, limit int) ([]*model.Check, error)
	UpdateMonitorStatus(ctx context.Context, monitorID string, status model.Status) error
	// AdvanceLastChecked moves last_checked_at forward; older timestamps are ignored.
	AdvanceLastChecked(ctx context.Context, monitorID string, checkedAt time.Time) error
	MarkCheckEvaluated(ctx context.Context, checkID string, at time.Time) error

	ListMonitorAlerts(ctx context.Context, monitorID string) ([]*model.Alert, error)
	// OpenAnomaly returns the open anomaly of the pair, or nil when the pair is clear.
	OpenAnomaly(ctx context.Context, monitorID, alertID string) (*model.Anomaly, error)
	CreateAnomaly(ctx context.Context, a *model.Anomaly) error
	CloseAnomaly(ctx context.Context, anomalyID string, endedAt time.Time) error
	// AttachCheck links a check to an anomaly. Attaching twice is a no-op.
	AttachCheck(ctx context.Context, anomalyID, checkID string) error
	// EnqueueNotification inserts an outbox row; false means the (anomaly, kind) row already existed.
	EnqueueNotification(ctx context.Context, n *model.Notification) (bool, error)
}
