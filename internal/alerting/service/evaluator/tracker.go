package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qiniu/watchtower/internal/alerting/model"
	"github.com/qiniu/watchtower/internal/alerting/service/store"
)

// Tracker maintains the anomaly state machine of one (monitor, alert) pair:
//
//	clear + FAIL     -> open anomaly, attach check, enqueue fired
//	open  + FAIL     -> attach check
//	open  + non-FAIL -> close anomaly, enqueue recovered
//	clear + non-FAIL -> nothing
//
// It reads the raw check status, never the debounced monitor status.
type Tracker struct {
	// DispatchDelay postpones notification delivery after a transition.
	DispatchDelay time.Duration
	NewID         func() string
}

func NewTracker(delay time.Duration) *Tracker {
	return &Tracker{DispatchDelay: delay, NewID: uuid.NewString}
}

func (t *Tracker) Apply(ctx context.Context, tx store.Tx, alert *model.Alert, check *model.Check, now time.Time) (model.TransitionKind, error) {
	open, err := tx.OpenAnomaly(ctx, check.MonitorID, alert.ID)
	if err != nil {
		return model.TransitionNone, err
	}
	failed := check.Status == model.StatusFail

	switch {
	case failed && open == nil:
		a := &model.Anomaly{
			ID:        t.NewID(),
			MonitorID: check.MonitorID,
			AlertID:   alert.ID,
			StartedAt: now,
		}
		if err := tx.CreateAnomaly(ctx, a); err != nil {
			return model.TransitionNone, err
		}
		if err := tx.AttachCheck(ctx, a.ID, check.ID); err != nil {
			return model.TransitionNone, err
		}
		if err := t.enqueue(ctx, tx, a, model.TransitionFired, now); err != nil {
			return model.TransitionNone, err
		}
		return model.TransitionFired, nil

	case failed:
		return model.TransitionNone, tx.AttachCheck(ctx, open.ID, check.ID)

	case open != nil:
		if err := tx.CloseAnomaly(ctx, open.ID, now); err != nil {
			return model.TransitionNone, err
		}
		if err := t.enqueue(ctx, tx, open, model.TransitionRecovered, now); err != nil {
			return model.TransitionNone, err
		}
		return model.TransitionRecovered, nil
	}
	return model.TransitionNone, nil
}

func (t *Tracker) enqueue(ctx context.Context, tx store.Tx, a *model.Anomaly, kind model.TransitionKind, now time.Time) error {
	_, err := tx.EnqueueNotification(ctx, &model.Notification{
		AnomalyID: a.ID,
		Kind:      kind,
		MonitorID: a.MonitorID,
		AlertID:   a.AlertID,
		DueAt:     now.Add(t.DispatchDelay),
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("enqueue %s for anomaly %s: %w", kind, a.ID, err)
	}
	return nil
}
