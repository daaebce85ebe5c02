package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qiniu/watchtower/internal/alerting/metrics"
	"github.com/qiniu/watchtower/internal/alerting/model"
	"github.com/qiniu/watchtower/internal/alerting/service/store"
	"github.com/rs/zerolog/log"
)

// Outcome summarises one evaluation.
type Outcome struct {
	CheckID       string
	MonitorID     string
	Duplicate     bool
	Stale         bool
	StatusChanged bool
	Status        model.Status
	Transitions   map[string]model.TransitionKind // alert id -> transition
	// Earlier holds the outcomes of older pending checks of the monitor that
	// were applied before this one, oldest first.
	Earlier []*Outcome
}

// maxCatchUp bounds how many older pending checks one evaluation applies.
const maxCatchUp = 1000

// Engine evaluates recorded checks: it debounces the monitor status and runs
// the anomaly tracker for every attached alert inside one per-monitor transaction.
type Engine struct {
	Store   store.Store
	Tracker *Tracker
	Now     func() time.Time
}

func NewEngine(s store.Store, dispatchDelay time.Duration) *Engine {
	return &Engine{Store: s, Tracker: NewTracker(dispatchDelay), Now: time.Now}
}

// Evaluate applies a CheckRecorded event. Evaluating an already evaluated
// check is a no-op, so redelivered events never produce duplicate anomalies
// or notifications.
func (e *Engine) Evaluate(ctx context.Context, ev model.CheckRecorded) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{CheckID: ev.CheckID, MonitorID: ev.MonitorID}

	err := e.Store.WithMonitorTx(ctx, ev.MonitorID, func(tx store.Tx) error {
		// reset: a retried transaction must not leak state from a failed attempt
		*out = Outcome{CheckID: ev.CheckID, MonitorID: ev.MonitorID}

		check, err := tx.GetCheck(ctx, ev.CheckID)
		if err != nil {
			return err
		}
		if check.MonitorID != ev.MonitorID {
			return fmt.Errorf("check %s belongs to monitor %s, not %s", check.ID, check.MonitorID, ev.MonitorID)
		}
		if check.EvaluatedAt != nil {
			out.Duplicate = true
			return nil
		}
		mon, err := tx.GetMonitor(ctx, ev.MonitorID)
		if err != nil {
			return err
		}
		now := e.Now()

		// Older checks still pending (a failed attempt awaiting retry, a lost
		// publish) are applied first, in checked_at order.
		earlier, err := tx.PendingChecksBefore(ctx, mon.ID, check.CheckedAt, maxCatchUp)
		if err != nil {
			return err
		}
		for _, c := range earlier {
			eo := &Outcome{CheckID: c.ID, MonitorID: mon.ID}
			if err := e.apply(ctx, tx, mon, c, now, eo); err != nil {
				return fmt.Errorf("check %s: %w", c.ID, err)
			}
			out.Earlier = append(out.Earlier, eo)
		}
		return e.apply(ctx, tx, mon, check, now, out)
	})
	metrics.EvaluationDurationSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.EvaluationsTotal.WithLabelValues("missing").Inc()
		} else {
			metrics.EvaluationsTotal.WithLabelValues("error").Inc()
		}
		return nil, fmt.Errorf("evaluate check %s: %w", ev.CheckID, err)
	}
	e.report(out)
	return out, nil
}

// apply evaluates one check against mon, which is kept in step with the
// writes made through tx.
func (e *Engine) apply(ctx context.Context, tx store.Tx, mon *model.Monitor, check *model.Check, now time.Time, out *Outcome) error {
	out.Status = mon.Status
	if mon.LastCheckedAt != nil && check.CheckedAt.Before(*mon.LastCheckedAt) {
		// inserted after a newer check was already applied
		out.Stale = true
		return tx.MarkCheckEvaluated(ctx, check.ID, now)
	}

	if err := e.evaluateStatus(ctx, tx, mon, check, out); err != nil {
		return err
	}
	alerts, err := tx.ListMonitorAlerts(ctx, mon.ID)
	if err != nil {
		return err
	}
	for _, alert := range alerts {
		kind, err := e.Tracker.Apply(ctx, tx, alert, check, now)
		if err != nil {
			return fmt.Errorf("alert %s: %w", alert.ID, err)
		}
		if kind != model.TransitionNone {
			if out.Transitions == nil {
				out.Transitions = map[string]model.TransitionKind{}
			}
			out.Transitions[alert.ID] = kind
		}
	}
	if err := tx.AdvanceLastChecked(ctx, mon.ID, check.CheckedAt); err != nil {
		return err
	}
	mon.LastCheckedAt = model.TimePtr(check.CheckedAt)
	return tx.MarkCheckEvaluated(ctx, check.ID, now)
}

func (e *Engine) evaluateStatus(ctx context.Context, tx store.Tx, mon *model.Monitor, check *model.Check, out *Outcome) error {
	recent, err := tx.RecentChecks(ctx, mon.ID, check.CheckedAt, mon.Threshold())
	if err != nil {
		return err
	}
	statuses := make([]model.Status, 0, len(recent))
	for _, c := range recent {
		statuses = append(statuses, c.Status)
	}
	// the window must be anchored on the evaluated check
	if len(statuses) > 0 && recent[0].ID != check.ID {
		statuses[0] = check.Status
	}
	next, changed := DebounceStatus(mon.Status, mon.Threshold(), statuses)
	out.Status = next
	if !changed {
		return nil
	}
	out.StatusChanged = true
	if err := tx.UpdateMonitorStatus(ctx, mon.ID, next); err != nil {
		return err
	}
	mon.Status = next
	return nil
}

func (e *Engine) report(out *Outcome) {
	for _, eo := range out.Earlier {
		e.report(eo)
	}
	switch {
	case out.Duplicate:
		metrics.EvaluationsTotal.WithLabelValues("duplicate").Inc()
		log.Debug().Str("check_id", out.CheckID).Msg("check already evaluated; skipping")
		return
	case out.Stale:
		metrics.EvaluationsTotal.WithLabelValues("stale").Inc()
		log.Warn().Str("check_id", out.CheckID).Str("monitor_id", out.MonitorID).Msg("out-of-order check; no transitions applied")
		return
	}
	metrics.EvaluationsTotal.WithLabelValues("applied").Inc()
	if out.StatusChanged {
		metrics.StatusChangesTotal.WithLabelValues(string(out.Status)).Inc()
		log.Info().Str("monitor_id", out.MonitorID).Str("status", string(out.Status)).Msg("monitor status changed")
	}
	for alertID, kind := range out.Transitions {
		metrics.AnomalyTransitionsTotal.WithLabelValues(string(kind)).Inc()
		log.Info().Str("monitor_id", out.MonitorID).Str("alert_id", alertID).Str("transition", string(kind)).
			Str("check_id", out.CheckID).Msg("anomaly transition")
	}
}
