package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qiniu/watchtower/internal/alerting/metrics"
	"github.com/qiniu/watchtower/internal/alerting/model"
	"github.com/qiniu/watchtower/internal/alerting/service/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options tunes the dispatcher. Zero values take the defaults below.
type Options struct {
	PollInterval time.Duration
	Batch        int
	Lease        time.Duration
	MaxAttempts  int
	// InitialBackoff and MaxBackoff bound the retry schedule.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Batch <= 0 {
		o.Batch = 100
	}
	if o.Lease <= 0 {
		o.Lease = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 8
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 5 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Minute
	}
	return o
}

// Dispatcher drains the notification outbox. Each due row is delivered
// through the Notifier at most once per (anomaly, transition); failed
// deliveries are rescheduled and dead-lettered after MaxAttempts.
type Dispatcher struct {
	Store    store.Store
	Notifier Notifier
	Guard    Guard
	Opts     Options
	Now      func() time.Time
}

func NewDispatcher(s store.Store, n Notifier, g Guard, opts Options) *Dispatcher {
	if g == nil {
		g = NoopGuard{}
	}
	return &Dispatcher{Store: s, Notifier: n, Guard: g, Opts: opts.withDefaults(), Now: time.Now}
}

// Run polls the outbox until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	d.Opts = d.Opts.withDefaults()
	t := time.NewTicker(d.Opts.PollInterval)
	defer t.Stop()
	log.Info().Dur("poll_interval", d.Opts.PollInterval).Int("max_attempts", d.Opts.MaxAttempts).Msg("notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := d.dispatchOnce(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("dispatch notifications failed")
			}
		}
	}
}

// dispatchOnce claims one batch of due notifications and handles them in order.
// It returns the number of notifications delivered.
func (d *Dispatcher) dispatchOnce(ctx context.Context) (int, error) {
	now := d.Now()
	due, err := d.Store.ClaimDueNotifications(ctx, now, d.Opts.Lease, d.Opts.Batch)
	if err != nil {
		return 0, fmt.Errorf("claim notifications: %w", err)
	}
	sent := 0
	for _, n := range due {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		ok, err := d.handle(ctx, n)
		if err != nil {
			return sent, err
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}

// handle delivers one notification. Delivery failures are recorded on the
// row and never returned; only store failures are.
func (d *Dispatcher) handle(ctx context.Context, n *model.Notification) (bool, error) {
	key := n.Key()
	l := log.With().Str("anomaly_id", n.AnomalyID).Str("kind", string(n.Kind)).Str("alert_id", n.AlertID).Logger()

	seen, err := d.Guard.Seen(ctx, key)
	if err != nil {
		// best-effort: the outbox row still guards against duplicates
		l.Warn().Err(err).Msg("idempotency guard lookup failed")
	}
	if seen {
		metrics.NotificationsTotal.WithLabelValues(string(n.Kind), "duplicate").Inc()
		l.Debug().Msg("notification already delivered; marking sent")
		return false, d.Store.MarkNotificationSent(ctx, n.AnomalyID, n.Kind, d.Now())
	}

	if derr := d.deliver(ctx, n); derr != nil {
		return false, d.fail(ctx, n, derr, &l)
	}

	if err := d.Guard.MarkSeen(ctx, key); err != nil {
		l.Warn().Err(err).Msg("idempotency guard mark failed")
	}
	if err := d.Store.MarkNotificationSent(ctx, n.AnomalyID, n.Kind, d.Now()); err != nil {
		return false, fmt.Errorf("mark %s sent: %w", key, err)
	}
	metrics.NotificationsTotal.WithLabelValues(string(n.Kind), "sent").Inc()
	l.Info().Int("attempt", n.Attempts+1).Msg("notification delivered")
	return true, nil
}

func (d *Dispatcher) deliver(ctx context.Context, n *model.Notification) error {
	alert, err := d.Store.GetAlert(ctx, n.AlertID)
	if err != nil {
		return fmt.Errorf("load alert: %w", err)
	}
	an, err := d.Store.GetAnomaly(ctx, n.AnomalyID)
	if err != nil {
		return fmt.Errorf("load anomaly: %w", err)
	}
	switch n.Kind {
	case model.TransitionFired:
		return d.Notifier.OnAlertFired(ctx, model.AlertFired{
			AnomalyID: an.ID,
			MonitorID: an.MonitorID,
			AlertID:   an.AlertID,
			StartedAt: an.StartedAt,
		}, alert)
	case model.TransitionRecovered:
		if an.EndedAt == nil {
			return fmt.Errorf("anomaly %s is still open", an.ID)
		}
		return d.Notifier.OnAlertRecovered(ctx, model.AlertRecovered{
			AnomalyID: an.ID,
			MonitorID: an.MonitorID,
			AlertID:   an.AlertID,
			StartedAt: an.StartedAt,
			EndedAt:   *an.EndedAt,
		}, alert)
	}
	return fmt.Errorf("unknown notification kind %q", n.Kind)
}

func (d *Dispatcher) fail(ctx context.Context, n *model.Notification, cause error, l *zerolog.Logger) error {
	attempt := n.Attempts + 1
	now := d.Now()
	dead := attempt >= d.Opts.MaxAttempts
	next := now
	if !dead {
		next = now.Add(d.retryDelay(attempt))
	}
	if err := d.Store.MarkNotificationFailed(ctx, n.AnomalyID, n.Kind, next, cause.Error(), dead); err != nil {
		return fmt.Errorf("mark %s failed: %w", n.Key(), err)
	}
	if dead {
		metrics.NotificationsTotal.WithLabelValues(string(n.Kind), "dead").Inc()
		l.Error().Err(cause).Int("attempt", attempt).Msg("notification dead-lettered")
		return nil
	}
	metrics.NotificationsTotal.WithLabelValues(string(n.Kind), "retry").Inc()
	l.Warn().Err(cause).Int("attempt", attempt).Time("next_due", next).Msg("notification delivery failed; will retry")
	return nil
}

// retryDelay returns the wait before the given attempt is retried
// (attempt 1 is the first failure).
func (d *Dispatcher) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.Opts.InitialBackoff
	b.MaxInterval = d.Opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
