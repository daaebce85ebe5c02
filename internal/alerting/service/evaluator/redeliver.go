package evaluator

import (
	"context"
	"time"

	"github.com/qiniu/watchtower/internal/alerting/metrics"
	"github.com/qiniu/watchtower/internal/alerting/model"
	"github.com/qiniu/watchtower/internal/alerting/service/queue"
	"github.com/qiniu/watchtower/internal/alerting/service/store"
	"github.com/rs/zerolog/log"
)

// RedeliverDeps configures the sweeper that re-publishes checks whose event
// was lost between the check insert and the queue.
type RedeliverDeps struct {
	Store    store.Store
	Queue    queue.Queue
	Interval time.Duration
	// Age is how long a check may stay unevaluated before it is re-published.
	Age   time.Duration
	Batch int
	Now   func() time.Time
}

func StartRedeliverer(ctx context.Context, deps RedeliverDeps) {
	if deps.Interval <= 0 {
		deps.Interval = 30 * time.Second
	}
	if deps.Age <= 0 {
		deps.Age = time.Minute
	}
	if deps.Batch <= 0 {
		deps.Batch = 200
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	t := time.NewTicker(deps.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := redeliverOnce(ctx, deps); err != nil {
				log.Error().Err(err).Msg("redeliver unevaluated checks failed")
			}
		}
	}
}

func redeliverOnce(ctx context.Context, deps RedeliverDeps) (int, error) {
	checks, err := deps.Store.ListUnevaluatedChecks(ctx, deps.Now().Add(-deps.Age), deps.Batch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range checks {
		ev := model.CheckRecorded{CheckID: c.ID, MonitorID: c.MonitorID, CheckedAt: c.CheckedAt}
		if err := deps.Queue.Publish(ctx, ev); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		metrics.QueueRedeliveriesTotal.Add(float64(n))
		log.Info().Int("count", n).Msg("re-published unevaluated checks")
	}
	return n, nil
}
