package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/qiniu/watchtower/internal/alerting/model"
	"github.com/qiniu/watchtower/internal/alerting/service/store"
	"github.com/rs/zerolog/log"
)

// MonitorLister lists the monitors eligible for probing.
type MonitorLister interface {
	ListEnabledMonitors(ctx context.Context) ([]*model.Monitor, error)
}

// Prober runs the checker for a monitor; checker.Registry implements it.
type Prober interface {
	Execute(ctx context.Context, m *model.Monitor) model.CheckResult
}

// Recorder persists a probe result; recorder.Recorder implements it.
type Recorder interface {
	Record(ctx context.Context, m *model.Monitor, res model.CheckResult) (*model.Check, error)
}

type Deps struct {
	Monitors MonitorLister
	Prober   Prober
	Recorder Recorder
	Tick     time.Duration
	Workers  int
	Now      func() time.Time
	// RecordRetries bounds the retries of a failed check insert; RecordBackoff
	// is the first retry delay, growing exponentially.
	RecordRetries int
	RecordBackoff time.Duration
}

// Scheduler probes every enabled monitor once per its interval on a bounded
// worker pool. A monitor is never probed concurrently with itself.
type Scheduler struct {
	deps     Deps
	pool     pond.Pool
	inflight *xsync.Map[string, struct{}]

	mu      sync.Mutex
	lastRun map[string]time.Time
}

func New(deps Deps) *Scheduler {
	if deps.Tick <= 0 {
		deps.Tick = time.Second
	}
	if deps.Workers <= 0 {
		deps.Workers = 16
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RecordRetries <= 0 {
		deps.RecordRetries = 3
	}
	if deps.RecordBackoff <= 0 {
		deps.RecordBackoff = 200 * time.Millisecond
	}
	return &Scheduler{
		deps:     deps,
		pool:     pond.NewPool(deps.Workers),
		inflight: xsync.NewMap[string, struct{}](),
		lastRun:  map[string]time.Time{},
	}
}

// Start ticks until ctx is done, then waits for running probes to finish.
func (s *Scheduler) Start(ctx context.Context) {
	t := time.NewTicker(s.deps.Tick)
	defer t.Stop()
	defer s.pool.StopAndWait()
	log.Info().Dur("tick", s.deps.Tick).Int("workers", s.deps.Workers).Msg("probe scheduler started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.runOnce(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("probe scheduler runOnce failed")
			}
		}
	}
}

// runOnce submits every due monitor and returns how many were submitted.
func (s *Scheduler) runOnce(ctx context.Context) (int, error) {
	monitors, err := s.deps.Monitors.ListEnabledMonitors(ctx)
	if err != nil {
		return 0, err
	}
	now := s.deps.Now()
	submitted := 0
	for _, m := range monitors {
		if !s.due(m, now) {
			continue
		}
		if _, busy := s.inflight.LoadOrStore(m.ID, struct{}{}); busy {
			continue
		}
		s.mu.Lock()
		s.lastRun[m.ID] = now
		s.mu.Unlock()

		s.pool.Submit(func() {
			defer s.inflight.Delete(m.ID)
			s.probe(ctx, m)
		})
		submitted++
	}
	return submitted, nil
}

// due reports whether m's interval has elapsed since its last probe. After a
// restart the last evaluated check stands in for the last probe.
func (s *Scheduler) due(m *model.Monitor, now time.Time) bool {
	interval := m.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	s.mu.Lock()
	last, ok := s.lastRun[m.ID]
	s.mu.Unlock()
	if !ok {
		if m.LastCheckedAt == nil {
			return true
		}
		last = *m.LastCheckedAt
	}
	return !now.Before(last.Add(interval))
}

func (s *Scheduler) probe(ctx context.Context, m *model.Monitor) {
	if ctx.Err() != nil {
		return
	}
	res := s.deps.Prober.Execute(ctx, m)
	c, err := s.record(ctx, m, res)
	if err != nil {
		log.Error().Err(err).Str("monitor_id", m.ID).Msg("record check failed")
		return
	}
	log.Debug().Str("monitor_id", m.ID).Str("check_id", c.ID).Str("status", string(c.Status)).Msg("probe recorded")
}

// record persists res, retrying storage failures with exponential backoff.
// A monitor deleted since the probe is not retried.
func (s *Scheduler) record(ctx context.Context, m *model.Monitor, res model.CheckResult) (*model.Check, error) {
	var c *model.Check
	op := func() error {
		var err error
		c, err = s.deps.Recorder.Record(ctx, m, res)
		if errors.Is(err, store.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.deps.RecordBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.deps.RecordRetries)), ctx)
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("monitor_id", m.ID).Dur("retry_in", wait).Msg("record check failed; retrying")
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return c, nil
}
