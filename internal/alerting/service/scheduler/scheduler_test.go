package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/qiniu/watchtower/internal/alerting/model"
	"github.com/qiniu/watchtower/internal/alerting/service/recorder"
	"github.com/qiniu/watchtower/internal/alerting/service/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeProber struct {
	mu    sync.Mutex
	calls map[string]int
	block chan struct{}
}

func (p *fakeProber) Execute(ctx context.Context, m *model.Monitor) model.CheckResult {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = map[string]int{}
	}
	p.calls[m.ID]++
	return model.CheckResult{Status: model.StatusOK}
}

func (p *fakeProber) count(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

func seedMonitors(t *testing.T, s *store.MemStore, monitors ...*model.Monitor) {
	t.Helper()
	for _, m := range monitors {
		require.NoError(t, s.UpsertMonitor(context.Background(), m))
	}
}

func TestRunOnce_ProbesDueMonitors(t *testing.T) {
	s := store.NewMemStore()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	seedMonitors(t, s,
		&model.Monitor{ID: "m1", Type: model.MonitorHTTP, IsEnabled: true, Interval: time.Minute},
		&model.Monitor{ID: "m2", Type: model.MonitorTCP, IsEnabled: true, Interval: 5 * time.Minute},
		&model.Monitor{ID: "off", Type: model.MonitorTCP, IsEnabled: false, Interval: time.Minute},
	)
	p := &fakeProber{}
	sch := New(Deps{Monitors: s, Prober: p, Recorder: recorder.New(s, nil), Workers: 2, Now: func() time.Time { return now }})

	n, err := sch.runOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	now = now.Add(time.Minute)
	n, err = sch.runOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only m1 is due again")

	sch.pool.StopAndWait()
	assert.Equal(t, 2, p.count("m1"))
	assert.Equal(t, 1, p.count("m2"))
	assert.Zero(t, p.count("off"))

	checks, err := s.ListChecks(context.Background(), "m1", 10)
	require.NoError(t, err)
	assert.Len(t, checks, 2)
}

func TestRunOnce_SkipsInFlightMonitor(t *testing.T) {
	s := store.NewMemStore()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	seedMonitors(t, s, &model.Monitor{ID: "slow", Type: model.MonitorHTTP, IsEnabled: true, Interval: time.Second})
	p := &fakeProber{block: make(chan struct{})}
	sch := New(Deps{Monitors: s, Prober: p, Recorder: recorder.New(s, nil), Workers: 4, Now: func() time.Time { return now }})

	n, err := sch.runOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	now = now.Add(10 * time.Second)
	n, err = sch.runOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "previous probe still running")

	close(p.block)
	sch.pool.StopAndWait()
	assert.Equal(t, 1, p.count("slow"))
}

func TestRunOnce_RestartHonoursLastCheck(t *testing.T) {
	s := store.NewMemStore()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	seedMonitors(t, s, &model.Monitor{
		ID: "m1", Type: model.MonitorHTTP, IsEnabled: true, Interval: time.Minute,
		LastCheckedAt: model.TimePtr(now.Add(-30 * time.Second)),
	})
	sch := New(Deps{Monitors: s, Prober: &fakeProber{}, Recorder: recorder.New(s, nil), Now: func() time.Time { return now }})
	defer sch.pool.StopAndWait()

	n, err := sch.runOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	now = now.Add(30 * time.Second)
	n, err = sch.runOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStart_StopsWithoutLeaks(t *testing.T) {
	s := store.NewMemStore()
	seedMonitors(t, s, &model.Monitor{ID: "m1", Type: model.MonitorHTTP, IsEnabled: true, Interval: time.Millisecond})
	p := &fakeProber{}
	sch := New(Deps{Monitors: s, Prober: p, Recorder: recorder.New(s, nil), Tick: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sch.Start(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return p.count("m1") >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

// flakyRecorder fails the first fails calls with err before delegating.
type flakyRecorder struct {
	next  Recorder
	mu    sync.Mutex
	fails int
	calls int
	err   error
}

func (r *flakyRecorder) Record(ctx context.Context, m *model.Monitor, res model.CheckResult) (*model.Check, error) {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.fails
	r.mu.Unlock()
	if fail {
		return nil, r.err
	}
	return r.next.Record(ctx, m, res)
}

func TestRecord_RetriesStorageFailure(t *testing.T) {
	s := store.NewMemStore()
	m := &model.Monitor{ID: "m1", Type: model.MonitorHTTP, IsEnabled: true, Interval: time.Minute}
	seedMonitors(t, s, m)

	tests := []struct {
		name      string
		fails     int
		err       error
		wantErr   bool
		wantCalls int
	}{
		{"transient failure is retried", 2, errors.New("connection reset"), false, 3},
		{"retries are bounded", 10, errors.New("database down"), true, 4},
		{"deleted monitor is not retried", 10, fmt.Errorf("monitor m1: %w", store.ErrNotFound), true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &flakyRecorder{next: recorder.New(s, nil), fails: tt.fails, err: tt.err}
			sch := New(Deps{Monitors: s, Prober: &fakeProber{}, Recorder: rec, RecordRetries: 3, RecordBackoff: time.Millisecond})
			defer sch.pool.StopAndWait()

			c, err := sch.record(context.Background(), m, model.CheckResult{Status: model.StatusFail})
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, c)
			} else {
				require.NoError(t, err)
				assert.Equal(t, model.StatusFail, c.Status)
			}
			assert.Equal(t, tt.wantCalls, rec.calls)
		})
	}
}
