package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/qiniu/watchtower/internal/alerting/metrics"
	"github.com/qiniu/watchtower/internal/alerting/model"
	"github.com/qiniu/watchtower/internal/alerting/service/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu        sync.Mutex
	calls     []string
	failFirst int
	err       error
}

func (f *fakeNotifier) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.failFirst > 0 {
		f.failFirst--
		return errors.New("destination unavailable")
	}
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeNotifier) OnAlertFired(ctx context.Context, ev model.AlertFired, alert *model.Alert) error {
	return f.record("fired:" + ev.AnomalyID + ":" + alert.ID)
}

func (f *fakeNotifier) OnAlertRecovered(ctx context.Context, ev model.AlertRecovered, alert *model.Alert) error {
	return f.record("recovered:" + ev.AnomalyID + ":" + alert.ID)
}

type fixture struct {
	t     *testing.T
	store *store.MemStore
	now   time.Time
	note  *fakeNotifier
	d     *Dispatcher
}

func newFixture(t *testing.T, g Guard) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemStore()
	require.NoError(t, s.UpsertMonitor(ctx, &model.Monitor{ID: "m1", Type: model.MonitorHTTP, IsEnabled: true, Interval: time.Minute}))
	require.NoError(t, s.UpsertAlert(ctx, &model.Alert{ID: "a1", Kind: model.AlertWebhook, Target: "http://example.invalid"}))
	require.NoError(t, s.AttachAlert(ctx, "m1", "a1"))

	f := &fixture{t: t, store: s, now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC), note: &fakeNotifier{}}
	f.d = NewDispatcher(s, f.note, g, Options{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: 4 * time.Second})
	f.d.Now = func() time.Time { return f.now }
	return f
}

func (f *fixture) open(id string, due time.Time) {
	f.t.Helper()
	err := f.store.WithMonitorTx(context.Background(), "m1", func(tx store.Tx) error {
		if err := tx.CreateAnomaly(context.Background(), &model.Anomaly{ID: id, MonitorID: "m1", AlertID: "a1", StartedAt: f.now}); err != nil {
			return err
		}
		_, err := tx.EnqueueNotification(context.Background(), &model.Notification{
			AnomalyID: id, Kind: model.TransitionFired, MonitorID: "m1", AlertID: "a1", DueAt: due, CreatedAt: f.now,
		})
		return err
	})
	require.NoError(f.t, err)
}

func (f *fixture) close(id string, due time.Time) {
	f.t.Helper()
	err := f.store.WithMonitorTx(context.Background(), "m1", func(tx store.Tx) error {
		if err := tx.CloseAnomaly(context.Background(), id, f.now); err != nil {
			return err
		}
		_, err := tx.EnqueueNotification(context.Background(), &model.Notification{
			AnomalyID: id, Kind: model.TransitionRecovered, MonitorID: "m1", AlertID: "a1", DueAt: due, CreatedAt: f.now,
		})
		return err
	})
	require.NoError(f.t, err)
}

func (f *fixture) dispatch() int {
	f.t.Helper()
	n, err := f.d.dispatchOnce(context.Background())
	require.NoError(f.t, err)
	return n
}

func TestDispatcher_DeliversOncePerTransition(t *testing.T) {
	f := newFixture(t, nil)
	f.open("an1", f.now)
	f.close("an1", f.now)
	sentBefore := testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues("fired", "sent"))

	// recovered is held back until fired has been delivered
	assert.Equal(t, 1, f.dispatch())
	assert.Equal(t, []string{"fired:an1:a1"}, f.note.calls)
	assert.Equal(t, 1, f.dispatch())
	assert.Equal(t, []string{"fired:an1:a1", "recovered:an1:a1"}, f.note.calls)

	f.now = f.now.Add(time.Hour)
	assert.Zero(t, f.dispatch())
	assert.Len(t, f.note.calls, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues("fired", "sent"))-sentBefore)

	n, ok := f.store.Notification("an1", model.TransitionFired)
	require.True(t, ok)
	require.NotNil(t, n.SentAt)
}

func TestDispatcher_HonoursDelayWindow(t *testing.T) {
	f := newFixture(t, nil)
	f.open("an1", f.now.Add(2*time.Second))

	assert.Zero(t, f.dispatch())
	f.now = f.now.Add(2 * time.Second)
	assert.Equal(t, 1, f.dispatch())
}

func TestDispatcher_RecoveredWaitsForFired(t *testing.T) {
	f := newFixture(t, nil)
	f.note.failFirst = 1
	f.open("an1", f.now)
	f.close("an1", f.now)

	assert.Zero(t, f.dispatch())
	assert.Empty(t, f.note.calls)

	n, ok := f.store.Notification("an1", model.TransitionFired)
	require.True(t, ok)
	assert.Equal(t, 1, n.Attempts)
	assert.NotEmpty(t, n.LastError)
	assert.True(t, n.DueAt.After(f.now))

	f.now = f.now.Add(time.Minute)
	assert.Equal(t, 1, f.dispatch())
	assert.Equal(t, 1, f.dispatch())
	assert.Equal(t, []string{"fired:an1:a1", "recovered:an1:a1"}, f.note.calls)
}

func TestDispatcher_DeadLettersAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, nil)
	f.note.err = errors.New("410 gone")
	f.open("an1", f.now)

	for i := 0; i < 5; i++ {
		f.dispatch()
		f.now = f.now.Add(time.Minute)
	}

	n, ok := f.store.Notification("an1", model.TransitionFired)
	require.True(t, ok)
	assert.Equal(t, 3, n.Attempts)
	assert.NotNil(t, n.DeadAt)
	assert.Nil(t, n.SentAt)

	an, err := f.store.GetAnomaly(context.Background(), "an1")
	require.NoError(t, err)
	assert.True(t, an.IsOpen(), "delivery failure never touches anomaly state")
}

func TestDispatcher_MissingAlertIsRetried(t *testing.T) {
	f := newFixture(t, nil)
	f.open("an1", f.now)
	err := f.store.WithMonitorTx(context.Background(), "m1", func(tx store.Tx) error {
		_, err := tx.EnqueueNotification(context.Background(), &model.Notification{
			AnomalyID: "an2", Kind: model.TransitionFired, MonitorID: "m1", AlertID: "gone", DueAt: f.now, CreatedAt: f.now,
		})
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, 1, f.dispatch())
	n, ok := f.store.Notification("an2", model.TransitionFired)
	require.True(t, ok)
	assert.Equal(t, 1, n.Attempts)
	assert.Contains(t, n.LastError, "load alert")
}

func TestDispatcher_GuardSuppressesRedelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	g := NewRedisGuard(rdb, "", time.Hour)

	f := newFixture(t, g)
	f.open("an1", f.now)
	// a previous process delivered it but crashed before marking the row
	require.NoError(t, g.MarkSeen(context.Background(), "an1:fired"))

	assert.Zero(t, f.dispatch())
	assert.Empty(t, f.note.calls)
	n, ok := f.store.Notification("an1", model.TransitionFired)
	require.True(t, ok)
	assert.NotNil(t, n.SentAt)
}

func TestDispatcher_RetryDelayGrows(t *testing.T) {
	d := NewDispatcher(store.NewMemStore(), &fakeNotifier{}, nil, Options{InitialBackoff: time.Second, MaxBackoff: 8 * time.Second})
	first := d.retryDelay(1)
	assert.GreaterOrEqual(t, first, 500*time.Millisecond)
	assert.LessOrEqual(t, first, 1500*time.Millisecond)
	for attempt := 2; attempt < 20; attempt++ {
		assert.LessOrEqual(t, d.retryDelay(attempt), 12*time.Second)
	}
	assert.Greater(t, d.retryDelay(10), 1500*time.Millisecond)
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t, nil)
	f.d.Opts.PollInterval = 5 * time.Millisecond
	f.d.Now = time.Now
	f.open("an1", time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.d.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		n, _ := f.store.Notification("an1", model.TransitionFired)
		return n != nil && n.SentAt != nil
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
