package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qiniu/watchtower/internal/alerting/model"
	"github.com/qiniu/watchtower/internal/alerting/service/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	events []model.CheckRecorded
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, ev model.CheckRecorded) error {
	p.events = append(p.events, ev)
	return p.err
}

func newRecorder(t *testing.T, pub *capturePublisher) (*Recorder, *store.MemStore, time.Time) {
	t.Helper()
	s := store.NewMemStore()
	require.NoError(t, s.UpsertMonitor(context.Background(), &model.Monitor{ID: "m1", Type: model.MonitorHTTP, IsEnabled: true}))
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	r := New(s, pub)
	r.Now = func() time.Time { return now }
	r.NewID = func() string { return "c1" }
	return r, s, now
}

func TestRecorder_Record(t *testing.T) {
	pub := &capturePublisher{}
	r, s, now := newRecorder(t, pub)
	m, _ := s.GetMonitor(context.Background(), "m1")

	c, err := r.Record(context.Background(), m, model.CheckResult{
		Status: model.StatusFail, ResponseCode: model.IntPtr(500), Output: model.StringPtr("HTTP 500"),
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)
	assert.True(t, c.CheckedAt.Equal(now))

	stored, err := s.GetCheck(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFail, stored.Status)
	assert.Nil(t, stored.EvaluatedAt)
	require.Len(t, pub.events, 1)
	assert.Equal(t, model.CheckRecorded{CheckID: "c1", MonitorID: "m1", CheckedAt: now}, pub.events[0])
}

func TestRecorder_InvalidStatusStoredAsUnknown(t *testing.T) {
	r, s, _ := newRecorder(t, &capturePublisher{})
	m, _ := s.GetMonitor(context.Background(), "m1")
	c, err := r.Record(context.Background(), m, model.CheckResult{Status: "weird"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnknown, c.Status)
}

func TestRecorder_PublishFailureStillRecords(t *testing.T) {
	pub := &capturePublisher{err: errors.New("redis down")}
	r, s, _ := newRecorder(t, pub)
	m, _ := s.GetMonitor(context.Background(), "m1")
	_, err := r.Record(context.Background(), m, model.CheckResult{Status: model.StatusOK})
	require.NoError(t, err)
	_, err = s.GetCheck(context.Background(), "c1")
	assert.NoError(t, err)
}

func TestRecorder_StoreFailureIsReturned(t *testing.T) {
	pub := &capturePublisher{}
	r, _, _ := newRecorder(t, pub)
	_, err := r.Record(context.Background(), &model.Monitor{ID: "ghost"}, model.CheckResult{Status: model.StatusOK})
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, pub.events)
}
