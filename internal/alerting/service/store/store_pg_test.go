package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	adb "github.com/qiniu/watchtower/internal/alerting/database"
	"github.com/qiniu/watchtower/internal/alerting/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PgStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPgStore(adb.NewWithDB(db)), mock
}

func TestPgStore_GetMonitor(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "owner_id", "name", "type", "config", "check_interval", "consecutive_threshold",
		"status", "is_enabled", "last_checked_at", "last_pulse_at", "created_at"}).
		AddRow("m1", "o1", "api", "http", []byte(`{"url":"http://x"}`), "00:01:00", 3, "OK", true, nil, nil, created)
	mock.ExpectQuery(`SELECT .* FROM monitors WHERE id = \$1`).WithArgs("m1").WillReturnRows(rows)

	m, err := s.GetMonitor(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, model.MonitorHTTP, m.Type)
	assert.Equal(t, time.Minute, m.Interval)
	assert.Equal(t, 3, m.ConsecutiveThreshold)
	assert.Equal(t, model.StatusOK, m.Status)
	assert.Nil(t, m.LastCheckedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_GetMonitorNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM monitors WHERE id`).WithArgs("nope").WillReturnError(sql.ErrNoRows)
	_, err := s.GetMonitor(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPgStore_InsertCheck(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectExec(`INSERT INTO checks`).
		WithArgs("c1", "m1", "FAIL", 12.5, int64(503), "bad gateway", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.InsertCheck(context.Background(), &model.Check{
		ID: "c1", MonitorID: "m1", Status: model.StatusFail,
		ResponseTimeMs: model.FloatPtr(12.5), ResponseCode: model.IntPtr(503), Output: model.StringPtr("bad gateway"),
		CheckedAt: now, CreatedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_WithMonitorTx(t *testing.T) {
	t.Run("locks and commits", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id FROM monitors WHERE id = \$1 FOR UPDATE`).WithArgs("m1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("m1"))
		mock.ExpectQuery(`FROM anomalies WHERE monitor_id = \$1 AND alert_id = \$2 AND ended_at IS NULL`).
			WithArgs("m1", "a1").WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(`INSERT INTO notifications`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		err := s.WithMonitorTx(context.Background(), "m1", func(tx Tx) error {
			open, err := tx.OpenAnomaly(context.Background(), "m1", "a1")
			require.NoError(t, err)
			assert.Nil(t, open)
			created, err := tx.EnqueueNotification(context.Background(), &model.Notification{AnomalyID: "x", Kind: model.TransitionFired})
			require.NoError(t, err)
			assert.False(t, created)
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown monitor rolls back", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WithArgs("nope").WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		called := false
		err := s.WithMonitorTx(context.Background(), "nope", func(Tx) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.False(t, called)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgStore_ClaimDueNotificationsOrdersFiredFirst(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"anomaly_id", "kind", "monitor_id", "alert_id", "due_at", "created_at", "attempts", "last_error"}).
		AddRow("an1", "recovered", "m1", "a1", now, now, 0, "").
		AddRow("an1", "fired", "m1", "a1", now, now, 0, "")
	mock.ExpectQuery(`UPDATE notifications n SET locked_until`).WithArgs(now, now.Add(time.Minute), 10).WillReturnRows(rows)

	got, err := s.ClaimDueNotifications(context.Background(), now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.TransitionFired, got[0].Kind)
	assert.Equal(t, model.TransitionRecovered, got[1].Kind)
}

func TestPgStore_PendingChecksBefore(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2026, 5, 1, 0, 1, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("m1").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("m1"))
	mock.ExpectQuery(`FROM checks\s+WHERE monitor_id = \$1 AND evaluated_at IS NULL AND checked_at < \$2\s+ORDER BY checked_at LIMIT \$3`).
		WithArgs("m1", at, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "monitor_id", "status", "response_time_ms", "response_code", "output",
			"checked_at", "created_at", "evaluated_at", "anomaly_id"}).
			AddRow("c0", "m1", "FAIL", 3.5, nil, "timeout", at.Add(-time.Minute), at.Add(-time.Minute), nil, nil))
	mock.ExpectCommit()

	err := s.WithMonitorTx(context.Background(), "m1", func(tx Tx) error {
		got, err := tx.PendingChecksBefore(context.Background(), "m1", at, 50)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "c0", got[0].ID)
		assert.Equal(t, model.StatusFail, got[0].Status)
		assert.Nil(t, got[0].EvaluatedAt)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
