package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	adb "github.com/qiniu/watchtower/internal/alerting/database"
	"github.com/qiniu/watchtower/internal/alerting/model"
)

// querier is satisfied by both *database.Database and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, q string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, q string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const defaultLimit = 100

// PgStore is a PostgreSQL-backed Store implementation using the alerting database wrapper.
type PgStore struct {
	DB *adb.Database
}

func NewPgStore(db *adb.Database) *PgStore { return &PgStore{DB: db} }

// WithMonitorTx locks the monitor row with SELECT ... FOR UPDATE for the whole
// transaction, so evaluations of the same monitor never interleave.
func (s *PgStore) WithMonitorTx(ctx context.Context, monitorID string, fn func(Tx) error) error {
	return s.DB.WithTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx, `SELECT id FROM monitors WHERE id = $1 FOR UPDATE`, monitorID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lock monitor %s: %w", monitorID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock monitor %s: %w", monitorID, err)
		}
		return fn(&pgTx{q: tx})
	})
}

// ---- monitors ----

const monitorCols = `id, owner_id, name, type, config, check_interval, consecutive_threshold, status, is_enabled, last_checked_at, last_pulse_at, created_at`

func scanMonitor(r rowScanner) (*model.Monitor, error) {
	var (
		m        model.Monitor
		typ      string
		status   string
		config   []byte
		interval string
		lastChk  sql.NullTime
		lastPuls sql.NullTime
	)
	if err := r.Scan(&m.ID, &m.OwnerID, &m.Name, &typ, &config, &interval, &m.ConsecutiveThreshold,
		&status, &m.IsEnabled, &lastChk, &lastPuls, &m.CreatedAt); err != nil {
		return nil, err
	}
	d, err := parseInterval(interval)
	if err != nil {
		return nil, err
	}
	m.Type = model.MonitorType(typ)
	m.Status = model.Status(status)
	m.Config = config
	m.Interval = d
	if lastChk.Valid {
		m.LastCheckedAt = model.TimePtr(lastChk.Time)
	}
	if lastPuls.Valid {
		m.LastPulseAt = model.TimePtr(lastPuls.Time)
	}
	return &m, nil
}

func getMonitor(ctx context.Context, q querier, id string) (*model.Monitor, error) {
	m, err := scanMonitor(q.QueryRowContext(ctx, `SELECT `+monitorCols+` FROM monitors WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("monitor %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get monitor: %w", err)
	}
	return m, nil
}

func queryMonitors(ctx context.Context, q querier, query string, args ...any) ([]*model.Monitor, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list monitors: %w", err)
	}
	defer rows.Close()
	var out []*model.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan monitor: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PgStore) GetMonitor(ctx context.Context, id string) (*model.Monitor, error) {
	return getMonitor(ctx, s.DB, id)
}

func (s *PgStore) ListMonitors(ctx context.Context, ownerID string) ([]*model.Monitor, error) {
	if ownerID == "" {
		return queryMonitors(ctx, s.DB, `SELECT `+monitorCols+` FROM monitors ORDER BY id`)
	}
	return queryMonitors(ctx, s.DB, `SELECT `+monitorCols+` FROM monitors WHERE owner_id = $1 ORDER BY id`, ownerID)
}

func (s *PgStore) ListEnabledMonitors(ctx context.Context) ([]*model.Monitor, error) {
	return queryMonitors(ctx, s.DB, `SELECT `+monitorCols+` FROM monitors WHERE is_enabled ORDER BY id`)
}

func (s *PgStore) UpsertMonitor(ctx context.Context, m *model.Monitor) error {
	const q = `
	INSERT INTO monitors(id, owner_id, name, type, config, check_interval, consecutive_threshold, is_enabled)
	VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
		owner_id = EXCLUDED.owner_id,
		name = EXCLUDED.name,
		type = EXCLUDED.type,
		config = EXCLUDED.config,
		check_interval = EXCLUDED.check_interval,
		consecutive_threshold = EXCLUDED.consecutive_threshold,
		is_enabled = EXCLUDED.is_enabled
	`
	config := string(m.Config)
	if config == "" {
		config = "{}"
	}
	_, err := s.DB.ExecContext(ctx, q, m.ID, m.OwnerID, m.Name, string(m.Type), config,
		durationToPgInterval(m.Interval), m.Threshold(), m.IsEnabled)
	if err != nil {
		return fmt.Errorf("upsert monitor: %w", err)
	}
	return nil
}

func (s *PgStore) RecordPulse(ctx context.Context, monitorID string, at time.Time) error {
	const q = `UPDATE monitors SET last_pulse_at = $2 WHERE id = $1 AND (last_pulse_at IS NULL OR last_pulse_at < $2)`
	res, err := s.DB.ExecContext(ctx, q, monitorID, at)
	if err != nil {
		return fmt.Errorf("record pulse: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// either unknown monitor or an older ping
		if _, err := s.GetMonitor(ctx, monitorID); err != nil {
			return err
		}
	}
	return nil
}

// ---- alerts ----

func (s *PgStore) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	const q = `SELECT id, owner_id, name, kind, target, created_at FROM alerts WHERE id = $1`
	var (
		a    model.Alert
		kind string
	)
	err := s.DB.QueryRowContext(ctx, q, id).Scan(&a.ID, &a.OwnerID, &a.Name, &kind, &a.Target, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	a.Kind = model.AlertKind(kind)
	return &a, nil
}

func (s *PgStore) UpsertAlert(ctx context.Context, a *model.Alert) error {
	const q = `
	INSERT INTO alerts(id, owner_id, name, kind, target)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		owner_id = EXCLUDED.owner_id,
		name = EXCLUDED.name,
		kind = EXCLUDED.kind,
		target = EXCLUDED.target
	`
	if _, err := s.DB.ExecContext(ctx, q, a.ID, a.OwnerID, a.Name, string(a.Kind), a.Target); err != nil {
		return fmt.Errorf("upsert alert: %w", err)
	}
	return nil
}

func (s *PgStore) AttachAlert(ctx context.Context, monitorID, alertID string) error {
	const q = `INSERT INTO monitor_alerts(monitor_id, alert_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := s.DB.ExecContext(ctx, q, monitorID, alertID); err != nil {
		return fmt.Errorf("attach alert: %w", err)
	}
	return nil
}

// ---- checks ----

const checkCols = `id, monitor_id, status, response_time_ms, response_code, output, checked_at, created_at, evaluated_at, anomaly_id`

func scanCheck(r rowScanner) (*model.Check, error) {
	var (
		c         model.Check
		status    string
		rt        sql.NullFloat64
		code      sql.NullInt64
		output    sql.NullString
		evaluated sql.NullTime
		anomalyID sql.NullString
	)
	if err := r.Scan(&c.ID, &c.MonitorID, &status, &rt, &code, &output, &c.CheckedAt, &c.CreatedAt, &evaluated, &anomalyID); err != nil {
		return nil, err
	}
	c.Status = model.Status(status)
	if rt.Valid {
		c.ResponseTimeMs = model.FloatPtr(rt.Float64)
	}
	if code.Valid {
		c.ResponseCode = model.IntPtr(int(code.Int64))
	}
	if output.Valid {
		c.Output = model.StringPtr(output.String)
	}
	if evaluated.Valid {
		c.EvaluatedAt = model.TimePtr(evaluated.Time)
	}
	if anomalyID.Valid {
		c.AnomalyID = model.StringPtr(anomalyID.String)
	}
	return &c, nil
}

func getCheck(ctx context.Context, q querier, id string) (*model.Check, error) {
	c, err := scanCheck(q.QueryRowContext(ctx, `SELECT `+checkCols+` FROM checks WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get check: %w", err)
	}
	return c, nil
}

func queryChecks(ctx context.Context, q querier, query string, args ...any) ([]*model.Check, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checks: %w", err)
	}
	defer rows.Close()
	var out []*model.Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("scan check: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PgStore) InsertCheck(ctx context.Context, c *model.Check) error {
	const q = `
	INSERT INTO checks(id, monitor_id, status, response_time_ms, response_code, output, checked_at, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	var code any
	if c.ResponseCode != nil {
		code = int64(*c.ResponseCode)
	}
	var rt any
	if c.ResponseTimeMs != nil {
		rt = *c.ResponseTimeMs
	}
	var output any
	if c.Output != nil {
		output = *c.Output
	}
	if _, err := s.DB.ExecContext(ctx, q, c.ID, c.MonitorID, string(c.Status), rt, code, output, c.CheckedAt, c.CreatedAt); err != nil {
		return fmt.Errorf("insert check: %w", err)
	}
	return nil
}

func (s *PgStore) GetCheck(ctx context.Context, id string) (*model.Check, error) {
	return getCheck(ctx, s.DB, id)
}

func (s *PgStore) ListChecks(ctx context.Context, monitorID string, limit int) ([]*model.Check, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	return queryChecks(ctx, s.DB, `SELECT `+checkCols+` FROM checks WHERE monitor_id = $1 ORDER BY checked_at DESC LIMIT $2`, monitorID, limit)
}

func (s *PgStore) ListUnevaluatedChecks(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Check, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	return queryChecks(ctx, s.DB, `SELECT `+checkCols+` FROM checks WHERE evaluated_at IS NULL AND created_at < $1 ORDER BY created_at LIMIT $2`, createdBefore, limit)
}

// ---- anomalies ----

const anomalyCols = `id, monitor_id, alert_id, started_at, ended_at`

func scanAnomaly(r rowScanner) (*model.Anomaly, error) {
	var (
		a     model.Anomaly
		ended sql.NullTime
	)
	if err := r.Scan(&a.ID, &a.MonitorID, &a.AlertID, &a.StartedAt, &ended); err != nil {
		return nil, err
	}
	if ended.Valid {
		a.EndedAt = model.TimePtr(ended.Time)
	}
	return &a, nil
}

func (s *PgStore) GetAnomaly(ctx context.Context, id string) (*model.Anomaly, error) {
	a, err := scanAnomaly(s.DB.QueryRowContext(ctx, `SELECT `+anomalyCols+` FROM anomalies WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("anomaly %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get anomaly: %w", err)
	}
	return a, nil
}

func (s *PgStore) ListAnomalies(ctx context.Context, monitorID string, f AnomalyFilter) ([]*model.Anomaly, error) {
	q := `SELECT ` + anomalyCols + ` FROM anomalies WHERE monitor_id = $1`
	if f.Open != nil {
		if *f.Open {
			q += ` AND ended_at IS NULL`
		} else {
			q += ` AND ended_at IS NOT NULL`
		}
	}
	q += ` ORDER BY started_at DESC LIMIT $2`
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.DB.QueryContext(ctx, q, monitorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()
	var out []*model.Anomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PgStore) ListAnomalyChecks(ctx context.Context, anomalyID string) ([]*model.Check, error) {
	const q = `
	SELECT c.id, c.monitor_id, c.status, c.response_time_ms, c.response_code, c.output, c.checked_at, c.created_at, c.evaluated_at, c.anomaly_id
	FROM anomaly_checks ac JOIN checks c ON c.id = ac.check_id
	WHERE ac.anomaly_id = $1
	ORDER BY c.checked_at
	`
	return queryChecks(ctx, s.DB, q, anomalyID)
}

// ---- server metrics ----

func (s *PgStore) InsertServerMetric(ctx context.Context, m *model.ServerMetric) error {
	const q = `
	INSERT INTO server_metrics(monitor_id, cpu, memory, swap, disk, net_in, net_out, reported_at, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.DB.ExecContext(ctx, q, m.MonitorID, m.CPU, m.Memory, m.Swap, m.Disk, m.NetIn, m.NetOut, m.ReportedAt, m.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert server metric: %w", err)
	}
	return nil
}

func (s *PgStore) LatestServerMetric(ctx context.Context, monitorID string) (*model.ServerMetric, error) {
	const q = `
	SELECT monitor_id, cpu, memory, swap, disk, net_in, net_out, reported_at, received_at
	FROM server_metrics WHERE monitor_id = $1
	ORDER BY reported_at DESC LIMIT 1
	`
	var m model.ServerMetric
	err := s.DB.QueryRowContext(ctx, q, monitorID).Scan(&m.MonitorID, &m.CPU, &m.Memory, &m.Swap, &m.Disk,
		&m.NetIn, &m.NetOut, &m.ReportedAt, &m.ReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("server metric for %s: %w", monitorID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest server metric: %w", err)
	}
	return &m, nil
}

// ---- notification outbox ----

func (s *PgStore) ClaimDueNotifications(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*model.Notification, error) {
	// a recovery waits until its fired notification was delivered or dead-lettered
	const q = `
	UPDATE notifications n SET locked_until = $2
	FROM (
		SELECT c.anomaly_id, c.kind FROM notifications c
		WHERE c.sent_at IS NULL AND c.dead_at IS NULL AND c.due_at <= $1
			AND (c.locked_until IS NULL OR c.locked_until <= $1)
			AND NOT (c.kind = 'recovered' AND EXISTS (
				SELECT 1 FROM notifications f
				WHERE f.anomaly_id = c.anomaly_id AND f.kind = 'fired' AND f.sent_at IS NULL AND f.dead_at IS NULL))
		ORDER BY c.due_at, c.created_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	) due
	WHERE n.anomaly_id = due.anomaly_id AND n.kind = due.kind
	RETURNING n.anomaly_id, n.kind, n.monitor_id, n.alert_id, n.due_at, n.created_at, n.attempts, n.last_error
	`
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.DB.QueryContext(ctx, q, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim notifications: %w", err)
	}
	defer rows.Close()
	var out []*model.Notification
	for rows.Next() {
		var (
			n    model.Notification
			kind string
		)
		if err := rows.Scan(&n.AnomalyID, &kind, &n.MonitorID, &n.AlertID, &n.DueAt, &n.CreatedAt, &n.Attempts, &n.LastError); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Kind = model.TransitionKind(kind)
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortNotifications(out)
	return out, nil
}

func (s *PgStore) MarkNotificationSent(ctx context.Context, anomalyID string, kind model.TransitionKind, at time.Time) error {
	const q = `UPDATE notifications SET sent_at = $3, locked_until = NULL WHERE anomaly_id = $1 AND kind = $2`
	if _, err := s.DB.ExecContext(ctx, q, anomalyID, string(kind), at); err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

func (s *PgStore) MarkNotificationFailed(ctx context.Context, anomalyID string, kind model.TransitionKind, nextDue time.Time, lastErr string, dead bool) error {
	const q = `
	UPDATE notifications SET
		attempts = attempts + 1,
		last_error = $3,
		locked_until = NULL,
		due_at = CASE WHEN $5 THEN due_at ELSE $4 END,
		dead_at = CASE WHEN $5 THEN $4 ELSE NULL END
	WHERE anomaly_id = $1 AND kind = $2
	`
	if _, err := s.DB.ExecContext(ctx, q, anomalyID, string(kind), lastErr, nextDue, dead); err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}

// sortNotifications orders by due time, fired before recovered for the same anomaly.
func sortNotifications(ns []*model.Notification) {
	sort.SliceStable(ns, func(i, j int) bool {
		if !ns[i].DueAt.Equal(ns[j].DueAt) {
			return ns[i].DueAt.Before(ns[j].DueAt)
		}
		return ns[i].Kind == model.TransitionFired && ns[j].Kind != model.TransitionFired
	})
}

// ---- transactional view ----

type pgTx struct {
	q querier
}

func (t *pgTx) GetMonitor(ctx context.Context, id string) (*model.Monitor, error) {
	return getMonitor(ctx, t.q, id)
}

func (t *pgTx) GetCheck(ctx context.Context, id string) (*model.Check, error) {
	return getCheck(ctx, t.q, id)
}

func (t *pgTx) RecentChecks(ctx context.Context, monitorID string, upTo time.Time, limit int) ([]*model.Check, error) {
	return queryChecks(ctx, t.q, `SELECT `+checkCols+` FROM checks WHERE monitor_id = $1 AND checked_at <= $2 ORDER BY checked_at DESC LIMIT $3`,
		monitorID, upTo, limit)
}

func (t *pgTx) PendingChecksBefore(ctx context.Context, monitorID string, before time.Time, limit int) ([]*model.Check, error) {
	const q = `SELECT ` + checkCols + ` FROM checks
	WHERE monitor_id = $1 AND evaluated_at IS NULL AND checked_at < $2
	ORDER BY checked_at LIMIT $3`
	return queryChecks(ctx, t.q, q, monitorID, before, limit)
}

func (t *pgTx) UpdateMonitorStatus(ctx context.Context, monitorID string, status model.Status) error {
	if _, err := t.q.ExecContext(ctx, `UPDATE monitors SET status = $2 WHERE id = $1`, monitorID, string(status)); err != nil {
		return fmt.Errorf("update monitor status: %w", err)
	}
	return nil
}

func (t *pgTx) AdvanceLastChecked(ctx context.Context, monitorID string, checkedAt time.Time) error {
	const q = `UPDATE monitors SET last_checked_at = $2 WHERE id = $1 AND (last_checked_at IS NULL OR last_checked_at < $2)`
	if _, err := t.q.ExecContext(ctx, q, monitorID, checkedAt); err != nil {
		return fmt.Errorf("advance last checked: %w", err)
	}
	return nil
}

func (t *pgTx) MarkCheckEvaluated(ctx context.Context, checkID string, at time.Time) error {
	if _, err := t.q.ExecContext(ctx, `UPDATE checks SET evaluated_at = $2 WHERE id = $1`, checkID, at); err != nil {
		return fmt.Errorf("mark check evaluated: %w", err)
	}
	return nil
}

func (t *pgTx) ListMonitorAlerts(ctx context.Context, monitorID string) ([]*model.Alert, error) {
	const q = `
	SELECT a.id, a.owner_id, a.name, a.kind, a.target, a.created_at
	FROM monitor_alerts ma JOIN alerts a ON a.id = ma.alert_id
	WHERE ma.monitor_id = $1
	ORDER BY a.id
	`
	rows, err := t.q.QueryContext(ctx, q, monitorID)
	if err != nil {
		return nil, fmt.Errorf("list monitor alerts: %w", err)
	}
	defer rows.Close()
	var out []*model.Alert
	for rows.Next() {
		var (
			a    model.Alert
			kind string
		)
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Name, &kind, &a.Target, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Kind = model.AlertKind(kind)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (t *pgTx) OpenAnomaly(ctx context.Context, monitorID, alertID string) (*model.Anomaly, error) {
	const q = `SELECT ` + anomalyCols + ` FROM anomalies WHERE monitor_id = $1 AND alert_id = $2 AND ended_at IS NULL`
	a, err := scanAnomaly(t.q.QueryRowContext(ctx, q, monitorID, alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open anomaly: %w", err)
	}
	return a, nil
}

func (t *pgTx) CreateAnomaly(ctx context.Context, a *model.Anomaly) error {
	const q = `INSERT INTO anomalies(id, monitor_id, alert_id, started_at) VALUES ($1, $2, $3, $4)`
	if _, err := t.q.ExecContext(ctx, q, a.ID, a.MonitorID, a.AlertID, a.StartedAt); err != nil {
		return fmt.Errorf("create anomaly: %w", err)
	}
	return nil
}

func (t *pgTx) CloseAnomaly(ctx context.Context, anomalyID string, endedAt time.Time) error {
	const q = `UPDATE anomalies SET ended_at = $2 WHERE id = $1 AND ended_at IS NULL`
	if _, err := t.q.ExecContext(ctx, q, anomalyID, endedAt); err != nil {
		return fmt.Errorf("close anomaly: %w", err)
	}
	return nil
}

func (t *pgTx) AttachCheck(ctx context.Context, anomalyID, checkID string) error {
	if _, err := t.q.ExecContext(ctx, `INSERT INTO anomaly_checks(anomaly_id, check_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, anomalyID, checkID); err != nil {
		return fmt.Errorf("attach check: %w", err)
	}
	if _, err := t.q.ExecContext(ctx, `UPDATE checks SET anomaly_id = $1 WHERE id = $2 AND anomaly_id IS NULL`, anomalyID, checkID); err != nil {
		return fmt.Errorf("attach check: %w", err)
	}
	return nil
}

func (t *pgTx) EnqueueNotification(ctx context.Context, n *model.Notification) (bool, error) {
	const q = `
	INSERT INTO notifications(anomaly_id, kind, monitor_id, alert_id, due_at, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (anomaly_id, kind) DO NOTHING
	`
	res, err := t.q.ExecContext(ctx, q, n.AnomalyID, string(n.Kind), n.MonitorID, n.AlertID, n.DueAt, n.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("enqueue notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue notification: %w", err)
	}
	return affected > 0, nil
}
