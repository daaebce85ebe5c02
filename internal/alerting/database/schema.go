package database

var schema = []string{
	`CREATE TABLE IF NOT EXISTS monitors (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		config JSONB NOT NULL DEFAULT '{}'::jsonb,
		check_interval INTERVAL NOT NULL DEFAULT '60 seconds',
		consecutive_threshold INT NOT NULL DEFAULT 1 CHECK (consecutive_threshold >= 1),
		status TEXT NOT NULL DEFAULT 'UNKNOWN',
		is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		last_checked_at TIMESTAMPTZ,
		last_pulse_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		target TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS monitor_alerts (
		monitor_id TEXT NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
		alert_id TEXT NOT NULL REFERENCES alerts(id) ON DELETE CASCADE,
		attached_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (monitor_id, alert_id)
	)`,
	`CREATE TABLE IF NOT EXISTS anomalies (
		id TEXT PRIMARY KEY,
		monitor_id TEXT NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
		alert_id TEXT NOT NULL REFERENCES alerts(id) ON DELETE CASCADE,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_anomalies_monitor_alert_ended ON anomalies(monitor_id, alert_id, ended_at)`,
	// at most one open anomaly per (monitor, alert)
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_anomalies_open ON anomalies(monitor_id, alert_id) WHERE ended_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS checks (
		id TEXT PRIMARY KEY,
		monitor_id TEXT NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		response_time_ms DOUBLE PRECISION,
		response_code INT,
		output TEXT,
		checked_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		evaluated_at TIMESTAMPTZ,
		anomaly_id TEXT REFERENCES anomalies(id) ON DELETE SET NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_checks_monitor_checked ON checks(monitor_id, checked_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_checks_unevaluated ON checks(created_at) WHERE evaluated_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS anomaly_checks (
		anomaly_id TEXT NOT NULL REFERENCES anomalies(id) ON DELETE CASCADE,
		check_id TEXT NOT NULL REFERENCES checks(id) ON DELETE CASCADE,
		PRIMARY KEY (anomaly_id, check_id)
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		anomaly_id TEXT NOT NULL REFERENCES anomalies(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		monitor_id TEXT NOT NULL,
		alert_id TEXT NOT NULL,
		due_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		locked_until TIMESTAMPTZ,
		attempts INT NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		sent_at TIMESTAMPTZ,
		dead_at TIMESTAMPTZ,
		PRIMARY KEY (anomaly_id, kind)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_due ON notifications(due_at) WHERE sent_at IS NULL AND dead_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS server_metrics (
		id BIGSERIAL PRIMARY KEY,
		monitor_id TEXT NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
		cpu DOUBLE PRECISION NOT NULL DEFAULT 0,
		memory DOUBLE PRECISION NOT NULL DEFAULT 0,
		swap DOUBLE PRECISION NOT NULL DEFAULT 0,
		disk DOUBLE PRECISION NOT NULL DEFAULT 0,
		net_in DOUBLE PRECISION NOT NULL DEFAULT 0,
		net_out DOUBLE PRECISION NOT NULL DEFAULT 0,
		reported_at TIMESTAMPTZ NOT NULL,
		received_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_server_metrics_monitor_reported ON server_metrics(monitor_id, reported_at DESC)`,
}
