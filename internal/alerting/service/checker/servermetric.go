package checker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qiniu/watchtower/internal/alerting/model"
	"github.com/qiniu/watchtower/internal/alerting/service/store"
)

// MetricSource provides the newest pushed server metric sample for a monitor.
type MetricSource interface {
	LatestServerMetric(ctx context.Context, monitorID string) (*model.ServerMetric, error)
}

// ServerMetricConfig is the config of a server_metric monitor.
// Secret authenticates pushes and is not used by the checker.
type ServerMetricConfig struct {
	Metric        string  `json:"metric"`
	Op            string  `json:"op"`
	Threshold     float64 `json:"threshold"`
	MaxAgeSeconds int     `json:"maxAgeSeconds"`
	Secret        string  `json:"secret"`
}

// ServerMetricChecker compares the latest sample against a threshold. The
// check fails when "value op threshold" holds or when samples stopped arriving.
type ServerMetricChecker struct {
	Source MetricSource
	Now    func() time.Time
}

func (c *ServerMetricChecker) Check(ctx context.Context, m *model.Monitor) model.CheckResult {
	var cfg ServerMetricConfig
	if err := m.DecodeConfig(&cfg); err != nil {
		return Fail(fmt.Sprintf("invalid server_metric config: %v", err))
	}
	if cfg.Op == "" {
		cfg.Op = ">"
	}
	if _, err := compare(0, cfg.Op, 0); err != nil {
		return Fail(fmt.Sprintf("invalid server_metric config: %v", err))
	}

	sample, err := c.Source.LatestServerMetric(ctx, m.ID)
	if errors.Is(err, store.ErrNotFound) {
		return Unknown("no metrics reported yet")
	}
	if err != nil {
		return Fail(fmt.Sprintf("load metrics: %v", err))
	}

	maxAge := time.Duration(cfg.MaxAgeSeconds) * time.Second
	if maxAge <= 0 {
		maxAge = 2 * m.Interval
		if maxAge <= 0 {
			maxAge = 5 * time.Minute
		}
	}
	if age := c.Now().Sub(sample.ReportedAt); age > maxAge {
		return Fail(fmt.Sprintf("metrics are stale: last report %s ago", age.Truncate(time.Second)))
	}

	value, ok := sample.Field(cfg.Metric)
	if !ok {
		return Fail(fmt.Sprintf("invalid server_metric config: unknown metric %q", cfg.Metric))
	}
	breached, _ := compare(value, cfg.Op, cfg.Threshold)
	if breached {
		return Fail(fmt.Sprintf("%s %.2f %s %.2f", cfg.Metric, value, cfg.Op, cfg.Threshold))
	}
	return OK(fmt.Sprintf("%s %.2f", cfg.Metric, value))
}

func compare(v float64, op string, threshold float64) (bool, error) {
	switch op {
	case ">":
		return v > threshold, nil
	case ">=":
		return v >= threshold, nil
	case "<":
		return v < threshold, nil
	case "<=":
		return v <= threshold, nil
	case "==", "=":
		return v == threshold, nil
	case "!=":
		return v != threshold, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}
