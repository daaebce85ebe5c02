package checker

import (
	"context"
	"fmt"
	"time"

	"github.com/qiniu/watchtower/internal/alerting/model"
)

// PulseConfig is the config of a pulse (heartbeat) monitor.
type PulseConfig struct {
	GraceSeconds int `json:"graceSeconds"`
}

// PulseChecker fails a monitor whose last heartbeat is older than its interval plus grace.
// Before the first heartbeat the window is measured from the monitor's creation.
type PulseChecker struct {
	Now func() time.Time
}

func (c *PulseChecker) Check(ctx context.Context, m *model.Monitor) model.CheckResult {
	var cfg PulseConfig
	if err := m.DecodeConfig(&cfg); err != nil {
		return Fail(fmt.Sprintf("invalid pulse config: %v", err))
	}
	window := m.Interval + time.Duration(cfg.GraceSeconds)*time.Second
	if window <= 0 {
		window = time.Minute
	}
	now := c.Now()

	if m.LastPulseAt == nil {
		if now.Sub(m.CreatedAt) > window {
			return Fail(fmt.Sprintf("no heartbeat received within %s", window))
		}
		return Unknown("waiting for first heartbeat")
	}
	age := now.Sub(*m.LastPulseAt)
	if age > window {
		return Fail(fmt.Sprintf("last heartbeat %s ago exceeds %s", age.Truncate(time.Second), window))
	}
	return OK(fmt.Sprintf("last heartbeat %s ago", age.Truncate(time.Second)))
}
