package model

import (
	"encoding/json"
	"time"
)

// Status is the outcome of a single probe, and also the debounced state of a monitor.
type Status string

const (
	StatusOK      Status = "OK"
	StatusFail    Status = "FAIL"
	StatusUnknown Status = "UNKNOWN"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOK, StatusFail, StatusUnknown:
		return true
	}
	return false
}

// MonitorType selects the checker used to probe a monitor.
type MonitorType string

const (
	MonitorHTTP         MonitorType = "http"
	MonitorTCP          MonitorType = "tcp"
	MonitorPulse        MonitorType = "pulse"
	MonitorServerMetric MonitorType = "server_metric"
	MonitorBrowser      MonitorType = "browser"
)

// Monitor is a configured probe target.
//
// Status is the debounced state: it only changes after ConsecutiveThreshold
// consecutive checks agree.
type Monitor struct {
	ID                   string          `json:"id" yaml:"id"`
	OwnerID              string          `json:"ownerId" yaml:"owner"`
	Name                 string          `json:"name" yaml:"name"`
	Type                 MonitorType     `json:"type" yaml:"type"`
	Config               json.RawMessage `json:"config,omitempty" yaml:"-"`
	Interval             time.Duration   `json:"interval" yaml:"-"`
	ConsecutiveThreshold int             `json:"consecutiveThreshold" yaml:"consecutiveThreshold"`
	Status               Status          `json:"status" yaml:"-"`
	IsEnabled            bool            `json:"isEnabled" yaml:"enabled"`
	LastCheckedAt        *time.Time      `json:"lastCheckedAt,omitempty" yaml:"-"`
	LastPulseAt          *time.Time      `json:"lastPulseAt,omitempty" yaml:"-"`
	CreatedAt            time.Time       `json:"createdAt" yaml:"-"`
}

// Threshold returns ConsecutiveThreshold clamped to at least 1.
func (m *Monitor) Threshold() int {
	if m.ConsecutiveThreshold < 1 {
		return 1
	}
	return m.ConsecutiveThreshold
}

// DecodeConfig unmarshals the type-specific configuration into v.
// An empty config leaves v untouched.
func (m *Monitor) DecodeConfig(v any) error {
	if len(m.Config) == 0 {
		return nil
	}
	return json.Unmarshal(m.Config, v)
}
