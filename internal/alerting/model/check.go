package model

import "time"

// CheckResult is what a checker returns for one probe execution.
type CheckResult struct {
	Status         Status   `json:"status"`
	ResponseTimeMs *float64 `json:"responseTimeMs,omitempty"`
	ResponseCode   *int     `json:"responseCode,omitempty"`
	Output         *string  `json:"output,omitempty"`
}

// Check is one immutable recorded probe result.
type Check struct {
	ID             string     `json:"id"`
	MonitorID      string     `json:"monitorId"`
	Status         Status     `json:"status"`
	ResponseTimeMs *float64   `json:"responseTimeMs,omitempty"`
	ResponseCode   *int       `json:"responseCode,omitempty"`
	Output         *string    `json:"output,omitempty"`
	CheckedAt      time.Time  `json:"checkedAt"`
	CreatedAt      time.Time  `json:"createdAt"`
	EvaluatedAt    *time.Time `json:"evaluatedAt,omitempty"`
	AnomalyID      *string    `json:"anomalyId,omitempty"`
}

// CheckRecorded is the queue event emitted after a check is persisted.
type CheckRecorded struct {
	CheckID   string    `json:"checkId"`
	MonitorID string    `json:"monitorId"`
	CheckedAt time.Time `json:"checkedAt"`
}

func StringPtr(s string) *string { return &s }

func IntPtr(i int) *int { return &i }

func FloatPtr(f float64) *float64 { return &f }

func TimePtr(t time.Time) *time.Time { return &t }
