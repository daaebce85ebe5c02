package model

import "time"

// ServerMetric is one resource sample pushed by an agent for a server-metric monitor.
// Percent fields are 0-100; network fields are bytes per second.
type ServerMetric struct {
	MonitorID  string    `json:"monitorId"`
	CPU        float64   `json:"cpu"`
	Memory     float64   `json:"memory"`
	Swap       float64   `json:"swap"`
	Disk       float64   `json:"disk"`
	NetIn      float64   `json:"netIn"`
	NetOut     float64   `json:"netOut"`
	ReportedAt time.Time `json:"reportedAt"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Field returns the named sample value: cpu, memory, swap, disk, net_in or net_out.
func (m *ServerMetric) Field(name string) (float64, bool) {
	switch name {
	case "cpu":
		return m.CPU, true
	case "memory", "mem":
		return m.Memory, true
	case "swap":
		return m.Swap, true
	case "disk":
		return m.Disk, true
	case "net_in":
		return m.NetIn, true
	case "net_out":
		return m.NetOut, true
	}
	return 0, false
}
