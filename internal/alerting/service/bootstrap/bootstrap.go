// Package bootstrap seeds alerts and monitors from a YAML file, so a fresh
// deployment can run before any management API exists.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/common/model"
	amodel "github.com/qiniu/watchtower/internal/alerting/model"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Store is the subset of store.Store the seeder writes through.
type Store interface {
	UpsertAlert(ctx context.Context, a *amodel.Alert) error
	UpsertMonitor(ctx context.Context, m *amodel.Monitor) error
	AttachAlert(ctx context.Context, monitorID, alertID string) error
}

// File is the seed file layout.
type File struct {
	Alerts   []amodel.Alert `yaml:"alerts"`
	Monitors []MonitorSeed  `yaml:"monitors"`
}

// MonitorSeed describes one monitor. Config is written as YAML and stored as JSON.
type MonitorSeed struct {
	ID        string         `yaml:"id"`
	Owner     string         `yaml:"owner"`
	Name      string         `yaml:"name"`
	Type      string         `yaml:"type"`
	Interval  string         `yaml:"interval"`
	Threshold int            `yaml:"threshold"`
	Enabled   *bool          `yaml:"enabled"`
	Config    map[string]any `yaml:"config"`
	Alerts    []string       `yaml:"alerts"`
}

var knownTypes = map[amodel.MonitorType]bool{
	amodel.MonitorHTTP:         true,
	amodel.MonitorTCP:          true,
	amodel.MonitorPulse:        true,
	amodel.MonitorServerMetric: true,
	amodel.MonitorBrowser:      true,
}

// LoadFile reads path and applies it. An empty path is a no-op.
func LoadFile(ctx context.Context, s Store, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read bootstrap file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse bootstrap file: %w", err)
	}
	return Apply(ctx, s, &f)
}

// Apply upserts every alert, then every monitor with its attachments.
func Apply(ctx context.Context, s Store, f *File) error {
	for i := range f.Alerts {
		a := f.Alerts[i]
		if a.ID == "" {
			return fmt.Errorf("alert #%d: missing id", i)
		}
		if a.Kind == "" {
			a.Kind = amodel.AlertLog
		}
		if err := s.UpsertAlert(ctx, &a); err != nil {
			return fmt.Errorf("upsert alert %s: %w", a.ID, err)
		}
	}
	for i := range f.Monitors {
		m, err := f.Monitors[i].toMonitor()
		if err != nil {
			return fmt.Errorf("monitor #%d: %w", i, err)
		}
		if err := s.UpsertMonitor(ctx, m); err != nil {
			return fmt.Errorf("upsert monitor %s: %w", m.ID, err)
		}
		for _, alertID := range f.Monitors[i].Alerts {
			if err := s.AttachAlert(ctx, m.ID, alertID); err != nil {
				return fmt.Errorf("attach alert %s to monitor %s: %w", alertID, m.ID, err)
			}
		}
	}
	log.Info().Int("alerts", len(f.Alerts)).Int("monitors", len(f.Monitors)).Msg("bootstrap applied")
	return nil
}

func (ms *MonitorSeed) toMonitor() (*amodel.Monitor, error) {
	if ms.ID == "" {
		return nil, fmt.Errorf("missing id")
	}
	typ := amodel.MonitorType(strings.ToLower(ms.Type))
	if !knownTypes[typ] {
		return nil, fmt.Errorf("monitor %s: unknown type %q", ms.ID, ms.Type)
	}
	interval := time.Minute
	if ms.Interval != "" {
		d, err := model.ParseDuration(ms.Interval)
		if err != nil {
			return nil, fmt.Errorf("monitor %s: interval: %w", ms.ID, err)
		}
		interval = time.Duration(d)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("monitor %s: interval must be positive", ms.ID)
	}
	enabled := true
	if ms.Enabled != nil {
		enabled = *ms.Enabled
	}
	m := &amodel.Monitor{
		ID:                   ms.ID,
		OwnerID:              ms.Owner,
		Name:                 ms.Name,
		Type:                 typ,
		Interval:             interval,
		ConsecutiveThreshold: ms.Threshold,
		IsEnabled:            enabled,
	}
	if m.ConsecutiveThreshold < 1 {
		m.ConsecutiveThreshold = 1
	}
	if len(ms.Config) > 0 {
		raw, err := json.Marshal(ms.Config)
		if err != nil {
			return nil, fmt.Errorf("monitor %s: config: %w", ms.ID, err)
		}
		m.Config = raw
	}
	return m, nil
}
