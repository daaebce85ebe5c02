package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/qiniu/watchtower/internal/alerting/model"
)

// MemStore is an in-process Store used when no database is configured and in tests.
// WithMonitorTx holds a per-monitor mutex and rolls writes back through an undo log.
type MemStore struct {
	locks *xsync.Map[string, *sync.Mutex]

	mu            sync.RWMutex
	monitors      map[string]*model.Monitor
	alerts        map[string]*model.Alert
	attached      map[string][]string
	checks        map[string]*model.Check
	checkOrder    []string
	anomalies     map[string]*model.Anomaly
	anomalyChecks map[string][]string
	notifications map[string]*memNotification
	metrics       map[string][]*model.ServerMetric
}

type memNotification struct {
	model.Notification
	lockedUntil time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		locks:         xsync.NewMap[string, *sync.Mutex](),
		monitors:      map[string]*model.Monitor{},
		alerts:        map[string]*model.Alert{},
		attached:      map[string][]string{},
		checks:        map[string]*model.Check{},
		anomalies:     map[string]*model.Anomaly{},
		anomalyChecks: map[string][]string{},
		notifications: map[string]*memNotification{},
		metrics:       map[string][]*model.ServerMetric{},
	}
}

func copyMonitor(m *model.Monitor) *model.Monitor {
	cp := *m
	return &cp
}

func copyCheck(c *model.Check) *model.Check {
	cp := *c
	return &cp
}

func copyAnomaly(a *model.Anomaly) *model.Anomaly {
	cp := *a
	return &cp
}

func (s *MemStore) GetMonitor(ctx context.Context, id string) (*model.Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getMonitorLocked(id)
}

func (s *MemStore) getMonitorLocked(id string) (*model.Monitor, error) {
	m, ok := s.monitors[id]
	if !ok {
		return nil, fmt.Errorf("monitor %s: %w", id, ErrNotFound)
	}
	return copyMonitor(m), nil
}

func (s *MemStore) ListMonitors(ctx context.Context, ownerID string) ([]*model.Monitor, error) {
	return s.listMonitors(func(m *model.Monitor) bool { return ownerID == "" || m.OwnerID == ownerID }), nil
}

func (s *MemStore) ListEnabledMonitors(ctx context.Context) ([]*model.Monitor, error) {
	return s.listMonitors(func(m *model.Monitor) bool { return m.IsEnabled }), nil
}

func (s *MemStore) listMonitors(keep func(*model.Monitor) bool) []*model.Monitor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Monitor
	for _, m := range s.monitors {
		if keep(m) {
			out = append(out, copyMonitor(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemStore) UpsertMonitor(ctx context.Context, m *model.Monitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyMonitor(m)
	cp.ConsecutiveThreshold = m.Threshold()
	if prev, ok := s.monitors[m.ID]; ok {
		cp.Status = prev.Status
		cp.LastCheckedAt = prev.LastCheckedAt
		cp.LastPulseAt = prev.LastPulseAt
		cp.CreatedAt = prev.CreatedAt
	} else {
		if cp.Status == "" {
			cp.Status = model.StatusUnknown
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = time.Now()
		}
	}
	s.monitors[m.ID] = cp
	return nil
}

func (s *MemStore) RecordPulse(ctx context.Context, monitorID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[monitorID]
	if !ok {
		return fmt.Errorf("monitor %s: %w", monitorID, ErrNotFound)
	}
	if m.LastPulseAt == nil || m.LastPulseAt.Before(at) {
		m.LastPulseAt = model.TimePtr(at)
	}
	return nil
}

func (s *MemStore) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *MemStore) UpsertAlert(ctx context.Context, a *model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	if prev, ok := s.alerts[a.ID]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.alerts[a.ID] = &cp
	return nil
}

func (s *MemStore) AttachAlert(ctx context.Context, monitorID, alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.monitors[monitorID]; !ok {
		return fmt.Errorf("monitor %s: %w", monitorID, ErrNotFound)
	}
	if _, ok := s.alerts[alertID]; !ok {
		return fmt.Errorf("alert %s: %w", alertID, ErrNotFound)
	}
	for _, id := range s.attached[monitorID] {
		if id == alertID {
			return nil
		}
	}
	s.attached[monitorID] = append(s.attached[monitorID], alertID)
	return nil
}

// DetachAlert removes the attachment. Open anomalies of the pair are left as they are.
func (s *MemStore) DetachAlert(monitorID, alertID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.attached[monitorID]
	for i, id := range ids {
		if id == alertID {
			s.attached[monitorID] = append(ids[:i:i], ids[i+1:]...)
			return
		}
	}
}

func (s *MemStore) InsertCheck(ctx context.Context, c *model.Check) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.monitors[c.MonitorID]; !ok {
		return fmt.Errorf("monitor %s: %w", c.MonitorID, ErrNotFound)
	}
	if _, dup := s.checks[c.ID]; dup {
		return fmt.Errorf("insert check: duplicate id %s", c.ID)
	}
	s.checks[c.ID] = copyCheck(c)
	s.checkOrder = append(s.checkOrder, c.ID)
	return nil
}

func (s *MemStore) GetCheck(ctx context.Context, id string) (*model.Check, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getCheckLocked(id)
}

func (s *MemStore) getCheckLocked(id string) (*model.Check, error) {
	c, ok := s.checks[id]
	if !ok {
		return nil, fmt.Errorf("check %s: %w", id, ErrNotFound)
	}
	return copyCheck(c), nil
}

// checksOfLocked returns a monitor's checks newest first, optionally bounded by upTo.
func (s *MemStore) checksOfLocked(monitorID string, upTo *time.Time, limit int) []*model.Check {
	var out []*model.Check
	for _, id := range s.checkOrder {
		c := s.checks[id]
		if c.MonitorID != monitorID {
			continue
		}
		if upTo != nil && c.CheckedAt.After(*upTo) {
			continue
		}
		out = append(out, copyCheck(c))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CheckedAt.After(out[j].CheckedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemStore) ListChecks(ctx context.Context, monitorID string, limit int) ([]*model.Check, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checksOfLocked(monitorID, nil, limit), nil
}

func (s *MemStore) ListUnevaluatedChecks(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Check, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Check
	for _, id := range s.checkOrder {
		c := s.checks[id]
		if c.EvaluatedAt == nil && c.CreatedAt.Before(createdBefore) {
			out = append(out, copyCheck(c))
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemStore) GetAnomaly(ctx context.Context, id string) (*model.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.anomalies[id]
	if !ok {
		return nil, fmt.Errorf("anomaly %s: %w", id, ErrNotFound)
	}
	return copyAnomaly(a), nil
}

func (s *MemStore) ListAnomalies(ctx context.Context, monitorID string, f AnomalyFilter) ([]*model.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Anomaly
	for _, a := range s.anomalies {
		if a.MonitorID != monitorID {
			continue
		}
		if f.Open != nil && a.IsOpen() != *f.Open {
			continue
		}
		out = append(out, copyAnomaly(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) ListAnomalyChecks(ctx context.Context, anomalyID string) ([]*model.Check, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Check
	for _, id := range s.anomalyChecks[anomalyID] {
		out = append(out, copyCheck(s.checks[id]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CheckedAt.Before(out[j].CheckedAt) })
	return out, nil
}

func (s *MemStore) InsertServerMetric(ctx context.Context, m *model.ServerMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.monitors[m.MonitorID]; !ok {
		return fmt.Errorf("monitor %s: %w", m.MonitorID, ErrNotFound)
	}
	cp := *m
	s.metrics[m.MonitorID] = append(s.metrics[m.MonitorID], &cp)
	return nil
}

func (s *MemStore) LatestServerMetric(ctx context.Context, monitorID string) (*model.ServerMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *model.ServerMetric
	for _, m := range s.metrics[monitorID] {
		if latest == nil || m.ReportedAt.After(latest.ReportedAt) {
			latest = m
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("server metric for %s: %w", monitorID, ErrNotFound)
	}
	cp := *latest
	return &cp, nil
}

func (s *MemStore) ClaimDueNotifications(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*model.Notification, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*memNotification
	for _, n := range s.notifications {
		if n.SentAt != nil || n.DeadAt != nil || n.DueAt.After(now) || n.lockedUntil.After(now) {
			continue
		}
		if n.Kind == model.TransitionRecovered {
			if f, ok := s.notifications[n.AnomalyID+":"+string(model.TransitionFired)]; ok && f.SentAt == nil && f.DeadAt == nil {
				continue
			}
		}
		due = append(due, n)
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].DueAt.Equal(due[j].DueAt) {
			return due[i].DueAt.Before(due[j].DueAt)
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]*model.Notification, 0, len(due))
	for _, n := range due {
		n.lockedUntil = now.Add(lease)
		cp := n.Notification
		out = append(out, &cp)
	}
	sortNotifications(out)
	return out, nil
}

func (s *MemStore) MarkNotificationSent(ctx context.Context, anomalyID string, kind model.TransitionKind, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[anomalyID+":"+string(kind)]
	if !ok {
		return fmt.Errorf("notification %s/%s: %w", anomalyID, kind, ErrNotFound)
	}
	n.SentAt = model.TimePtr(at)
	n.lockedUntil = time.Time{}
	return nil
}

func (s *MemStore) MarkNotificationFailed(ctx context.Context, anomalyID string, kind model.TransitionKind, nextDue time.Time, lastErr string, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[anomalyID+":"+string(kind)]
	if !ok {
		return fmt.Errorf("notification %s/%s: %w", anomalyID, kind, ErrNotFound)
	}
	n.Attempts++
	n.LastError = lastErr
	n.lockedUntil = time.Time{}
	if dead {
		n.DeadAt = model.TimePtr(nextDue)
	} else {
		n.DueAt = nextDue
	}
	return nil
}

// Notification returns a copy of an outbox row. Intended for tests and diagnostics.
func (s *MemStore) Notification(anomalyID string, kind model.TransitionKind) (*model.Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[anomalyID+":"+string(kind)]
	if !ok {
		return nil, false
	}
	cp := n.Notification
	return &cp, true
}

func (s *MemStore) WithMonitorTx(ctx context.Context, monitorID string, fn func(Tx) error) error {
	s.mu.RLock()
	_, ok := s.monitors[monitorID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("lock monitor %s: %w", monitorID, ErrNotFound)
	}

	l, _ := s.locks.LoadOrStore(monitorID, &sync.Mutex{})
	l.Lock()
	defer l.Unlock()

	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		s.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

type memTx struct {
	s    *MemStore
	undo []func()
}

func (t *memTx) GetMonitor(ctx context.Context, id string) (*model.Monitor, error) {
	return t.s.GetMonitor(ctx, id)
}

func (t *memTx) GetCheck(ctx context.Context, id string) (*model.Check, error) {
	return t.s.GetCheck(ctx, id)
}

func (t *memTx) RecentChecks(ctx context.Context, monitorID string, upTo time.Time, limit int) ([]*model.Check, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.checksOfLocked(monitorID, &upTo, limit), nil
}

func (t *memTx) PendingChecksBefore(ctx context.Context, monitorID string, before time.Time, limit int) ([]*model.Check, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []*model.Check
	for _, id := range t.s.checkOrder {
		c := t.s.checks[id]
		if c.MonitorID == monitorID && c.EvaluatedAt == nil && c.CheckedAt.Before(before) {
			out = append(out, copyCheck(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CheckedAt.Before(out[j].CheckedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) UpdateMonitorStatus(ctx context.Context, monitorID string, status model.Status) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	m, ok := t.s.monitors[monitorID]
	if !ok {
		return fmt.Errorf("monitor %s: %w", monitorID, ErrNotFound)
	}
	prev := m.Status
	m.Status = status
	t.undo = append(t.undo, func() { m.Status = prev })
	return nil
}

func (t *memTx) AdvanceLastChecked(ctx context.Context, monitorID string, checkedAt time.Time) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	m, ok := t.s.monitors[monitorID]
	if !ok {
		return fmt.Errorf("monitor %s: %w", monitorID, ErrNotFound)
	}
	if m.LastCheckedAt != nil && !m.LastCheckedAt.Before(checkedAt) {
		return nil
	}
	prev := m.LastCheckedAt
	m.LastCheckedAt = model.TimePtr(checkedAt)
	t.undo = append(t.undo, func() { m.LastCheckedAt = prev })
	return nil
}

func (t *memTx) MarkCheckEvaluated(ctx context.Context, checkID string, at time.Time) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	c, ok := t.s.checks[checkID]
	if !ok {
		return fmt.Errorf("check %s: %w", checkID, ErrNotFound)
	}
	prev := c.EvaluatedAt
	c.EvaluatedAt = model.TimePtr(at)
	t.undo = append(t.undo, func() { c.EvaluatedAt = prev })
	return nil
}

func (t *memTx) ListMonitorAlerts(ctx context.Context, monitorID string) ([]*model.Alert, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []*model.Alert
	for _, id := range t.s.attached[monitorID] {
		if a, ok := t.s.alerts[id]; ok {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) OpenAnomaly(ctx context.Context, monitorID, alertID string) (*model.Anomaly, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, a := range t.s.anomalies {
		if a.MonitorID == monitorID && a.AlertID == alertID && a.IsOpen() {
			return copyAnomaly(a), nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateAnomaly(ctx context.Context, a *model.Anomaly) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, other := range t.s.anomalies {
		if other.MonitorID == a.MonitorID && other.AlertID == a.AlertID && other.IsOpen() {
			return fmt.Errorf("create anomaly: open anomaly %s already exists for %s/%s", other.ID, a.MonitorID, a.AlertID)
		}
	}
	t.s.anomalies[a.ID] = copyAnomaly(a)
	id := a.ID
	t.undo = append(t.undo, func() { delete(t.s.anomalies, id) })
	return nil
}

func (t *memTx) CloseAnomaly(ctx context.Context, anomalyID string, endedAt time.Time) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	a, ok := t.s.anomalies[anomalyID]
	if !ok {
		return fmt.Errorf("anomaly %s: %w", anomalyID, ErrNotFound)
	}
	if !a.IsOpen() {
		return nil
	}
	a.EndedAt = model.TimePtr(endedAt)
	t.undo = append(t.undo, func() { a.EndedAt = nil })
	return nil
}

func (t *memTx) AttachCheck(ctx context.Context, anomalyID, checkID string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	c, ok := t.s.checks[checkID]
	if !ok {
		return fmt.Errorf("check %s: %w", checkID, ErrNotFound)
	}
	for _, id := range t.s.anomalyChecks[anomalyID] {
		if id == checkID {
			return nil
		}
	}
	prevList := t.s.anomalyChecks[anomalyID]
	t.s.anomalyChecks[anomalyID] = append(prevList[:len(prevList):len(prevList)], checkID)
	prevRef := c.AnomalyID
	if c.AnomalyID == nil {
		c.AnomalyID = model.StringPtr(anomalyID)
	}
	t.undo = append(t.undo, func() {
		t.s.anomalyChecks[anomalyID] = prevList
		c.AnomalyID = prevRef
	})
	return nil
}

func (t *memTx) EnqueueNotification(ctx context.Context, n *model.Notification) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	key := n.Key()
	if _, ok := t.s.notifications[key]; ok {
		return false, nil
	}
	t.s.notifications[key] = &memNotification{Notification: *n}
	t.undo = append(t.undo, func() { delete(t.s.notifications, key) })
	return true, nil
}
