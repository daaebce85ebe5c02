package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qiniu/watchtower/internal/alerting/metrics"
	"github.com/qiniu/watchtower/internal/alerting/model"
	"github.com/rs/zerolog/log"
)

// CheckWriter persists checks.
type CheckWriter interface {
	InsertCheck(ctx context.Context, c *model.Check) error
}

// Publisher emits the check-recorded event.
type Publisher interface {
	Publish(ctx context.Context, ev model.CheckRecorded) error
}

// Recorder turns checker results into immutable checks and announces them.
//
// The inserted row, still unevaluated, is itself the durable record of the
// event: a failed publish is logged and the redeliverer picks the check up later.
type Recorder struct {
	Writer    CheckWriter
	Publisher Publisher
	Now       func() time.Time
	NewID     func() string
}

func New(w CheckWriter, p Publisher) *Recorder {
	return &Recorder{Writer: w, Publisher: p, Now: time.Now, NewID: uuid.NewString}
}

// Record stores res as a check of m observed now.
func (r *Recorder) Record(ctx context.Context, m *model.Monitor, res model.CheckResult) (*model.Check, error) {
	return r.RecordAt(ctx, m, res, r.Now())
}

// RecordAt stores res as a check of m observed at checkedAt.
func (r *Recorder) RecordAt(ctx context.Context, m *model.Monitor, res model.CheckResult, checkedAt time.Time) (*model.Check, error) {
	status := res.Status
	if !status.Valid() {
		status = model.StatusUnknown
	}
	c := &model.Check{
		ID:             r.NewID(),
		MonitorID:      m.ID,
		Status:         status,
		ResponseTimeMs: res.ResponseTimeMs,
		ResponseCode:   res.ResponseCode,
		Output:         res.Output,
		CheckedAt:      checkedAt,
		CreatedAt:      r.Now(),
	}
	if err := r.Writer.InsertCheck(ctx, c); err != nil {
		return nil, fmt.Errorf("record check for monitor %s: %w", m.ID, err)
	}
	metrics.ChecksRecordedTotal.WithLabelValues(string(m.Type), string(status)).Inc()

	if r.Publisher != nil {
		ev := model.CheckRecorded{CheckID: c.ID, MonitorID: c.MonitorID, CheckedAt: c.CheckedAt}
		if err := r.Publisher.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).Str("check_id", c.ID).Str("monitor_id", m.ID).Msg("publish check recorded failed; redeliverer will retry")
		}
	}
	return c, nil
}
