package evaluator

import (
	"context"
	"errors"

	"github.com/qiniu/watchtower/internal/alerting/model"
	"github.com/qiniu/watchtower/internal/alerting/service/queue"
	"github.com/qiniu/watchtower/internal/alerting/service/store"
	"github.com/rs/zerolog/log"
)

// Consumer feeds queued CheckRecorded events into the engine.
type Consumer struct {
	Engine *Engine
	Queue  queue.Queue
}

func NewConsumer(engine *Engine, q queue.Queue) *Consumer {
	return &Consumer{Engine: engine, Queue: q}
}

// Start consumes events until ctx is done.
func (c *Consumer) Start(ctx context.Context) {
	if c.Queue == nil {
		log.Warn().Msg("evaluator consumer started without queue; no-op")
		return
	}
	if err := c.Queue.Consume(ctx, c.Handle); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("evaluator consumer stopped")
	}
}

// Handle evaluates one event. Events for checks or monitors that no longer
// exist are acknowledged; any other failure is returned so the queue redelivers.
func (c *Consumer) Handle(ctx context.Context, ev model.CheckRecorded) error {
	_, err := c.Engine.Evaluate(ctx, ev)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn().Err(err).Str("check_id", ev.CheckID).Str("monitor_id", ev.MonitorID).Msg("dropping event for missing check")
		return nil
	}
	return err
}
