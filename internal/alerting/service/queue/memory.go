package queue

import (
	"context"
	"sync"

	"github.com/qiniu/watchtower/internal/alerting/model"
	"github.com/rs/zerolog/log"
)

// MemoryQueue is a non-durable queue over buffered channels. Events whose
// handler fails are dropped here and picked up again by the redeliverer.
type MemoryQueue struct {
	shards []chan model.CheckRecorded
}

func NewMemoryQueue(shards, size int) *MemoryQueue {
	if shards < 1 {
		shards = 1
	}
	if size < 1 {
		size = 1024
	}
	q := &MemoryQueue{shards: make([]chan model.CheckRecorded, shards)}
	for i := range q.shards {
		q.shards[i] = make(chan model.CheckRecorded, size)
	}
	return q
}

func (q *MemoryQueue) Publish(ctx context.Context, ev model.CheckRecorded) error {
	select {
	case q.shards[ShardOf(ev.MonitorID, len(q.shards))] <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, h Handler) error {
	var wg sync.WaitGroup
	for i, ch := range q.shards {
		wg.Add(1)
		go func(shard int, ch <-chan model.CheckRecorded) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-ch:
					if err := h(ctx, ev); err != nil {
						log.Warn().Err(err).Int("shard", shard).Str("check_id", ev.CheckID).
							Str("monitor_id", ev.MonitorID).Msg("memory queue: handler failed; left for redelivery")
					}
				}
			}
		}(i, ch)
	}
	wg.Wait()
	return nil
}
