package queue

import (
	"context"
	"hash/fnv"

	"github.com/qiniu/watchtower/internal/alerting/model"
)

// Handler processes one check-recorded event. A non-nil error leaves the
// event for redelivery.
type Handler func(ctx context.Context, ev model.CheckRecorded) error

// Queue carries CheckRecorded events from the recorder to the evaluator.
// Events are partitioned by monitor so that one consumer goroutine owns each
// partition and events for a monitor are handled one at a time.
type Queue interface {
	Publish(ctx context.Context, ev model.CheckRecorded) error
	// Consume blocks until ctx is done.
	Consume(ctx context.Context, h Handler) error
}

// ShardOf maps a monitor to its partition.
func ShardOf(monitorID string, shards int) int {
	if shards <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(monitorID))
	return int(h.Sum32() % uint32(shards))
}
