package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/qiniu/watchtower/internal/alerting/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type RedisOptions struct {
	Prefix   string
	Group    string
	Consumer string
	Shards   int
	// Block is the XREADGROUP block time (default 2s). A negative value polls without blocking.
	Block  time.Duration
	Count  int64
	MaxLen int64
	// ClaimMinIdle is how long a delivered but unacknowledged message waits
	// before another read reclaims it.
	ClaimMinIdle time.Duration
}

// RedisQueue is a durable queue on Redis Streams: one stream per shard and a
// shared consumer group. Messages are acknowledged only after the handler succeeds.
type RedisQueue struct {
	rdb *redis.Client
	opt RedisOptions
}

func NewRedisQueue(rdb *redis.Client, opt RedisOptions) *RedisQueue {
	if opt.Prefix == "" {
		opt.Prefix = "watchtower:checks"
	}
	if opt.Group == "" {
		opt.Group = "evaluators"
	}
	if opt.Consumer == "" {
		host, _ := os.Hostname()
		opt.Consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if opt.Shards < 1 {
		opt.Shards = 1
	}
	if opt.Block == 0 {
		// zero would block forever and starve reclaim and shutdown
		opt.Block = 2 * time.Second
	}
	if opt.Count <= 0 {
		opt.Count = 32
	}
	if opt.MaxLen <= 0 {
		opt.MaxLen = 100000
	}
	if opt.ClaimMinIdle <= 0 {
		opt.ClaimMinIdle = 30 * time.Second
	}
	return &RedisQueue{rdb: rdb, opt: opt}
}

func (q *RedisQueue) stream(shard int) string { return fmt.Sprintf("%s:%d", q.opt.Prefix, shard) }

// EnsureGroups creates the consumer group on every shard stream.
func (q *RedisQueue) EnsureGroups(ctx context.Context) error {
	for i := 0; i < q.opt.Shards; i++ {
		err := q.rdb.XGroupCreateMkStream(ctx, q.stream(i), q.opt.Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create group on %s: %w", q.stream(i), err)
		}
	}
	return nil
}

func (q *RedisQueue) Publish(ctx context.Context, ev model.CheckRecorded) error {
	err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream(ShardOf(ev.MonitorID, q.opt.Shards)),
		MaxLen: q.opt.MaxLen,
		Approx: true,
		Values: map[string]any{
			"check_id":   ev.CheckID,
			"monitor_id": ev.MonitorID,
			"checked_at": ev.CheckedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish check %s: %w", ev.CheckID, err)
	}
	return nil
}

func (q *RedisQueue) Consume(ctx context.Context, h Handler) error {
	if err := q.EnsureGroups(ctx); err != nil {
		return err
	}
	var wg sync.WaitGroup
	for i := 0; i < q.opt.Shards; i++ {
		wg.Add(1)
		go func(shard int) {
			defer wg.Done()
			q.runShard(ctx, shard, h)
		}(i)
	}
	wg.Wait()
	return nil
}

func (q *RedisQueue) runShard(ctx context.Context, shard int, h Handler) {
	lastClaim := time.Now()
	for ctx.Err() == nil {
		if time.Since(lastClaim) >= q.opt.ClaimMinIdle {
			if _, err := q.reclaim(ctx, shard, h); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Int("shard", shard).Msg("redis queue: reclaim failed")
			}
			lastClaim = time.Now()
		}
		n, err := q.poll(ctx, shard, h)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Int("shard", shard).Msg("redis queue: read failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if n == 0 && q.opt.Block < 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}

// poll reads new messages of one shard and handles them in order.
func (q *RedisQueue) poll(ctx context.Context, shard int, h Handler) (int, error) {
	res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.opt.Group,
		Consumer: q.opt.Consumer,
		Streams:  []string{q.stream(shard), ">"},
		Count:    q.opt.Count,
		Block:    q.opt.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range res {
		for _, msg := range s.Messages {
			q.handle(ctx, s.Stream, msg, h)
			n++
		}
	}
	return n, nil
}

// reclaim takes over messages that stayed pending longer than ClaimMinIdle.
func (q *RedisQueue) reclaim(ctx context.Context, shard int, h Handler) (int, error) {
	msgs, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream(shard),
		Group:    q.opt.Group,
		Consumer: q.opt.Consumer,
		MinIdle:  q.opt.ClaimMinIdle,
		Start:    "0-0",
		Count:    q.opt.Count,
	}).Result()
	if err != nil {
		return 0, err
	}
	for _, msg := range msgs {
		q.handle(ctx, q.stream(shard), msg, h)
	}
	return len(msgs), nil
}

func (q *RedisQueue) handle(ctx context.Context, stream string, msg redis.XMessage, h Handler) {
	ev, err := decodeEvent(msg)
	if err != nil {
		log.Error().Err(err).Str("stream", stream).Str("msg_id", msg.ID).Msg("redis queue: dropping malformed message")
		q.ack(ctx, stream, msg.ID)
		return
	}
	if err := h(ctx, ev); err != nil {
		log.Warn().Err(err).Str("stream", stream).Str("msg_id", msg.ID).Str("check_id", ev.CheckID).
			Msg("redis queue: handler failed; message stays pending")
		return
	}
	q.ack(ctx, stream, msg.ID)
}

func (q *RedisQueue) ack(ctx context.Context, stream, id string) {
	if err := q.rdb.XAck(ctx, stream, q.opt.Group, id).Err(); err != nil {
		log.Error().Err(err).Str("stream", stream).Str("msg_id", id).Msg("redis queue: ack failed")
	}
}

func decodeEvent(msg redis.XMessage) (model.CheckRecorded, error) {
	var ev model.CheckRecorded
	checkID, _ := msg.Values["check_id"].(string)
	monitorID, _ := msg.Values["monitor_id"].(string)
	if checkID == "" || monitorID == "" {
		return ev, fmt.Errorf("message %s lacks check_id or monitor_id", msg.ID)
	}
	ev.CheckID = checkID
	ev.MonitorID = monitorID
	if s, _ := msg.Values["checked_at"].(string); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return ev, fmt.Errorf("message %s: bad checked_at: %w", msg.ID, err)
		}
		ev.CheckedAt = t
	}
	return ev, nil
}
