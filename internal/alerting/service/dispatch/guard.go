package dispatch

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/redis/go-redis/v9"
)

// Guard remembers delivered notifications so that a delivery whose outbox
// row could not be marked sent is not repeated.
type Guard interface {
	Seen(ctx context.Context, key string) (bool, error)
	MarkSeen(ctx context.Context, key string) error
}

// NoopGuard is used when Redis is not configured. The outbox row alone then
// prevents duplicates.
type NoopGuard struct{}

func (NoopGuard) Seen(context.Context, string) (bool, error) { return false, nil }
func (NoopGuard) MarkSeen(context.Context, string) error     { return nil }

// RedisGuard keeps delivery markers in Redis with a TTL, backed by an
// in-process set so a Redis outage does not reopen keys this process delivered.
type RedisGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	local  *xsync.Map[string, time.Time]
	now    func() time.Time
}

func NewRedisGuard(client *redis.Client, prefix string, ttl time.Duration) *RedisGuard {
	if prefix == "" {
		prefix = "watchtower:notified"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl, local: xsync.NewMap[string, time.Time](), now: time.Now}
}

func (g *RedisGuard) key(k string) string { return g.prefix + ":" + k }

func (g *RedisGuard) Seen(ctx context.Context, key string) (bool, error) {
	if exp, ok := g.local.Load(key); ok {
		if g.now().Before(exp) {
			return true, nil
		}
		g.local.Delete(key)
	}
	n, err := g.client.Exists(ctx, g.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (g *RedisGuard) MarkSeen(ctx context.Context, key string) error {
	g.local.Store(key, g.now().Add(g.ttl))
	// SETNX: the first writer wins, later marks keep the original TTL
	return g.client.SetNX(ctx, g.key(key), g.now().UTC().Format(time.RFC3339Nano), g.ttl).Err()
}
