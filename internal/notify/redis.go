package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Channel receives every event via PUBLISH when set.
	Channel string
	// ListKey receives every event via LPUSH when set. A "{bucket}"
	// placeholder gives each bucket its own queue.
	ListKey string
	// ListMaxLen caps each queue; older entries are trimmed. Zero keeps all.
	ListMaxLen int64
}

// RedisBackend publishes events to a Pub/Sub channel, a bounded list queue,
// or both, in one MULTI/EXEC round trip.
type RedisBackend struct {
	client *redis.Client
	opts   RedisOptions
}

func NewRedisBackend(opts RedisOptions) *RedisBackend {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisBackend{client: client, opts: opts}
}

func (r *RedisBackend) Name() string {
	return "redis:" + r.opts.Addr
}

func (r *RedisBackend) Publish(ctx context.Context, payload []byte) error {
	if r.opts.Channel == "" && r.opts.ListKey == "" {
		return nil
	}
	_, bucket := peek(payload)
	listKey := r.listKey(bucket)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if r.opts.Channel != "" {
			pipe.Publish(ctx, r.opts.Channel, payload)
		}
		if listKey != "" {
			pipe.LPush(ctx, listKey, payload)
			if r.opts.ListMaxLen > 0 {
				pipe.LTrim(ctx, listKey, 0, r.opts.ListMaxLen-1)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *RedisBackend) listKey(bucket string) string {
	if bucket == "" {
		bucket = "_"
	}
	return strings.ReplaceAll(r.opts.ListKey, "{bucket}", bucket)
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
