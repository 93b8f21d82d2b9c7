package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/types"
)

// FallbackQueue is the durable queue behind fail-open ingest: when the event
// log cannot be written, the normalised event is parked here and a reconciler
// replays it later. Losing this queue is the only fatal ingest path.
type FallbackQueue interface {
	Enqueue(ctx context.Context, event *types.Event) error
	Dequeue(ctx context.Context) (*types.Event, error)
	Len(ctx context.Context) (int64, error)
	Close() error
}

type fallbackQueue struct {
	log *logger.Logger
	rdb *goredis.Client
	key string
}

func NewFallbackQueue(log *logger.Logger, addr string) (FallbackQueue, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &fallbackQueue{
		log: log.With("service", "RedisFallbackQueue"),
		rdb: rdb,
		key: "patternos:ingest:fallback",
	}, nil
}

func (q *fallbackQueue) Enqueue(ctx context.Context, event *types.Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal fallback event: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("rpush fallback event: %w", err)
	}
	return nil
}

// Dequeue pops the oldest parked event; returns nil when the queue is empty.
func (q *fallbackQueue) Dequeue(ctx context.Context) (*types.Event, error) {
	raw, err := q.rdb.LPop(ctx, q.key).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lpop fallback event: %w", err)
	}
	var event types.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		q.log.Error("Corrupt fallback payload dropped", "error", err)
		return nil, fmt.Errorf("unmarshal fallback event: %w", err)
	}
	return &event, nil
}

func (q *fallbackQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen fallback queue: %w", err)
	}
	return n, nil
}

func (q *fallbackQueue) Close() error { return q.rdb.Close() }
