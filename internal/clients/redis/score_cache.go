package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/types"
)

// ScoreCache shares score memoisation across engine replicas. It is advisory:
// a miss or redis outage falls through to recomputation.
type ScoreCache interface {
	Get(ctx context.Context, customerID uuid.UUID, category string) (*types.IntentScore, bool)
	Set(ctx context.Context, score *types.IntentScore)
	Invalidate(ctx context.Context, customerID uuid.UUID, category string)
	Close() error
}

type scoreCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

func NewScoreCache(log *logger.Logger, addr string, ttl time.Duration) (ScoreCache, error) {
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
	return &scoreCache{
		log: log.With("service", "RedisScoreCache"),
		rdb: rdb,
		ttl: ttl,
	}, nil
}

func scoreKey(customerID uuid.UUID, category string) string {
	return "patternos:score:" + customerID.String() + ":" + category
}

func (c *scoreCache) Get(ctx context.Context, customerID uuid.UUID, category string) (*types.IntentScore, bool) {
	raw, err := c.rdb.Get(ctx, scoreKey(customerID, category)).Bytes()
	if err != nil {
		return nil, false
	}
	var score types.IntentScore
	if err := json.Unmarshal(raw, &score); err != nil {
		return nil, false
	}
	return &score, true
}

func (c *scoreCache) Set(ctx context.Context, score *types.IntentScore) {
	raw, err := json.Marshal(score)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, scoreKey(score.GlobalCustomerID, score.Category), raw, c.ttl).Err(); err != nil {
		c.log.Debug("Score cache set failed", "error", err)
	}
}

func (c *scoreCache) Invalidate(ctx context.Context, customerID uuid.UUID, category string) {
	if err := c.rdb.Del(ctx, scoreKey(customerID, category)).Err(); err != nil {
		c.log.Debug("Score cache invalidate failed", "error", err)
	}
}

func (c *scoreCache) Close() error { return c.rdb.Close() }
