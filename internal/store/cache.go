package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	modelCacheTTL    = 5 * time.Minute
	modelCachePrefix = "chorus:model:"
)

// ChorusModelSource loads a Chorus model by id.
type ChorusModelSource interface {
	GetChorusModel(ctx context.Context, id int64) (*ChorusModel, error)
}

// CachedChorusModels reads Chorus models through Redis. A nil client disables caching.
type CachedChorusModels struct {
	next  ChorusModelSource
	redis *redis.Client
}

func NewCachedChorusModels(next ChorusModelSource, rdb *redis.Client) *CachedChorusModels {
	return &CachedChorusModels{next: next, redis: rdb}
}

func modelCacheKey(id int64) string {
	return fmt.Sprintf("%s%d", modelCachePrefix, id)
}

func (c *CachedChorusModels) GetChorusModel(ctx context.Context, id int64) (*ChorusModel, error) {
	if c.redis != nil {
		if cached, err := c.redis.Get(ctx, modelCacheKey(id)).Bytes(); err == nil {
			var m ChorusModel
			if err := json.Unmarshal(cached, &m); err == nil {
				return &m, nil
			}
		}
	}

	m, err := c.next.GetChorusModel(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.redis != nil {
		if data, err := json.Marshal(m); err == nil {
			c.redis.Set(ctx, modelCacheKey(id), data, modelCacheTTL)
		}
	}
	return m, nil
}

// Invalidate drops a cached model after it was deleted.
func (c *CachedChorusModels) Invalidate(ctx context.Context, id int64) {
	if c.redis != nil {
		c.redis.Del(ctx, modelCacheKey(id))
	}
}
