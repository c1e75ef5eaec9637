package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const embeddingKeyPrefix = "chorus:emb:"

// CachedEmbedder memoises embeddings in Redis keyed by model and text hash.
// A nil client or a Redis failure falls through to the wrapped embedder.
type CachedEmbedder struct {
	next  Embedder
	redis *redis.Client
	model string
	ttl   time.Duration
}

func NewCachedEmbedder(next Embedder, rdb *redis.Client, model string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, redis: rdb, model: model, ttl: ttl}
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return embeddingKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.redis == nil {
		return c.next.Embed(ctx, text)
	}

	key := c.key(text)
	cached, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		var v []float32
		if err := json.Unmarshal(cached, &v); err == nil && len(v) > 0 {
			return v, nil
		}
	} else if err != redis.Nil {
		slog.Warn("embedding cache read failed", "error", err)
	}

	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(v); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			slog.Warn("embedding cache write failed", "error", err)
		}
	}
	return v, nil
}
