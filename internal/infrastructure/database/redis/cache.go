package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/Opposition-Intelligence/internal/application/indexing"
	"github.com/turtacn/Opposition-Intelligence/pkg/errors"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// EmbeddingCache stores embeddings under the content hash the index manager
// computes. Entries expire with a jittered TTL so a bulk re-ingestion does
// not expire all at once.
type EmbeddingCache struct {
	client *Client
	ttl    time.Duration
}

var _ indexing.EmbeddingCache = (*EmbeddingCache)(nil)

// NewEmbeddingCache returns a cache. A zero ttl keeps entries for 30 days.
func NewEmbeddingCache(client *Client, ttl time.Duration) *EmbeddingCache {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &EmbeddingCache{client: client, ttl: ttl}
}

func (c *EmbeddingCache) fullKey(key string) string {
	return c.client.key("emb", key)
}

func (c *EmbeddingCache) Get(ctx context.Context, key string) (trademark.EmbeddingVector, bool, error) {
	rdb, err := c.client.rdbOrErr()
	if err != nil {
		return nil, false, err
	}
	data, err := rdb.Get(ctx, c.fullKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ErrCodeCacheError, "failed to get from cache")
	}
	var vec trademark.EmbeddingVector
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, false, errors.Wrap(err, errors.ErrCodeSerialization, "corrupt cached embedding")
	}
	return vec, true, nil
}

func (c *EmbeddingCache) Set(ctx context.Context, key string, vec trademark.EmbeddingVector) error {
	rdb, err := c.client.rdbOrErr()
	if err != nil {
		return err
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "serialise embedding")
	}
	if err := rdb.Set(ctx, c.fullKey(key), data, jitterTTL(c.ttl)).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to set cache")
	}
	return nil
}

// jitterTTL spreads ttl by up to 10% either way.
func jitterTTL(ttl time.Duration) time.Duration {
	jitter := float64(ttl) * 0.1 * (rand.Float64()*2 - 1)
	return ttl + time.Duration(jitter)
}
