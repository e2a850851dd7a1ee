package source

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const defaultCacheTTL = 10 * time.Minute

// Cached memoizes the scores of an underlying deterministic Source per token
// prefix. Editing the same document repeatedly re-queries the same prefixes,
// which the cache answers without a forward pass.
type Cached struct {
	src   Source
	cache *ttlcache.Cache[string, []float32]
}

// NewCached wraps src with a prefix cache holding entries for ttl (a
// non-positive ttl selects ten minutes) and at most capacity entries
// (zero means unbounded). Call Close to stop the expiry goroutine.
func NewCached(src Source, ttl time.Duration, capacity uint64) *Cached {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	opts := []ttlcache.Option[string, []float32]{
		ttlcache.WithTTL[string, []float32](ttl),
		ttlcache.WithDisableTouchOnHit[string, []float32](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, []float32](capacity))
	}
	c := ttlcache.New[string, []float32](opts...)
	go c.Start()
	return &Cached{src: src, cache: c}
}

// Close stops the cache's background expiry loop.
func (c *Cached) Close() {
	c.cache.Stop()
}

// Len reports how many prefixes are cached.
func (c *Cached) Len() int {
	return c.cache.Len()
}

func (c *Cached) VocabSize() int { return c.src.VocabSize() }

func (c *Cached) Next(ctx context.Context, tokens []int) ([]float32, error) {
	key := prefixKey(tokens)
	if item := c.cache.Get(key); item != nil {
		return item.Value(), nil
	}
	v, err := c.src.Next(ctx, tokens)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, v, ttlcache.DefaultTTL)
	return v, nil
}

func (c *Cached) NextBatch(ctx context.Context, tokens []int, positions int) ([][]float32, error) {
	if err := checkPositions(tokens, positions); err != nil {
		return nil, err
	}
	base := len(tokens) - positions + 1
	out := make([][]float32, positions)
	hit := true
	for i := range positions {
		item := c.cache.Get(prefixKey(tokens[:base+i]))
		if item == nil {
			hit = false
			break
		}
		out[i] = item.Value()
	}
	if hit {
		return out, nil
	}

	out, err := c.src.NextBatch(ctx, tokens, positions)
	if err != nil {
		return nil, err
	}
	for i, v := range out {
		c.cache.Set(prefixKey(tokens[:base+i]), v, ttlcache.DefaultTTL)
	}
	return out, nil
}

func prefixKey(tokens []int) string {
	buf := make([]byte, 0, len(tokens)*2)
	for _, t := range tokens {
		buf = binary.AppendVarint(buf, int64(t))
	}
	return string(buf)
}
