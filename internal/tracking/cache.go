package tracking

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/coocood/freecache"
)

const (
	similarityCacheBytes = 1 << 20
	noExpiry             = 0
)

// SimilarityCache memoizes the best index match of an embedding, keyed by
// the xxhash of its raw bytes. It is bounded by entry count and must be
// cleared whenever the index is rebuilt.
type SimilarityCache struct {
	cache      *freecache.Cache
	maxEntries int64
}

// NewSimilarityCache creates a cache holding at most maxEntries results.
func NewSimilarityCache(maxEntries int) *SimilarityCache {
	return &SimilarityCache{
		cache:      freecache.NewCache(similarityCacheBytes),
		maxEntries: int64(maxEntries),
	}
}

func embeddingKey(emb []float32) []byte {
	buf := make([]byte, 4*len(emb))
	for i, v := range emb {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	key := make([]byte, 8)
	binary.LittleEndian.PutUint64(key, xxhash.Sum64(buf))
	return key
}

// Get returns the cached match of emb. An empty label is a cached miss.
func (c *SimilarityCache) Get(emb []float32) (label string, similarity float64, ok bool) {
	val, err := c.cache.Get(embeddingKey(emb))
	if err != nil || len(val) < 8 {
		return "", 0, false
	}
	similarity = math.Float64frombits(binary.LittleEndian.Uint64(val[:8]))
	return string(val[8:]), similarity, true
}

// Set stores a match unless the cache is full.
func (c *SimilarityCache) Set(emb []float32, label string, similarity float64) {
	if c.cache.EntryCount() >= c.maxEntries {
		return
	}
	val := make([]byte, 8+len(label))
	binary.LittleEndian.PutUint64(val, math.Float64bits(similarity))
	copy(val[8:], label)
	_ = c.cache.Set(embeddingKey(emb), val, noExpiry)
}

// Clear drops every entry.
func (c *SimilarityCache) Clear() {
	c.cache.Clear()
}

// Len returns the number of cached entries.
func (c *SimilarityCache) Len() int64 {
	return c.cache.EntryCount()
}

// HitRate returns the lookup hit ratio since creation.
func (c *SimilarityCache) HitRate() float64 {
	return c.cache.HitRate()
}
