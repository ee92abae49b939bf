// Package payload produces the synthetic byte buffers streamed during
// download transfers.
package payload

import (
	"errors"
	"math/rand"
	"sync"
)

// ErrNegativeSize is returned when a negative payload size is requested.
var ErrNegativeSize = errors.New("payload: negative size")

// DefaultCacheEntries bounds how many distinct payload sizes are cached.
const DefaultCacheEntries = 8

// Generator produces pseudo-random payloads of a requested size. Buffers are
// memoized per size with LRU eviction so that repeated chunked transfers do
// not reallocate. Content is filler; only the length matters.
type Generator struct {
	mu         sync.Mutex
	cache      map[int][]byte
	order      []int // LRU order, most recently used last
	maxEntries int
	rnd        *rand.Rand
}

// NewGenerator returns a Generator caching at most maxEntries distinct sizes.
// A maxEntries of zero or less falls back to DefaultCacheEntries.
func NewGenerator(maxEntries int) *Generator {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	return &Generator{
		cache:      make(map[int][]byte),
		maxEntries: maxEntries,
		rnd:        rand.New(rand.NewSource(rand.Int63())),
	}
}

// Bytes returns a buffer of exactly size bytes. The returned slice is shared
// with the cache and must be treated as read-only by callers.
func (g *Generator) Bytes(size int) ([]byte, error) {
	if size < 0 {
		return nil, ErrNegativeSize
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if buf, ok := g.cache[size]; ok {
		g.touch(size)
		return buf, nil
	}
	buf := make([]byte, size)
	g.rnd.Read(buf)
	g.cache[size] = buf
	g.order = append(g.order, size)
	if len(g.order) > g.maxEntries {
		evict := g.order[0]
		g.order = g.order[1:]
		delete(g.cache, evict)
	}
	return buf, nil
}

// CachedSizes reports how many distinct sizes are currently memoized.
func (g *Generator) CachedSizes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cache)
}

// touch moves size to the most-recently-used position. Caller holds g.mu.
func (g *Generator) touch(size int) {
	for i, s := range g.order {
		if s == size {
			g.order = append(append(g.order[:i:i], g.order[i+1:]...), size)
			return
		}
	}
}
