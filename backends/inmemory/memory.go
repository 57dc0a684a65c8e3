// Package inmemory implements a volatile participant store backend. It is
// intended for tests and demos; entries do not survive a restart.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kindredlabs/kindred/distance"
	"github.com/kindredlabs/kindred/identity"
	"github.com/kindredlabs/kindred/types"
)

// Backend stores entries in an LRU cache keyed by participant identifier.
// The capacity must cover the whole identifier pool so eviction can never
// drop a live participant.
type Backend struct {
	mu     sync.RWMutex
	cache  *lru.Cache[int, types.Entry]
	metric distance.Func
}

// New creates an in-memory backend. Capacity defaults to the identifier pool
// size and may not be smaller than it.
func New(cfg types.BackendConfig) (*Backend, error) {
	capacity := cfg.Capacity
	if capacity == 0 {
		capacity = identity.PoolSize
	}
	if capacity < identity.PoolSize {
		return nil, fmt.Errorf("inmemory: capacity %d is smaller than the identifier pool (%d)", capacity, identity.PoolSize)
	}

	cache, err := lru.New[int, types.Entry](capacity)
	if err != nil {
		return nil, err
	}

	metric := cfg.Metric
	if metric == nil {
		metric = distance.SquaredEuclidean
	}

	return &Backend{cache: cache, metric: metric}, nil
}

// Upsert writes or fully replaces the entry for id.
func (b *Backend) Upsert(ctx context.Context, id int, entry types.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cache.Add(id, entry)
	return nil
}

// PutIfAbsent writes the entry only when id is unused.
func (b *Backend) PutIfAbsent(ctx context.Context, id int, entry types.Entry) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cache.Contains(id) {
		return false, nil
	}
	b.cache.Add(id, entry)
	return true, nil
}

// Get retrieves the entry for id.
func (b *Backend) Get(ctx context.Context, id int) (types.Entry, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if entry, ok := b.cache.Get(id); ok {
		return entry, true, nil
	}
	return types.Entry{}, false, nil
}

// Keys returns all identifiers in use.
func (b *Backend) Keys(ctx context.Context) ([]int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.cache.Keys(), nil
}

// Len returns the number of stored entries.
func (b *Backend) Len(ctx context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.cache.Len(), nil
}

// Nearest scans every entry and returns the k closest, ascending by
// distance. The population is bounded by the identifier pool, so exhaustive
// comparison is fine.
func (b *Backend) Nearest(ctx context.Context, query []float32, k int) ([]types.Neighbor, error) {
	return b.scan(query, k, 0)
}

// NearestExcluding is Nearest with the given identifier filtered out.
func (b *Backend) NearestExcluding(ctx context.Context, query []float32, k int, exclude int) ([]types.Neighbor, error) {
	return b.scan(query, k, exclude)
}

// scan brute-forces the cache. exclude=0 means no exclusion; zero is never a
// stored identifier.
func (b *Backend) scan(query []float32, k int, exclude int) ([]types.Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	neighbors := make([]types.Neighbor, 0, b.cache.Len())
	for _, id := range b.cache.Keys() {
		if id == exclude {
			continue
		}
		entry, ok := b.cache.Peek(id)
		if !ok {
			continue
		}
		d, err := b.metric(query, entry.Embedding)
		if err != nil {
			return nil, err
		}
		neighbors = append(neighbors, types.Neighbor{ID: id, Entry: entry, Distance: d})
	}

	// Ties break by ascending identifier so results are deterministic.
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].ID < neighbors[j].ID
	})

	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

// Close is a no-op for the in-memory backend.
func (b *Backend) Close() error {
	return nil
}
