// Package embedded implements the participant store backend on top of the
// vecgo embedded vector database. Entries are durable: writes go through
// vecgo's WAL and are compacted into a snapshot on Close.
package embedded

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/vecgo"

	"github.com/kindredlabs/kindred/types"
)

const (
	snapshotFile = "snapshot.vecgo"
	walDir       = "wal"
	keymapFile   = "keys.json"
)

// payload is the per-entry document stored as vecgo item data. The embedding
// is duplicated here because vecgo point lookups return only the data part,
// not the indexed vector.
type payload struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Comment   string    `json:"comment"`
	Embedding []float32 `json:"embedding"`
}

// Backend maps participant identifiers onto vecgo's engine-assigned ids. The
// key map is persisted as a JSON sidecar next to the snapshot and rebuilt on
// open.
type Backend struct {
	mu       sync.RWMutex
	db       *vecgo.Vecgo[payload]
	keys     map[int]uint64 // participant id -> engine id
	byEngine map[uint64]int
	dir      string
}

// New opens (or creates) an embedded backend rooted at cfg.Dir. The index is
// a Flat index with squared-L2 distance: exact search, which the bounded
// population easily affords.
func New(cfg types.BackendConfig) (*Backend, error) {
	if cfg.Dir == "" {
		return nil, errors.New("embedded: data directory is required")
	}
	if cfg.Dimension <= 0 {
		return nil, errors.New("embedded: dimension is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("embedded: create data dir: %w", err)
	}

	snapshot := filepath.Join(cfg.Dir, snapshotFile)
	wal := filepath.Join(cfg.Dir, walDir)

	var (
		db  *vecgo.Vecgo[payload]
		err error
	)
	if _, statErr := os.Stat(snapshot); statErr == nil {
		db, err = vecgo.NewFromFile[payload](snapshot,
			vecgo.WithWAL(wal),
			vecgo.WithSnapshotPath(snapshot),
		)
	} else {
		db, err = vecgo.Flat[payload](cfg.Dimension).
			SquaredL2().
			WAL(wal).
			SnapshotPath(snapshot).
			Build()
	}
	if err != nil {
		return nil, fmt.Errorf("embedded: open engine: %w", err)
	}

	if err := db.RecoverFromWAL(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("embedded: recover from WAL: %w", err)
	}

	b := &Backend{
		db:       db,
		keys:     make(map[int]uint64),
		byEngine: make(map[uint64]int),
		dir:      cfg.Dir,
	}
	if err := b.loadKeymap(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// Upsert writes or fully replaces the entry for id.
func (b *Backend) Upsert(ctx context.Context, id int, entry types.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.put(ctx, id, entry)
}

// PutIfAbsent writes the entry only when id is unused. The check and the
// insert happen under the backend lock, so concurrent registrants cannot
// both claim the same identifier.
func (b *Backend) PutIfAbsent(ctx context.Context, id int, entry types.Entry) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.keys[id]; ok {
		return false, nil
	}
	if err := b.put(ctx, id, entry); err != nil {
		return false, err
	}
	return true, nil
}

// put performs the insert-or-update against the engine. Callers hold b.mu.
func (b *Backend) put(ctx context.Context, id int, entry types.Entry) error {
	item := vecgo.VectorWithData[payload]{
		Vector: entry.Embedding,
		Data: payload{
			ID:        id,
			Name:      entry.Name,
			Comment:   entry.Comment,
			Embedding: entry.Embedding,
		},
	}

	if engineID, ok := b.keys[id]; ok {
		if err := b.db.Update(ctx, engineID, item); err != nil {
			return fmt.Errorf("embedded: update %d: %w", id, err)
		}
		return nil
	}

	engineID, err := b.db.Insert(ctx, item)
	if err != nil {
		return fmt.Errorf("embedded: insert %d: %w", id, err)
	}
	b.keys[id] = engineID
	b.byEngine[engineID] = id
	return b.saveKeymap()
}

// Get retrieves the entry for id.
func (b *Backend) Get(ctx context.Context, id int) (types.Entry, bool, error) {
	b.mu.RLock()
	engineID, ok := b.keys[id]
	b.mu.RUnlock()
	if !ok {
		return types.Entry{}, false, nil
	}

	data, err := b.db.Get(engineID)
	if err != nil {
		if errors.Is(err, vecgo.ErrNotFound) {
			return types.Entry{}, false, nil
		}
		return types.Entry{}, false, fmt.Errorf("embedded: get %d: %w", id, err)
	}

	return entryFromPayload(data), true, nil
}

// Keys returns all identifiers in use.
func (b *Backend) Keys(ctx context.Context) ([]int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]int, 0, len(b.keys))
	for id := range b.keys {
		keys = append(keys, id)
	}
	return keys, nil
}

// Len returns the number of stored entries.
func (b *Backend) Len(ctx context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.keys), nil
}

// Nearest delegates the k-nearest-neighbor query to the engine.
func (b *Backend) Nearest(ctx context.Context, query []float32, k int) ([]types.Neighbor, error) {
	return b.search(ctx, query, k, nil)
}

// NearestExcluding uses the engine's native result filter to drop the
// excluded identifier from the candidate set.
func (b *Backend) NearestExcluding(ctx context.Context, query []float32, k int, exclude int) ([]types.Neighbor, error) {
	b.mu.RLock()
	engineID, ok := b.keys[exclude]
	b.mu.RUnlock()
	if !ok {
		return b.search(ctx, query, k, nil)
	}

	return b.search(ctx, query, k, func(id uint64) bool {
		return id != engineID
	})
}

func (b *Backend) search(ctx context.Context, query []float32, k int, filter vecgo.FilterFunc) ([]types.Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}

	results, err := b.db.KNNSearch(ctx, query, k, func(o *vecgo.KNNSearchOptions) {
		o.FilterFunc = filter
	})
	if err != nil {
		return nil, fmt.Errorf("embedded: knn search: %w", err)
	}

	neighbors := make([]types.Neighbor, 0, len(results))
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, r := range results {
		id, ok := b.byEngine[r.ID]
		if !ok {
			continue
		}
		neighbors = append(neighbors, types.Neighbor{
			ID:       id,
			Entry:    entryFromPayload(r.Data),
			Distance: float64(r.Distance),
		})
	}
	return neighbors, nil
}

// Close snapshots the index, checkpoints the WAL, and shuts the engine down.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := filepath.Join(b.dir, snapshotFile)
	if len(b.keys) > 0 {
		if err := b.db.SaveToFile(snapshot); err != nil {
			_ = b.db.Close()
			return fmt.Errorf("embedded: save snapshot: %w", err)
		}
		if err := b.db.Checkpoint(); err != nil {
			_ = b.db.Close()
			return fmt.Errorf("embedded: checkpoint: %w", err)
		}
	}
	return b.db.Close()
}

func entryFromPayload(p payload) types.Entry {
	return types.Entry{Embedding: p.Embedding, Name: p.Name, Comment: p.Comment}
}

// loadKeymap restores the participant-id to engine-id mapping written by
// saveKeymap. A missing file means a fresh store.
func (b *Backend) loadKeymap() error {
	path := filepath.Join(b.dir, keymapFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("embedded: read key map: %w", err)
	}

	if err := json.Unmarshal(data, &b.keys); err != nil {
		return fmt.Errorf("embedded: decode key map: %w", err)
	}
	for id, engineID := range b.keys {
		b.byEngine[engineID] = id
	}
	return nil
}

// saveKeymap persists the key map atomically (temp file + rename). Callers
// hold b.mu. The map holds at most the identifier pool size, so rewriting it
// on every insert is cheap.
func (b *Backend) saveKeymap() error {
	data, err := json.Marshal(b.keys)
	if err != nil {
		return fmt.Errorf("embedded: encode key map: %w", err)
	}

	path := filepath.Join(b.dir, keymapFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("embedded: write key map: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("embedded: replace key map: %w", err)
	}
	return nil
}
