package inmemory

import (
	"context"
	"sort"
	"testing"

	"github.com/kindredlabs/kindred/identity"
	"github.com/kindredlabs/kindred/types"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(types.BackendConfig{Dimension: 3})
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestNew(t *testing.T) {
	t.Run("DefaultCapacity", func(t *testing.T) {
		b, err := New(types.BackendConfig{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		b.Close()
	})

	t.Run("CapacityBelowPool", func(t *testing.T) {
		if _, err := New(types.BackendConfig{Capacity: identity.PoolSize - 1}); err == nil {
			t.Error("expected error for capacity below the identifier pool")
		}
	})
}

func TestUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	entry := types.Entry{Embedding: []float32{0, 2, 4}, Name: "alice", Comment: "hi"}
	if err := b.Upsert(ctx, 7, entry); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, found, err := b.Get(ctx, 7)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !found {
		t.Fatal("expected entry to be found")
	}
	if got.Name != "alice" || got.Comment != "hi" {
		t.Errorf("unexpected entry: %+v", got)
	}

	replaced := types.Entry{Embedding: []float32{1, 1, 1}, Name: "bob", Comment: "yo"}
	if err := b.Upsert(ctx, 7, replaced); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	got, _, err = b.Get(ctx, 7)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Name != "bob" {
		t.Errorf("expected replaced entry, got %+v", got)
	}
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	_, found, err := b.Get(ctx, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected absent result")
	}
}

func TestPutIfAbsent(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	first := types.Entry{Embedding: []float32{1, 2, 3}, Name: "first"}
	ok, err := b.PutIfAbsent(ctx, 9, first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected first reservation to succeed")
	}

	ok, err = b.PutIfAbsent(ctx, 9, types.Entry{Embedding: []float32{0, 0, 0}, Name: "second"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second reservation to fail")
	}

	got, _, err := b.Get(ctx, 9)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Name != "first" {
		t.Errorf("expected original entry to survive, got %+v", got)
	}
}

func TestKeysAndLen(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	for _, id := range []int{5, 1, 3} {
		if err := b.Upsert(ctx, id, types.Entry{Embedding: []float32{0, 0, 0}}); err != nil {
			t.Fatalf("upsert %d failed: %v", id, err)
		}
	}

	n, err := b.Len(ctx)
	if err != nil {
		t.Fatalf("len failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 entries, got %d", n)
	}

	keys, err := b.Keys(ctx)
	if err != nil {
		t.Fatalf("keys failed: %v", err)
	}
	sort.Ints(keys)
	want := []int{1, 3, 5}
	for i, id := range want {
		if keys[i] != id {
			t.Fatalf("expected keys %v, got %v", want, keys)
		}
	}
}

func TestNearest(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	entries := map[int][]float32{
		1: {0, 0, 0},
		2: {4, 4, 4},
		3: {1, 1, 1},
	}
	for id, vec := range entries {
		if err := b.Upsert(ctx, id, types.Entry{Embedding: vec}); err != nil {
			t.Fatalf("upsert %d failed: %v", id, err)
		}
	}

	t.Run("Ordering", func(t *testing.T) {
		neighbors, err := b.Nearest(ctx, []float32{0, 0, 0}, 3)
		if err != nil {
			t.Fatalf("nearest failed: %v", err)
		}
		if len(neighbors) != 3 {
			t.Fatalf("expected 3 neighbors, got %d", len(neighbors))
		}
		if neighbors[0].ID != 1 || neighbors[1].ID != 3 || neighbors[2].ID != 2 {
			t.Errorf("unexpected order: %d %d %d", neighbors[0].ID, neighbors[1].ID, neighbors[2].ID)
		}
		if neighbors[2].Distance != 48 {
			t.Errorf("expected distance 48, got %f", neighbors[2].Distance)
		}
	})

	t.Run("TruncatesToK", func(t *testing.T) {
		neighbors, err := b.Nearest(ctx, []float32{0, 0, 0}, 2)
		if err != nil {
			t.Fatalf("nearest failed: %v", err)
		}
		if len(neighbors) != 2 {
			t.Errorf("expected 2 neighbors, got %d", len(neighbors))
		}
	})

	t.Run("ZeroK", func(t *testing.T) {
		neighbors, err := b.Nearest(ctx, []float32{0, 0, 0}, 0)
		if err != nil {
			t.Fatalf("nearest failed: %v", err)
		}
		if neighbors != nil {
			t.Errorf("expected no neighbors, got %v", neighbors)
		}
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		if _, err := b.Nearest(ctx, []float32{0, 0}, 1); err == nil {
			t.Error("expected error for mismatched query length")
		}
	})
}

func TestNearestExcluding(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	// Two identical embeddings: exclusion must pick the other one.
	same := []float32{2, 2, 2}
	if err := b.Upsert(ctx, 1, types.Entry{Embedding: same, Name: "a"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := b.Upsert(ctx, 2, types.Entry{Embedding: same, Name: "b"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	neighbors, err := b.NearestExcluding(ctx, same, 1, 1)
	if err != nil {
		t.Fatalf("nearest failed: %v", err)
	}
	if len(neighbors) != 1 {
		t.Fatalf("expected 1 neighbor, got %d", len(neighbors))
	}
	if neighbors[0].ID != 2 {
		t.Errorf("expected neighbor 2, got %d", neighbors[0].ID)
	}
	if neighbors[0].Distance != 0 {
		t.Errorf("expected distance 0, got %f", neighbors[0].Distance)
	}
}
