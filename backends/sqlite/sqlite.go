// Package sqlite implements the participant store backend on a SQLite
// database file. Embeddings are stored as little-endian float32 BLOBs and
// nearest-neighbor queries scan the table, which the bounded identifier pool
// keeps cheap.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/kindredlabs/kindred/distance"
	"github.com/kindredlabs/kindred/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS participants (
	id        INTEGER PRIMARY KEY,
	name      TEXT NOT NULL,
	comment   TEXT NOT NULL,
	embedding BLOB NOT NULL
)`

// Backend stores entries in a participants table keyed by identifier.
type Backend struct {
	db     *sql.DB
	metric distance.Func
}

// New opens (or creates) the database file at cfg.Path and ensures the
// schema exists.
func New(cfg types.BackendConfig) (*Backend, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite: database path is required")
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ensure schema: %w", err)
	}

	metric := cfg.Metric
	if metric == nil {
		metric = distance.SquaredEuclidean
	}

	return &Backend{db: db, metric: metric}, nil
}

// Upsert writes or fully replaces the entry for id.
func (b *Backend) Upsert(ctx context.Context, id int, entry types.Entry) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO participants(id, name, comment, embedding) VALUES(?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			comment = excluded.comment,
			embedding = excluded.embedding`,
		id, entry.Name, entry.Comment, encodeEmbedding(entry.Embedding))
	if err != nil {
		return fmt.Errorf("sqlite: upsert %d: %w", id, err)
	}
	return nil
}

// PutIfAbsent writes the entry only when id is unused. INSERT OR IGNORE is
// atomic in SQLite, so concurrent registrants cannot both claim the same
// identifier.
func (b *Backend) PutIfAbsent(ctx context.Context, id int, entry types.Entry) (bool, error) {
	res, err := b.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO participants(id, name, comment, embedding) VALUES(?, ?, ?, ?)`,
		id, entry.Name, entry.Comment, encodeEmbedding(entry.Embedding))
	if err != nil {
		return false, fmt.Errorf("sqlite: reserve %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: reserve %d: %w", id, err)
	}
	return n > 0, nil
}

// Get retrieves the entry for id.
func (b *Backend) Get(ctx context.Context, id int) (types.Entry, bool, error) {
	var (
		name, comment string
		blob          []byte
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT name, comment, embedding FROM participants WHERE id = ?`, id).
		Scan(&name, &comment, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Entry{}, false, nil
	}
	if err != nil {
		return types.Entry{}, false, fmt.Errorf("sqlite: get %d: %w", id, err)
	}

	embedding, err := decodeEmbedding(blob)
	if err != nil {
		return types.Entry{}, false, err
	}
	return types.Entry{Embedding: embedding, Name: name, Comment: comment}, true, nil
}

// Keys returns all identifiers in use.
func (b *Backend) Keys(ctx context.Context) ([]int, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT id FROM participants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list keys: %w", err)
	}
	defer rows.Close()

	var keys []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: list keys: %w", err)
		}
		keys = append(keys, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list keys: %w", err)
	}
	return keys, nil
}

// Len returns the number of stored entries.
func (b *Backend) Len(ctx context.Context) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM participants`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count: %w", err)
	}
	return n, nil
}

// Nearest scans every row and returns the k closest, ascending by distance.
func (b *Backend) Nearest(ctx context.Context, query []float32, k int) ([]types.Neighbor, error) {
	return b.scan(ctx, query, k, 0)
}

// NearestExcluding is Nearest with the given identifier filtered out in SQL.
func (b *Backend) NearestExcluding(ctx context.Context, query []float32, k int, exclude int) ([]types.Neighbor, error) {
	return b.scan(ctx, query, k, exclude)
}

// scan brute-forces the table. exclude=0 means no exclusion; zero is never a
// stored identifier.
func (b *Backend) scan(ctx context.Context, query []float32, k int, exclude int) ([]types.Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT id, name, comment, embedding FROM participants WHERE id != ?`, exclude)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan: %w", err)
	}
	defer rows.Close()

	var neighbors []types.Neighbor
	for rows.Next() {
		var (
			id            int
			name, comment string
			blob          []byte
		)
		if err := rows.Scan(&id, &name, &comment, &blob); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}

		embedding, err := decodeEmbedding(blob)
		if err != nil {
			return nil, err
		}
		d, err := b.metric(query, embedding)
		if err != nil {
			return nil, err
		}
		neighbors = append(neighbors, types.Neighbor{
			ID:       id,
			Entry:    types.Entry{Embedding: embedding, Name: name, Comment: comment},
			Distance: d,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: scan: %w", err)
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

// Close closes the database handle.
func (b *Backend) Close() error {
	return b.db.Close()
}
