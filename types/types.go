// Package types defines the participant data model and the storage backend
// contract shared by the matcher and its pluggable backends.
package types

import (
	"context"

	"github.com/kindredlabs/kindred/distance"
)

// NoAnswer is the sentinel stored when a participant leaves a free-text
// field empty.
const NoAnswer = "no answer"

// Record holds one participant's questionnaire answers.
type Record struct {
	// Name is the participant's display name.
	Name string

	// Choices holds one choice index per questionnaire item, in question
	// order. Its length must equal the questionnaire length.
	Choices []int

	// Comment is the participant's free-text comment.
	Comment string
}

// NewRecord builds a Record, substituting the NoAnswer sentinel for empty
// free-text fields.
func NewRecord(name string, choices []int, comment string) Record {
	if name == "" {
		name = NoAnswer
	}
	if comment == "" {
		comment = NoAnswer
	}
	return Record{Name: name, Choices: choices, Comment: comment}
}

// Embedding returns the similarity embedding for the record: exactly the
// choice indexes, no normalization or weighting.
func (r Record) Embedding() []float32 {
	vec := make([]float32, len(r.Choices))
	for i, c := range r.Choices {
		vec[i] = float32(c)
	}
	return vec
}

// DistanceTo returns the squared-euclidean distance between two records'
// answer vectors.
func (r Record) DistanceTo(other Record) (float64, error) {
	return distance.SquaredEuclidean(r.Embedding(), other.Embedding())
}

// Entry is the (embedding, metadata, document) triple a backend persists for
// one participant.
type Entry struct {
	Embedding []float32
	Name      string
	Comment   string
}

// EntryFromRecord converts a Record into its stored form.
func EntryFromRecord(r Record) Entry {
	return Entry{Embedding: r.Embedding(), Name: r.Name, Comment: r.Comment}
}

// Record reconstructs the participant record from the stored triple. Choice
// indexes are small integers, so the float32 round trip is exact.
func (e Entry) Record() Record {
	choices := make([]int, len(e.Embedding))
	for i, v := range e.Embedding {
		choices[i] = int(v)
	}
	return Record{Name: e.Name, Choices: choices, Comment: e.Comment}
}

// Neighbor is one result of a nearest-neighbor query.
type Neighbor struct {
	ID       int
	Entry    Entry
	Distance float64
}

// Backend is the persistent keyed storage collaborator. Point lookups report
// absence via the bool result; errors are reserved for storage failures.
type Backend interface {
	// Upsert writes or fully replaces the entry for id.
	Upsert(ctx context.Context, id int, entry Entry) error

	// PutIfAbsent writes the entry only when id is unused, reporting whether
	// the reservation succeeded. It must be atomic with respect to other
	// writers so two registrants cannot claim the same identifier.
	PutIfAbsent(ctx context.Context, id int, entry Entry) (bool, error)

	// Get retrieves the entry for id.
	Get(ctx context.Context, id int) (Entry, bool, error)

	// Keys enumerates all identifiers currently in use.
	Keys(ctx context.Context) ([]int, error)

	// Len returns the number of stored entries.
	Len(ctx context.Context) (int, error)

	// Nearest returns up to k entries closest to query, ascending by
	// distance. The querying participant's own entry is not excluded.
	Nearest(ctx context.Context, query []float32, k int) ([]Neighbor, error)

	// Close releases backend resources.
	Close() error
}

// ExcludingSearcher is an optional backend capability for engines with
// native result filtering. Excluding the querying participant's own key is
// strictly more robust than ranking it out, because another entry with a
// duplicate embedding can tie with the query's own entry at distance zero.
type ExcludingSearcher interface {
	NearestExcluding(ctx context.Context, query []float32, k int, exclude int) ([]Neighbor, error)
}

// BackendConfig provides configuration options for backends.
type BackendConfig struct {
	// Dimension is the answer-vector length (questionnaire size).
	Dimension int

	// Metric is the distance function used by backends that rank candidates
	// themselves. Defaults to distance.SquaredEuclidean.
	Metric distance.Func

	// Capacity bounds the in-memory backend. Must cover the identifier pool.
	Capacity int

	// Dir is the data directory for the embedded backend.
	Dir string

	// Path is the database file for the SQLite backend.
	Path string

	// Redis connection settings.
	ConnectionString string
	Username         string
	Password         string
	Database         int

	// Additional options.
	Options map[string]any
}

// BackendType represents the type of storage backend.
type BackendType string

const (
	BackendMemory   BackendType = "memory"
	BackendEmbedded BackendType = "embedded"
	BackendRedis    BackendType = "redis"
	BackendSQLite   BackendType = "sqlite"
)
