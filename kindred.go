// Package kindred matches questionnaire participants by answer similarity.
// Participants register a record of choice indexes, receive an identifier
// from a bounded pool, and can later look up the other participant whose
// answers sit closest to theirs.
package kindred

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kindredlabs/kindred/distance"
	"github.com/kindredlabs/kindred/identity"
	"github.com/kindredlabs/kindred/options"
	"github.com/kindredlabs/kindred/types"
)

// ErrInvalidID is returned when an identifier outside [identity.MinID,
// identity.MaxID] is passed to a write operation.
var ErrInvalidID = errors.New("identifier out of range")

// registerAttempts bounds the allocate-and-reserve loop. Each lost
// reservation means another registrant claimed the identifier first, so in
// practice one or two attempts suffice.
const registerAttempts = 16

// Match is a nearest-neighbor result: the other participant and the
// distance between the two answer vectors.
type Match struct {
	ID       int
	Record   types.Record
	Distance float64
}

// Matcher is the participant store facade with a configurable storage
// backend and distance metric.
type Matcher struct {
	backend   types.Backend
	metric    distance.Func
	pool      *identity.Pool
	questions int
	logger    *slog.Logger
}

// New creates a Matcher with functional options.
func New(opts ...options.Option) (*Matcher, error) {
	cfg := options.NewConfig()

	if err := cfg.Apply(opts...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backend, err := cfg.BuildBackend()
	if err != nil {
		return nil, err
	}

	m, err := NewMatcher(backend, cfg.Metric, cfg.Questions)
	if err != nil {
		return nil, err
	}
	m.logger = cfg.Logger
	return m, nil
}

// NewMatcher creates a Matcher with the given backend, metric, and
// questionnaire length.
func NewMatcher(backend types.Backend, metric distance.Func, questions int) (*Matcher, error) {
	if backend == nil {
		return nil, errors.New("backend cannot be nil")
	}
	if metric == nil {
		return nil, errors.New("metric cannot be nil")
	}
	if questions <= 0 {
		return nil, errors.New("question count must be positive")
	}

	return &Matcher{
		backend:   backend,
		metric:    metric,
		pool:      identity.NewPool(),
		questions: questions,
		logger:    slog.New(slog.DiscardHandler),
	}, nil
}

// Register stores a new participant record and returns the identifier
// reserved for it. The identifier is drawn uniformly at random from the
// unused part of the pool; if another registrant wins the race for the same
// identifier, allocation retries against a fresh key enumeration.
func (m *Matcher) Register(ctx context.Context, rec types.Record) (int, error) {
	entry, err := m.entry(rec)
	if err != nil {
		return 0, err
	}

	for attempt := 0; attempt < registerAttempts; attempt++ {
		keys, err := m.backend.Keys(ctx)
		if err != nil {
			return 0, fmt.Errorf("enumerate identifiers: %w", err)
		}

		id, err := m.pool.Allocate(keys)
		if err != nil {
			return 0, err
		}

		ok, err := m.backend.PutIfAbsent(ctx, id, entry)
		if err != nil {
			return 0, fmt.Errorf("reserve identifier %d: %w", id, err)
		}
		if ok {
			m.logger.Debug("registered participant", "id", id, "attempt", attempt+1)
			return id, nil
		}
		// Reservation lost to a concurrent registrant; re-enumerate and retry.
	}

	return 0, fmt.Errorf("could not reserve an identifier after %d attempts", registerAttempts)
}

// Upsert fully replaces the record stored under id. The identifier must have
// been allocated by Register; zero means "not yet registered" and is
// rejected.
func (m *Matcher) Upsert(ctx context.Context, id int, rec types.Record) error {
	if id < identity.MinID || id > identity.MaxID {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}

	entry, err := m.entry(rec)
	if err != nil {
		return err
	}

	if err := m.backend.Upsert(ctx, id, entry); err != nil {
		return fmt.Errorf("upsert %d: %w", id, err)
	}
	m.logger.Debug("upserted participant", "id", id)
	return nil
}

// Get retrieves the record stored under id. A missing identifier is reported
// as absent, never as an error.
func (m *Matcher) Get(ctx context.Context, id int) (types.Record, bool, error) {
	entry, found, err := m.backend.Get(ctx, id)
	if err != nil {
		return types.Record{}, false, fmt.Errorf("get %d: %w", id, err)
	}
	if !found {
		return types.Record{}, false, nil
	}
	return entry.Record(), true, nil
}

// NearestOther finds the stored record closest to rec, excluding the
// caller's own entry. It returns (nil, nil) when the store holds fewer than
// two entries; that case is detected before any backend query is issued.
//
// Callers must have upserted their own record under id before calling this.
// A caller that skipped registration excludes nobody, so the result may skip
// the true closest other when it coincides with the caller's own answers.
func (m *Matcher) NearestOther(ctx context.Context, id int, rec types.Record) (*Match, error) {
	entry, err := m.entry(rec)
	if err != nil {
		return nil, err
	}

	n, err := m.backend.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("count entries: %w", err)
	}
	if n < 2 {
		return nil, nil
	}

	var neighbors []types.Neighbor
	if ex, ok := m.backend.(types.ExcludingSearcher); ok {
		// Native exclusion: ask for the single closest entry that isn't ours.
		neighbors, err = ex.NearestExcluding(ctx, entry.Embedding, 1, id)
	} else {
		// No exclusion primitive: our own entry is expected at rank 1 with
		// distance zero, so request two results and keep the second. If
		// another entry ties with ours at distance zero, which of the two
		// ends up at rank 1 depends on the backend's tie order.
		neighbors, err = m.backend.Nearest(ctx, entry.Embedding, 2)
		if err == nil {
			if len(neighbors) < 2 {
				neighbors = nil
			} else {
				neighbors = neighbors[1:]
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("nearest neighbor query: %w", err)
	}
	if len(neighbors) == 0 {
		return nil, nil
	}

	nb := neighbors[0]
	m.logger.Debug("matched participant", "id", id, "other", nb.ID, "distance", nb.Distance)
	return &Match{ID: nb.ID, Record: nb.Entry.Record(), Distance: nb.Distance}, nil
}

// Len returns the number of registered participants.
func (m *Matcher) Len(ctx context.Context) (int, error) {
	return m.backend.Len(ctx)
}

// Close closes the underlying backend.
func (m *Matcher) Close() error {
	return m.backend.Close()
}

// entry validates the record's dimensionality and converts it to its stored
// form, applying the no-answer sentinels.
func (m *Matcher) entry(rec types.Record) (types.Entry, error) {
	if len(rec.Choices) != m.questions {
		return types.Entry{}, &distance.MismatchError{Expected: m.questions, Actual: len(rec.Choices)}
	}
	return types.EntryFromRecord(types.NewRecord(rec.Name, rec.Choices, rec.Comment)), nil
}
