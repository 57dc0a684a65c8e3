// Package identity allocates participant identifiers from a bounded pool.
package identity

import (
	"errors"
	"math/rand/v2"
)

// Identifier domain. Zero is reserved to mean "not yet registered" and is
// never allocated.
const (
	MinID = 1
	MaxID = 999

	// PoolSize is the number of allocatable identifiers.
	PoolSize = MaxID - MinID + 1
)

// ErrPoolExhausted is returned when every identifier in the pool is in use.
var ErrPoolExhausted = errors.New("identity: pool exhausted")

// Pool hands out unused identifiers. It holds no state about which
// identifiers are in use; callers pass the live set on every allocation so a
// stale snapshot can never be consulted.
type Pool struct {
	domain []int
	rng    *rand.Rand
}

// Option configures a Pool.
type Option func(*Pool)

// WithRand sets the random source, for deterministic tests.
func WithRand(rng *rand.Rand) Option {
	return func(p *Pool) {
		p.rng = rng
	}
}

// NewPool creates a Pool. The full identifier domain is materialized once
// here rather than re-derived on every allocation.
func NewPool(opts ...Option) *Pool {
	domain := make([]int, 0, PoolSize)
	for id := MinID; id <= MaxID; id++ {
		domain = append(domain, id)
	}

	p := &Pool{domain: domain}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Allocate picks an identifier uniformly at random from the domain minus
// existing. It returns ErrPoolExhausted when existing covers the whole
// domain. Identifiers outside the domain are ignored.
func (p *Pool) Allocate(existing []int) (int, error) {
	used := make(map[int]struct{}, len(existing))
	for _, id := range existing {
		used[id] = struct{}{}
	}

	free := make([]int, 0, len(p.domain)-len(used))
	for _, id := range p.domain {
		if _, ok := used[id]; !ok {
			free = append(free, id)
		}
	}
	if len(free) == 0 {
		return 0, ErrPoolExhausted
	}

	return free[p.intN(len(free))], nil
}

func (p *Pool) intN(n int) int {
	if p.rng != nil {
		return p.rng.IntN(n)
	}
	return rand.IntN(n)
}
