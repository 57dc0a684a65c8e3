// Package backends creates participant store backends based on type and
// configuration.
package backends

import (
	"errors"

	"github.com/kindredlabs/kindred/backends/embedded"
	"github.com/kindredlabs/kindred/backends/inmemory"
	"github.com/kindredlabs/kindred/backends/remote"
	"github.com/kindredlabs/kindred/backends/sqlite"
	"github.com/kindredlabs/kindred/types"
)

var ErrUnsupportedBackend = errors.New("unsupported backend type")

// Factory creates storage backends based on type and configuration.
type Factory struct{}

// NewBackend creates a new backend of the specified type.
func (f *Factory) NewBackend(backendType types.BackendType, config types.BackendConfig) (types.Backend, error) {
	switch backendType {
	case types.BackendMemory:
		return NewMemoryBackend(config)
	case types.BackendEmbedded:
		return NewEmbeddedBackend(config)
	case types.BackendRedis:
		return NewRedisBackend(config)
	case types.BackendSQLite:
		return NewSQLiteBackend(config)
	default:
		return nil, ErrUnsupportedBackend
	}
}

// NewMemoryBackend creates a volatile in-memory backend.
func NewMemoryBackend(config types.BackendConfig) (types.Backend, error) {
	return inmemory.New(config)
}

// NewEmbeddedBackend creates a vecgo-backed durable backend.
func NewEmbeddedBackend(config types.BackendConfig) (types.Backend, error) {
	return embedded.New(config)
}

// NewRedisBackend creates a Redis-backed backend.
func NewRedisBackend(config types.BackendConfig) (types.Backend, error) {
	return remote.New(config)
}

// NewSQLiteBackend creates a SQLite-backed backend.
func NewSQLiteBackend(config types.BackendConfig) (types.Backend, error) {
	return sqlite.New(config)
}
