// Package options provides functional options for configuring Matcher
// instances.
package options

import (
	"errors"
	"log/slog"

	"github.com/kindredlabs/kindred/backends"
	"github.com/kindredlabs/kindred/distance"
	"github.com/kindredlabs/kindred/questionnaire"
	"github.com/kindredlabs/kindred/types"
)

// Option represents a configuration option for a Matcher.
type Option func(*Config) error

// Config holds the configuration for building a Matcher. A backend is either
// supplied directly (Backend) or described by BackendType/BackendConfig and
// built once all options are applied, so the question count is known to the
// backend constructor regardless of option order.
type Config struct {
	Backend       types.Backend
	BackendType   types.BackendType
	BackendConfig types.BackendConfig
	Metric        distance.Func
	Questions     int
	Logger        *slog.Logger
}

// NewConfig creates a new configuration with default values.
func NewConfig() *Config {
	return &Config{
		Metric: distance.SquaredEuclidean,
		Logger: slog.New(slog.DiscardHandler),
	}
}

// Apply applies all the given options to the config.
func (c *Config) Apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Questions <= 0 {
		return errors.New("question count is required - use WithQuestions or WithQuestionnaire")
	}
	if c.Backend == nil && c.BackendType == "" {
		return errors.New("backend is required - use WithMemoryBackend, WithEmbeddedBackend, etc.")
	}
	return nil
}

// BuildBackend returns the configured backend, constructing it from the
// factory description when none was supplied directly.
func (c *Config) BuildBackend() (types.Backend, error) {
	if c.Backend != nil {
		return c.Backend, nil
	}

	cfg := c.BackendConfig
	cfg.Dimension = c.Questions
	cfg.Metric = c.Metric

	factory := &backends.Factory{}
	return factory.NewBackend(c.BackendType, cfg)
}

// WithQuestions sets the questionnaire length, fixing the answer-vector
// dimensionality.
func WithQuestions(n int) Option {
	return func(cfg *Config) error {
		if n <= 0 {
			return errors.New("question count must be positive")
		}
		cfg.Questions = n
		return nil
	}
}

// WithQuestionnaire derives the answer-vector dimensionality from a loaded
// questionnaire.
func WithQuestionnaire(qs questionnaire.Questionnaire) Option {
	return func(cfg *Config) error {
		if err := qs.Validate(); err != nil {
			return err
		}
		cfg.Questions = qs.Len()
		return nil
	}
}

// WithMemoryBackend sets up the volatile in-memory backend.
func WithMemoryBackend() Option {
	return func(cfg *Config) error {
		cfg.BackendType = types.BackendMemory
		return nil
	}
}

// WithEmbeddedBackend sets up the vecgo-backed durable backend rooted at dir.
func WithEmbeddedBackend(dir string) Option {
	return func(cfg *Config) error {
		if dir == "" {
			return errors.New("data directory cannot be empty")
		}
		cfg.BackendType = types.BackendEmbedded
		cfg.BackendConfig.Dir = dir
		return nil
	}
}

// WithRedisBackend sets up a Redis backend.
func WithRedisBackend(addr string, db int) Option {
	return func(cfg *Config) error {
		cfg.BackendType = types.BackendRedis
		cfg.BackendConfig.ConnectionString = addr
		cfg.BackendConfig.Database = db
		return nil
	}
}

// WithSQLiteBackend sets up a SQLite backend at the given database path.
func WithSQLiteBackend(path string) Option {
	return func(cfg *Config) error {
		if path == "" {
			return errors.New("database path cannot be empty")
		}
		cfg.BackendType = types.BackendSQLite
		cfg.BackendConfig.Path = path
		return nil
	}
}

// WithCustomBackend allows using a pre-configured backend.
func WithCustomBackend(backend types.Backend) Option {
	return func(cfg *Config) error {
		if backend == nil {
			return errors.New("backend cannot be nil")
		}
		cfg.Backend = backend
		return nil
	}
}

// WithDistanceFunc sets a custom distance function.
func WithDistanceFunc(metric distance.Func) Option {
	return func(cfg *Config) error {
		if metric == nil {
			return errors.New("distance function cannot be nil")
		}
		cfg.Metric = metric
		return nil
	}
}

// WithLogger sets the structured logger for operation tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *Config) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.Logger = logger
		return nil
	}
}
