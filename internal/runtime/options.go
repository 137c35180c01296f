package runtime

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/tjfontaine/reqguard/internal/config"
	"github.com/tjfontaine/reqguard/internal/metrics"
	"github.com/tjfontaine/reqguard/internal/storage"
	"github.com/tjfontaine/reqguard/internal/storage/memory"
	"github.com/tjfontaine/reqguard/internal/storage/sqlite"
)

// Option is a functional option for configuring a Service.
type Option func(*Service) error

// WithConfig uses an already loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) error {
		s.cfg = cfg
		return nil
	}
}

// WithFileConfig loads configuration from path plus environment overrides.
func WithFileConfig(path string) Option {
	return func(s *Service) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return fmt.Errorf("load config from %s: %w", path, err)
		}
		s.cfg = cfg
		return nil
	}
}

// WithSQLite uses SQLite storage regardless of storage.type.
func WithSQLite(path string) Option {
	return func(s *Service) error {
		store, err := sqlite.New(path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		s.store = store
		return nil
	}
}

// WithMemoryStorage uses in-memory storage regardless of storage.type.
func WithMemoryStorage() Option {
	return func(s *Service) error {
		s.store = memory.New()
		return nil
	}
}

// WithStore sets a custom store.
func WithStore(store storage.Store) Option {
	return func(s *Service) error {
		s.store = store
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		s.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collectors. By default a fresh registry is used.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) error {
		s.metrics = m
		return nil
	}
}

// WithListener serves on ln instead of listening on server.port.
func WithListener(ln net.Listener) Option {
	return func(s *Service) error {
		s.listener = ln
		return nil
	}
}
