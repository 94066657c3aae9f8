// Package backend opens the storage.Store selected by configuration.
package backend

import (
	"context"
	"fmt"

	"dompet/internal/log"
	"dompet/internal/storage"
	"dompet/internal/storage/memory"
	"dompet/internal/storage/sqlite"
)

// Pinger is implemented by stores that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Result is an opened store. Ready is nil for stores without a health check.
type Result struct {
	Store storage.Store
	Ready Pinger
}

// Close releases the store.
func (r *Result) Close() error {
	if r == nil || r.Store == nil {
		return nil
	}
	return r.Store.Close()
}

// Open creates the store described by cfg.
func Open(ctx context.Context, cfg Config, logger *log.Logger) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentBackend)

	switch cfg.Type {
	case SQLiteBackend:
		store, err := sqlite.Open(ctx, cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		logger.InfoContext(ctx, "Initialized SQLite backend", "db_path", cfg.SQLiteDBPath)
		return &Result{Store: store, Ready: store}, nil
	case MemoryBackend:
		logger.WarnContext(ctx, "Initialized memory backend; data is lost on exit")
		return &Result{Store: memory.New()}, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Type)
	}
}
