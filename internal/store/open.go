package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/smogview/smogview/internal/database"
)

// Backends accepted by Open.
const (
	BackendJSON     = "json"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// OpenConfig selects and configures a backend.
type OpenConfig struct {
	Backend  string
	Dir      string
	Location *time.Location
	Database database.Config
	Logger   zerolog.Logger
}

// Handle is an opened store with its readiness check and cleanup.
type Handle struct {
	Store Store

	// Ping reports whether the backend is reachable.
	Ping func(ctx context.Context) error

	// Close releases the backend's resources.
	Close func()
}

// Open creates the configured backend. The postgres backend connects and
// creates its schema before returning.
func Open(ctx context.Context, cfg OpenConfig) (*Handle, error) {
	switch cfg.Backend {
	case BackendJSON, "":
		s, err := NewJSONStore(JSONConfig{Dir: cfg.Dir, Location: cfg.Location, Logger: cfg.Logger})
		if err != nil {
			return nil, err
		}
		return &Handle{
			Store: s,
			Ping: func(context.Context) error {
				_, err := os.Stat(s.Dir())
				return err
			},
			Close: func() {},
		}, nil

	case BackendMemory:
		return &Handle{
			Store: NewMemoryStore(),
			Ping:  func(context.Context) error { return nil },
			Close: func() {},
		}, nil

	case BackendPostgres:
		pool, err := database.Connect(ctx, cfg.Database, cfg.Logger)
		if err != nil {
			return nil, err
		}
		s := NewPostgresStore(pool, cfg.Location, cfg.Logger)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return &Handle{
			Store: s,
			Ping:  pool.Ping,
			Close: pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
