package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kozaktomas/facegraph/internal/config"
)

// Opener constructs a store for one backend.
type Opener func(ctx context.Context, cfg *config.DatabaseConfig) (IdentityStore, error)

var (
	backends   = make(map[string]Opener)
	backendsMu sync.RWMutex
)

// RegisterBackend registers a store constructor under a driver name.
// This is called by the backend packages to avoid import cycles.
func RegisterBackend(driver string, open Opener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if _, dup := backends[driver]; dup {
		panic("database: RegisterBackend called twice for driver " + driver)
	}
	backends[driver] = open
}

// Backends returns the registered driver names.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates the store selected by cfg.Driver. The caller owns the store and must Close it.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (IdentityStore, error) {
	backendsMu.RLock()
	open, ok := backends[cfg.Driver]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown database driver %q (registered: %v)", cfg.Driver, Backends())
	}

	store, err := open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return store, nil
}
