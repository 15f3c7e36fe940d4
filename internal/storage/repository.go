// Package storage is the backend-agnostic face of the SQL sink.
//
// Backends (sqlite, postgres, mssql) register a factory from init(); callers
// select one by kind through New without importing the backend package
// directly. Import laptel/internal/storage/all to link every backend.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open a Repository.
type Config struct {
	Kind string
	DSN  string
}

// Repository appends rows to a table. Implementations must be safe for
// concurrent use; the pipeline shares one repository across its workers.
type Repository interface {
	// Close releases backend resources. Call once.
	Close()

	// EnsureTable creates the table and its unique constraint if missing.
	EnsureTable(ctx context.Context, spec TableSpec) error

	// InsertRows appends rows and returns how many were inserted. When
	// dedupeColumns is non-empty, rows whose dedupe key already exists (in
	// the table or earlier in the same call) are skipped.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error)
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. It panics on an empty kind,
// a nil factory, or a duplicate registration.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens a Repository using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
