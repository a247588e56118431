// Package driver provides database driver interfaces and implementations
// for reflow's reactive runtime.
package driver

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Config holds the configuration for opening a database.
type Config struct {
	// Path is the database file path. Use ":memory:" for an in-memory
	// database.
	Path string

	// Pragmas are applied after the connection opens.
	Pragmas map[string]string

	// BusyTimeout bounds waits on a locked database.
	BusyTimeout time.Duration
}

// Column describes one column of a table, as reported by the engine.
type Column struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
	Position   int
}

// StatementColumn describes one output column of a prepared statement.
type StatementColumn struct {
	Name     string
	DeclType string
	Nullable bool
}

// Driver is one database engine binding. The runtime drives it through
// a single connection; implementations must be safe to call from one
// goroutine at a time.
type Driver interface {
	// Connect opens the database using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the database connection and releases resources.
	Close() error

	// DB exposes the underlying handle for transaction control.
	DB() *sql.DB

	// Exec executes a statement that doesn't return rows.
	Exec(ctx context.Context, sql string, args ...any) error

	// Query executes a statement that returns rows.
	Query(ctx context.Context, sql string, args ...any) (*sql.Rows, error)

	// TableColumns reports the engine's view of a table's columns.
	TableColumns(ctx context.Context, table string) ([]Column, error)

	// StatementColumns reports the output columns of a statement
	// without keeping its side effects, for compile-time checks.
	StatementColumns(ctx context.Context, sql string) ([]StatementColumn, error)

	// ExportBytes serializes the full database into a self-contained
	// byte image.
	ExportBytes(ctx context.Context) ([]byte, error)

	// RestoreBytes replaces the database contents with a previously
	// exported image.
	RestoreBytes(ctx context.Context, data []byte) error

	// Name returns the driver's registered name.
	Name() string
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func(*slog.Logger) Driver)
)

// Register adds a driver factory to the registry. Called by driver
// implementations in their init() functions.
func Register(name string, factory func(*slog.Logger) Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get retrieves a driver factory by name.
func Get(name string) (func(*slog.Logger) Driver, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// New creates a driver instance by registered name. A nil logger uses a
// discard logger.
func New(name string, logger *slog.Logger) (Driver, error) {
	if name == "" {
		return nil, fmt.Errorf("driver name not specified")
	}
	factory, ok := Get(name)
	if !ok {
		return nil, &UnknownDriverError{
			Name:      name,
			Available: List(),
		}
	}
	return factory(logger), nil
}

// List returns all registered driver names (sorted).
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a driver name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// UnknownDriverError is returned when an unknown driver is requested.
type UnknownDriverError struct {
	Name      string
	Available []string
}

func (e *UnknownDriverError) Error() string {
	return fmt.Sprintf("unknown driver %q\nAvailable drivers: %v\nHint: check database.driver in reflow.yaml", e.Name, e.Available)
}
