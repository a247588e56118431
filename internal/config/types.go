// Package config provides shared project configuration types. It is
// decoupled from CLI concerns so the compiler, the runtime, and tooling
// can all load the same project file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/reflowdb/reflow/internal/driver"
)

// ProjectConfig is the root of a reflow.yaml project file.
type ProjectConfig struct {
	// Name identifies the project in logs and manifest output.
	Name string `koanf:"name"`

	// Namespaces list the schema/query source roots. Each namespace
	// compiles independently but shares one database.
	Namespaces []NamespaceConfig `koanf:"namespaces"`

	// Out is the manifest output path.
	Out string `koanf:"out"`

	Database DatabaseConfig `koanf:"database"`
	Snapshot SnapshotConfig `koanf:"snapshot"`
	Log      LogConfig      `koanf:"log"`
}

// NamespaceConfig points one namespace at its source directories.
type NamespaceConfig struct {
	Name string `koanf:"name"`
	// Schema is the directory of annotated CREATE statements.
	Schema string `koanf:"schema"`
	// Queries is the directory of query files, one statement per file.
	Queries string `koanf:"queries"`
}

// DatabaseConfig holds the runtime database target.
type DatabaseConfig struct {
	// Driver names a registered database driver.
	Driver string `koanf:"driver"`
	// Path is the database location; ":memory:" for a purely in-memory
	// database restored from snapshots.
	Path string `koanf:"path"`
	// Pragmas are applied on open.
	Pragmas map[string]string `koanf:"pragmas"`
	// BusyTimeout bounds lock waits on open connections.
	BusyTimeout time.Duration `koanf:"busyTimeout"`
}

// SnapshotConfig controls byte-snapshot persistence.
type SnapshotConfig struct {
	// Dir is where snapshot blobs are written. Empty disables
	// persistence.
	Dir string `koanf:"dir"`
	// AutoFlush persists after every committed write transaction.
	AutoFlush bool `koanf:"autoFlush"`
	// Debounce coalesces auto-flushes closer together than this.
	Debounce time.Duration `koanf:"debounce"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text, json
}

// ApplyDefaults fills unset fields with their defaults.
func (c *ProjectConfig) ApplyDefaults() {
	if c.Out == "" {
		c.Out = "reflow.manifest.yaml"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = ":memory:"
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = 5 * time.Second
	}
	if c.Snapshot.Dir != "" && c.Snapshot.Debounce == 0 {
		c.Snapshot.Debounce = 100 * time.Millisecond
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	for i := range c.Namespaces {
		ns := &c.Namespaces[i]
		if ns.Schema == "" && ns.Name != "" {
			ns.Schema = ns.Name + "/schema"
		}
		if ns.Queries == "" && ns.Name != "" {
			ns.Queries = ns.Name + "/queries"
		}
	}
}

// Validate checks the configuration for structural problems. The driver
// registry is the single source of truth for valid driver names.
func (c *ProjectConfig) Validate() error {
	if len(c.Namespaces) == 0 {
		return fmt.Errorf("at least one namespace is required")
	}
	seen := make(map[string]bool)
	for _, ns := range c.Namespaces {
		if ns.Name == "" {
			return fmt.Errorf("namespace name is required")
		}
		if seen[ns.Name] {
			return fmt.Errorf("duplicate namespace %q", ns.Name)
		}
		seen[ns.Name] = true
	}
	if !driver.IsRegistered(strings.ToLower(c.Database.Driver)) {
		return &driver.UnknownDriverError{
			Name:      c.Database.Driver,
			Available: driver.List(),
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}
