// Package schema builds the canonical schema model from annotated CREATE
// TABLE / CREATE VIEW statements. Directive precedence is strictly "more
// specific wins": column directives over table directives over inferred
// defaults.
package schema

import (
	"strings"

	"github.com/reflowdb/reflow/internal/annotation"
)

// TableSpec is the canonical model of one table or view.
type TableSpec struct {
	Namespace string `yaml:"namespace"`
	Name      string `yaml:"name"`
	View      bool   `yaml:"view,omitempty"`
	// ClassName overrides the emitted type name for this table.
	ClassName   string        `yaml:"className,omitempty"`
	Columns     []*ColumnSpec `yaml:"columns"`
	PrimaryKey  []string      `yaml:"primaryKey,omitempty"`
	ForeignKeys []ForeignKey  `yaml:"foreignKeys,omitempty"`
	// CascadeDelete / CascadeUpdate are the cascadeNotify directive's
	// target tables, consumed by the dependency graph.
	CascadeDelete []string `yaml:"cascadeDelete,omitempty"`
	CascadeUpdate []string `yaml:"cascadeUpdate,omitempty"`
	// SelectSQL is the body of a view; empty for tables.
	SelectSQL string `yaml:"selectSQL,omitempty"`
	// ShapeBlocks are a view's inline result-shape directives, resolved
	// by the query analyzer exactly like a query's.
	ShapeBlocks []annotation.Block `yaml:"-"`
	File        string             `yaml:"-"`
	Line        int                `yaml:"-"`
}

// Column returns the column with the given name, or nil.
func (t *TableSpec) Column(name string) *ColumnSpec {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

// PrimaryKeyColumn returns the single primary key column name, or "" for
// composite or missing keys.
func (t *TableSpec) PrimaryKeyColumn() string {
	if len(t.PrimaryKey) == 1 {
		return t.PrimaryKey[0]
	}
	return ""
}

// ColumnSpec describes one column: its storage shape and the output
// property derived from it. Query-level overrides never mutate a
// ColumnSpec; they operate on a Clone.
type ColumnSpec struct {
	Name        string `yaml:"name"`
	StorageType string `yaml:"storageType"`
	NotNull     bool   `yaml:"notNull"`
	PrimaryKey  bool   `yaml:"primaryKey,omitempty"`
	Unique      bool   `yaml:"unique,omitempty"`
	Default     string `yaml:"default,omitempty"`
	// PropertyName is the output property name (directive or lowerCamel
	// of the column name).
	PropertyName string `yaml:"propertyName"`
	// PropertyType is the output property type (directive, type hint, or
	// affinity default).
	PropertyType string `yaml:"propertyType"`
	// TypeHint is an explicit override of introspected metadata.
	TypeHint string `yaml:"typeHint,omitempty"`
	Line     int    `yaml:"-"`
}

// Clone returns a query-local copy of the column.
func (c *ColumnSpec) Clone() *ColumnSpec {
	dup := *c
	return &dup
}

// ForeignKey is one foreign key edge between tables.
type ForeignKey struct {
	Columns    []string `yaml:"columns"`
	RefTable   string   `yaml:"refTable"`
	RefColumns []string `yaml:"refColumns,omitempty"`
	OnDelete   string   `yaml:"onDelete,omitempty"`
	OnUpdate   string   `yaml:"onUpdate,omitempty"`
}

// Canonical property types used when no directive overrides them. These
// are target-language neutral; the code emitter maps them onto its own
// type system.
const (
	TypeInteger = "integer"
	TypeReal    = "real"
	TypeText    = "text"
	TypeBlob    = "blob"
	TypeBool    = "boolean"
	TypeAny     = "any"
)

// AffinityType maps a declared storage type to its canonical property
// type, following SQLite's affinity rules.
func AffinityType(storageType string) string {
	upper := strings.ToUpper(storageType)
	switch {
	case upper == "BOOLEAN" || upper == "BOOL":
		return TypeBool
	case strings.Contains(upper, "INT"):
		return TypeInteger
	case strings.Contains(upper, "CHAR") || strings.Contains(upper, "CLOB") || strings.Contains(upper, "TEXT"):
		return TypeText
	case upper == "" || strings.Contains(upper, "BLOB"):
		return TypeBlob
	case strings.Contains(upper, "REAL") || strings.Contains(upper, "FLOA") || strings.Contains(upper, "DOUB"):
		return TypeReal
	}
	// NUMERIC affinity: the stored value's type is data-dependent.
	return TypeAny
}

// PropertyName derives the default output property name from a column
// name: snake_case becomes lowerCamel.
func PropertyName(column string) string {
	parts := strings.Split(column, "_")
	out := make([]string, 0, len(parts))
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i == 0 || len(out) == 0 {
			out = append(out, strings.ToLower(part[:1])+part[1:])
			continue
		}
		out = append(out, strings.ToUpper(part[:1])+part[1:])
	}
	return strings.Join(out, "")
}
