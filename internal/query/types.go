// Package query analyzes annotated query statements: it classifies each
// statement, types its bound parameters, resolves the output projection
// against the schema model, and applies dynamic-field directives to build
// nested result shapes.
package query

import (
	"github.com/reflowdb/reflow/internal/sqlparse"
)

// QuerySpec is the compiled description of one query file.
type QuerySpec struct {
	Namespace string        `yaml:"namespace"`
	Name      string        `yaml:"name"`
	SQL       string        `yaml:"sql"`
	Kind      sqlparse.Kind `yaml:"kind"`
	Returning bool          `yaml:"returning,omitempty"`
	Params    []Param       `yaml:"params,omitempty"`

	// Result is the query's own resolved shape, nil for writes without a
	// RETURNING clause. Column indexes refer to this query's projection.
	Result *ResultNode `yaml:"result,omitempty"`
	// SharedResult is the declared result name, when the query opted
	// into a shared shape.
	SharedResult string `yaml:"sharedResult,omitempty"`
	// MapTo is the output mapper target type directive.
	MapTo string `yaml:"mapTo,omitempty"`
	// ClassName overrides the emitted result class name.
	ClassName string `yaml:"className,omitempty"`

	// ReadTables and WriteTables are the base tables touched, views
	// expanded. For read queries ReadTables doubles as the invalidation
	// set; for writes AffectedTables is the cascade-expanded closure.
	ReadTables     []string `yaml:"readTables,omitempty"`
	WriteTables    []string `yaml:"writeTables,omitempty"`
	AffectedTables []string `yaml:"affectedTables,omitempty"`

	File string `yaml:"-"`

	// canonical is the shared node this query's result was deduplicated
	// against, when SharedResult is set.
	canonical *ResultNode
}

// CanonicalResult returns the canonical shared node for this query, or
// its own result node when the result is not shared.
func (q *QuerySpec) CanonicalResult() *ResultNode {
	if q.canonical != nil {
		return q.canonical
	}
	return q.Result
}

// IsRead reports whether the query only reads.
func (q *QuerySpec) IsRead() bool {
	return q.Kind == sqlparse.KindSelect
}

// InvalidationSet returns the tables whose mutation should re-trigger
// this query: for reads, every table it selects from.
func (q *QuerySpec) InvalidationSet() []string {
	return q.ReadTables
}

// Param is one typed bound parameter.
type Param struct {
	// Name is the :name placeholder name, "" for positional.
	Name string `yaml:"name,omitempty"`
	// Index is the 1-based placeholder position.
	Index int `yaml:"index"`
	// Column is the schema column the parameter binds against, if known.
	Column string `yaml:"column,omitempty"`
	// PropertyType is the parameter's inferred or overridden type.
	PropertyType string `yaml:"propertyType"`
	NotNull      bool   `yaml:"notNull"`
}

// ResultKind discriminates result tree nodes.
type ResultKind string

const (
	// KindFlat is a plain row of columns.
	KindFlat ResultKind = "flat"
	// KindEntity nests columns of the query's own source table into one
	// object per row.
	KindEntity ResultKind = "entity"
	// KindPerRow nests joined columns into one optional object per row.
	KindPerRow ResultKind = "perRow"
	// KindCollection groups joined rows into a nested list per parent.
	KindCollection ResultKind = "collection"
)

// ResultNode is one node of the nested result shape. The root is always
// flat; dynamic-field directives hang entity/perRow/collection children
// off it.
type ResultNode struct {
	Kind ResultKind `yaml:"kind"`
	// Name is the target property name; empty at the root.
	Name string `yaml:"name,omitempty"`
	// PropertyType is an explicit output type for the nested object.
	PropertyType string `yaml:"propertyType,omitempty"`
	// SourceTable is the table label the nested columns come from.
	SourceTable string `yaml:"sourceTable,omitempty"`
	// AliasPrefix is the projection alias prefix that selected this
	// node's columns; stripped from child column names.
	AliasPrefix string `yaml:"aliasPrefix,omitempty"`
	// GroupKey is the collection's grouping column (alias-stripped).
	GroupKey string `yaml:"groupKey,omitempty"`
	// NotNull marks a perRow field as required.
	NotNull bool `yaml:"notNull,omitempty"`
	// DefaultValue is emitted when an optional field has no row.
	DefaultValue string `yaml:"default,omitempty"`

	Columns  []ResultColumn `yaml:"columns"`
	Children []*ResultNode  `yaml:"children,omitempty"`
}

// ResultColumn is one leaf column of a result node.
type ResultColumn struct {
	// Index is the 0-based position in the query's projection row.
	Index int `yaml:"index"`
	// Name is the output column name, alias prefix stripped for nested
	// columns.
	Name         string `yaml:"name"`
	PropertyName string `yaml:"propertyName"`
	PropertyType string `yaml:"propertyType"`
	NotNull      bool   `yaml:"notNull"`
	// Default is substituted when the column is null in a row.
	Default string `yaml:"default,omitempty"`
}

// ColumnByName returns the node's column with the given name, or nil.
func (n *ResultNode) ColumnByName(name string) *ResultColumn {
	for i := range n.Columns {
		if n.Columns[i].Name == name {
			return &n.Columns[i]
		}
	}
	return nil
}

// StructuralEqual compares two result nodes field for field: kind,
// column names, types and nullability, and nested structure. Projection
// indexes are excluded so queries projecting the same shape in different
// column orders still share it.
func StructuralEqual(a, b *ResultNode) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind || a.Name != b.Name || a.PropertyType != b.PropertyType ||
		a.SourceTable != b.SourceTable || a.GroupKey != b.GroupKey || a.NotNull != b.NotNull {
		return false
	}
	if len(a.Columns) != len(b.Columns) || len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Columns {
		ac, bc := a.Columns[i], b.Columns[i]
		if ac.Name != bc.Name || ac.PropertyName != bc.PropertyName ||
			ac.PropertyType != bc.PropertyType || ac.NotNull != bc.NotNull {
			return false
		}
	}
	for i := range a.Children {
		if !StructuralEqual(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}

// ColumnMeta is engine-introspected metadata for one projection column,
// used when the structural parser cannot type an expression.
type ColumnMeta struct {
	Name     string
	DeclType string
	Nullable bool
	// Table and Origin identify the base column, when the engine can
	// trace the projection item to one.
	Table  string
	Origin string
}

// Introspector supplies engine metadata for a statement's projection.
// Implementations prepare the statement against a scratch database.
type Introspector interface {
	ColumnTypes(sql string) ([]ColumnMeta, error)
}
