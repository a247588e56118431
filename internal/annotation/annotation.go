// Package annotation extracts structured directive comments from SQL source.
// Directives take the form @@{ key=value, key={...}, ... } embedded in line
// or block comments and override inferred schema/query behavior.
package annotation

import (
	"fmt"
	"strconv"
	"strings"
)

// Scope identifies the construct a directive block is bound to.
type Scope string

const (
	// ScopeTable applies to a CREATE TABLE / CREATE VIEW statement.
	ScopeTable Scope = "table"
	// ScopeColumn applies to a single column definition.
	ScopeColumn Scope = "column"
	// ScopeQuery applies to a query statement.
	ScopeQuery Scope = "query"
	// ScopeField applies to an inline result-shaping (dynamic field) block.
	ScopeField Scope = "field"
)

// Recognized keys per scope. Unknown keys are rejected rather than ignored
// so typos surface at compile time.
var scopeKeys = map[Scope]map[string]bool{
	ScopeTable: {
		"cascadeNotify": true,
		"className":     true,
	},
	ScopeColumn: {
		"field":        true,
		"property":     true,
		"propertyType": true,
		"typeHint":     true,
		"notNull":      true,
		"default":      true,
	},
	ScopeQuery: {
		"sharedResult": true,
		"mapTo":        true,
		"className":    true,
	},
	ScopeField: {
		"dynamicField":      true,
		"mappingType":       true,
		"propertyType":      true,
		"sourceTable":       true,
		"aliasPrefix":       true,
		"removeAliasPrefix": true,
		"collectionKey":     true,
		"notNull":           true,
		"default":           true,
	},
}

// ValueKind discriminates directive value shapes.
type ValueKind int

const (
	// KindScalar is a bare word, quoted string, number, or boolean.
	KindScalar ValueKind = iota
	// KindList is a bracket-delimited list of values.
	KindList
	// KindMap is a brace-delimited set of key/value entries.
	KindMap
)

// Value is a parsed directive value.
type Value struct {
	Kind    ValueKind
	Scalar  string
	List    []Value
	Entries []Entry
}

// Entry is one key/value pair inside a map value. Order is preserved.
type Entry struct {
	Key   string
	Value Value
}

// Get returns the value for a key in a map value.
func (v Value) Get(key string) (Value, bool) {
	for _, e := range v.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Strings flattens a list (or single scalar) into a string slice.
func (v Value) Strings() []string {
	switch v.Kind {
	case KindScalar:
		if v.Scalar == "" {
			return nil
		}
		return []string{v.Scalar}
	case KindList:
		out := make([]string, 0, len(v.List))
		for _, item := range v.List {
			out = append(out, item.Scalar)
		}
		return out
	}
	return nil
}

// Block is one parsed directive block bound to a source location.
// Keys preserves declaration order; Values is the lookup map.
type Block struct {
	File    string
	Line    int
	EndLine int
	Keys    []string
	Values  map[string]Value

	// Trailing is true when the block appeared as a trailing comment on a
	// line that also carries SQL text. Used for column association.
	Trailing bool
}

// Has reports whether the block declares the given key.
func (b *Block) Has(key string) bool {
	_, ok := b.Values[key]
	return ok
}

// Str returns the scalar value for key, or "" when absent.
func (b *Block) Str(key string) string {
	return b.Values[key].Scalar
}

// Bool returns the boolean value for key. A bare key with no value
// (e.g. notNull) is treated as true.
func (b *Block) Bool(key string) bool {
	v, ok := b.Values[key]
	if !ok {
		return false
	}
	if v.Kind != KindScalar {
		return false
	}
	if v.Scalar == "" {
		return true
	}
	parsed, err := strconv.ParseBool(v.Scalar)
	return err == nil && parsed
}

// StringList returns the list value for key flattened to strings.
func (b *Block) StringList(key string) []string {
	return b.Values[key].Strings()
}

// Nested returns the map value for key.
func (b *Block) Nested(key string) (Value, bool) {
	v, ok := b.Values[key]
	if !ok || v.Kind != KindMap {
		return Value{}, false
	}
	return v, true
}

// Validate checks the block's keys against the whitelist for scope.
func (b *Block) Validate(scope Scope) error {
	allowed, ok := scopeKeys[scope]
	if !ok {
		return &Error{File: b.File, Line: b.Line, Message: fmt.Sprintf("unknown directive scope %q", scope)}
	}
	for _, key := range b.Keys {
		if !allowed[key] {
			return &Error{
				File:    b.File,
				Line:    b.Line,
				Message: fmt.Sprintf("unknown key %q for %s directive", key, scope),
			}
		}
	}
	return nil
}

// IsFieldBlock reports whether the block declares a dynamic field and
// should therefore be validated against the field scope.
func (b *Block) IsFieldBlock() bool {
	return b.Has("dynamicField")
}

// Error is a directive parsing or validation error with source location.
type Error struct {
	File    string
	Line    int
	Message string
}

func (e *Error) Error() string {
	if e.File != "" {
		if e.Line > 0 {
			return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
		}
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

// duplicateKeyError builds the error for a repeated key within one block.
func duplicateKeyError(file string, line int, key string) error {
	return &Error{File: file, Line: line, Message: fmt.Sprintf("duplicate key %q in directive", key)}
}

// String renders a value back to directive syntax. Used in error messages
// and manifest debugging output.
func (v Value) String() string {
	switch v.Kind {
	case KindList:
		parts := make([]string, 0, len(v.List))
		for _, item := range v.List {
			parts = append(parts, item.String())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		parts := make([]string, 0, len(v.Entries))
		for _, e := range v.Entries {
			parts = append(parts, e.Key+"="+e.Value.String())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return v.Scalar
}
