package query

import (
	"fmt"
	"strings"

	"github.com/reflowdb/reflow/internal/annotation"
	"github.com/reflowdb/reflow/internal/schema"
	"github.com/reflowdb/reflow/internal/sqlparse"
)

// flatColumn carries a resolved projection column plus the source
// context needed for dynamic-field grouping.
type flatColumn struct {
	ResultColumn
	SourceAlias string
	Line        int // absolute file line
}

// resolveFlat expands and types the statement's projection. Type
// resolution precedence per column: directive override, schema metadata
// for direct references, engine introspection, then a conservative
// nullable "any" for untypeable expressions. A direct reference that
// resolves to nothing anywhere is a TypeError since its type was
// knowable and isn't.
func (a *Analyzer) resolveFlat(file string, baseLine int, sql string, scope *tableScope, overrides []annotation.Block) ([]flatColumn, error) {
	outs, err := sqlparse.Projection(sql)
	if err != nil {
		return nil, err
	}

	var metas []ColumnMeta
	fetched := false
	meta := func(idx int) *ColumnMeta {
		if a.intro == nil {
			return nil
		}
		if !fetched {
			fetched = true
			var err error
			metas, err = a.intro.ColumnTypes(sql)
			if err != nil {
				a.logger.Debug("projection introspection unavailable", "error", err)
				metas = nil
			}
		}
		if idx < len(metas) {
			return &metas[idx]
		}
		return nil
	}

	var flat []flatColumn
	for _, out := range outs {
		absLine := baseLine + out.Line - 1
		if out.Star {
			expanded, err := a.expandStar(file, absLine, out, scope)
			if err != nil {
				return nil, err
			}
			for _, fc := range expanded {
				fc.Index = len(flat)
				flat = append(flat, fc)
			}
			continue
		}

		fc := flatColumn{
			ResultColumn: ResultColumn{
				Index:        len(flat),
				Name:         out.Name,
				PropertyName: schema.PropertyName(out.Name),
				PropertyType: schema.TypeAny,
			},
			SourceAlias: out.SourceAlias,
			Line:        absLine,
		}
		switch {
		case out.Direct:
			col := a.lookupColumn(scope, out.SourceAlias, out.SourceColumn)
			if col == nil {
				m := meta(len(flat))
				if m == nil || m.DeclType == "" {
					return nil, &TypeError{File: file, Line: absLine, Column: out.Name,
						Message: "cannot resolve column against any table in scope"}
				}
				fc.PropertyType = schema.AffinityType(m.DeclType)
				fc.NotNull = !m.Nullable
			} else {
				fc.PropertyType = col.PropertyType
				fc.NotNull = col.NotNull
			}
		default:
			if m := meta(len(flat)); m != nil && m.DeclType != "" {
				fc.PropertyType = schema.AffinityType(m.DeclType)
				fc.NotNull = !m.Nullable
			}
		}
		flat = append(flat, fc)
	}

	if err := applyOverrides(file, flat, overrides); err != nil {
		return nil, err
	}
	return flat, nil
}

// expandStar turns * or alias.* into the referenced tables' columns.
func (a *Analyzer) expandStar(file string, line int, out sqlparse.OutputColumn, scope *tableScope) ([]flatColumn, error) {
	tables := scope.tables
	if out.SourceAlias != "" {
		name, ok := scope.resolve(out.SourceAlias)
		if !ok {
			return nil, &TypeError{File: file, Line: line, Column: out.Name,
				Message: fmt.Sprintf("unknown table alias %q", out.SourceAlias)}
		}
		tables = []string{name}
	}
	var flat []flatColumn
	for _, table := range tables {
		spec, ok := a.model.Table(table)
		if !ok {
			return nil, &TypeError{File: file, Line: line, Column: out.Name,
				Message: fmt.Sprintf("cannot expand * over unknown table %q", table)}
		}
		for _, col := range spec.Columns {
			flat = append(flat, flatColumn{
				ResultColumn: ResultColumn{
					Name:         col.Name,
					PropertyName: col.PropertyName,
					PropertyType: col.PropertyType,
					NotNull:      col.NotNull,
				},
				SourceAlias: out.SourceAlias,
				Line:        line,
			})
		}
	}
	return flat, nil
}

// applyOverrides binds column-scope directive blocks to projection
// columns, by explicit field name or by trailing-comment line, and
// applies them with directive-over-schema precedence.
func applyOverrides(file string, flat []flatColumn, overrides []annotation.Block) error {
	for _, blk := range overrides {
		var target *flatColumn
		if name := blk.Str("field"); name != "" {
			for i := range flat {
				if flat[i].Name == name {
					target = &flat[i]
					break
				}
			}
		} else if blk.Trailing {
			for i := range flat {
				if flat[i].Line == blk.Line {
					target = &flat[i]
					break
				}
			}
		}
		if target == nil {
			return &AnalyzeError{File: file, Line: blk.Line, Message: "column directive does not match any projection column"}
		}
		if v := blk.Str("property"); v != "" {
			target.PropertyName = v
		}
		if v := blk.Str("typeHint"); v != "" {
			target.PropertyType = schema.AffinityType(v)
		}
		if v := blk.Str("propertyType"); v != "" {
			target.PropertyType = v
		}
		if blk.Has("notNull") {
			target.NotNull = blk.Bool("notNull")
		}
		if v := blk.Str("default"); v != "" {
			target.Default = v
		}
	}
	return nil
}

// buildShape applies dynamic-field blocks, in declaration order, to the
// flat projection: each block pulls its matching columns out of the root
// row and nests them under a child node.
func (a *Analyzer) buildShape(file string, flat []flatColumn, fields []annotation.Block, scope *tableScope) (*ResultNode, error) {
	root := &ResultNode{Kind: KindFlat}
	remaining := flat

	for _, blk := range fields {
		child, rest, err := a.buildField(file, blk, remaining, scope)
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, child)
		remaining = rest
	}

	root.Columns = make([]ResultColumn, 0, len(remaining))
	for _, fc := range remaining {
		root.Columns = append(root.Columns, fc.ResultColumn)
	}
	return root, nil
}

func mappingKind(s string) (ResultKind, bool) {
	switch s {
	case "entity":
		return KindEntity, true
	case "perRow":
		return KindPerRow, true
	case "collection":
		return KindCollection, true
	}
	return "", false
}

func (a *Analyzer) buildField(file string, blk annotation.Block, flat []flatColumn, scope *tableScope) (*ResultNode, []flatColumn, error) {
	name := blk.Str("dynamicField")
	if name == "" {
		return nil, nil, &AnalyzeError{File: file, Line: blk.Line, Message: "dynamicField requires a property name"}
	}
	kind, ok := mappingKind(blk.Str("mappingType"))
	if !ok {
		return nil, nil, &AnalyzeError{File: file, Line: blk.Line,
			Message: fmt.Sprintf("dynamic field %q: mappingType must be entity, perRow, or collection", name)}
	}

	prefix := blk.Str("aliasPrefix")
	srcLabel := blk.Str("sourceTable")
	strip := true
	if blk.Has("removeAliasPrefix") {
		strip = blk.Bool("removeAliasPrefix")
	}
	if prefix == "" && srcLabel == "" {
		return nil, nil, &AnalyzeError{File: file, Line: blk.Line,
			Message: fmt.Sprintf("dynamic field %q requires aliasPrefix or sourceTable", name)}
	}

	matches := func(fc flatColumn) bool {
		if prefix != "" {
			return strings.HasPrefix(fc.Name, prefix)
		}
		if strings.EqualFold(fc.SourceAlias, srcLabel) {
			return true
		}
		got, _ := scope.resolve(fc.SourceAlias)
		want, _ := scope.resolve(srcLabel)
		return got != "" && got == want
	}

	var taken, rest []flatColumn
	for _, fc := range flat {
		if matches(fc) {
			taken = append(taken, fc)
		} else {
			rest = append(rest, fc)
		}
	}
	if len(taken) == 0 {
		return nil, nil, &AnalyzeError{File: file, Line: blk.Line,
			Message: fmt.Sprintf("dynamic field %q matches no projection columns", name)}
	}

	sourceTable, _ := scope.resolve(srcLabel)
	if sourceTable == "" && srcLabel != "" {
		sourceTable = strings.ToLower(srcLabel)
	}
	if sourceTable == "" {
		sourceTable, _ = scope.resolve(taken[0].SourceAlias)
	}

	child := &ResultNode{
		Kind:         kind,
		Name:         name,
		PropertyType: blk.Str("propertyType"),
		SourceTable:  sourceTable,
		AliasPrefix:  prefix,
		NotNull:      blk.Bool("notNull"),
		DefaultValue: blk.Str("default"),
	}
	for _, fc := range taken {
		col := fc.ResultColumn
		if prefix != "" && strip {
			stripped := strings.TrimPrefix(col.Name, prefix)
			if col.PropertyName == schema.PropertyName(col.Name) {
				col.PropertyName = schema.PropertyName(stripped)
			}
			col.Name = stripped
		}
		child.Columns = append(child.Columns, col)
	}

	if kind == KindCollection {
		groupKey := blk.Str("collectionKey")
		if groupKey == "" {
			if spec, ok := a.model.Table(sourceTable); ok {
				groupKey = spec.PrimaryKeyColumn()
			}
		}
		if groupKey == "" {
			return nil, nil, &ConflictError{Name: name, File: file,
				Detail: "collection field requires a grouping key and none could be derived"}
		}
		if child.ColumnByName(groupKey) == nil {
			return nil, nil, &ConflictError{Name: name, File: file,
				Detail: fmt.Sprintf("grouping key %q is not part of the field's projection", groupKey)}
		}
		child.GroupKey = groupKey
	}
	return child, rest, nil
}

// ViewShape resolves a view's nested result shape from the dynamic-field
// blocks recorded on its definition. The view's already-resolved columns
// supply the types; the view body supplies the source-alias context the
// field blocks group by.
func (a *Analyzer) ViewShape(spec *schema.TableSpec) (*ResultNode, error) {
	if !spec.View {
		return nil, &AnalyzeError{File: spec.File, Line: spec.Line, Message: "not a view"}
	}
	reads, writes := sqlparse.Tables(spec.SelectSQL)
	scope := newTableScope(reads, writes)

	flat, err := a.resolveFlat(spec.File, 1, spec.SelectSQL, scope, nil)
	if err != nil {
		return nil, err
	}
	// Overlay the resolved view columns so directive overrides applied
	// at schema build time carry through.
	for i := range flat {
		if i >= len(spec.Columns) {
			break
		}
		c := spec.Columns[i]
		flat[i].Name = c.Name
		flat[i].PropertyName = c.PropertyName
		flat[i].PropertyType = c.PropertyType
		flat[i].NotNull = c.NotNull
	}
	return a.buildShape(spec.File, flat, spec.ShapeBlocks, scope)
}
