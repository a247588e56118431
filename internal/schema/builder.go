package schema

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/reflowdb/reflow/internal/annotation"
	"github.com/reflowdb/reflow/internal/depgraph"
	"github.com/reflowdb/reflow/internal/sqlparse"
)

// Builder parses schema files into TableSpecs and the cascade graph.
// Call AddFile for every schema file, then ResolveViews once.
type Builder struct {
	logger *slog.Logger
	graph  *depgraph.Graph
	tables map[string]*TableSpec // keyed by lowercased table name
	order  []string
}

// NewBuilder creates a schema builder.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Builder{
		logger: logger,
		graph:  depgraph.NewGraph(),
		tables: make(map[string]*TableSpec),
	}
}

// Graph returns the cascade-notification graph.
func (b *Builder) Graph() *depgraph.Graph {
	return b.graph
}

// Table looks up a table or view by name.
func (b *Builder) Table(name string) (*TableSpec, bool) {
	t, ok := b.tables[strings.ToLower(name)]
	return t, ok
}

// Tables returns all specs in declaration order.
func (b *Builder) Tables() []*TableSpec {
	out := make([]*TableSpec, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.tables[name])
	}
	return out
}

// AddFile parses one schema file's statements and directives.
func (b *Builder) AddFile(namespace, file, src string) error {
	blocks, err := annotation.Extract(file, src)
	if err != nil {
		return err
	}

	segments := sqlparse.SplitStatements(src)
	for _, seg := range segments {
		segEnd := seg.StartLine + strings.Count(seg.SQL, "\n")
		segBlocks := blocksInRange(blocks, seg.StartLine, segEnd)

		kind, _ := sqlparse.Classify(seg.SQL)
		if kind != sqlparse.KindCreate {
			if len(segBlocks) > 0 {
				return &annotation.Error{File: file, Line: segBlocks[0].Line,
					Message: "directive attached to a non-CREATE statement in schema file"}
			}
			b.logger.Debug("skipping non-CREATE schema statement", "file", file, "line", seg.StartLine)
			continue
		}
		if isIgnoredCreate(seg.SQL) {
			continue
		}

		stmt, err := sqlparse.ParseCreate(file, seg.SQL)
		if err != nil {
			return err
		}
		offsetCreate(stmt, seg.StartLine-1)

		if err := b.addStatement(namespace, file, stmt, segBlocks); err != nil {
			return err
		}
	}
	return nil
}

// isIgnoredCreate reports whether the CREATE statement defines something
// other than a table or view (index, trigger); those pass through to the
// engine but produce no spec.
func isIgnoredCreate(sql string) bool {
	tokens := sqlparse.Tokenize(sql)
	for i, tok := range tokens {
		if !tok.Is("CREATE") {
			continue
		}
		for j := i + 1; j < len(tokens); j++ {
			switch {
			case tokens[j].Is("TEMP"), tokens[j].Is("TEMPORARY"), tokens[j].Is("UNIQUE"):
				continue
			case tokens[j].Is("TABLE"), tokens[j].Is("VIEW"):
				return false
			default:
				return true
			}
		}
	}
	return true
}

// offsetCreate shifts statement-relative line numbers to file positions.
func offsetCreate(stmt *sqlparse.CreateStmt, delta int) {
	stmt.Line += delta
	for i := range stmt.Columns {
		stmt.Columns[i].Line += delta
	}
	for i := range stmt.ForeignKeys {
		stmt.ForeignKeys[i].Line += delta
	}
}

func blocksInRange(blocks []annotation.Block, startLine, endLine int) []annotation.Block {
	var out []annotation.Block
	for _, blk := range blocks {
		if blk.Line >= startLine && blk.Line <= endLine {
			out = append(out, blk)
		}
	}
	return out
}

func (b *Builder) addStatement(namespace, file string, stmt *sqlparse.CreateStmt, blocks []annotation.Block) error {
	key := strings.ToLower(stmt.Name)
	if existing, ok := b.tables[key]; ok {
		return fmt.Errorf("%s:%d: table %q already defined in %s", file, stmt.Line, stmt.Name, existing.File)
	}

	spec := &TableSpec{
		Namespace:  namespace,
		Name:       stmt.Name,
		View:       stmt.View,
		File:       file,
		Line:       stmt.Line,
		SelectSQL:  stmt.SelectSQL,
		PrimaryKey: stmt.PrimaryKey,
	}
	for _, fk := range stmt.ForeignKeys {
		spec.ForeignKeys = append(spec.ForeignKeys, ForeignKey{
			Columns:    fk.Columns,
			RefTable:   fk.RefTable,
			RefColumns: fk.RefColumns,
			OnDelete:   fk.OnDelete,
			OnUpdate:   fk.OnUpdate,
		})
	}

	for _, def := range stmt.Columns {
		col := &ColumnSpec{
			Name:         def.Name,
			StorageType:  def.Type,
			NotNull:      def.NotNull || def.PrimaryKey,
			PrimaryKey:   def.PrimaryKey,
			Unique:       def.Unique,
			Default:      def.Default,
			PropertyName: PropertyName(def.Name),
			Line:         def.Line,
		}
		col.PropertyType = AffinityType(col.StorageType)
		spec.Columns = append(spec.Columns, col)
		if def.PrimaryKey && len(stmt.PrimaryKey) == 0 {
			spec.PrimaryKey = append(spec.PrimaryKey, def.Name)
		}
	}

	if err := b.applyDirectives(spec, stmt, blocks); err != nil {
		return err
	}

	b.tables[key] = spec
	b.order = append(b.order, key)

	b.graph.AddTable(strings.ToLower(spec.Name))
	for _, target := range spec.CascadeDelete {
		b.graph.AddEdge(depgraph.EdgeDelete, strings.ToLower(spec.Name), strings.ToLower(target))
	}
	for _, target := range spec.CascadeUpdate {
		b.graph.AddEdge(depgraph.EdgeUpdate, strings.ToLower(spec.Name), strings.ToLower(target))
	}

	b.logger.Debug("schema statement parsed",
		"table", spec.Name, "view", spec.View, "columns", len(spec.Columns))
	return nil
}

// applyDirectives associates directive blocks with the statement and its
// columns and merges them onto the spec.
func (b *Builder) applyDirectives(spec *TableSpec, stmt *sqlparse.CreateStmt, blocks []annotation.Block) error {
	for _, blk := range blocks {
		switch {
		case blk.IsFieldBlock():
			if !spec.View {
				return &annotation.Error{File: blk.File, Line: blk.Line,
					Message: "dynamicField directives are only valid on views and queries"}
			}
			if err := blk.Validate(annotation.ScopeField); err != nil {
				return err
			}
			spec.ShapeBlocks = append(spec.ShapeBlocks, blk)

		case blk.Has("field") || blk.Trailing && blk.Line > stmt.Line:
			col, err := b.columnForBlock(spec, stmt, blk)
			if err != nil {
				return err
			}
			if err := blk.Validate(annotation.ScopeColumn); err != nil {
				return err
			}
			applyColumnBlock(col, blk)

		case blk.Line <= stmt.Line:
			if err := blk.Validate(annotation.ScopeTable); err != nil {
				return err
			}
			applyTableBlock(spec, blk)

		default:
			// Non-trailing block inside the column list: attaches to the
			// next column.
			col, err := b.columnForBlock(spec, stmt, blk)
			if err != nil {
				return err
			}
			if err := blk.Validate(annotation.ScopeColumn); err != nil {
				return err
			}
			applyColumnBlock(col, blk)
		}
	}
	return nil
}

// columnForBlock resolves the column a directive block binds to: an
// explicit field= key, the column on the same line for trailing blocks,
// or the next column below the block.
func (b *Builder) columnForBlock(spec *TableSpec, stmt *sqlparse.CreateStmt, blk annotation.Block) (*ColumnSpec, error) {
	if name := blk.Str("field"); name != "" {
		if col := spec.Column(name); col != nil {
			return col, nil
		}
		return nil, &annotation.Error{File: blk.File, Line: blk.Line,
			Message: fmt.Sprintf("directive references unknown column %q", name)}
	}

	if blk.Trailing {
		for _, col := range spec.Columns {
			if col.Line == blk.Line {
				return col, nil
			}
		}
	} else {
		for _, col := range spec.Columns {
			if col.Line > blk.EndLine {
				return col, nil
			}
		}
	}
	return nil, &annotation.Error{File: blk.File, Line: blk.Line,
		Message: "could not associate directive with a column"}
}

func applyColumnBlock(col *ColumnSpec, blk annotation.Block) {
	if v := blk.Str("property"); v != "" {
		col.PropertyName = v
	}
	if v := blk.Str("typeHint"); v != "" {
		col.TypeHint = v
		col.PropertyType = AffinityType(v)
	}
	if v := blk.Str("propertyType"); v != "" {
		col.PropertyType = v
	}
	if blk.Has("notNull") {
		col.NotNull = blk.Bool("notNull")
	}
	if v := blk.Str("default"); v != "" {
		col.Default = v
	}
}

func applyTableBlock(spec *TableSpec, blk annotation.Block) {
	if v := blk.Str("className"); v != "" {
		spec.ClassName = v
	}
	if nested, ok := blk.Nested("cascadeNotify"); ok {
		if del, ok := nested.Get("delete"); ok {
			spec.CascadeDelete = append(spec.CascadeDelete, del.Strings()...)
		}
		if upd, ok := nested.Get("update"); ok {
			spec.CascadeUpdate = append(spec.CascadeUpdate, upd.Strings()...)
		}
	}
}

// ResolveViews computes the output columns of every view from its SELECT
// body against the loaded tables. Views may reference other views; passes
// repeat until no progress remains.
func (b *Builder) ResolveViews() error {
	pending := make(map[string]*TableSpec)
	for _, spec := range b.tables {
		if spec.View && len(spec.Columns) == 0 {
			pending[strings.ToLower(spec.Name)] = spec
		}
	}

	for len(pending) > 0 {
		progressed := false
		for key, spec := range pending {
			ready, err := b.resolveView(spec)
			if err != nil {
				return err
			}
			if ready {
				delete(pending, key)
				progressed = true
			}
		}
		if !progressed {
			names := make([]string, 0, len(pending))
			for _, spec := range pending {
				names = append(names, spec.Name)
			}
			return fmt.Errorf("unresolvable view reference cycle: %v", names)
		}
	}
	return nil
}

// resolveView fills in a view's columns; returns false when a referenced
// view is not resolved yet.
func (b *Builder) resolveView(spec *TableSpec) (bool, error) {
	reads, _ := sqlparse.Tables(spec.SelectSQL)
	byAlias := make(map[string]*TableSpec)
	var first *TableSpec
	for _, ref := range reads {
		src, ok := b.Table(ref.Name)
		if !ok {
			return false, fmt.Errorf("%s:%d: view %q references unknown table %q",
				spec.File, spec.Line, spec.Name, ref.Name)
		}
		if src.View && len(src.Columns) == 0 {
			return false, nil // dependency not resolved yet
		}
		if first == nil {
			first = src
		}
		if ref.Alias != "" {
			byAlias[strings.ToLower(ref.Alias)] = src
		}
		byAlias[strings.ToLower(ref.Name)] = src
	}

	projection, err := sqlparse.Projection(spec.SelectSQL)
	if err != nil {
		return false, err
	}

	for _, item := range projection {
		if item.Star {
			src := first
			if item.SourceAlias != "" {
				src = byAlias[strings.ToLower(item.SourceAlias)]
			}
			if src == nil {
				return false, fmt.Errorf("%s:%d: cannot expand %q in view %q",
					spec.File, spec.Line, item.Expr, spec.Name)
			}
			for _, col := range src.Columns {
				spec.Columns = append(spec.Columns, col.Clone())
			}
			continue
		}

		col := &ColumnSpec{
			Name:         item.Name,
			PropertyName: PropertyName(item.Name),
			PropertyType: TypeAny,
		}
		if item.Direct {
			src := first
			if item.SourceAlias != "" {
				src = byAlias[strings.ToLower(item.SourceAlias)]
			}
			if src != nil {
				if base := src.Column(item.SourceColumn); base != nil {
					col.StorageType = base.StorageType
					col.NotNull = base.NotNull
					col.PropertyType = base.PropertyType
					col.TypeHint = base.TypeHint
				}
			}
		}
		spec.Columns = append(spec.Columns, col)
	}
	return true, nil
}
