package query

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/reflowdb/reflow/internal/annotation"
	"github.com/reflowdb/reflow/internal/depgraph"
	"github.com/reflowdb/reflow/internal/schema"
	"github.com/reflowdb/reflow/internal/sqlparse"
)

// Analyzer resolves query files against a schema model.
type Analyzer struct {
	logger *slog.Logger
	model  *schema.Builder
	shared *SharedResults
	intro  Introspector
}

func NewAnalyzer(model *schema.Builder, shared *SharedResults, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if shared == nil {
		shared = NewSharedResults()
	}
	return &Analyzer{logger: logger, model: model, shared: shared}
}

// SetIntrospector installs an engine-backed metadata source consulted
// for projection expressions the structural pass cannot type.
func (a *Analyzer) SetIntrospector(in Introspector) { a.intro = in }

// Shared exposes the shared-result registry.
func (a *Analyzer) Shared() *SharedResults { return a.shared }

// AnalyzeFile analyzes one query file. The file must hold exactly one
// statement; its directives classify as query, column-override, or
// dynamic-field blocks.
func (a *Analyzer) AnalyzeFile(namespace, name, file, src string) (*QuerySpec, error) {
	blocks, err := annotation.Extract(file, src)
	if err != nil {
		return nil, err
	}
	segs := sqlparse.SplitStatements(src)
	if len(segs) != 1 {
		return nil, &AnalyzeError{File: file, Message: fmt.Sprintf("query file must contain exactly one statement, found %d", len(segs))}
	}
	seg := segs[0]

	kind, returning := sqlparse.Classify(seg.SQL)
	if kind == sqlparse.KindCreate {
		return nil, &AnalyzeError{File: file, Line: seg.StartLine, Message: "schema statements are not allowed in query files"}
	}

	queryBlocks, columnBlocks, fieldBlocks, err := splitBlocks(blocks)
	if err != nil {
		return nil, err
	}

	spec := &QuerySpec{
		Namespace: namespace,
		Name:      name,
		SQL:       strings.TrimSpace(seg.SQL),
		Kind:      kind,
		Returning: returning,
		File:      file,
	}
	for _, blk := range queryBlocks {
		if v := blk.Str("sharedResult"); v != "" {
			spec.SharedResult = v
		}
		if v := blk.Str("mapTo"); v != "" {
			spec.MapTo = v
		}
		if v := blk.Str("className"); v != "" {
			spec.ClassName = v
		}
	}

	reads, writes := sqlparse.Tables(seg.SQL)
	scope := newTableScope(reads, writes)

	spec.ReadTables = a.expandViewReads(refNames(reads))
	spec.WriteTables = refNames(writes)
	spec.Params = a.typeParams(sqlparse.Parameters(seg.SQL), scope)

	switch kind {
	case sqlparse.KindDelete:
		spec.AffectedTables = a.model.Graph().Expand(depgraph.EdgeDelete, spec.WriteTables)
	case sqlparse.KindUpdate:
		spec.AffectedTables = a.model.Graph().Expand(depgraph.EdgeUpdate, spec.WriteTables)
	case sqlparse.KindInsert:
		spec.AffectedTables = append([]string(nil), spec.WriteTables...)
	}

	if kind == sqlparse.KindSelect || returning {
		flat, err := a.resolveFlat(file, seg.StartLine, seg.SQL, scope, columnBlocks)
		if err != nil {
			return nil, err
		}
		spec.Result, err = a.buildShape(file, flat, fieldBlocks, scope)
		if err != nil {
			return nil, err
		}
	}

	if spec.SharedResult != "" {
		if spec.Result == nil {
			return nil, &AnalyzeError{File: file, Message: "sharedResult declared on a statement with no result shape"}
		}
		canonical, err := a.shared.Resolve(namespace, spec.SharedResult, file, spec.Result)
		if err != nil {
			return nil, err
		}
		spec.canonical = canonical
	}

	a.logger.Debug("analyzed query",
		"namespace", namespace,
		"query", name,
		"kind", string(kind),
		"params", len(spec.Params),
		"reads", spec.ReadTables,
		"writes", spec.WriteTables)
	return spec, nil
}

// splitBlocks buckets directive blocks by scope: dynamicField marks a
// field block, any query-scope key marks a query block, everything else
// is a column override. Each block must validate in its bucket.
func splitBlocks(blocks []annotation.Block) (query, column, field []annotation.Block, err error) {
	for _, blk := range blocks {
		switch {
		case blk.IsFieldBlock():
			if err := blk.Validate(annotation.ScopeField); err != nil {
				return nil, nil, nil, err
			}
			field = append(field, blk)
		case blk.Has("sharedResult") || blk.Has("mapTo") || blk.Has("className"):
			if err := blk.Validate(annotation.ScopeQuery); err != nil {
				return nil, nil, nil, err
			}
			query = append(query, blk)
		default:
			if err := blk.Validate(annotation.ScopeColumn); err != nil {
				return nil, nil, nil, err
			}
			column = append(column, blk)
		}
	}
	return query, column, field, nil
}

func refNames(refs []sqlparse.TableRef) []string {
	seen := make(map[string]bool, len(refs))
	var names []string
	for _, r := range refs {
		name := strings.ToLower(r.Name)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// tableScope is the set of tables a statement references: alias lookup
// map, tables in reference order, and the default table for unqualified
// column references when exactly one table is in scope.
type tableScope struct {
	aliases      map[string]string
	tables       []string
	defaultTable string
}

func (s *tableScope) resolve(alias string) (string, bool) {
	name, ok := s.aliases[strings.ToLower(alias)]
	return name, ok
}

func newTableScope(reads, writes []sqlparse.TableRef) *tableScope {
	s := &tableScope{aliases: make(map[string]string)}
	add := func(r sqlparse.TableRef) {
		name := strings.ToLower(r.Name)
		s.aliases[name] = name
		if r.Alias != "" {
			s.aliases[strings.ToLower(r.Alias)] = name
		}
		for _, t := range s.tables {
			if t == name {
				return
			}
		}
		s.tables = append(s.tables, name)
	}
	for _, r := range writes {
		add(r)
	}
	for _, r := range reads {
		add(r)
	}
	if len(s.tables) == 1 {
		s.defaultTable = s.tables[0]
	}
	return s
}

// expandViewReads replaces views in a read set with their base tables,
// recursively. Names the model does not know pass through unchanged.
func (a *Analyzer) expandViewReads(names []string) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(name string)
	walk = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		spec, ok := a.model.Table(name)
		if ok && spec.View {
			viewReads, _ := sqlparse.Tables(spec.SelectSQL)
			for _, r := range viewReads {
				walk(strings.ToLower(r.Name))
			}
			return
		}
		out = append(out, name)
	}
	for _, n := range names {
		walk(n)
	}
	sort.Strings(out)
	return out
}

func (a *Analyzer) typeParams(raw []sqlparse.Param, scope *tableScope) []Param {
	if len(raw) == 0 {
		return nil
	}
	params := make([]Param, 0, len(raw))
	for _, p := range raw {
		typed := Param{
			Name:         p.Name,
			Index:        p.Index,
			Column:       p.Column,
			PropertyType: schema.TypeAny,
		}
		if col := a.lookupColumn(scope, p.TableAlias, p.Column); col != nil {
			typed.PropertyType = col.PropertyType
			typed.NotNull = col.NotNull
		}
		params = append(params, typed)
	}
	return params
}

// lookupColumn resolves a (possibly qualified) column reference to its
// schema column, following views.
func (a *Analyzer) lookupColumn(scope *tableScope, tableAlias, column string) *schema.ColumnSpec {
	if column == "" {
		return nil
	}
	table := scope.defaultTable
	if tableAlias != "" {
		table, _ = scope.resolve(tableAlias)
	}
	if table == "" {
		return nil
	}
	spec, ok := a.model.Table(table)
	if !ok {
		return nil
	}
	return spec.Column(column)
}
