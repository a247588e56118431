// Package compile orchestrates a project build: it loads every schema
// file into the model, analyzes every query file against it, verifies
// the schema against a scratch database, and emits the manifest.
package compile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/reflowdb/reflow/internal/config"
	"github.com/reflowdb/reflow/internal/driver"
	"github.com/reflowdb/reflow/internal/query"
	"github.com/reflowdb/reflow/internal/schema"
	"github.com/reflowdb/reflow/internal/sqlparse"
)

// Compiler builds one project.
type Compiler struct {
	logger *slog.Logger
	cfg    *config.ProjectConfig
	root   string
}

// Result is a complete, consistent compilation. A failed build produces
// no Result: callers never see partial output.
type Result struct {
	Model   *schema.Builder
	Queries []*query.QuerySpec
	Shared  *query.SharedResults
	// ViewShapes holds the nested result shape of each view that
	// declared dynamic fields.
	ViewShapes map[string]*query.ResultNode
	// SchemaSQL is every schema statement in apply order, for opening a
	// fresh database at runtime.
	SchemaSQL []string
}

// Query returns a compiled query by namespace and name.
func (r *Result) Query(namespace, name string) (*query.QuerySpec, bool) {
	for _, q := range r.Queries {
		if q.Namespace == namespace && q.Name == name {
			return q, true
		}
	}
	return nil, false
}

func New(cfg *config.ProjectConfig, root string, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Compiler{logger: logger, cfg: cfg, root: root}
}

// Run compiles the whole project. All schema and query errors are
// collected and reported together rather than stopping at the first.
func (c *Compiler) Run(ctx context.Context) (*Result, error) {
	model := schema.NewBuilder(c.logger)
	var schemaSQL []string
	var errs []error

	for _, ns := range c.cfg.Namespaces {
		files, err := sqlFiles(filepath.Join(c.root, ns.Schema))
		if err != nil {
			errs = append(errs, fmt.Errorf("namespace %s: %w", ns.Name, err))
			continue
		}
		for _, path := range files {
			src, err := os.ReadFile(path)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			rel := relPath(c.root, path)
			if err := model.AddFile(ns.Name, rel, string(src)); err != nil {
				errs = append(errs, err)
				continue
			}
			for _, seg := range sqlparse.SplitStatements(string(src)) {
				schemaSQL = append(schemaSQL, strings.TrimSpace(seg.SQL))
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := model.ResolveViews(); err != nil {
		return nil, err
	}

	scratch, err := c.openScratch(ctx, schemaSQL)
	if err != nil {
		return nil, err
	}
	if scratch != nil {
		defer scratch.Close()
	}

	analyzer := query.NewAnalyzer(model, query.NewSharedResults(), c.logger)
	if scratch != nil {
		analyzer.SetIntrospector(&engineIntrospector{ctx: ctx, drv: scratch})
	}

	queries, qerrs := c.analyzeQueries(ctx, analyzer)
	errs = append(errs, qerrs...)

	viewShapes := make(map[string]*query.ResultNode)
	for _, spec := range model.Tables() {
		if !spec.View || len(spec.ShapeBlocks) == 0 {
			continue
		}
		shape, err := analyzer.ViewShape(spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		viewShapes[spec.Name] = shape
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	sort.Slice(queries, func(i, j int) bool {
		if queries[i].Namespace != queries[j].Namespace {
			return queries[i].Namespace < queries[j].Namespace
		}
		return queries[i].Name < queries[j].Name
	})

	c.logger.Info("compiled project",
		"tables", len(model.Tables()),
		"queries", len(queries))
	return &Result{
		Model:      model,
		Queries:    queries,
		Shared:     analyzer.Shared(),
		ViewShapes: viewShapes,
		SchemaSQL:  schemaSQL,
	}, nil
}

// analyzeQueries analyzes every query file, fanned out across CPUs. The
// shared-result registry and the schema model are safe for concurrent
// readers; query order is restored by the caller's sort.
func (c *Compiler) analyzeQueries(ctx context.Context, analyzer *query.Analyzer) ([]*query.QuerySpec, []error) {
	var (
		mu      sync.Mutex
		queries []*query.QuerySpec
		errs    []error
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for _, ns := range c.cfg.Namespaces {
		files, err := sqlFiles(filepath.Join(c.root, ns.Queries))
		if err != nil {
			if os.IsNotExist(err) {
				c.logger.Debug("namespace has no query directory", "namespace", ns.Name)
				continue
			}
			errs = append(errs, fmt.Errorf("namespace %s: %w", ns.Name, err))
			continue
		}
		for _, path := range files {
			ns, path := ns, path
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				src, err := os.ReadFile(path)
				if err == nil {
					name := strings.TrimSuffix(filepath.Base(path), ".sql")
					var spec *query.QuerySpec
					spec, err = analyzer.AnalyzeFile(ns.Name, name, relPath(c.root, path), string(src))
					if err == nil {
						mu.Lock()
						queries = append(queries, spec)
						mu.Unlock()
						return nil
					}
				}
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()
	return queries, errs
}

// openScratch applies the schema to an in-memory database so queries
// can be checked against the real engine. A driver that cannot open a
// scratch database downgrades verification to structural analysis only;
// a schema the engine rejects is a compile error.
func (c *Compiler) openScratch(ctx context.Context, schemaSQL []string) (driver.Driver, error) {
	drv, err := driver.New(c.cfg.Database.Driver, c.logger)
	if err != nil {
		return nil, err
	}
	if err := drv.Connect(ctx, driver.Config{Path: ":memory:"}); err != nil {
		c.logger.Warn("scratch database unavailable, skipping engine verification", "error", err)
		return nil, nil
	}
	for _, stmt := range schemaSQL {
		if err := drv.Exec(ctx, stmt); err != nil {
			_ = drv.Close()
			return nil, fmt.Errorf("engine rejected schema statement: %w", err)
		}
	}
	return drv, nil
}

// engineIntrospector adapts a scratch driver to the analyzer's
// introspection hook.
type engineIntrospector struct {
	ctx context.Context
	drv driver.Driver
}

func (e *engineIntrospector) ColumnTypes(sqlStr string) ([]query.ColumnMeta, error) {
	cols, err := e.drv.StatementColumns(e.ctx, sqlStr)
	if err != nil {
		return nil, err
	}
	metas := make([]query.ColumnMeta, 0, len(cols))
	for _, col := range cols {
		metas = append(metas, query.ColumnMeta{
			Name:     col.Name,
			DeclType: col.DeclType,
			Nullable: col.Nullable,
		})
	}
	return metas, nil
}

// sqlFiles lists the .sql files under dir, sorted for deterministic
// build order.
func sqlFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".sql") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func relPath(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}
