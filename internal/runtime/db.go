// Package runtime executes a compiled project against a live database:
// a single-writer coordinator serializes all work, live queries are
// re-delivered when a write touches their tables, and the whole
// database can be persisted and restored as an opaque byte image.
package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/reflowdb/reflow/internal/compile"
	"github.com/reflowdb/reflow/internal/config"
	"github.com/reflowdb/reflow/internal/depgraph"
	"github.com/reflowdb/reflow/internal/driver"
	"github.com/reflowdb/reflow/internal/query"
	"github.com/reflowdb/reflow/internal/sqlparse"
)

// ErrNoRows is returned by QueryOne when the query matched nothing.
var ErrNoRows = errors.New("runtime: no rows in result")

// ErrTooManyRows is returned by QueryOne when the query matched more
// than one row.
var ErrTooManyRows = errors.New("runtime: more than one row in result")

// Options configures an open database.
type Options struct {
	Logger   *slog.Logger
	Database config.DatabaseConfig

	// Snapshot enables byte-image persistence. Nil disables it.
	Snapshot BlobStore
	// AutoFlush persists a new image after every committed write,
	// best-effort: failures are logged, not returned.
	AutoFlush bool
}

// DB is a live database executing one compiled project.
type DB struct {
	logger *slog.Logger
	drv    driver.Driver
	coord  *Coordinator
	res    *compile.Result
	subs   *Subscriptions

	snapshot  BlobStore
	autoFlush bool

	mu           sync.Mutex
	image        []byte // cached export, nil when dirty
	flushing     bool
	flushPending bool // a write landed while a flush was in flight
}

// Open connects the database, applies the compiled schema to a fresh
// database, and restores the persisted image when one exists. A stored
// image that fails to restore is discarded: stale data is recoverable,
// a wedged startup is not.
func Open(ctx context.Context, res *compile.Result, opts Options) (*DB, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	drv, err := driver.New(opts.Database.Driver, logger)
	if err != nil {
		return nil, err
	}
	if err := drv.Connect(ctx, driver.Config{
		Path:        opts.Database.Path,
		Pragmas:     opts.Database.Pragmas,
		BusyTimeout: opts.Database.BusyTimeout,
	}); err != nil {
		return nil, err
	}

	empty, err := databaseEmpty(ctx, drv)
	if err != nil {
		_ = drv.Close()
		return nil, err
	}
	if empty {
		for _, stmt := range res.SchemaSQL {
			if err := drv.Exec(ctx, stmt); err != nil {
				_ = drv.Close()
				return nil, fmt.Errorf("failed to apply schema: %w", err)
			}
		}
	}

	db := &DB{
		logger:    logger,
		drv:       drv,
		coord:     NewCoordinator(logger),
		res:       res,
		subs:      NewSubscriptions(),
		snapshot:  opts.Snapshot,
		autoFlush: opts.AutoFlush,
	}

	if opts.Snapshot != nil {
		data, ok, err := opts.Snapshot.Load(ctx)
		switch {
		case err != nil:
			logger.Warn("failed to load snapshot, starting fresh", "error", err)
		case ok:
			if err := drv.RestoreBytes(ctx, data); err != nil {
				logger.Warn("failed to restore snapshot, starting fresh", "error", err)
			} else {
				logger.Info("restored snapshot", "bytes", len(data))
			}
		}
	}
	return db, nil
}

func databaseEmpty(ctx context.Context, drv driver.Driver) (bool, error) {
	rows, err := drv.Query(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table', 'view')")
	if err != nil {
		return false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return false, rows.Err()
	}
	var n int
	if err := rows.Scan(&n); err != nil {
		return false, err
	}
	return n == 0, nil
}

// Close forces a final snapshot flush when a store is configured, then
// shuts down the coordinator and the connection. In-flight work
// finishes first. A close-time flush failure propagates: it is the last
// chance to persist committed writes.
func (db *DB) Close() error {
	var flushErr error
	if db.snapshot != nil {
		flushErr = db.Flush(context.Background())
	}
	db.coord.Close()
	return errors.Join(flushErr, db.drv.Close())
}

// Subscriptions exposes the live-listener registry.
func (db *DB) Subscriptions() *Subscriptions { return db.subs }

func (db *DB) spec(namespace, name string) (*query.QuerySpec, error) {
	spec, ok := db.res.Query(namespace, name)
	if !ok {
		return nil, fmt.Errorf("unknown query %s/%s", namespace, name)
	}
	return spec, nil
}

// Query runs a compiled read query and returns its shaped rows.
func (db *DB) Query(ctx context.Context, namespace, name string, args map[string]any) ([]Row, error) {
	spec, err := db.spec(namespace, name)
	if err != nil {
		return nil, err
	}
	if spec.Result == nil {
		return nil, fmt.Errorf("query %s/%s returns no rows", namespace, name)
	}
	var rows []Row
	err = db.coord.Do(ctx, func(ctx context.Context) error {
		raw, err := scanAll(db.drv.Query(ctx, spec.SQL, bindArgs(spec, args)...))
		if err != nil {
			return err
		}
		rows = shapeRows(spec.Result, raw)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// QueryOne runs a read query that must match exactly one row; zero rows
// is ErrNoRows, several is ErrTooManyRows.
func (db *DB) QueryOne(ctx context.Context, namespace, name string, args map[string]any) (Row, error) {
	rows, err := db.Query(ctx, namespace, name, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	if len(rows) > 1 {
		return nil, ErrTooManyRows
	}
	return rows[0], nil
}

// QueryOneOrNil runs a read query that may match nothing; no match is
// a nil row, not an error.
func (db *DB) QueryOneOrNil(ctx context.Context, namespace, name string, args map[string]any) (Row, error) {
	rows, err := db.Query(ctx, namespace, name, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Exec runs a compiled write query, then wakes every listener whose
// tables the write's cascade closure touches.
func (db *DB) Exec(ctx context.Context, namespace, name string, args map[string]any) error {
	_, err := db.exec(ctx, namespace, name, args, false)
	return err
}

// ExecReturning runs a write with a RETURNING clause and shapes its
// rows. Invalidation fires the same as Exec.
func (db *DB) ExecReturning(ctx context.Context, namespace, name string, args map[string]any) ([]Row, error) {
	return db.exec(ctx, namespace, name, args, true)
}

func (db *DB) exec(ctx context.Context, namespace, name string, args map[string]any, wantRows bool) ([]Row, error) {
	spec, err := db.spec(namespace, name)
	if err != nil {
		return nil, err
	}
	if spec.IsRead() {
		return nil, fmt.Errorf("query %s/%s is a read, use Query", namespace, name)
	}
	if wantRows && !spec.Returning {
		return nil, fmt.Errorf("query %s/%s has no RETURNING clause", namespace, name)
	}

	var rows []Row
	err = db.coord.Do(ctx, func(ctx context.Context) error {
		if spec.Returning {
			raw, err := scanAll(db.drv.Query(ctx, spec.SQL, bindArgs(spec, args)...))
			if err != nil {
				return err
			}
			rows = shapeRows(spec.Result, raw)
			return nil
		}
		return db.drv.Exec(ctx, spec.SQL, bindArgs(spec, args)...)
	})
	if err != nil {
		return nil, err
	}
	db.afterWrite(spec.AffectedTables)
	return rows, nil
}

// ExecRaw runs an ad-hoc statement. The touched tables are read from
// the statement itself and expanded through the cascade graph so
// listeners still wake.
func (db *DB) ExecRaw(ctx context.Context, sqlStr string, args ...any) error {
	kind, _ := sqlparse.Classify(sqlStr)
	_, writes := sqlparse.Tables(sqlStr)
	var affected []string
	for _, w := range writes {
		affected = append(affected, w.Name)
	}
	switch kind {
	case sqlparse.KindDelete:
		affected = db.res.Model.Graph().Expand(depgraph.EdgeDelete, affected)
	case sqlparse.KindUpdate:
		affected = db.res.Model.Graph().Expand(depgraph.EdgeUpdate, affected)
	}

	err := db.coord.Do(ctx, func(ctx context.Context) error {
		return db.drv.Exec(ctx, sqlStr, args...)
	})
	if err != nil {
		return err
	}
	if len(affected) > 0 {
		db.afterWrite(affected)
	}
	return nil
}

// afterWrite records the database as dirty, pings intersecting
// listeners, and kicks off an auto-flush.
func (db *DB) afterWrite(tables []string) {
	db.mu.Lock()
	db.image = nil
	db.mu.Unlock()

	db.subs.Invalidate(tables)

	if db.autoFlush && db.snapshot != nil {
		db.scheduleFlush()
	}
}

// scheduleFlush starts the background flusher, or marks a re-run when
// one is already in flight: a write landing during an in-flight Persist
// still has to reach the store.
func (db *DB) scheduleFlush() {
	db.mu.Lock()
	if db.flushing {
		db.flushPending = true
		db.mu.Unlock()
		return
	}
	db.flushing = true
	db.mu.Unlock()

	go func() {
		for {
			if err := db.Flush(context.Background()); err != nil {
				db.logger.Warn("auto-flush failed", "error", err)
			}
			db.mu.Lock()
			if !db.flushPending {
				db.flushing = false
				db.mu.Unlock()
				return
			}
			db.flushPending = false
			db.mu.Unlock()
		}
	}()
}

// Export serializes the database, reusing the last image when nothing
// has changed since.
func (db *DB) Export(ctx context.Context) ([]byte, error) {
	db.mu.Lock()
	if db.image != nil {
		cached := db.image
		db.mu.Unlock()
		return cached, nil
	}
	db.mu.Unlock()

	var data []byte
	err := db.coord.Do(ctx, func(ctx context.Context) error {
		var err error
		data, err = db.drv.ExportBytes(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	db.mu.Lock()
	db.image = data
	db.mu.Unlock()
	return data, nil
}

// Flush exports the database and persists the image. Unlike auto-flush
// this is the caller's explicit ask, so every failure propagates.
func (db *DB) Flush(ctx context.Context) error {
	if db.snapshot == nil {
		return fmt.Errorf("no snapshot store configured")
	}
	data, err := db.Export(ctx)
	if err != nil {
		return err
	}
	return db.snapshot.Persist(ctx, data)
}

// ClearSnapshot removes the persisted image.
func (db *DB) ClearSnapshot(ctx context.Context) error {
	if db.snapshot == nil {
		return nil
	}
	return db.snapshot.Clear(ctx)
}

// Listen runs a read query now and again after every write that may
// affect it. The first result arrives before Listen returns; later
// results are latest-wins: a slow consumer sees the newest rows, not
// every intermediate set. The returned cancel is idempotent.
func (db *DB) Listen(ctx context.Context, namespace, name string, args map[string]any) (<-chan []Row, func(), error) {
	spec, err := db.spec(namespace, name)
	if err != nil {
		return nil, nil, err
	}
	if spec.Result == nil {
		return nil, nil, fmt.Errorf("query %s/%s cannot be listened to", namespace, name)
	}

	initial, err := db.Query(ctx, namespace, name, args)
	if err != nil {
		return nil, nil, err
	}

	key := subscriptionKey(namespace, name, args)
	id, ping := db.subs.Subscribe(key, spec.InvalidationSet())

	out := make(chan []Row, 1)
	out <- initial

	var cancelOnce sync.Once
	cancel := func() {
		cancelOnce.Do(func() { db.subs.Unsubscribe(id) })
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				cancel()
				// Drain until Unsubscribe closes the ping channel.
				for range ping {
				}
				return
			case _, ok := <-ping:
				if !ok {
					return
				}
				rows, err := db.Query(ctx, namespace, name, args)
				if err != nil {
					db.logger.Warn("live query refresh failed",
						"query", key, "error", err)
					continue
				}
				deliverLatest(out, rows)
			}
		}
	}()
	return out, cancel, nil
}

// deliverLatest replaces any undelivered rows with the newest ones.
func deliverLatest(out chan []Row, rows []Row) {
	for {
		select {
		case out <- rows:
			return
		default:
			select {
			case <-out:
			default:
			}
		}
	}
}

// bindArgs builds driver arguments from a name-keyed map: named
// placeholders bind by name, positional ones by the column they target
// or their 1-based index.
func bindArgs(spec *query.QuerySpec, args map[string]any) []any {
	var bound []any
	seen := make(map[string]bool)
	for _, p := range spec.Params {
		if p.Name != "" {
			if seen[p.Name] {
				continue
			}
			seen[p.Name] = true
			bound = append(bound, sql.Named(p.Name, args[p.Name]))
			continue
		}
		if v, ok := args[p.Column]; ok {
			bound = append(bound, v)
			continue
		}
		bound = append(bound, args[fmt.Sprintf("%d", p.Index)])
	}
	return bound
}

// scanAll drains a result set into raw value rows.
func scanAll(rows *sql.Rows, err error) ([][]any, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var raw [][]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		raw = append(raw, values)
	}
	return raw, rows.Err()
}

// sortedTables returns a touched-table set as a sorted slice.
func sortedTables(set map[string]bool) []string {
	tables := make([]string, 0, len(set))
	for t := range set {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}
