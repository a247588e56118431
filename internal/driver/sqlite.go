package driver

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	_ "modernc.org/sqlite" // sqlite driver
)

func init() {
	Register("sqlite", func(logger *slog.Logger) Driver { return NewSQLiteDriver(logger) })
}

// SQLiteDriver implements the Driver interface over modernc.org/sqlite.
// The connection pool is pinned to a single connection: in-memory
// databases only exist on one connection, and the runtime serializes
// access anyway.
type SQLiteDriver struct {
	db     *sql.DB
	config Config
	logger *slog.Logger
}

func NewSQLiteDriver(logger *slog.Logger) *SQLiteDriver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SQLiteDriver{logger: logger}
}

func (d *SQLiteDriver) Name() string { return "sqlite" }

// Connect opens the database and applies configured pragmas.
func (d *SQLiteDriver) Connect(ctx context.Context, cfg Config) error {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	d.db = db
	d.config = cfg

	if cfg.BusyTimeout > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds())); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to set busy_timeout: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	for name, value := range cfg.Pragmas {
		stmt := fmt.Sprintf("PRAGMA %s = %s", name, value)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply pragma %s: %w", name, err)
		}
	}
	return nil
}

func (d *SQLiteDriver) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

func (d *SQLiteDriver) DB() *sql.DB { return d.db }

func (d *SQLiteDriver) Exec(ctx context.Context, sqlStr string, args ...any) error {
	if d.db == nil {
		return fmt.Errorf("not connected")
	}
	if _, err := d.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("exec failed: %w", err)
	}
	return nil
}

func (d *SQLiteDriver) Query(ctx context.Context, sqlStr string, args ...any) (*sql.Rows, error) {
	if d.db == nil {
		return nil, fmt.Errorf("not connected")
	}
	rows, err := d.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return rows, nil
}

// TableColumns reads the engine's column metadata for a table.
func (d *SQLiteDriver) TableColumns(ctx context.Context, table string) ([]Column, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT cid, name, type, "notnull", pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read table info for %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, Column{
			Name:       name,
			Type:       typ,
			Nullable:   notNull == 0,
			PrimaryKey: pk > 0,
			Position:   cid,
		})
	}
	return cols, rows.Err()
}

// StatementColumns runs the statement inside a rolled-back transaction
// and reports its output column metadata. Unbound parameters evaluate
// as NULL, which is enough to learn declared types.
func (d *SQLiteDriver) StatementColumns(ctx context.Context, sqlStr string) ([]StatementColumn, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, fmt.Errorf("statement introspection failed: %w", err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	cols := make([]StatementColumn, 0, len(types))
	for _, ct := range types {
		nullable := true
		if n, ok := ct.Nullable(); ok {
			nullable = n
		}
		cols = append(cols, StatementColumn{
			Name:     ct.Name(),
			DeclType: ct.DatabaseTypeName(),
			Nullable: nullable,
		})
	}
	return cols, nil
}

// ExportBytes serializes the database with VACUUM INTO, which produces
// a compact, self-contained image even for in-memory databases.
func (d *SQLiteDriver) ExportBytes(ctx context.Context) ([]byte, error) {
	tmp, err := os.CreateTemp("", "reflow-export-*.db")
	if err != nil {
		return nil, err
	}
	path := tmp.Name()
	_ = tmp.Close()
	// VACUUM INTO refuses to overwrite an existing file.
	if err := os.Remove(path); err != nil {
		return nil, err
	}
	defer os.Remove(path)

	if _, err := d.db.ExecContext(ctx, "VACUUM INTO "+quoteString(path)); err != nil {
		return nil, fmt.Errorf("vacuum into failed: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("exported database image", "bytes", len(data))
	return data, nil
}

// RestoreBytes attaches a previously exported image and copies its rows
// over the current contents, table by table, in one transaction. The
// schema must already be applied; restore replaces data, not structure.
func (d *SQLiteDriver) RestoreBytes(ctx context.Context, data []byte) error {
	tmp, err := os.CreateTemp("", "reflow-restore-*.db")
	if err != nil {
		return err
	}
	path := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(path)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	defer os.Remove(path)

	if _, err := d.db.ExecContext(ctx, "ATTACH DATABASE "+quoteString(path)+" AS restore_src"); err != nil {
		return fmt.Errorf("failed to attach snapshot: %w", err)
	}
	defer func() {
		_, _ = d.db.ExecContext(ctx, "DETACH DATABASE restore_src")
	}()

	tables, err := d.snapshotTables(ctx)
	if err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "PRAGMA defer_foreign_keys = ON"); err != nil {
		return err
	}
	for _, table := range tables {
		q := quoteIdent(table)
		if _, err := tx.ExecContext(ctx, "DELETE FROM main."+q); err != nil {
			return fmt.Errorf("failed to clear table %s: %w", table, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO main."+q+" SELECT * FROM restore_src."+q); err != nil {
			return fmt.Errorf("failed to restore table %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit restore: %w", err)
	}
	d.logger.Debug("restored database image", "tables", len(tables), "bytes", len(data))
	return nil
}

func (d *SQLiteDriver) snapshotTables(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name FROM restore_src.sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
