package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrTxFailed is returned when work continues on a transaction whose
// nested block already failed.
var ErrTxFailed = errors.New("runtime: transaction has already failed")

// TxMode selects the lock acquisition behavior of the outermost begin.
type TxMode string

const (
	// TxDeferred takes no lock until the first statement needs one.
	TxDeferred TxMode = "deferred"
	// TxImmediate takes the write lock on begin.
	TxImmediate TxMode = "immediate"
	// TxExclusive blocks out readers as well as writers.
	TxExclusive TxMode = "exclusive"
)

func beginStmt(mode TxMode) (string, error) {
	switch mode {
	case "", TxDeferred:
		return "BEGIN DEFERRED", nil
	case TxImmediate:
		return "BEGIN IMMEDIATE", nil
	case TxExclusive:
		return "BEGIN EXCLUSIVE", nil
	}
	return "", fmt.Errorf("unknown transaction mode %q", mode)
}

// Tx is an open transaction. All its work runs inside the coordinator
// job that started it, so the transaction holds the database
// exclusively from begin to commit.
type Tx struct {
	db      *DB
	conn    *sql.Conn
	depth   int
	touched map[string]bool
	failed  *bool
}

// Depth reports transaction nesting, 0 for the outermost block.
func (t *Tx) Depth() int { return t.depth }

// Transaction runs fn atomically in deferred mode. Writes made inside
// only survive if the outermost transaction commits, and listeners hear
// about them only then. A failure anywhere, at any nesting depth, rolls
// back the whole transaction.
func (db *DB) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	return db.TransactionMode(ctx, TxDeferred, fn)
}

// TransactionMode is Transaction with a caller-selected exclusivity
// mode on the outermost begin. The transaction runs on a dedicated
// connection with explicit BEGIN/COMMIT so the mode reaches the engine;
// the coordinator keeps all other work out in the meantime.
func (db *DB) TransactionMode(ctx context.Context, mode TxMode, fn func(tx *Tx) error) error {
	begin, err := beginStmt(mode)
	if err != nil {
		return err
	}

	var touched map[string]bool
	err = db.coord.Do(ctx, func(ctx context.Context) error {
		conn, err := db.drv.DB().Conn(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		if _, err := conn.ExecContext(ctx, begin); err != nil {
			return err
		}
		failed := false
		tx := &Tx{
			db:      db,
			conn:    conn,
			touched: make(map[string]bool),
			failed:  &failed,
		}
		if err := fn(tx); err != nil {
			_, _ = conn.ExecContext(ctx, "ROLLBACK")
			return err
		}
		if failed {
			_, _ = conn.ExecContext(ctx, "ROLLBACK")
			return ErrTxFailed
		}
		if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
			_, _ = conn.ExecContext(ctx, "ROLLBACK")
			return err
		}
		touched = tx.touched
		return nil
	})
	if err != nil {
		return err
	}
	if len(touched) > 0 {
		db.afterWrite(sortedTables(touched))
	}
	return nil
}

// Transaction opens a nested block. There is no partial rollback: a
// nested failure poisons the enclosing transaction, which then rolls
// back in full.
func (t *Tx) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	if *t.failed {
		return ErrTxFailed
	}
	child := &Tx{
		db:      t.db,
		conn:    t.conn,
		depth:   t.depth + 1,
		touched: t.touched,
		failed:  t.failed,
	}
	if err := fn(child); err != nil {
		*t.failed = true
		return err
	}
	return nil
}

// Exec runs a compiled write inside the transaction. Its cascade
// closure is remembered and announced on commit.
func (t *Tx) Exec(ctx context.Context, namespace, name string, args map[string]any) error {
	_, err := t.exec(ctx, namespace, name, args, false)
	return err
}

// ExecReturning runs a write with a RETURNING clause inside the
// transaction.
func (t *Tx) ExecReturning(ctx context.Context, namespace, name string, args map[string]any) ([]Row, error) {
	return t.exec(ctx, namespace, name, args, true)
}

func (t *Tx) exec(ctx context.Context, namespace, name string, args map[string]any, wantRows bool) ([]Row, error) {
	if *t.failed {
		return nil, ErrTxFailed
	}
	spec, err := t.db.spec(namespace, name)
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
	if spec.Returning {
		raw, err := scanAll(t.conn.QueryContext(ctx, spec.SQL, bindArgs(spec, args)...))
		if err != nil {
			return nil, err
		}
		rows = shapeRows(spec.Result, raw)
	} else if _, err := t.conn.ExecContext(ctx, spec.SQL, bindArgs(spec, args)...); err != nil {
		return nil, err
	}

	for _, table := range spec.AffectedTables {
		t.touched[table] = true
	}
	return rows, nil
}

// Query runs a compiled read inside the transaction, seeing its
// uncommitted writes.
func (t *Tx) Query(ctx context.Context, namespace, name string, args map[string]any) ([]Row, error) {
	if *t.failed {
		return nil, ErrTxFailed
	}
	spec, err := t.db.spec(namespace, name)
	if err != nil {
		return nil, err
	}
	if spec.Result == nil {
		return nil, fmt.Errorf("query %s/%s returns no rows", namespace, name)
	}
	raw, err := scanAll(t.conn.QueryContext(ctx, spec.SQL, bindArgs(spec, args)...))
	if err != nil {
		return nil, err
	}
	return shapeRows(spec.Result, raw), nil
}
