// Package sqlstore implements the narrow SQL execution surface the SQL
// finite state machine and the Request Dispatcher's read path need: a
// single local database/sql handle over mattn/go-sqlite3, Exec/Query
// wrappers that translate streamproto statements into rows and affected
// counts. Prepared-statement pooling, migrations tooling, and anything
// beyond this narrow surface are out of scope; database/sql already pools
// connections for us.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quoradb/quoradb/internal/streamproto"
)

// Store wraps a single sqlite3-backed database/sql handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite3 database file at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 serializes writers anyway; one conn avoids SQLITE_BUSY churn
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Execute runs a single non-returning statement and reports the number of
// affected rows. Called from the SQL FSM's Apply on raft commit.
func (s *Store) Execute(ctx context.Context, stmt streamproto.Statement) (streamproto.ExecuteResult, error) {
	res, err := s.db.ExecContext(ctx, stmt.SQL, valuesToArgs(stmt.Params)...)
	if err != nil {
		return streamproto.ExecuteResult{}, fmt.Errorf("sqlstore: execute: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return streamproto.ExecuteResult{}, fmt.Errorf("sqlstore: execute: rows affected: %w", err)
	}
	return streamproto.ExecuteResult{AffectedRows: affected}, nil
}

// ExecuteReturning runs a single statement and collects the rows it
// produces, e.g. an `INSERT ... RETURNING` or `UPDATE ... RETURNING`.
func (s *Store) ExecuteReturning(ctx context.Context, stmt streamproto.Statement) (streamproto.RowsResult, error) {
	rows, err := s.queryRows(ctx, s.db, stmt)
	if err != nil {
		return streamproto.RowsResult{}, fmt.Errorf("sqlstore: execute returning: %w", err)
	}
	return rows, nil
}

// Transaction runs every statement inside one SQL transaction, committing
// only if all statements succeed, and reports the total affected rows.
func (s *Store) Transaction(ctx context.Context, stmts []streamproto.Statement) (streamproto.TransactionResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return streamproto.TransactionResult{}, fmt.Errorf("sqlstore: transaction: begin: %w", err)
	}
	var total int64
	for _, stmt := range stmts {
		res, err := tx.ExecContext(ctx, stmt.SQL, valuesToArgs(stmt.Params)...)
		if err != nil {
			tx.Rollback()
			return streamproto.TransactionResult{}, fmt.Errorf("sqlstore: transaction: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return streamproto.TransactionResult{}, fmt.Errorf("sqlstore: transaction: rows affected: %w", err)
		}
		total += n
	}
	if err := tx.Commit(); err != nil {
		return streamproto.TransactionResult{}, fmt.Errorf("sqlstore: transaction: commit: %w", err)
	}
	return streamproto.TransactionResult{AffectedRows: total}, nil
}

// Batch runs each statement independently (no shared transaction) and
// reports the affected-row count for each in order.
func (s *Store) Batch(ctx context.Context, stmts []streamproto.Statement) ([]int64, error) {
	affected := make([]int64, len(stmts))
	for i, stmt := range stmts {
		res, err := s.db.ExecContext(ctx, stmt.SQL, valuesToArgs(stmt.Params)...)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: batch[%d]: %w", i, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("sqlstore: batch[%d]: rows affected: %w", i, err)
		}
		affected[i] = n
	}
	return affected, nil
}

// Migrate applies schema statements in order inside one transaction and
// reports how many were applied.
func (s *Store) Migrate(ctx context.Context, stmts []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: migrate: begin: %w", err)
	}
	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("sqlstore: migrate[%d]: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlstore: migrate: commit: %w", err)
	}
	return len(stmts), nil
}

// Query serves the relaxed-consistency read path (streamproto.TagQuery):
// it reads the local database directly, no Raft barrier.
func (s *Store) Query(ctx context.Context, payload streamproto.QueryPayload) (streamproto.RowsResult, error) {
	rows, err := s.queryRows(ctx, s.db, streamproto.Statement{SQL: payload.SQL, Params: payload.Params})
	if err != nil {
		return streamproto.RowsResult{}, fmt.Errorf("sqlstore: query: %w", err)
	}
	return rows, nil
}

// QueryConsistent serves the linearizable read path (streamproto.TagQueryConsistent).
// The consensus barrier itself is the Raft binding's job (raftnode.VerifyLeader);
// once the caller has confirmed leadership is current, execution is identical
// to Query.
func (s *Store) QueryConsistent(ctx context.Context, payload streamproto.QueryConsistentPayload) (streamproto.RowsResult, error) {
	rows, err := s.queryRows(ctx, s.db, streamproto.Statement{SQL: payload.SQL, Params: payload.Params})
	if err != nil {
		return streamproto.RowsResult{}, fmt.Errorf("sqlstore: query consistent: %w", err)
	}
	return rows, nil
}

// SnapshotTo writes a consistent point-in-time copy of the live database to
// dst using SQLite's VACUUM INTO, which is safe to run concurrently with
// readers and writers under WAL mode. dst must not already exist. Called by
// internal/backupstore ahead of compressing and rotating a backup artifact.
func (s *Store) SnapshotTo(ctx context.Context, dst string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dst); err != nil {
		return fmt.Errorf("sqlstore: snapshot to %s: %w", dst, err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) queryRows(ctx context.Context, q querier, stmt streamproto.Statement) (streamproto.RowsResult, error) {
	rows, err := q.QueryContext(ctx, stmt.SQL, valuesToArgs(stmt.Params)...)
	if err != nil {
		return streamproto.RowsResult{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return streamproto.RowsResult{}, err
	}

	var result streamproto.RowsResult
	for rows.Next() {
		scanTargets := make([]any, len(cols))
		scanValues := make([]any, len(cols))
		for i := range scanTargets {
			scanTargets[i] = &scanValues[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return streamproto.RowsResult{}, err
		}
		values := make([]streamproto.Value, len(cols))
		for i, v := range scanValues {
			values[i] = streamproto.ValueOf(v)
		}
		result.Rows = append(result.Rows, streamproto.Row{Columns: cols, Values: values})
	}
	if err := rows.Err(); err != nil {
		return streamproto.RowsResult{}, err
	}
	return result, nil
}

func valuesToArgs(values []streamproto.Value) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v.Any()
	}
	return args
}
