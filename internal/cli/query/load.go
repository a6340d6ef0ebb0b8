package query

import (
	"context"
	"database/sql"
	"fmt"

	// Registers the "duckdb" database/sql driver.
	_ "github.com/marcboeker/go-duckdb"

	"github.com/coral-mesh/stacktape/pkg/recording"
)

const schema = `
CREATE TABLE calls (
	goroutine BIGINT,
	name VARCHAR,
	file VARCHAR,
	line INTEGER,
	caller VARCHAR,
	depth INTEGER,
	start_ms BIGINT,
	duration_ms BIGINT
);
CREATE TABLE markers (
	kind VARCHAR,
	at_ms BIGINT,
	duration_ms BIGINT,
	message VARCHAR,
	goroutine BIGINT,
	frame VARCHAR
);
CREATE TABLE statuses (
	at_ms BIGINT,
	cpu DOUBLE,
	system_cpu DOUBLE,
	memory UBIGINT,
	memory_total UBIGINT,
	memory_free UBIGINT,
	modules INTEGER,
	objects UBIGINT,
	goroutines INTEGER
);`

// Open creates an in-memory DuckDB database holding rec's calls, markers
// and statuses.
func Open(ctx context.Context, rec *recording.Recording) (*sql.DB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB connection: %w", err)
	}
	if err := load(ctx, db, rec); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func load(ctx context.Context, db *sql.DB, rec *recording.Recording) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = insertAll(ctx, tx, "INSERT INTO calls VALUES (?, ?, ?, ?, ?, ?, ?, ?)", rec.Calls(), func(c recording.Call) []any {
		return []any{c.GoroutineID, c.CallSite.Name, c.CallSite.Filename, c.CallSite.Line,
			c.CallerSite.Name, c.Depth, c.When.Milliseconds(), c.Duration.Milliseconds()}
	})
	if err != nil {
		return err
	}

	err = insertAll(ctx, tx, "INSERT INTO markers VALUES (?, ?, ?, ?, ?, ?)", rec.Markers(), func(m recording.Marker) []any {
		var frame any
		if m.Stack.Len() > 0 {
			frame = m.Stack.Leaf().Name
		}
		return []any{m.Kind.String(), m.When.Milliseconds(), m.Duration.Milliseconds(), m.Message, m.Stack.GoroutineID, frame}
	})
	if err != nil {
		return err
	}

	err = insertAll(ctx, tx, "INSERT INTO statuses VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", rec.Statuses(), func(s recording.Status) []any {
		return []any{s.When.Milliseconds(), s.CPU, s.SystemCPU, s.Memory, s.MemoryTotal, s.MemoryFree,
			s.ModuleCount, s.ObjectCount, s.Goroutines}
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit recording: %w", err)
	}
	return nil
}

func insertAll[T any](ctx context.Context, tx *sql.Tx, stmt string, items []T, values func(T) []any) error {
	if len(items) == 0 {
		return nil
	}
	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("failed to prepare %q: %w", stmt, err)
	}
	defer func() { _ = prepared.Close() }()

	for _, item := range items {
		if _, err := prepared.ExecContext(ctx, values(item)...); err != nil {
			return fmt.Errorf("failed to insert row: %w", err)
		}
	}
	return nil
}
