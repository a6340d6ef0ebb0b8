package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	// Registers the "duckdb" database/sql driver.
	_ "github.com/marcboeker/go-duckdb"
)

// DuckDB keeps a file tree as rows of a DuckDB table. It lets recordings be
// stored in a single database file that is easy to ship around or query.
type DuckDB struct {
	db *sql.DB
}

// OpenDuckDB opens (or creates) the object store at dsn. An empty dsn opens
// an in-memory database.
func OpenDuckDB(dsn string) (*DuckDB, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	store, err := NewDuckDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewDuckDB wraps an open database and creates the object table if needed.
func NewDuckDB(db *sql.DB) (*DuckDB, error) {
	s := &DuckDB{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *DuckDB) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS stacktape_objects (
			path     TEXT      PRIMARY KEY,
			parent   TEXT      NOT NULL,
			is_dir   BOOLEAN   NOT NULL,
			data     BLOB,
			size     BIGINT    NOT NULL DEFAULT 0,
			modified TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_stacktape_objects_parent
			ON stacktape_objects (parent);
	`
	_, err := s.db.Exec(schema)
	return err
}

func clean(p string) string {
	return path.Clean("/" + p)
}

// stat reports whether p exists and whether it is a directory.
func (s *DuckDB) stat(ctx context.Context, p string) (exists, isDir bool, err error) {
	if p == "/" {
		return true, true, nil
	}
	err = s.db.QueryRowContext(ctx, "SELECT is_dir FROM stacktape_objects WHERE path = ?", p).Scan(&isDir)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, isDir, nil
}

// Walk implements FileSystem.
func (s *DuckDB) Walk(ctx context.Context, root string, fn WalkFunc) error {
	root = clean(root)
	exists, isDir, err := s.stat(ctx, root)
	if err != nil {
		return err
	}
	if !exists || !isDir {
		return fmt.Errorf("%w: %s", ErrNotExist, root)
	}
	return s.walk(ctx, root, fn)
}

func (s *DuckDB) walk(ctx context.Context, dir string, fn WalkFunc) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT path, is_dir FROM stacktape_objects WHERE parent = ? ORDER BY path", dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var dirs, files []string
	for rows.Next() {
		var p string
		var isDir bool
		if err := rows.Scan(&p, &isDir); err != nil {
			_ = rows.Close()
			return err
		}
		if isDir {
			dirs = append(dirs, path.Base(p))
		} else {
			files = append(files, path.Base(p))
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if err := fn(dir, dirs, files); err != nil {
		return err
	}
	for _, d := range dirs {
		if err := s.walk(ctx, path.Join(dir, d), fn); err != nil {
			return err
		}
	}
	return nil
}

// MakeDir implements FileSystem.
func (s *DuckDB) MakeDir(ctx context.Context, p string) error {
	p = clean(p)
	var chain []string
	for d := p; d != "/"; d = path.Dir(d) {
		chain = append(chain, d)
	}
	now := time.Now()
	for i := len(chain) - 1; i >= 0; i-- {
		exists, isDir, err := s.stat(ctx, chain[i])
		if err != nil {
			return err
		}
		if exists {
			if !isDir {
				return fmt.Errorf("%s exists and is not a directory", chain[i])
			}
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO stacktape_objects (path, parent, is_dir, size, modified) VALUES (?, ?, true, 0, ?)",
			chain[i], path.Dir(chain[i]), now); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", chain[i], err)
		}
	}
	return nil
}

// List implements FileSystem.
func (s *DuckDB) List(ctx context.Context, p string) ([]string, error) {
	p = clean(p)
	var names []string
	err := s.Walk(ctx, p, func(dir string, dirs, files []string) error {
		names = append(append(names, dirs...), files...)
		return errStopWalk
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

var errStopWalk = errors.New("stop walk")

// Open implements FileSystem.
func (s *DuckDB) Open(ctx context.Context, p string, mode Mode) (File, error) {
	p = clean(p)
	switch mode {
	case ModeRead:
		var data []byte
		err := s.db.QueryRowContext(ctx,
			"SELECT data FROM stacktape_objects WHERE path = ? AND NOT is_dir", p).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, p)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		return &duckFile{reader: bytes.NewReader(data)}, nil
	case ModeWrite:
		exists, isDir, err := s.stat(ctx, path.Dir(p))
		if err != nil {
			return nil, err
		}
		if !exists || !isDir {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, path.Dir(p))
		}
		return &duckFile{store: s, ctx: ctx, path: p, writer: &bytes.Buffer{}}, nil
	}
	return nil, fmt.Errorf("unsupported mode %v", mode)
}

// Remove implements FileSystem.
func (s *DuckDB) Remove(ctx context.Context, p string) error {
	p = clean(p)
	res, err := s.db.ExecContext(ctx, "DELETE FROM stacktape_objects WHERE path = ? AND NOT is_dir", p)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotExist, p)
	}
	return nil
}

// Close implements FileSystem.
func (s *DuckDB) Close() error {
	return s.db.Close()
}

func (s *DuckDB) put(ctx context.Context, p string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO stacktape_objects (path, parent, is_dir, data, size, modified) VALUES (?, ?, false, ?, ?, ?)",
		p, path.Dir(p), data, int64(len(data)), time.Now())
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", p, err)
	}
	return nil
}

// duckFile buffers writes in memory and stores them on Close.
type duckFile struct {
	reader *bytes.Reader

	store  *DuckDB
	ctx    context.Context
	path   string
	writer *bytes.Buffer
	closed bool
}

func (f *duckFile) Read(p []byte) (int, error) {
	if f.reader == nil {
		return 0, fmt.Errorf("%s is open for writing", f.path)
	}
	return f.reader.Read(p)
}

func (f *duckFile) Write(p []byte) (int, error) {
	if f.writer == nil {
		return 0, fmt.Errorf("file is open for reading")
	}
	return f.writer.Write(p)
}

func (f *duckFile) Close() error {
	if f.writer == nil || f.closed {
		return nil
	}
	f.closed = true
	return f.store.put(f.ctx, f.path, f.writer.Bytes())
}
