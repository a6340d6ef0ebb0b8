// Package storage abstracts the file tree recordings are persisted to.
//
// Two backends are provided: the local filesystem and an object store kept
// in a DuckDB database. Both expose the same walk/mkdir/list/open/remove
// surface so recordings can be saved, enumerated and deleted without caring
// where they live. Paths are always slash-separated.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// Mode selects how Open accesses a file.
type Mode int

const (
	// ModeRead opens an existing file for reading.
	ModeRead Mode = iota
	// ModeWrite creates or truncates a file for writing.
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

// ErrNotExist is returned for missing files and directories.
var ErrNotExist = errors.New("file does not exist")

// File is an open file. Reading a file opened with ModeWrite, or writing one
// opened with ModeRead, fails.
type File interface {
	io.Reader
	io.Writer
	io.Closer
}

// WalkFunc is called once per directory with the names of its immediate
// subdirectories and files.
type WalkFunc func(dir string, dirs, files []string) error

// FileSystem is the storage surface used to persist recordings.
type FileSystem interface {
	// Walk visits root and every directory below it, top-down.
	Walk(ctx context.Context, root string, fn WalkFunc) error
	// MakeDir creates path and any missing parents. Existing directories are fine.
	MakeDir(ctx context.Context, path string) error
	// List returns the names of the entries directly inside path, sorted.
	List(ctx context.Context, path string) ([]string, error)
	// Open opens path in the given mode.
	Open(ctx context.Context, path string, mode Mode) (File, error)
	// Remove deletes a file.
	Remove(ctx context.Context, path string) error
	// Close releases resources held by the backend.
	Close() error
}

// WriteFile writes data to path, creating or truncating it.
func WriteFile(ctx context.Context, fs FileSystem, path string, data []byte) (err error) {
	f, err := fs.Open(ctx, path, ModeWrite)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	_, err = f.Write(data)
	return err
}

// ReadFile returns the contents of path.
func ReadFile(ctx context.Context, fs FileSystem, path string) ([]byte, error) {
	f, err := fs.Open(ctx, path, ModeRead)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// Open returns the backend for a storage location:
//
//	""  or a plain path        local filesystem (root is the path)
//	file:///var/lib/stacktape  local filesystem
//	duckdb:///path/to/db.duckdb  DuckDB object store (":memory:" for in-memory)
//
// The second return value is the root directory recordings go under.
func Open(location, defaultRoot string) (FileSystem, string, error) {
	if location == "" {
		return NewLocal(), defaultRoot, nil
	}
	if !strings.Contains(location, "://") {
		return NewLocal(), location, nil
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, "", fmt.Errorf("invalid storage location %q: %w", location, err)
	}
	switch u.Scheme {
	case "file":
		return NewLocal(), u.Path, nil
	case "duckdb":
		dsn := u.Host + u.Path
		if dsn == "/:memory:" {
			dsn = ""
		}
		fs, err := OpenDuckDB(dsn)
		if err != nil {
			return nil, "", err
		}
		return fs, "/", nil
	}
	return nil, "", fmt.Errorf("unsupported storage scheme %q", u.Scheme)
}
