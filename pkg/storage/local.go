package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Local stores files on the local filesystem.
type Local struct{}

// NewLocal returns the local filesystem backend.
func NewLocal() *Local {
	return &Local{}
}

// Walk implements FileSystem.
func (l *Local) Walk(ctx context.Context, root string, fn WalkFunc) error {
	return l.walk(ctx, filepath.Clean(root), fn)
}

func (l *Local) walk(ctx context.Context, dir string, fn WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return wrapNotExist(err)
	}
	var dirs, files []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		} else {
			files = append(files, e.Name())
		}
	}
	if err := fn(filepath.ToSlash(dir), dirs, files); err != nil {
		return err
	}
	for _, d := range dirs {
		if err := l.walk(ctx, filepath.Join(dir, d), fn); err != nil {
			return err
		}
	}
	return nil
}

// MakeDir implements FileSystem.
func (l *Local) MakeDir(_ context.Context, path string) error {
	//nolint:gosec // G301: recordings directory needs traversal permissions.
	return os.MkdirAll(filepath.FromSlash(path), 0o755)
}

// List implements FileSystem.
func (l *Local) List(_ context.Context, path string) ([]string, error) {
	entries, err := os.ReadDir(filepath.FromSlash(path))
	if err != nil {
		return nil, wrapNotExist(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Open implements FileSystem.
func (l *Local) Open(_ context.Context, path string, mode Mode) (File, error) {
	p := filepath.Clean(filepath.FromSlash(path))
	switch mode {
	case ModeRead:
		f, err := os.Open(p)
		if err != nil {
			return nil, wrapNotExist(err)
		}
		return f, nil
	case ModeWrite:
		//nolint:gosec // G302: recordings are not secrets.
		return os.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	}
	return nil, fmt.Errorf("unsupported mode %v", mode)
}

// Remove implements FileSystem.
func (l *Local) Remove(_ context.Context, path string) error {
	return wrapNotExist(os.Remove(filepath.FromSlash(path)))
}

// Close implements FileSystem.
func (l *Local) Close() error { return nil }

func wrapNotExist(err error) error {
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrNotExist, err)
	}
	return err
}
