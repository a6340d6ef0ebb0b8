package safe

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// MaxConfigSize bounds configuration files read through ReadFile.
const MaxConfigSize = 1 << 20

// ReadOptions tune ReadFile.
type ReadOptions struct {
	// MaxSize defaults to MaxConfigSize.
	MaxSize int64
	// AllowSymlinks follows a symlinked path instead of rejecting it.
	AllowSymlinks bool
}

// ReadFile reads a small regular file such as a configuration layer. It
// refuses directories, devices, oversized files and, unless allowed,
// symlinks.
func ReadFile(path string, opts *ReadOptions) ([]byte, error) {
	var o ReadOptions
	if opts != nil {
		o = *opts
	}
	if o.MaxSize <= 0 {
		o.MaxSize = MaxConfigSize
	}

	path = filepath.Clean(path)
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		if !o.AllowSymlinks {
			return nil, fmt.Errorf("refusing to follow symlink %q", path)
		}
		if info, err = os.Stat(path); err != nil {
			return nil, err
		}
	}

	switch {
	case !info.Mode().IsRegular():
		return nil, fmt.Errorf("%q is not a regular file", path)
	case info.Size() > o.MaxSize:
		return nil, fmt.Errorf("%q is %d bytes, limit is %d", path, info.Size(), o.MaxSize)
	}
	return os.ReadFile(path)
}
