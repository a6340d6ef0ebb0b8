package helpers

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/coral-mesh/stacktape/internal/config"
	"github.com/coral-mesh/stacktape/pkg/recording"
	"github.com/coral-mesh/stacktape/pkg/storage"
)

// Store is the configured recording storage.
type Store struct {
	FS   storage.FileSystem
	Root string
}

// OpenStore opens the storage named by location, or by the config when
// location is empty.
func OpenStore(cfg *config.Config, location string) (*Store, error) {
	if location == "" {
		location = cfg.Storage.URL
	}
	fs, root, err := storage.Open(location, cfg.Storage.Root)
	if err != nil {
		return nil, err
	}
	return &Store{FS: fs, Root: root}, nil
}

// OpenConfiguredStore loads the configuration and opens its storage, with
// location taking precedence when set.
func OpenConfiguredStore(location string) (*Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return OpenStore(cfg, location)
}

// Close releases the storage backend.
func (s *Store) Close() error {
	return s.FS.Close()
}

// Entry describes one stored recording.
type Entry struct {
	Application string    `header:"APPLICATION" json:"application" yaml:"application"`
	Recorded    time.Time `header:"RECORDED" json:"recorded" yaml:"recorded"`
	Size        string    `header:"SIZE" json:"size" yaml:"size"`
	Path        string    `header:"PATH" json:"path" yaml:"path"`
	Bytes       int       `json:"bytes" yaml:"bytes"`
}

// identifierLayout matches the timestamp part of a recording identifier.
const identifierLayout = "2006_01_02_15_04_05"

// List returns the recordings below the root, newest first. A non-empty
// application restricts the listing to that application.
func (s *Store) List(ctx context.Context, application string) ([]Entry, error) {
	start := s.Root
	if application != "" {
		start = path.Join(s.Root, recording.SanitizeName(application))
	}

	var entries []Entry
	err := s.FS.Walk(ctx, start, func(dir string, _, files []string) error {
		for _, name := range files {
			if !strings.HasSuffix(name, recording.Extension) {
				continue
			}
			recorded, err := time.ParseInLocation(identifierLayout, strings.TrimSuffix(name, recording.Extension), time.Local)
			if err != nil {
				continue
			}
			p := path.Join(dir, name)
			data, err := storage.ReadFile(ctx, s.FS, p)
			if err != nil {
				return err
			}
			entries = append(entries, Entry{
				Application: path.Base(dir),
				Recorded:    recorded,
				Size:        recording.FormatBytes(uint64(len(data))),
				Path:        p,
				Bytes:       len(data),
			})
		}
		return nil
	})
	if errors.Is(err, storage.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Recorded.After(entries[j].Recorded)
	})
	return entries, nil
}

// Resolve maps a user-supplied reference to a storage path. Identifiers
// such as "app/2024_01_01_10_00_00" are resolved below the root, absolute
// and ./ paths are used as given, and the extension is optional.
func (s *Store) Resolve(ref string) string {
	p := ref
	if !strings.HasSuffix(p, recording.Extension) {
		p += recording.Extension
	}
	if !path.IsAbs(p) && !strings.HasPrefix(p, "./") && !strings.HasPrefix(p, "../") {
		p = path.Join(s.Root, p)
	}
	return p
}

// Load reads and decodes the recording at ref.
func (s *Store) Load(ctx context.Context, ref string) (*recording.Recording, error) {
	p := s.Resolve(ref)
	data, err := storage.ReadFile(ctx, s.FS, p)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	rec := recording.New("")
	if err := rec.Load(data); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", p, err)
	}
	return rec, nil
}

// Remove deletes the recording at ref.
func (s *Store) Remove(ctx context.Context, ref string) (string, error) {
	p := s.Resolve(ref)
	if err := s.FS.Remove(ctx, p); err != nil {
		return "", fmt.Errorf("failed to remove %s: %w", p, err)
	}
	return p, nil
}
