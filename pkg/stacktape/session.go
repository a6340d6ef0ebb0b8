package stacktape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/stacktape/internal/config"
	"github.com/coral-mesh/stacktape/internal/logging"
	"github.com/coral-mesh/stacktape/internal/notify"
	"github.com/coral-mesh/stacktape/internal/snapshot"
	"github.com/coral-mesh/stacktape/internal/status"
	"github.com/coral-mesh/stacktape/internal/tracer"
	"github.com/coral-mesh/stacktape/pkg/recording"
	"github.com/coral-mesh/stacktape/pkg/storage"
	"github.com/coral-mesh/stacktape/pkg/version"
)

// Environment variables linking the recordings of parent and child processes.
const (
	EnvID       = "STACKTAPE_ID"
	EnvParentID = "STACKTAPE_PARENT_ID"
	EnvVersion  = "STACKTAPE_VERSION"
)

var (
	// ErrNotRunning is returned by Stop when no session is running.
	ErrNotRunning = errors.New("stacktape session not running")
	// ErrAlreadyRunning is returned by Start when a session is running.
	ErrAlreadyRunning = errors.New("stacktape session already running")
	// ErrDisabled is returned by Start when profiling is disabled.
	ErrDisabled = errors.New("stacktape disabled")
)

// Options configures a Session. The zero value loads the configuration file
// and environment and writes to the configured storage.
type Options struct {
	// Config overrides the loaded configuration.
	Config *config.Config
	// Logger receives the profiler's diagnostics. Defaults to a logger built
	// from the logging configuration, writing to stderr.
	Logger *zerolog.Logger
	// Storage and Root override the configured storage location.
	Storage storage.FileSystem
	Root    string
	// Notifier overrides the viewer notifier.
	Notifier recording.Notifier
	// Out receives the summary printed after a save. Defaults to stderr;
	// use io.Discard to silence it.
	Out io.Writer
	// IgnorePrefixes replaces the function prefixes excluded from stacks.
	IgnorePrefixes []string
	// SkipLeakReport disables the GC and heap report recorded on stop.
	SkipLeakReport bool
}

// Session is one profiler instance. Its methods are safe for concurrent use.
type Session struct {
	cfg      *config.Config
	logger   zerolog.Logger
	fs       storage.FileSystem
	root     string
	notifier recording.Notifier
	out      io.Writer
	snap     *snapshot.Snapshotter
	skipLeak bool

	rec *recording.Recording

	mu        sync.Mutex
	running   bool
	tracer    *tracer.Tracer
	status    *status.Generator
	savedPath string
}

// New creates a Session. Configuration or storage problems are logged and
// fall back to the defaults; they never prevent the host program from
// running.
func New(opts Options) *Session {
	cfg := opts.Config
	var loadErr error
	if cfg == nil {
		cfg, loadErr = config.Load()
		if loadErr != nil {
			cfg = config.Default()
		}
	}

	var logger zerolog.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = logging.New(logging.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty})
	}
	logger = logger.With().Str("component", "stacktape").Logger()
	if loadErr != nil {
		logger.Warn().Err(loadErr).Msg("Failed to load configuration, using defaults")
	}

	s := &Session{
		cfg:      cfg,
		logger:   logger,
		fs:       opts.Storage,
		root:     opts.Root,
		notifier: opts.Notifier,
		out:      opts.Out,
		snap:     snapshot.New(snapshot.Options{IgnorePrefixes: opts.IgnorePrefixes}),
		skipLeak: opts.SkipLeakReport,
		rec:      recording.New(""),
	}
	if s.out == nil {
		s.out = os.Stderr
	}
	if s.fs == nil {
		fs, root, err := storage.Open(cfg.Storage.URL, cfg.Storage.Root)
		if err != nil {
			logger.Warn().Err(err).Str("storage", cfg.Storage.URL).Msg("Failed to open storage, using local root")
			fs, root = storage.NewLocal(), cfg.Storage.Root
		}
		s.fs = fs
		if s.root == "" {
			s.root = root
		}
	}
	if s.root == "" {
		s.root = cfg.Storage.Root
	}
	if s.notifier == nil {
		s.notifier = notify.New(notify.Config{
			Server:  cfg.Viewer.Server,
			Retries: cfg.Viewer.NotifyRetries,
		}, logger)
	}
	return s
}

// Config returns the effective configuration.
func (s *Session) Config() *config.Config {
	return s.cfg
}

// Recording returns the recording written by the session.
func (s *Session) Recording() *recording.Recording {
	return s.rec
}

// IsRunning reports whether the session is recording.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SavedPath returns the storage path of the last saved recording.
func (s *Session) SavedPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savedPath
}

// Start begins recording application. An empty name uses the executable
// name. It returns ErrDisabled when profiling is turned off and
// ErrAlreadyRunning when the session is already recording.
func (s *Session) Start(application string) error {
	if !s.cfg.Enabled() {
		s.logger.Debug().Msg("Profiling disabled")
		return ErrDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A tracer without running means a Stop is still saving.
	if s.running || s.tracer != nil {
		return ErrAlreadyRunning
	}
	if application == "" {
		application = defaultApplication()
	}

	parentID := os.Getenv(EnvID)
	id := uuid.NewString()
	setenv(EnvParentID, parentID)
	setenv(EnvID, id)
	setenv(EnvVersion, version.Get().Version)

	s.rec.Reset(application, id, parentID)
	s.savedPath = ""

	t := tracer.New(s.rec, s.snap, tracer.Config{
		SampleInterval:  s.cfg.Sampling.SampleDelay,
		MemoryWarningGB: s.cfg.Sampling.MemoryWarningGB,
		CaptureStdout:   s.cfg.CaptureStdout,
		StopTimeout:     s.cfg.StopTimeout,
		SkipLeakReport:  s.skipLeak,
	}, s.logger)
	g := status.New(s.rec, status.Config{
		Interval:       s.cfg.Sampling.StatusDelay,
		MemoryInterval: s.cfg.Sampling.MemoryDelay,
		StopTimeout:    s.cfg.StopTimeout,
	}, s.logger)
	g.OnMemory(t.OnMemory)
	g.OnLoop(t.Exclude)

	t.Mark(recording.MarkerInfo, fmt.Sprintf("stacktape application: '%s'", application))
	t.Mark(recording.MarkerInfo, fmt.Sprintf("stacktape parent ID: '%s'", parentID))
	t.Mark(recording.MarkerInfo, fmt.Sprintf("stacktape ID: '%s'", id))
	t.Mark(recording.MarkerInfo, "Go version: "+runtime.Version())
	t.Mark(recording.MarkerDebug, environmentReport(os.Args, os.Environ()))

	ctx := context.Background()
	if err := t.Start(ctx); err != nil {
		return fmt.Errorf("failed to start tracer: %w", err)
	}
	if err := g.Start(ctx); err != nil {
		_ = t.Stop()
		return fmt.Errorf("failed to start status generator: %w", err)
	}

	s.tracer, s.status = t, g
	s.running = true
	s.logger.Debug().
		Str("application", application).
		Str("id", id).
		Str("parent_id", parentID).
		Msg("Session started")
	return nil
}

// Stop ends the recording and saves it. The session always stops, even when
// saving fails; the save error is returned.
func (s *Session) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	t, g := s.tracer, s.status
	s.mu.Unlock()

	if err := t.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to stop tracer")
	}
	g.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StopTimeout)
	defer cancel()
	p, err := s.rec.Save(ctx, recording.SaveOptions{
		FS:        s.fs,
		Root:      s.root,
		Notifier:  s.notifier,
		ViewerURL: s.cfg.Viewer.Server,
		Out:       s.out,
		Logger:    &s.logger,
	})

	s.mu.Lock()
	s.tracer, s.status = nil, nil
	s.savedPath = p
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Msg("Could not save the recording")
		return fmt.Errorf("failed to save recording: %w", err)
	}
	s.logger.Debug().Str("path", p).Msg("Recording saved")
	return nil
}

// Enabled records application while fn runs and returns the error from
// stopping. fn runs even when profiling is disabled or cannot start.
func (s *Session) Enabled(application string, fn func()) (err error) {
	startErr := s.Start(application)
	if startErr == nil {
		defer func() { err = s.Stop() }()
	} else if !errors.Is(startErr, ErrDisabled) {
		s.logger.Warn().Err(startErr).Msg("Running without profiling")
	}
	fn()
	return nil
}

// Shutdown stops a running session and releases the storage.
func (s *Session) Shutdown() error {
	var err error
	if stopErr := s.Stop(); stopErr != nil && !errors.Is(stopErr, ErrNotRunning) {
		err = stopErr
	}
	if closeErr := s.fs.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("failed to close storage: %w", closeErr))
	}
	return err
}

// activeTracer returns the running tracer, or nil.
func (s *Session) activeTracer() *tracer.Tracer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracer
}

func defaultApplication() string {
	if len(os.Args) == 0 {
		return "unnamed"
	}
	name := filepath.Base(os.Args[0])
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func setenv(key, value string) {
	_ = os.Setenv(key, value)
}
