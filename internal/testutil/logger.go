package testutil

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
)

// NewTestLogger returns a debug-level logger that discards its output.
// Sessions keep logging from background goroutines after a test returns,
// which t.Log does not allow.
func NewTestLogger(t testing.TB) zerolog.Logger {
	t.Helper()
	return zerolog.New(io.Discard).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}
