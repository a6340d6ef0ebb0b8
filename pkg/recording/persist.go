package recording

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/stacktape/pkg/storage"
)

// Extension is the file extension of persisted recordings.
const Extension = ".zst"

// identifierTimeLayout renders YYYY_MM_DD_HH_MM_SS.
const identifierTimeLayout = "2006_01_02_15_04_05"

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Notifier announces a saved recording to an external viewer.
type Notifier interface {
	Notify(ctx context.Context, identifier string) error
}

// SaveOptions configures Save.
type SaveOptions struct {
	// FS is the storage the recording is written to (required).
	FS storage.FileSystem
	// Root is the directory under which recordings are stored.
	Root string
	// Notifier is told about the new recording (optional).
	Notifier Notifier
	// ViewerURL is printed in the summary when set.
	ViewerURL string
	// Out receives the human-readable summary (optional).
	Out io.Writer
	// Now overrides the clock used for the identifier.
	Now func() time.Time
	// Logger receives notification failures at debug level (optional).
	Logger *zerolog.Logger
}

// SanitizeName turns an application name into a single safe path element.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "unnamed"
	}
	return name
}

// Identifier returns "<sanitized application>/<timestamp>".
func Identifier(application string, now time.Time) string {
	return SanitizeName(application) + "/" + now.Format(identifierTimeLayout)
}

// Path returns the storage path for a recording identifier.
func Path(root, identifier string) string {
	return path.Join(root, identifier) + Extension
}

// Save encodes the recording and writes it to storage, then notifies the
// viewer and prints a summary. It returns the storage path. Notification and
// summary failures never fail the save.
func (r *Recording) Save(ctx context.Context, opts SaveOptions) (string, error) {
	if opts.FS == nil {
		return "", fmt.Errorf("storage is required")
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	data, err := r.Encode()
	if err != nil {
		return "", fmt.Errorf("failed to encode recording: %w", err)
	}

	identifier := Identifier(r.ApplicationName(), now())
	p := Path(opts.Root, identifier)
	if err := opts.FS.MakeDir(ctx, path.Dir(p)); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path.Dir(p), err)
	}
	if err := storage.WriteFile(ctx, opts.FS, p, data); err != nil {
		return "", fmt.Errorf("failed to write recording: %w", err)
	}

	if opts.Notifier != nil {
		if err := opts.Notifier.Notify(ctx, identifier); err != nil && opts.Logger != nil {
			opts.Logger.Debug().Err(err).Str("identifier", identifier).Msg("Viewer notification failed")
		}
	}
	if opts.Out != nil {
		location := p
		if opts.ViewerURL != "" {
			location = strings.TrimRight(opts.ViewerURL, "/") + "#" + identifier
		}
		_, _ = fmt.Fprintln(opts.Out, SummaryBox(r.Summary(), location, len(data)))
	}
	return p, nil
}

var boxStyle = lipgloss.NewStyle().
	Border(lipgloss.ThickBorder()).
	Padding(0, 1)

// SummaryBox renders a short summary of a saved recording in a bordered box.
func SummaryBox(s Summary, location string, size int) string {
	body := fmt.Sprintf("stacktape: %s\n%d calls, %d markers, %d statuses over %s (%s)",
		location, s.Calls, s.Markers, s.Statuses, s.Span.Round(time.Millisecond), FormatBytes(uint64(size)))
	return boxStyle.Render(body)
}
