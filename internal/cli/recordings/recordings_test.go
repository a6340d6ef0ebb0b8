package recordings

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/stacktape/internal/cli/helpers"
	"github.com/coral-mesh/stacktape/internal/testutil"
	"github.com/coral-mesh/stacktape/pkg/recording"
	"github.com/coral-mesh/stacktape/pkg/storage"
)

var recordedAt = time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)

// newStore saves a sample recording of "billing" under a fresh root and
// returns the root. The config file is pointed at a missing path so only
// defaults apply.
func newStore(t *testing.T) string {
	t.Helper()
	t.Setenv("STACKTAPE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	root := t.TempDir()
	_, err := testutil.NewRecording(t, "billing").Save(context.Background(), recording.SaveOptions{
		FS:   storage.NewLocal(),
		Root: root,
		Now:  func() time.Time { return recordedAt },
	})
	require.NoError(t, err)
	return root
}

const ref = "billing/2024_03_01_10_00_00"

func TestLsCmd(t *testing.T) {
	root := newStore(t)

	cmd := NewLsCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--storage", root})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "APPLICATION")
	assert.Contains(t, out.String(), "2024-03-01 10:00:00")
	assert.Contains(t, out.String(), filepath.Join(root, "billing", "2024_03_01_10_00_00.zst"))

	out.Reset()
	cmd = NewLsCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--storage", root, "-o", "json", "--since", "1h"})
	require.NoError(t, cmd.Execute())
	assert.JSONEq(t, "[]", out.String())
}

func TestWriteEntries_Empty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeEntries(&out, nil, helpers.FormatTable))
	assert.Equal(t, "No recordings found.\n", out.String())
}

func TestFilterEntries(t *testing.T) {
	entries := []helpers.Entry{
		{Application: "a", Recorded: recordedAt},
		{Application: "b", Recorded: recordedAt.Add(-48 * time.Hour)},
	}
	window := &helpers.TimeRange{Start: recordedAt.Add(-time.Hour), End: recordedAt.Add(time.Hour)}

	got := filterEntries(entries, window)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Application)
	assert.Len(t, filterEntries(entries, nil), 2)
}

func showJSON(t *testing.T, opts showOptions) view {
	t.Helper()
	opts.format = string(helpers.FormatJSON)
	var out bytes.Buffer
	require.NoError(t, runShow(context.Background(), &out, opts, ref))

	var v view
	require.NoError(t, json.Unmarshal(out.Bytes(), &v))
	return v
}

func TestShow_JSON(t *testing.T) {
	root := newStore(t)

	v := showJSON(t, showOptions{location: root, top: 10})
	assert.Equal(t, "billing", v.Application)
	assert.Equal(t, 3, v.Calls)
	assert.Equal(t, 1, v.Goroutines)
	assert.Equal(t, 1, v.Statuses)
	assert.Equal(t, uint64(64*recording.MB), v.Resources.PeakMemory)
	require.Len(t, v.TopCalls, 3)
	assert.Equal(t, "main.main", v.TopCalls[0].Name)
	assert.Equal(t, int64(300), v.TopCalls[0].TotalMS)
	require.Len(t, v.Markers, 2)
	assert.Equal(t, "main.load", v.Markers[0].Frame)
	assert.Nil(t, v.Tree)
}

func TestShow_Options(t *testing.T) {
	root := newStore(t)

	v := showJSON(t, showOptions{location: root, kinds: []string{"warn"}, top: 1})
	require.Len(t, v.Markers, 1)
	assert.Equal(t, "slow parse", v.Markers[0].Message)
	assert.Len(t, v.TopCalls, 1)

	v = showJSON(t, showOptions{location: root, filter: "call.depth >= 1"})
	assert.Equal(t, 2, v.Calls)

	v = showJSON(t, showOptions{location: root, tree: true, hot: 0.3})
	require.NotNil(t, v.Tree)
	assert.Equal(t, "billing", v.Tree.Name)
	assert.Equal(t, int64(300), v.Tree.TotalMS)
	require.Len(t, v.Tree.Children, 1)
	assert.Equal(t, "main.main", v.Tree.Children[0].Name)
}

func TestShow_Table(t *testing.T) {
	root := newStore(t)

	var out bytes.Buffer
	err := runShow(context.Background(), &out, showOptions{
		format:     string(helpers.FormatTable),
		location:   root,
		top:        10,
		tree:       true,
		minPercent: 1,
		hot:        0.3,
	}, ref)
	require.NoError(t, err)

	s := out.String()
	assert.Contains(t, s, "billing")
	assert.Contains(t, s, "main.parse")
	assert.Contains(t, s, "/src/app/load.go:58")
	assert.Contains(t, s, "loading input")
	assert.Contains(t, s, "slow parse")
	assert.Contains(t, s, "Call tree")
	assert.Contains(t, s, "← HOT")
}

func TestShow_Errors(t *testing.T) {
	root := newStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		opts showOptions
		ref  string
	}{
		{"bad format", showOptions{format: "csv", location: root}, ref},
		{"bad kind", showOptions{format: "json", location: root, kinds: []string{"fatal"}}, ref},
		{"bad filter", showOptions{format: "json", location: root, filter: "call.name +"}, ref},
		{"missing recording", showOptions{format: "json", location: root}, "billing/2020_01_01_00_00_00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, runShow(ctx, &bytes.Buffer{}, tt.opts, tt.ref))
		})
	}
}

func TestMarkersMarkdown(t *testing.T) {
	md := markersMarkdown([]markerView{
		{AtMS: 1500, Kind: "warn", Message: "disk slow", Frame: "main.write"},
		{AtMS: 0, Kind: "debug", Message: "## Command line\n/bin/app"},
	})
	assert.Equal(t, "## Markers\n\n"+
		"- **+1.50s** `WARN` disk slow _(in main.write)_\n"+
		"- **+0ns** `DEBUG` ## Command line\n"+
		"\n  ```\n  /bin/app\n  ```\n", md)
}

func TestRmCmd(t *testing.T) {
	root := newStore(t)

	cmd := NewRmCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--storage", root, ref})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "Removed "+filepath.Join(root, ref)+".zst\n", out.String())

	cmd = NewRmCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--storage", root, ref})
	assert.Error(t, cmd.Execute())
}
