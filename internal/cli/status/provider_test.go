package status

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/stacktape/internal/cli/helpers"
	"github.com/coral-mesh/stacktape/internal/config"
	"github.com/coral-mesh/stacktape/internal/testutil"
	"github.com/coral-mesh/stacktape/pkg/recording"
	"github.com/coral-mesh/stacktape/pkg/storage"
)

func TestGroupEntries(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	apps := groupEntries([]helpers.Entry{
		{Application: "search", Recorded: base.Add(time.Hour), Path: "search/new", Bytes: 10},
		{Application: "billing", Recorded: base.Add(2 * time.Hour), Path: "billing/new", Bytes: 30},
		{Application: "billing", Recorded: base, Path: "billing/old", Bytes: 20},
	})

	require.Len(t, apps, 2)
	assert.Equal(t, ApplicationInfo{
		Application: "billing",
		Recordings:  2,
		TotalBytes:  50,
		Latest:      base.Add(2 * time.Hour),
		LatestPath:  "billing/new",
	}, apps[0])
	assert.Equal(t, "search", apps[1].Application)
}

func TestCheckViewer(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	p := NewProvider(config.NewLoader())
	ctx := context.Background()
	assert.True(t, p.CheckViewer(ctx, healthy.URL))
	assert.False(t, p.CheckViewer(ctx, broken.URL))
	assert.False(t, p.CheckViewer(ctx, ""))
	assert.False(t, p.CheckViewer(ctx, "://bad"))
}

func TestProviderQuery(t *testing.T) {
	viewer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer viewer.Close()

	root := t.TempDir()
	t.Setenv("STACKTAPE_SERVER", viewer.URL)
	t.Setenv("STACKTAPE_ROOT", root)
	loader := config.NewLoaderAt(filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := testutil.NewRecording(t, "billing").Save(context.Background(), recording.SaveOptions{
		FS:   storage.NewLocal(),
		Root: root,
		Now:  func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local) },
	})
	require.NoError(t, err)

	info, err := NewProvider(loader).Query(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, info.Enabled)
	assert.Equal(t, root, info.Root)
	assert.True(t, info.Viewer.Healthy)
	assert.Empty(t, info.StorageError)
	require.Len(t, info.Applications, 1)
	assert.Equal(t, 1, info.Applications[0].Recordings)

	info, err = NewProvider(loader).Query(context.Background(), "s3://bucket")
	require.NoError(t, err)
	assert.NotEmpty(t, info.StorageError)
}
