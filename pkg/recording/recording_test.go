package recording

import (
	"bytes"
	"context"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/stacktape/pkg/storage"
)

func TestCallSite_EqualIsNameOnly(t *testing.T) {
	a := CallSite{Filename: "/src/a.go", Line: 10, Name: "main.work"}
	b := CallSite{Filename: "/src/b.go", Line: 99, Name: "main.work"}
	c := CallSite{Filename: "/src/a.go", Line: 10, Name: "main.other"}

	assert.True(t, a.Equal(b), "same name must be equal regardless of file and line")
	assert.False(t, a.IsSimilar(b), "different file and line must not be similar")
	assert.False(t, a.Equal(c))
	assert.True(t, a.IsSimilar(a))
}

func TestNewCall_RoundsAndClamps(t *testing.T) {
	site := CallSite{Name: "f"}
	c := NewCall(1234567*time.Microsecond, 7, site, RootCallSite, 0, -5*time.Millisecond)
	assert.Equal(t, 1235*time.Millisecond, c.When)
	assert.Equal(t, time.Duration(0), c.Duration)
	assert.Equal(t, c.When, c.End())
}

func TestStack_IsImmutable(t *testing.T) {
	sites := []CallSite{{Name: "a"}, {Name: "b"}}
	s := NewStack(1, time.Second, sites)
	sites[0].Name = "changed"
	assert.Equal(t, "a", s.At(0).Name)

	copied := s.Sites()
	copied[1].Name = "changed"
	assert.Equal(t, "b", s.At(1).Name)
	assert.Equal(t, "b", s.Leaf().Name)

	empty := NewStack(1, 0, []CallSite{})
	assert.Nil(t, empty.Sites())
	assert.Equal(t, UnknownCallSite, empty.Leaf())
}

func TestRecording_AddStatusSkipsSimilar(t *testing.T) {
	r := New("app")
	s1 := NewStatus(100*time.Millisecond, 12.4, 3.5, 100*MB, 16*GB, 8*GB, 12, 5000, 4)
	s2 := NewStatus(200*time.Millisecond, 12.2, 3.5, 100*MB, 16*GB, 8*GB, 12, 5000, 4)
	s3 := NewStatus(300*time.Millisecond, 12.2, 3.5, 101*MB, 16*GB, 8*GB, 12, 5000, 4)

	assert.True(t, s1.IsSimilar(s2), "when is ignored and cpu rounds to the same percent")
	noisy := NewStatus(150*time.Millisecond, 12.4, 9.09, 100*MB, 16*GB, 8*GB, 12, 5000, 7)
	assert.True(t, s1.IsSimilar(noisy), "system cpu and goroutines are ignored")
	assert.True(t, r.AddStatus(s1))
	assert.False(t, r.AddStatus(s2))
	assert.True(t, r.AddStatus(s3))

	statuses := r.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, 100*time.Millisecond, statuses[0].When)
	assert.Equal(t, 300*time.Millisecond, statuses[1].When)
}

func TestRecording_ConcurrentWriters(t *testing.T) {
	r := New("app")
	var wg sync.WaitGroup
	const n = 200

	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			r.AddCall(NewCall(time.Duration(i)*time.Millisecond, 1, CallSite{Name: "f"}, RootCallSite, 0, time.Millisecond))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			r.AddMarker(NewMarker(MarkerInfo, time.Duration(i)*time.Millisecond, "m", Stack{}, DefaultMarkerDuration))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			r.AddStatus(NewStatus(time.Duration(i)*time.Millisecond, float64(i), 0, 0, 0, 0, 0, 0, 0))
		}
	}()
	wg.Wait()

	assert.Len(t, r.Calls(), n)
	assert.Len(t, r.Markers(), n)
	assert.Len(t, r.Statuses(), n)

	r.Clear()
	assert.Empty(t, r.Calls())
	assert.Empty(t, r.Markers())
	assert.Empty(t, r.Statuses())
}

func sampleRecording() *Recording {
	r := New("demo app")
	r.Reset("demo app", "session-1", "parent-1")
	f := CallSite{Filename: "/src/main.go", Line: 10, Name: "main.f"}
	g := CallSite{Filename: "/src/main.go", Line: 20, Name: "main.g"}
	r.AddCall(
		NewCall(0, 1, g, f, 1, 200*time.Millisecond),
		NewCall(0, 1, f, RootCallSite, 0, 350*time.Millisecond),
		NewCall(50*time.Millisecond, -3, CallSite{Name: "main.h"}, RootCallSite, 0, 0),
	)
	r.AddMarker(NewMarker(MarkerWarn, 120*time.Millisecond, "disk almost full",
		NewStack(1, 120*time.Millisecond, []CallSite{f, g}), DefaultMarkerDuration))
	r.AddMarker(NewMarker(MarkerInfo, 130*time.Millisecond, "no stack", Stack{}, DefaultMarkerDuration))
	r.AddStatus(NewStatus(100*time.Millisecond, 42, 12.5, 200*MB, 16*GB, 4*GB, 30, 12345, 5))
	r.AddStatus(NewStatus(200*time.Millisecond, 43, 12.75, 201*MB, 16*GB, 4*GB, 30, 12346, 6))
	return r
}

func TestRecording_EncodeLoadRoundTrip(t *testing.T) {
	original := sampleRecording()

	data, err := original.Encode()
	require.NoError(t, err)

	loaded := New("")
	require.NoError(t, loaded.Load(data))

	assert.Equal(t, original.Calls(), loaded.Calls())
	assert.Equal(t, original.Markers(), loaded.Markers())
	assert.Equal(t, original.Statuses(), loaded.Statuses())
	assert.Equal(t, "demo app", loaded.ApplicationName())
	assert.Equal(t, "session-1", loaded.SessionID())
	assert.Equal(t, "parent-1", loaded.ParentID())
	assert.True(t, original.Start().Equal(loaded.Start()))
}

func TestRecording_LoadReplacesContents(t *testing.T) {
	data, err := New("empty").Encode()
	require.NoError(t, err)

	r := sampleRecording()
	require.NoError(t, r.Load(data))
	assert.Empty(t, r.Calls())
	assert.Empty(t, r.Markers())
	assert.Empty(t, r.Statuses())
	assert.Equal(t, "empty", r.ApplicationName())
}

func TestRecording_LoadRejectsCorruptData(t *testing.T) {
	data, err := sampleRecording().Encode()
	require.NoError(t, err)

	r := New("")
	assert.ErrorIs(t, r.Load([]byte("nope")), ErrBadMagic)

	tampered := append([]byte(nil), data...)
	tampered[6] ^= 0xff
	assert.ErrorIs(t, r.Load(tampered), ErrChecksum)

	truncated := data[:len(data)-4]
	assert.Error(t, r.Load(truncated))
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"my app", "my_app"},
		{"../../etc/passwd", "etc_passwd"},
		{"svc-1.2", "svc-1.2"},
		{"", "unnamed"},
		{"   ", "unnamed"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.in))
		})
	}
}

func TestIdentifierAndPath(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	id := Identifier("my app", now)
	assert.Equal(t, "my_app/2024_03_09_14_05_06", id)
	assert.Equal(t, "/root/my_app/2024_03_09_14_05_06.zst", Path("/root", id))
}

type recordingNotifier struct {
	identifiers []string
}

func (n *recordingNotifier) Notify(_ context.Context, identifier string) error {
	n.identifiers = append(n.identifiers, identifier)
	return assert.AnError
}

func TestRecording_Save(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fs := storage.NewLocal()
	notifier := &recordingNotifier{}
	var out bytes.Buffer
	now := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)

	r := sampleRecording()
	p, err := r.Save(ctx, SaveOptions{
		FS:        fs,
		Root:      root,
		Notifier:  notifier,
		ViewerURL: "http://localhost:7777/",
		Out:       &out,
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err, "notification failures must not fail the save")
	assert.Equal(t, path.Join(root, "demo_app", "2024_03_09_14_05_06.zst"), p)
	assert.Equal(t, []string{"demo_app/2024_03_09_14_05_06"}, notifier.identifiers)
	assert.Contains(t, out.String(), "http://localhost:7777#demo_app/2024_03_09_14_05_06")
	assert.Contains(t, out.String(), "3 calls")

	data, err := storage.ReadFile(ctx, fs, p)
	require.NoError(t, err)
	loaded := New("")
	require.NoError(t, loaded.Load(data))
	assert.Equal(t, r.Calls(), loaded.Calls())
}

func TestRecording_SaveLogsNotifyFailure(t *testing.T) {
	tests := []struct {
		name  string
		level zerolog.Level
		want  bool
	}{
		{name: "debug", level: zerolog.DebugLevel, want: true},
		{name: "info", level: zerolog.InfoLevel, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			logger := zerolog.New(&logs).Level(tt.level)
			now := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)

			_, err := sampleRecording().Save(context.Background(), SaveOptions{
				FS:       storage.NewLocal(),
				Root:     t.TempDir(),
				Notifier: &recordingNotifier{},
				Now:      func() time.Time { return now },
				Logger:   &logger,
			})
			require.NoError(t, err)
			if !tt.want {
				assert.Empty(t, logs.String())
				return
			}
			assert.Contains(t, logs.String(), `"level":"debug"`)
			assert.Contains(t, logs.String(), `"error":"`+assert.AnError.Error()+`"`)
			assert.Contains(t, logs.String(), `"identifier":"demo_app/2024_03_09_14_05_06"`)
			assert.Contains(t, logs.String(), "Viewer notification failed")
		})
	}
}

func TestRecording_SaveRequiresStorage(t *testing.T) {
	_, err := New("x").Save(context.Background(), SaveOptions{})
	assert.Error(t, err)
}

func TestRecording_Summary(t *testing.T) {
	s := sampleRecording().Summary()
	assert.Equal(t, 3, s.Calls)
	assert.Equal(t, 2, s.Markers)
	assert.Equal(t, 2, s.Statuses)
	assert.Equal(t, 2, s.Goroutines)
	assert.Equal(t, 350*time.Millisecond, s.Span)
	require.NotEmpty(t, s.TopSites)
	assert.Equal(t, "main.f", s.TopSites[0].Site.Name)
	assert.Equal(t, 350*time.Millisecond, s.TopSites[0].Duration)
}

func TestMarkerKind(t *testing.T) {
	for _, k := range []MarkerKind{MarkerInfo, MarkerWarn, MarkerDebug, MarkerError} {
		parsed, err := ParseMarkerKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseMarkerKind("loud")
	assert.Error(t, err)
	assert.Equal(t, "kind(42)", MarkerKind(42).String())
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 bytes", FormatBytes(512))
	assert.Equal(t, "2.0KB", FormatBytes(2*KB))
	assert.Equal(t, "1.5MB", FormatBytes(3*MB/2))
	assert.Equal(t, "3.0GB", FormatBytes(3*GB))
}
