package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_Notify(t *testing.T) {
	var gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(Config{Server: srv.URL + "/"}, zerolog.Nop())
	require.NoError(t, n.Notify(context.Background(), "my_app/2024_03_09_14_05_06"))
	assert.Equal(t, "/save/my_app/2024_03_09_14_05_06", gotPath.Load())
}

func TestNotifier_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(Config{Server: srv.URL, Retries: 2}, zerolog.Nop())
	require.NoError(t, n.Notify(context.Background(), "app/ts"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestNotifier_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	n := New(Config{Server: srv.URL, Retries: 3}, zerolog.Nop())
	err := n.Notify(context.Background(), "app/ts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNotifier_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	n := New(Config{Server: url}, zerolog.Nop())
	assert.Error(t, n.Notify(context.Background(), "app/ts"))
}

func TestNotifier_NoServer(t *testing.T) {
	n := New(Config{}, zerolog.Nop())
	assert.NoError(t, n.Notify(context.Background(), "app/ts"))
}

func TestNotifier_URL(t *testing.T) {
	n := New(Config{Server: "http://localhost:7777/"}, zerolog.Nop())
	assert.Equal(t, "http://localhost:7777/save/my%20app/2024", n.URL("my app/2024"))
}
