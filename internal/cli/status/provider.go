// Package status gathers and prints the state of the local stacktape
// environment: configuration, stored recordings and viewer reachability.
package status

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coral-mesh/stacktape/internal/cli/helpers"
	"github.com/coral-mesh/stacktape/internal/config"
)

// ApplicationInfo summarizes the stored recordings of one application.
type ApplicationInfo struct {
	Application string    `json:"application"`
	Recordings  int       `json:"recordings"`
	TotalBytes  int       `json:"total_bytes"`
	Latest      time.Time `json:"latest"`
	LatestPath  string    `json:"latest_path"`
}

// Info is the complete environment status.
type Info struct {
	ConfigPath   string            `json:"config_path"`
	Enabled      bool              `json:"enabled"`
	SampleDelay  string            `json:"sample_delay"`
	StatusDelay  string            `json:"status_delay"`
	Storage      string            `json:"storage"`
	Root         string            `json:"root"`
	Viewer       ViewerInfo        `json:"viewer"`
	Applications []ApplicationInfo `json:"applications"`
	StorageError string            `json:"storage_error,omitempty"`
}

// ViewerInfo describes the configured viewer.
type ViewerInfo struct {
	Server  string `json:"server"`
	Healthy bool   `json:"healthy"`
}

// Provider queries the environment.
type Provider struct {
	loader *config.Loader
	client *http.Client
}

// NewProvider creates a new status provider.
func NewProvider(loader *config.Loader) *Provider {
	return &Provider{
		loader: loader,
		client: &http.Client{Timeout: 2 * time.Second},
	}
}

// Query loads the configuration, then scans storage and probes the viewer
// concurrently. location overrides the configured storage.
func (p *Provider) Query(ctx context.Context, location string) (Info, error) {
	cfg, err := p.loader.Load()
	if err != nil {
		return Info{}, err
	}

	info := Info{
		ConfigPath:   p.loader.Path(),
		Enabled:      cfg.Enabled(),
		SampleDelay:  cfg.Sampling.SampleDelay.String(),
		StatusDelay:  cfg.Sampling.StatusDelay.String(),
		Storage:      cfg.Storage.URL,
		Viewer:       ViewerInfo{Server: cfg.Viewer.Server},
		Applications: []ApplicationInfo{},
	}
	if location != "" {
		info.Storage = location
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		store, err := helpers.OpenStore(cfg, location)
		if err != nil {
			info.StorageError = err.Error()
			return
		}
		defer func() { _ = store.Close() }()
		info.Root = store.Root

		entries, err := store.List(ctx, "")
		if err != nil {
			info.StorageError = err.Error()
			return
		}
		info.Applications = groupEntries(entries)
	}()
	go func() {
		defer wg.Done()
		info.Viewer.Healthy = p.CheckViewer(ctx, cfg.Viewer.Server)
	}()
	wg.Wait()

	return info, nil
}

// CheckViewer reports whether the viewer answers at server.
func (p *Provider) CheckViewer(ctx context.Context, server string) bool {
	if server == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// groupEntries folds a newest-first listing into per-application totals,
// sorted by application.
func groupEntries(entries []helpers.Entry) []ApplicationInfo {
	byApp := make(map[string]*ApplicationInfo)
	for _, e := range entries {
		a, ok := byApp[e.Application]
		if !ok {
			a = &ApplicationInfo{Application: e.Application}
			byApp[e.Application] = a
		}
		a.Recordings++
		a.TotalBytes += e.Bytes
		if e.Recorded.After(a.Latest) {
			a.Latest = e.Recorded
			a.LatestPath = e.Path
		}
	}

	apps := make([]ApplicationInfo, 0, len(byApp))
	for _, a := range byApp {
		apps = append(apps, *a)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Application < apps[j].Application })
	return apps
}
