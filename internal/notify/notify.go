// Package notify tells the recording viewer that a new recording was saved.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/stacktape/internal/retry"
)

// DefaultTimeout bounds a single notification request.
const DefaultTimeout = 2 * time.Second

// Config configures a Notifier.
type Config struct {
	// Server is the viewer base URL, e.g. http://localhost:7777.
	Server string
	// Retries is the number of extra attempts after the first one.
	Retries int
	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration
	// Client overrides the HTTP client.
	Client *http.Client
}

// Notifier issues GET <server>/save/<identifier>.
type Notifier struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger
}

// New creates a Notifier.
func New(cfg Config, logger zerolog.Logger) *Notifier {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Notifier{
		cfg:    cfg,
		client: client,
		logger: logger.With().Str("component", "notifier").Logger(),
	}
}

// URL returns the notification URL for identifier.
func (n *Notifier) URL(identifier string) string {
	return strings.TrimRight(n.cfg.Server, "/") + "/save/" + escapePath(identifier)
}

func escapePath(identifier string) string {
	parts := strings.Split(identifier, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// Notify announces identifier to the viewer. Server errors and connection
// failures are retried; 4xx responses are not.
func (n *Notifier) Notify(ctx context.Context, identifier string) error {
	if n.cfg.Server == "" {
		return nil
	}
	target := n.URL(identifier)

	cfg := retry.Config{
		MaxRetries:     n.cfg.Retries + 1,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		Jitter:         0.2,
	}
	err := retry.Do(ctx, cfg, func() error {
		return n.get(ctx, target)
	}, nil)
	if err != nil {
		n.logger.Debug().Err(err).Str("url", target).Msg("Viewer notification failed")
		return err
	}
	n.logger.Debug().Str("url", target).Msg("Viewer notified")
	return nil
}

func (n *Notifier) get(ctx context.Context, target string) error {
	reqCtx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach viewer: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("viewer returned %s", resp.Status)
	case resp.StatusCode >= 400:
		return retry.Permanent(fmt.Errorf("viewer returned %s", resp.Status))
	}
	return nil
}
