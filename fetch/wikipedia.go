// Package fetch retrieves Wikipedia pages for training.
//
// Information Hiding:
// - HTTP client implementation details hidden
// - Title normalization and cache file naming hidden behind Page
// - Pages written atomically, so the cache never holds a partial download

package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/richinex/markov/internal/errs"
)

// DefaultBaseURL is the Wikipedia REST endpoint serving page HTML.
const DefaultBaseURL = "https://en.wikipedia.org/api/rest_v1/page/html/"

const userAgent = "markov/1.0 (character-level text model)"

// Client downloads pages into an on-disk cache.
type Client struct {
	client   *http.Client
	baseURL  string
	cacheDir string
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client fetching from baseURL into cacheDir.
func New(baseURL, cacheDir string, timeout time.Duration, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errs.InvalidArgument("base URL must be absolute, got %q", baseURL)
	}
	if cacheDir == "" {
		return nil, errs.InvalidArgument("cache directory must not be empty")
	}
	if timeout <= 0 {
		return nil, errs.InvalidArgument("timeout must be positive, got %s", timeout)
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	c := &Client{
		client:   &http.Client{Timeout: timeout},
		baseURL:  baseURL,
		cacheDir: cacheDir,
		timeout:  timeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NormalizeTitle replaces spaces with underscores. Reports whether the
// title changed.
func NormalizeTitle(title string) (string, bool) {
	normalized := strings.ReplaceAll(strings.TrimSpace(title), " ", "_")
	return normalized, normalized != title
}

// CachePath returns where the page for a normalized title is stored.
func (c *Client) CachePath(title string) string {
	name := strings.ReplaceAll(strings.ToLower(title), "/", "_")
	return filepath.Join(c.cacheDir, "wikipedia_"+name+".txt")
}

// Result reports what Page did.
type Result struct {
	Title  string // Normalized title
	Path   string
	Cached bool // Already on disk, nothing downloaded
	Bytes  int
}

// Page makes sure the HTML for title is in the cache, downloading it if needed.
func (c *Client) Page(ctx context.Context, title string) (Result, error) {
	if strings.TrimSpace(title) == "" {
		return Result{}, errs.InvalidArgument("page title must not be empty")
	}

	normalized, changed := NormalizeTitle(title)
	if changed {
		c.logger.Warn("page title cannot contain spaces, replaced by underscores",
			"title", title, "used", normalized)
	}

	path := c.CachePath(normalized)
	if info, err := os.Stat(path); err == nil {
		c.logger.Info("page already saved", "title", normalized, "path", path)
		return Result{Title: normalized, Path: path, Cached: true, Bytes: int(info.Size())}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return Result{}, errs.Wrap(err, errs.CodeFetchFailed, "failed to stat cache file", errs.Field("path", path))
	}

	body, err := c.download(ctx, normalized)
	if err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return Result{}, errs.Wrap(err, errs.CodeFetchFailed, "failed to create cache directory", errs.Field("dir", c.cacheDir))
	}
	if err := atomic.WriteFile(path, bytes.NewReader(body)); err != nil {
		return Result{}, errs.Wrap(err, errs.CodeFetchFailed, "failed to write page", errs.Field("path", path))
	}

	c.logger.Info("page saved", "title", normalized, "path", path, "bytes", len(body))
	return Result{Title: normalized, Path: path, Bytes: len(body)}, nil
}

// PageAll fetches titles in order, stopping at the first error.
func (c *Client) PageAll(ctx context.Context, titles []string) ([]Result, error) {
	results := make([]Result, 0, len(titles))
	for _, title := range titles {
		r, err := c.Page(ctx, title)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

func (c *Client) download(ctx context.Context, title string) ([]byte, error) {
	endpoint := c.baseURL + url.PathEscape(title)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeFetchFailed, "failed to create request", errs.Field("url", endpoint))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errs.Wrap(err, errs.CodeFetchFailed,
				fmt.Sprintf("request timed out after %s", c.timeout), errs.Field("url", endpoint))
		}
		return nil, errs.Wrap(err, errs.CodeFetchFailed, "request failed", errs.Field("url", endpoint))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.New(errs.CodeFetchFailed,
			fmt.Sprintf("error getting page contents: status %s", resp.Status),
			errs.Field("url", endpoint), errs.Field("status", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeFetchFailed, "failed to read response body", errs.Field("url", endpoint))
	}
	return body, nil
}
