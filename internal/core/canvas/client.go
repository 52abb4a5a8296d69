// Package canvas lists and downloads course files from the Canvas LMS REST API.
package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tomnomnom/linkheader"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/coursebot/internal/core"
)

// ErrUnexpectedStatus is returned for any non-2xx Canvas response.
var ErrUnexpectedStatus = errors.New("canvas: unexpected status")

const (
	pageSize = 100
	// Canvas throttles per token; two requests a second stays well clear of it.
	defaultRate = 2
)

// Config holds the Canvas connection settings.
type Config struct {
	BaseURL  string
	APIKey   string
	CourseID string
	// HTTPClient is optional; a client with a 60s timeout is used when nil.
	HTTPClient *http.Client
	// RatePerSec caps outgoing requests; <= 0 uses the default.
	RatePerSec float64
}

// Client is a core.FileSource over one course.
type Client struct {
	http     *http.Client
	baseURL  string
	apiKey   string
	courseID string
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("canvas: API key is required")
	}
	if cfg.CourseID == "" {
		return nil, fmt.Errorf("canvas: course id is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRate
	}
	return &Client{
		http:     cfg.HTTPClient,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		courseID: cfg.CourseID,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		logger:   logger,
	}, nil
}

// Files yields every file of the course in listing order. Folder names are loaded once up front.
func (c *Client) Files(ctx context.Context) iter.Seq2[core.RemoteFile, error] {
	return func(yield func(core.RemoteFile, error) bool) {
		folders, err := c.folderNames(ctx)
		if err != nil {
			yield(nil, err)
			return
		}

		next := fmt.Sprintf("%s/api/v1/courses/%s/files?per_page=%d", c.baseURL, c.courseID, pageSize)
		for page := 1; next != ""; page++ {
			var files []apiFile
			next, err = c.getJSON(ctx, next, &files)
			if err != nil {
				yield(nil, fmt.Errorf("list files page %d: %w", page, err))
				return
			}
			c.logger.Debug("Canvas: files page", "page", page, "files", len(files))

			for i := range files {
				f := &File{meta: files[i], folder: folders[files[i].FolderID], client: c}
				if !yield(f, nil) {
					return
				}
			}
		}
	}
}

// folderNames maps folder id to its display path, with the leading "course " removed.
func (c *Client) folderNames(ctx context.Context) (map[int64]string, error) {
	names := make(map[int64]string)
	next := fmt.Sprintf("%s/api/v1/courses/%s/folders?per_page=%d", c.baseURL, c.courseID, pageSize)
	for next != "" {
		var folders []apiFolder
		var err error
		next, err = c.getJSON(ctx, next, &folders)
		if err != nil {
			return nil, fmt.Errorf("list folders: %w", err)
		}
		for _, f := range folders {
			names[f.ID] = strings.TrimPrefix(f.FullName, "course ")
		}
	}
	return names, nil
}

// getJSON decodes one page into out and returns the rel="next" URL, if any.
func (c *Client) getJSON(ctx context.Context, url string, out any) (string, error) {
	resp, err := c.do(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return "", fmt.Errorf("decode %s: %w", url, err)
	}

	for _, l := range linkheader.Parse(resp.Header.Get("Link")).FilterByRel("next") {
		return l.URL, nil
	}
	return "", nil
}

func (c *Client) do(ctx context.Context, url string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

var _ core.FileSource = (*Client)(nil)
