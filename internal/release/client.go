// Package release queries the update feed for the latest published build.
package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"spese-desktop/internal/core"
	xhttp "spese-desktop/internal/http"
	"spese-desktop/internal/log"
)

const maxFeedBytes = 4 << 20

// feedRelease is the JSON document served by the release feed.
type feedRelease struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
		Size               int64  `json:"size"`
	} `json:"assets"`
}

type Config struct {
	FeedURL      string
	ProbeURL     string
	ProbeTimeout time.Duration
}

// Client checks the release feed. Releases are never cached.
type Client struct {
	cfg    Config
	http   *xhttp.Client
	logger *log.Logger
}

func NewClient(cfg Config, httpClient *xhttp.Client, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.WithComponent(log.ComponentRelease),
	}
}

// Check returns the latest release when its tag differs from
// currentVersion, or nil when the installation is up to date. Tags are
// compared as plain strings: any difference counts as an update.
//
// When the probe host is unreachable Check fails fast with core.ErrOffline
// and the feed is not queried.
func (c *Client) Check(ctx context.Context, currentVersion string) (*core.Release, error) {
	start := time.Now()

	if err := c.Probe(ctx); err != nil {
		c.logger.WarnContext(ctx, "Connectivity probe failed",
			log.NewFields().
				WithOperation(log.OpProbe).
				WithError(err).
				WithErrorType(log.ErrorTypeNetwork).
				ToSlice()...)
		return nil, fmt.Errorf("%w: %w", core.ErrOffline, err)
	}

	rel, err := c.Latest(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "Release check failed",
			log.NewFields().
				WithOperation(log.OpCheck).
				WithError(err).
				WithResult(time.Since(start).Milliseconds(), false).
				ToSlice()...)
		return nil, err
	}

	if rel.Tag == currentVersion {
		c.logger.InfoContext(ctx, "Installation is up to date", log.FieldVersion, currentVersion)
		return nil, nil
	}

	c.logger.InfoContext(ctx, "Update available",
		log.NewFields().
			WithOperation(log.OpCheck).
			WithVersions(currentVersion, rel.Tag).
			WithResult(time.Since(start).Milliseconds(), true).
			ToSlice()...)
	return rel, nil
}

// Probe sends a HEAD request to the probe host.
func (c *Client) Probe(ctx context.Context) error {
	return c.http.Head(ctx, c.cfg.ProbeURL, c.cfg.ProbeTimeout)
}

// Latest fetches and decodes the feed document.
func (c *Client) Latest(ctx context.Context) (*core.Release, error) {
	resp, err := c.http.Get(ctx, c.cfg.FeedURL, "application/json")
	if err != nil {
		var serr *xhttp.StatusError
		if errors.As(err, &serr) {
			return nil, fmt.Errorf("%w: %w", core.ErrFeed, err)
		}
		return nil, fmt.Errorf("%w: fetch release feed: %w", core.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read release feed: %w", core.ErrNetwork, err)
	}

	var doc feedRelease
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode release feed: %w", core.ErrFeed, err)
	}

	rel := &core.Release{Tag: doc.TagName}
	for _, a := range doc.Assets {
		rel.Assets = append(rel.Assets, core.Asset{
			Name:        a.Name,
			DownloadURL: a.BrowserDownloadURL,
			Size:        a.Size,
		})
	}
	if err := rel.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrFeed, err)
	}
	return rel, nil
}
