// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package jackett queries a Jackett indexer for candidate music releases and
// downloads torrent files.
package jackett

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"swarmchaser/internal/buildinfo"
	"swarmchaser/internal/releasename"
)

const maxTorrentDownloadBytes int64 = 16 << 20 // 16 MiB safety limit for torrent blobs

// CategoryAudioLossless is the Torznab category for lossless audio.
const CategoryAudioLossless = 3040

// DownloadError represents an HTTP error during torrent download.
// It preserves the status code for rate-limit detection and retry logic.
type DownloadError struct {
	StatusCode int
	URL        string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("torrent download from %s returned status %d", e.URL, e.StatusCode)
}

func (e *DownloadError) Is(target error) bool {
	_, ok := target.(*DownloadError)
	return ok
}

// IsRateLimited returns true if this error indicates rate limiting (HTTP 429).
func (e *DownloadError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Result is one usable search result: seeded, with a parseable title and
// publish date.
type Result struct {
	SourceID    int64
	ReleaseName string
	Artist      string
	Album       string
	Year        int
	DownloadURL string
	CreateDate  int64
	Size        int64
	Genres      []string
}

// Client talks to the Jackett aggregator for a single indexer.
type Client struct {
	baseURL    string
	apiKey     string
	tracker    string
	httpClient *http.Client
}

// NewClient creates a Jackett client for the given indexer.
func NewClient(baseURL, apiKey, tracker string, timeoutSeconds int) *Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		tracker:    strings.ToLower(tracker),
		httpClient: &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
	}
}

type searchResult struct {
	Title       string `json:"Title"`
	Guid        string `json:"Guid"`
	Link        string `json:"Link"`
	Seeders     int    `json:"Seeders"`
	PublishDate string `json:"PublishDate"`
	Size        int64  `json:"Size"`
	Tracker     string `json:"Tracker"`
}

// Search queries the indexer and converts the response into candidate
// results. Results with zero seeders, an unparsable title or an unrecognized
// publish date are silently skipped.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	endpoint, err := url.JoinPath(c.baseURL, "api", "v2.0", "indexers", c.tracker, "results")
	if err != nil {
		return nil, fmt.Errorf("build search url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	params := req.URL.Query()
	params.Set("apikey", c.apiKey)
	params.Set("Category", strconv.Itoa(CategoryAudioLossless))
	params.Set("Query", query)
	req.URL.RawQuery = params.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var payload map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	rawResults, ok := payload["Results"]
	if !ok {
		return nil, fmt.Errorf("search response has no Results field")
	}

	var results []searchResult
	if err := json.Unmarshal(rawResults, &results); err != nil {
		return nil, fmt.Errorf("decode search results: %w", err)
	}

	return c.convertResults(results), nil
}

func (c *Client) convertResults(raw []searchResult) []Result {
	results := make([]Result, 0, len(raw))
	for _, item := range raw {
		if item.Seeders <= 0 {
			continue
		}

		release, ok := releasename.Parse(item.Title)
		if !ok {
			continue
		}

		publishedAt, err := time.Parse(time.RFC3339, item.PublishDate)
		if err != nil {
			continue
		}

		sourceID, err := parseSourceID(item.Guid)
		if err != nil {
			log.Debug().Str("guid", item.Guid).Str("title", item.Title).Msg("Skipping result with unusable guid")
			continue
		}

		results = append(results, Result{
			SourceID:    sourceID,
			ReleaseName: item.Title,
			Artist:      release.Artist,
			Album:       release.Album,
			Year:        release.Year,
			DownloadURL: item.Link,
			CreateDate:  publishedAt.Unix(),
			Size:        item.Size,
			Genres:      release.Genres,
		})
	}

	return results
}

// parseSourceID extracts the source tracker's numeric topic id from the
// result guid, e.g. "https://tracker/forum/viewtopic.php?t=123456".
func parseSourceID(guid string) (int64, error) {
	parts := strings.Split(guid, "?t=")
	return strconv.ParseInt(parts[len(parts)-1], 10, 64)
}

// Download retrieves the raw torrent bytes for the provided download URL.
func (c *Client) Download(ctx context.Context, downloadURL string) ([]byte, error) {
	if strings.TrimSpace(downloadURL) == "" {
		return nil, fmt.Errorf("download URL is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	// Normalise relative URLs
	if !strings.HasPrefix(downloadURL, "http://") && !strings.HasPrefix(downloadURL, "https://") {
		downloadURL = c.baseURL + "/" + strings.TrimLeft(downloadURL, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("Accept", "application/x-bittorrent, application/octet-stream")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	// Ensure API key is present for links that require it
	if c.apiKey != "" && !strings.Contains(downloadURL, "apikey=") {
		query := req.URL.Query()
		query.Set("apikey", c.apiKey)
		req.URL.RawQuery = query.Encode()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("torrent download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &DownloadError{StatusCode: resp.StatusCode, URL: downloadURL}
	}

	limitedReader := io.LimitReader(resp.Body, maxTorrentDownloadBytes+1)
	data, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("read torrent body: %w", err)
	}
	if int64(len(data)) > maxTorrentDownloadBytes {
		return nil, fmt.Errorf("torrent download exceeded %d bytes limit", maxTorrentDownloadBytes)
	}

	return data, nil
}
