// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package discogs resolves release candidates against the Discogs database.
package discogs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"swarmchaser/internal/buildinfo"
	"swarmchaser/internal/memocache"
)

const defaultBaseURL = "https://api.discogs.com"

// Artist is one credited artist on a release.
type Artist struct {
	Name string `json:"name"`
}

// Label is one label entry with its catalogue number.
type Label struct {
	Name  string `json:"name"`
	CatNo string `json:"catno"`
}

// Image is one release image.
type Image struct {
	Type string `json:"type"`
	URI  string `json:"uri"`
}

// Track is one tracklist entry.
type Track struct {
	Position string `json:"position"`
	Title    string `json:"title"`
	Duration string `json:"duration"`
}

// Format is one media format descriptor.
type Format struct {
	Name         string   `json:"name"`
	Descriptions []string `json:"descriptions"`
}

// Release is the subset of the Discogs release schema the pipeline uses.
type Release struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Year        int      `json:"year"`
	Country     string   `json:"country"`
	URI         string   `json:"uri"`
	ArtistsSort string   `json:"artists_sort"`
	Artists     []Artist `json:"artists"`
	Genres      []string `json:"genres"`
	Styles      []string `json:"styles"`
	Labels      []Label  `json:"labels"`
	Images      []Image  `json:"images"`
	Tracklist   []Track  `json:"tracklist"`
	Formats     []Format `json:"formats"`
}

// Client queries the Discogs REST API. Search lookups are memoized through
// the injected cache so repeated pipeline passes over the same records do not
// burn API quota.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	searchCache *memocache.Cache[SearchOutcome]
	release     *memocache.Cache[*Release]
}

// SearchOutcome is a memoized search result. Found is false when the query
// matched nothing; negative outcomes are cached too.
type SearchOutcome struct {
	ID    int64
	Found bool
}

// NewClient creates a Discogs client. baseURL may be empty to use the public
// API endpoint; a nil cache gets a fresh one.
func NewClient(baseURL, token string, searchCache *memocache.Cache[SearchOutcome]) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if searchCache == nil {
		searchCache = memocache.New[SearchOutcome]()
	}

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		searchCache: searchCache,
		release:     memocache.New[*Release](),
	}
}

func (c *Client) do(ctx context.Context, endpoint string, params url.Values, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if params != nil {
		req.URL.RawQuery = params.Encode()
	}
	req.Header.Set("Authorization", "Discogs token="+c.token)
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discogs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("discogs rate limit exceeded")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("discogs returned status %d for %s", resp.StatusCode, endpoint)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode discogs response: %w", err)
	}
	return nil
}

type searchResponse struct {
	Results []struct {
		ID int64 `json:"id"`
	} `json:"results"`
}

// Search looks the query up in the release database and returns the id of
// the first match. The boolean is false when the query matched nothing.
func (c *Client) Search(ctx context.Context, query string) (int64, bool, error) {
	if cached, ok := c.searchCache.Get(query); ok {
		return cached.ID, cached.Found, nil
	}

	params := url.Values{}
	params.Set("type", "release")
	params.Set("q", query)

	var payload searchResponse
	if err := c.do(ctx, "/database/search", params, &payload); err != nil {
		return 0, false, fmt.Errorf("search %q: %w", query, err)
	}

	outcome := SearchOutcome{}
	if len(payload.Results) > 0 {
		outcome = SearchOutcome{ID: payload.Results[0].ID, Found: true}
	}
	c.searchCache.Put(query, outcome)

	return outcome.ID, outcome.Found, nil
}

// ReleaseByID fetches the full release record.
func (c *Client) ReleaseByID(ctx context.Context, id int64) (*Release, error) {
	key := fmt.Sprintf("%d", id)
	if cached, ok := c.release.Get(key); ok {
		return cached, nil
	}

	var release Release
	if err := c.do(ctx, fmt.Sprintf("/releases/%d", id), nil, &release); err != nil {
		return nil, fmt.Errorf("fetch release %d: %w", id, err)
	}

	c.release.Put(key, &release)
	return &release, nil
}
