// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package redacted talks to the destination Gazelle tracker: duplicate
// detection via the browse endpoint and torrent publication via the upload
// endpoint.
package redacted

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"swarmchaser/internal/buildinfo"
	"swarmchaser/internal/memocache"
	"swarmchaser/internal/services/discogs"
)

const defaultBaseURL = "https://redacted.sh/ajax.php"

// UploadResult identifies the torrent created by a successful upload.
type UploadResult struct {
	TorrentID int64
	GroupID   int64
}

// Client is an authenticated Gazelle API client.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	existsCache *memocache.Cache[int]
}

// NewClient creates a tracker client. baseURL may be empty to use the
// default endpoint; a nil cache gets a fresh one.
func NewClient(baseURL, apiKey string, existsCache *memocache.Cache[int]) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if existsCache == nil {
		existsCache = memocache.New[int]()
	}

	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		existsCache: existsCache,
	}
}

type browseResponse struct {
	Status   string `json:"status"`
	Response struct {
		Results []json.RawMessage `json:"results"`
	} `json:"response"`
}

// Exists reports whether the tracker already carries at least one torrent
// matching the search query. Results are memoized per process.
func (c *Client) Exists(ctx context.Context, query string) (bool, error) {
	if count, ok := c.existsCache.Get(query); ok {
		return count > 0, nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	params := url.Values{}
	params.Set("action", "browse")
	params.Set("searchstr", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("build browse request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("browse request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("browse returned status %d", resp.StatusCode)
	}

	var payload browseResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, fmt.Errorf("decode browse response: %w", err)
	}
	if payload.Status != "success" {
		return false, fmt.Errorf("browse returned status %q", payload.Status)
	}

	count := len(payload.Response.Results)
	c.existsCache.Put(query, count)
	return count > 0, nil
}

type uploadResponse struct {
	Status   string `json:"status"`
	Error    string `json:"error"`
	Response struct {
		TorrentID int64 `json:"torrentid"`
		GroupID   int64 `json:"groupid"`
	} `json:"response"`
}

// Publish uploads a torrent with album metadata derived from the release
// record.
func (c *Client) Publish(ctx context.Context, release *discogs.Release, filename string, torrent []byte) (*UploadResult, error) {
	if release == nil {
		return nil, fmt.Errorf("release metadata is required")
	}
	if len(torrent) == 0 {
		return nil, fmt.Errorf("torrent payload is empty")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	filePart, err := writer.CreateFormFile("file_input", filename)
	if err != nil {
		return nil, fmt.Errorf("create torrent form file: %w", err)
	}
	if _, err := filePart.Write(torrent); err != nil {
		return nil, fmt.Errorf("write torrent payload: %w", err)
	}

	if err := BuildAlbumParams(release).writeTo(writer); err != nil {
		return nil, fmt.Errorf("write upload fields: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"?action=upload", &body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upload returned status %d", resp.StatusCode)
	}

	var payload uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if payload.Status != "success" {
		reason := payload.Error
		if strings.TrimSpace(reason) == "" {
			reason = payload.Status
		}
		return nil, fmt.Errorf("upload rejected: %s", reason)
	}

	return &UploadResult{
		TorrentID: payload.Response.TorrentID,
		GroupID:   payload.Response.GroupID,
	}, nil
}
