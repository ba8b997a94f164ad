// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package jackett

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchResponse = `{
	"Results": [
		{
			"Title": "(Electronic) [FLAC] Boards of Canada - Music Has the Right to Children - 1998, WEB",
			"Guid": "https://example.org/forum/viewtopic.php?t=123456",
			"Link": "https://jackett.local/dl/123456",
			"Seeders": 4,
			"PublishDate": "2024-03-01T10:00:00Z",
			"Size": 412090368,
			"Tracker": "rutracker"
		},
		{
			"Title": "(Rock) [FLAC] Unseeded Band - Dead Album - 2001, CD",
			"Guid": "https://example.org/forum/viewtopic.php?t=222",
			"Link": "https://jackett.local/dl/222",
			"Seeders": 0,
			"PublishDate": "2024-03-01T10:00:00Z",
			"Size": 100
		},
		{
			"Title": "Some Random Release Without Structure",
			"Guid": "https://example.org/forum/viewtopic.php?t=333",
			"Link": "https://jackett.local/dl/333",
			"Seeders": 9,
			"PublishDate": "2024-03-01T10:00:00Z",
			"Size": 100
		},
		{
			"Title": "(Jazz) [FLAC] Artist - Album - 2020, CD",
			"Guid": "https://example.org/forum/viewtopic.php?t=444",
			"Link": "https://jackett.local/dl/444",
			"Seeders": 2,
			"PublishDate": "not a date",
			"Size": 100
		},
		{
			"Title": "(Jazz) [FLAC] Artist - Album - 2020, CD",
			"Guid": "https://example.org/forum/viewtopic.php",
			"Link": "https://jackett.local/dl/555",
			"Seeders": 2,
			"PublishDate": "2024-03-01T10:00:00Z",
			"Size": 100
		}
	]
}`

func TestSearchFiltersUnusableResults(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("Query")
		assert.Equal(t, "secret", r.URL.Query().Get("apikey"))
		assert.Equal(t, "3040", r.URL.Query().Get("Category"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchResponse))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", "rutracker", 5)
	results, err := client.Search(context.Background(), "FLAC 1998")
	require.NoError(t, err)

	assert.Equal(t, "/api/v2.0/indexers/rutracker/results", gotPath)
	assert.Equal(t, "FLAC 1998", gotQuery)

	require.Len(t, results, 1, "unseeded, unparsable and undated results are skipped")
	got := results[0]
	assert.Equal(t, int64(123456), got.SourceID)
	assert.Equal(t, "Boards of Canada", got.Artist)
	assert.Equal(t, "Music Has the Right to Children", got.Album)
	assert.Equal(t, 1998, got.Year)
	assert.Equal(t, "https://jackett.local/dl/123456", got.DownloadURL)
	assert.Equal(t, int64(1709287200), got.CreateDate)
	assert.Equal(t, int64(412090368), got.Size)
	assert.Equal(t, []string{"electronic"}, got.Genres)
}

func TestSearchMissingResultsField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": "indexer unavailable"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", "rutracker", 5)
	_, err := client.Search(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Results")
}

func TestSearchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", "rutracker", 5)
	_, err := client.Search(context.Background(), "anything")
	assert.Error(t, err)
}

func TestDownload(t *testing.T) {
	payload := []byte("d4:infod4:name1:aee")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("apikey"))
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", "rutracker", 5)
	data, err := client.Download(context.Background(), srv.URL+"/dl/1")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestDownloadRelativeURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dl/42", r.URL.Path)
		_, _ = w.Write([]byte("torrent"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", "rutracker", 5)
	data, err := client.Download(context.Background(), "/dl/42")
	require.NoError(t, err)
	assert.Equal(t, []byte("torrent"), data)
}

func TestDownloadStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", "rutracker", 5)
	_, err := client.Download(context.Background(), srv.URL+"/dl/1")
	require.Error(t, err)

	var dlErr *DownloadError
	require.True(t, errors.As(err, &dlErr))
	assert.True(t, dlErr.IsRateLimited())
	assert.Equal(t, http.StatusTooManyRequests, dlErr.StatusCode)
}

func TestDownloadEmptyURL(t *testing.T) {
	client := NewClient("http://localhost", "secret", "rutracker", 5)
	_, err := client.Download(context.Background(), "  ")
	assert.Error(t, err)
}

func TestParseSourceID(t *testing.T) {
	id, err := parseSourceID("https://example.org/forum/viewtopic.php?t=98765")
	require.NoError(t, err)
	assert.Equal(t, int64(98765), id)

	_, err = parseSourceID("https://example.org/forum/viewtopic.php")
	assert.Error(t, err)
}
