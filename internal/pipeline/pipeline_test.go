// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/avast/retry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swarmchaser/internal/database"
	"swarmchaser/internal/models"
	"swarmchaser/internal/services/discogs"
	"swarmchaser/internal/services/jackett"
	"swarmchaser/internal/services/redacted"
	"swarmchaser/internal/torrentfile"
	"swarmchaser/pkg/bencode"
)

type fakeMetadata struct {
	matches     map[string]int64
	releases    map[int64]*discogs.Release
	searchErr   error
	searchCalls int
}

func (f *fakeMetadata) Search(_ context.Context, query string) (int64, bool, error) {
	f.searchCalls++
	if f.searchErr != nil {
		return 0, false, f.searchErr
	}
	id, ok := f.matches[query]
	return id, ok, nil
}

func (f *fakeMetadata) ReleaseByID(_ context.Context, id int64) (*discogs.Release, error) {
	release, ok := f.releases[id]
	if !ok {
		return nil, errors.New("no such release")
	}
	return release, nil
}

type fakeDupes struct {
	dupes map[string]bool
	err   error
	calls int
}

func (f *fakeDupes) Exists(_ context.Context, query string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.dupes[query], nil
}

type fakeSource struct {
	data  map[string][]byte
	err   error
	calls int
}

func (f *fakeSource) Download(_ context.Context, url string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	raw, ok := f.data[url]
	if !ok {
		return nil, errors.New("unknown download url")
	}
	return raw, nil
}

type fakeClient struct {
	existing  map[string]bool
	added     [][]byte
	addedOpts []map[string]string
	deleted   []string
	addErr    error
}

func (f *fakeClient) ExistingHashes(_ context.Context, hashes []string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, hash := range hashes {
		if f.existing[hash] {
			out[hash] = true
		}
	}
	return out, nil
}

func (f *fakeClient) AddTorrent(_ context.Context, data []byte, options map[string]string) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, data)
	f.addedOpts = append(f.addedOpts, options)
	return nil
}

func (f *fakeClient) DeleteTorrent(_ context.Context, hash string) error {
	f.deleted = append(f.deleted, hash)
	return nil
}

type fakePublisher struct {
	result      *redacted.UploadResult
	err         error
	calls       int
	gotFilename string
	gotTorrent  []byte
	gotRelease  *discogs.Release
}

func (f *fakePublisher) Publish(_ context.Context, release *discogs.Release, filename string, torrent []byte) (*redacted.UploadResult, error) {
	f.calls++
	f.gotRelease = release
	f.gotFilename = filename
	f.gotTorrent = torrent
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// testTorrent builds a minimal valid metainfo file.
func testTorrent(name string) []byte {
	return bencode.Encode(bencode.Dict{
		"announce": bencode.Bytes("http://source.example/announce"),
		"info": bencode.Dict{
			"name":         bencode.Bytes(name),
			"length":       bencode.Integer(1),
			"piece length": bencode.Integer(16384),
			"pieces":       bencode.Bytes("aaaaaaaaaaaaaaaaaaaa"),
		},
	})
}

type testEnv struct {
	pipeline  *Pipeline
	store     *models.ReleaseStore
	metadata  *fakeMetadata
	dupes     *fakeDupes
	source    *fakeSource
	client    *fakeClient
	publisher *fakePublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	env := &testEnv{
		store:     models.NewReleaseStore(db),
		metadata:  &fakeMetadata{matches: map[string]int64{}, releases: map[int64]*discogs.Release{}},
		dupes:     &fakeDupes{dupes: map[string]bool{}},
		source:    &fakeSource{data: map[string][]byte{}},
		client:    &fakeClient{existing: map[string]bool{}},
		publisher: &fakePublisher{result: &redacted.UploadResult{TorrentID: 555, GroupID: 42}},
	}

	rewriter := torrentfile.Rewriter{
		Announce: "https://dest.example/announce/key",
		Source:   "RED",
		Private:  true,
	}

	env.pipeline = New(env.store, env.metadata, env.dupes, env.source, env.client, env.publisher, rewriter)
	env.pipeline.now = func() time.Time { return time.Unix(1700000000, 0) }
	env.pipeline.retryOpts = []retry.Option{retry.Attempts(1), retry.LastErrorOnly(true)}

	return env
}

func testResult(sourceID int64) jackett.Result {
	return jackett.Result{
		SourceID:    sourceID,
		ReleaseName: "(Electronic) [FLAC] Boards of Canada - Music Has the Right to Children - 1998, WEB",
		Artist:      "Boards of Canada",
		Album:       "Music Has the Right to Children",
		Year:        1998,
		DownloadURL: "http://jackett/dl/" + strconv.FormatInt(sourceID, 10),
		CreateDate:  904608000,
		Size:        512 << 20,
		Genres:      []string{"electronic"},
	}
}

// seed inserts a release in the given status and returns it.
func (env *testEnv) seed(t *testing.T, sourceID int64, status models.Status) *models.Release {
	t.Helper()

	raw := testTorrent(fmt.Sprintf("album-%d", sourceID))
	infohash, err := torrentfile.InfohashFromMetainfo(raw)
	require.NoError(t, err)

	result := testResult(sourceID)
	env.source.data[result.DownloadURL] = raw

	release := &models.Release{
		SourceID:       result.SourceID,
		ReleaseName:    result.ReleaseName,
		Artist:         result.Artist,
		Album:          result.Album,
		Year:           result.Year,
		DownloadURL:    result.DownloadURL,
		CreateDate:     result.CreateDate + sourceID,
		Size:           result.Size,
		Genres:         result.Genres,
		SourceInfohash: infohash,
		Status:         status,
	}
	inserted, err := env.store.Insert(context.Background(), release)
	require.NoError(t, err)
	require.True(t, inserted)
	return release
}

func testMeta() *discogs.Release {
	return &discogs.Release{
		ID:          4026,
		Title:       "Music Has the Right to Children",
		Year:        1998,
		ArtistsSort: "Boards Of Canada",
		Artists:     []discogs.Artist{{Name: "Boards Of Canada"}},
		Genres:      []string{"Electronic"},
	}
}

func TestIngest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result := testResult(1)
	raw := testTorrent("album")
	env.source.data[result.DownloadURL] = raw

	inserted, err := env.pipeline.Ingest(ctx, []jackett.Result{result})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	tracked, err := env.store.ByStatus(ctx, models.StatusTracked)
	require.NoError(t, err)
	require.Len(t, tracked, 1)

	wantHash, err := torrentfile.InfohashFromMetainfo(raw)
	require.NoError(t, err)
	assert.Equal(t, wantHash, tracked[0].SourceInfohash)
	assert.Equal(t, models.StatusTracked, tracked[0].Status)

	// Re-ingesting the same result is a no-op and does not refetch.
	downloads := env.source.calls
	inserted, err = env.pipeline.Ingest(ctx, []jackett.Result{result})
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.Equal(t, downloads, env.source.calls)
}

func TestIngestSkipsFailedDownload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	good := testResult(1)
	env.source.data[good.DownloadURL] = testTorrent("album")

	bad := testResult(2)
	// no payload registered for bad.DownloadURL

	inserted, err := env.pipeline.Ingest(ctx, []jackett.Result{bad, good})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	tracked, err := env.store.ByStatus(ctx, models.StatusTracked)
	require.NoError(t, err)
	require.Len(t, tracked, 1)
	assert.Equal(t, int64(1), tracked[0].SourceID)
}

func TestRefreshEligibilityNoMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	release := env.seed(t, 1, models.StatusTracked)

	require.NoError(t, env.pipeline.RefreshEligibility(ctx))

	got, err := env.store.ByID(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIneligible, got.Status)
	assert.Zero(t, got.DiscogsReleaseID)
}

func TestRefreshEligibilityMatchNoDuplicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	release := env.seed(t, 1, models.StatusTracked)
	env.metadata.matches[release.SearchQuery()] = 4026
	env.metadata.releases[4026] = testMeta()

	require.NoError(t, env.pipeline.RefreshEligibility(ctx))

	got, err := env.store.ByID(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEligible, got.Status)
	assert.Equal(t, int64(4026), got.DiscogsReleaseID)
	assert.NotEmpty(t, got.DiscogsReleaseJSON)
	assert.Equal(t, int64(1700000000), got.LastUpdated)
}

func TestRefreshEligibilityDuplicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	release := env.seed(t, 1, models.StatusTracked)
	env.metadata.matches[release.SearchQuery()] = 4026
	env.metadata.releases[4026] = testMeta()
	env.dupes.dupes[release.SearchQuery()] = true

	require.NoError(t, env.pipeline.RefreshEligibility(ctx))

	got, err := env.store.ByID(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIneligible, got.Status)
	assert.Equal(t, int64(4026), got.DiscogsReleaseID, "metadata is kept even for duplicates")
	assert.NotEmpty(t, got.DiscogsReleaseJSON)
}

func TestRefreshEligibilityNoArtists(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	release := env.seed(t, 1, models.StatusTracked)
	meta := testMeta()
	meta.Artists = nil
	env.metadata.matches[release.SearchQuery()] = 4026
	env.metadata.releases[4026] = meta

	require.NoError(t, env.pipeline.RefreshEligibility(ctx))

	got, err := env.store.ByID(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIneligible, got.Status)
	assert.Zero(t, env.dupes.calls, "duplicate check is skipped for unusable metadata")
}

func TestRefreshEligibilityRemoteErrorLeavesTracked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	release := env.seed(t, 1, models.StatusTracked)
	env.metadata.searchErr = errors.New("metadata service down")

	require.NoError(t, env.pipeline.RefreshEligibility(ctx))

	got, err := env.store.ByID(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTracked, got.Status)
}

func TestRefreshEligibilityIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	release := env.seed(t, 1, models.StatusTracked)
	env.metadata.matches[release.SearchQuery()] = 4026
	env.metadata.releases[4026] = testMeta()

	require.NoError(t, env.pipeline.RefreshEligibility(ctx))
	searches := env.metadata.searchCalls

	// Second pass has nothing tracked left to look at.
	require.NoError(t, env.pipeline.RefreshEligibility(ctx))
	assert.Equal(t, searches, env.metadata.searchCalls)

	got, err := env.store.ByID(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEligible, got.Status)
}

func TestDownloadEligible(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	fresh := env.seed(t, 1, models.StatusEligible)
	loaded := env.seed(t, 2, models.StatusEligible)
	env.client.existing[loaded.SourceInfohash] = true

	require.NoError(t, env.pipeline.DownloadEligible(ctx))

	got, err := env.store.ByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloaded, got.Status)

	got, err = env.store.ByID(ctx, loaded.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEligible, got.Status, "torrents already in the client stay eligible")

	require.Len(t, env.client.added, 1)
}

func TestDownloadEligibleClientErrorLeavesEligible(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	release := env.seed(t, 1, models.StatusEligible)
	env.client.addErr = errors.New("client unreachable")

	require.NoError(t, env.pipeline.DownloadEligible(ctx))

	got, err := env.store.ByID(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEligible, got.Status)
}

func seedDownloaded(t *testing.T, env *testEnv, sourceID int64) *models.Release {
	t.Helper()

	release := env.seed(t, sourceID, models.StatusDownloaded)
	metaJSON := []byte(`{"id":4026,"title":"Music Has the Right to Children","year":1998,"artists_sort":"Boards Of Canada","artists":[{"name":"Boards Of Canada"}]}`)
	release.DiscogsReleaseID = 4026
	release.DiscogsReleaseJSON = metaJSON
	require.NoError(t, env.store.Update(context.Background(), release))
	return release
}

func TestPublishDownloaded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	release := seedDownloaded(t, env, 1)

	require.NoError(t, env.pipeline.PublishDownloaded(ctx, PublishOptions{}))

	got, err := env.store.ByID(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploaded, got.Status)
	require.NotEmpty(t, got.TargetInfohash)
	assert.NotEqual(t, got.SourceInfohash, got.TargetInfohash)

	require.Equal(t, 1, env.publisher.calls)
	assert.Equal(t, "Boards of Canada - Music Has the Right to Children - 1998.torrent", env.publisher.gotFilename)
	assert.Equal(t, "Boards Of Canada", env.publisher.gotRelease.ArtistsSort)

	// The uploaded payload matches the rewriter's output.
	wantBytes, wantHash, err := env.pipeline.rewriter.Rewrite(env.source.data[release.DownloadURL], env.pipeline.now())
	require.NoError(t, err)
	assert.Equal(t, wantBytes, env.publisher.gotTorrent)
	assert.Equal(t, wantHash, got.TargetInfohash)

	// Housekeeping: rewritten torrent seeded, source torrent removed.
	require.Len(t, env.client.added, 1)
	assert.Equal(t, wantBytes, env.client.added[0])
	assert.Equal(t, map[string]string{"tags": "swarmchaser-upload"}, env.client.addedOpts[0])
	assert.Equal(t, []string{release.SourceInfohash}, env.client.deleted)
}

func TestPublishFailureStaysDownloaded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	release := seedDownloaded(t, env, 1)
	env.publisher.err = errors.New("upload rejected: dupe")

	require.NoError(t, env.pipeline.PublishDownloaded(ctx, PublishOptions{}))

	got, err := env.store.ByID(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloaded, got.Status)
	assert.Empty(t, got.TargetInfohash)
	assert.Empty(t, env.client.deleted)
}

func TestPublishDownloadedLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := seedDownloaded(t, env, 1)
	second := seedDownloaded(t, env, 2)

	require.NoError(t, env.pipeline.PublishDownloaded(ctx, PublishOptions{Limit: 1}))

	got, err := env.store.ByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploaded, got.Status, "oldest record publishes first")

	got, err = env.store.ByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloaded, got.Status)
}

func TestPublishByID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	release := seedDownloaded(t, env, 1)

	require.NoError(t, env.pipeline.PublishDownloaded(ctx, PublishOptions{ID: release.ID}))

	got, err := env.store.ByID(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploaded, got.Status)
}

func TestPublishByIDRequiresDownloaded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	release := env.seed(t, 1, models.StatusTracked)

	err := env.pipeline.PublishDownloaded(ctx, PublishOptions{ID: release.ID})
	assert.ErrorIs(t, err, ErrNotDownloaded)
}

func TestPublishWithoutMetadataStaysDownloaded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	release := env.seed(t, 1, models.StatusDownloaded)

	require.NoError(t, env.pipeline.PublishDownloaded(ctx, PublishOptions{}))

	got, err := env.store.ByID(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloaded, got.Status)
	assert.Zero(t, env.publisher.calls)
}
