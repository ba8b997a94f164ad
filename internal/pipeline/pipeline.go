// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pipeline drives release candidates through their lifecycle:
// tracked, eligible, downloaded, uploaded, with ineligible as the dead end.
// Transitions are forward-only and every pass over a batch is idempotent;
// a failure on one record never stops the rest of the batch.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"swarmchaser/internal/models"
	"swarmchaser/internal/services/discogs"
	"swarmchaser/internal/services/jackett"
	"swarmchaser/internal/services/redacted"
	"swarmchaser/internal/torrentfile"
)

// MetadataProvider resolves a search query to a release record.
type MetadataProvider interface {
	Search(ctx context.Context, query string) (int64, bool, error)
	ReleaseByID(ctx context.Context, id int64) (*discogs.Release, error)
}

// DuplicateChecker reports whether the destination tracker already carries a
// matching torrent.
type DuplicateChecker interface {
	Exists(ctx context.Context, query string) (bool, error)
}

// TorrentSource fetches raw torrent bytes from the search provider.
type TorrentSource interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// DownloadClient is the local torrent client.
type DownloadClient interface {
	ExistingHashes(ctx context.Context, hashes []string) (map[string]bool, error)
	AddTorrent(ctx context.Context, data []byte, options map[string]string) error
	DeleteTorrent(ctx context.Context, hash string) error
}

// Publisher uploads a rewritten torrent to the destination tracker.
type Publisher interface {
	Publish(ctx context.Context, release *discogs.Release, filename string, torrent []byte) (*redacted.UploadResult, error)
}

// uploadTag marks republished torrents in the download client.
const uploadTag = "swarmchaser-upload"

// Pipeline owns the state machine. Collaborators are injected so tests can
// run it against fakes.
type Pipeline struct {
	store     *models.ReleaseStore
	metadata  MetadataProvider
	dupes     DuplicateChecker
	source    TorrentSource
	client    DownloadClient
	publisher Publisher
	rewriter  torrentfile.Rewriter

	now       func() time.Time
	retryOpts []retry.Option
}

// New constructs a pipeline over the given collaborators.
func New(
	store *models.ReleaseStore,
	metadata MetadataProvider,
	dupes DuplicateChecker,
	source TorrentSource,
	client DownloadClient,
	publisher Publisher,
	rewriter torrentfile.Rewriter,
) *Pipeline {
	return &Pipeline{
		store:     store,
		metadata:  metadata,
		dupes:     dupes,
		source:    source,
		client:    client,
		publisher: publisher,
		rewriter:  rewriter,
		now:       time.Now,
		retryOpts: []retry.Option{
			retry.Attempts(3),
			retry.Delay(2 * time.Second),
			retry.LastErrorOnly(true),
		},
	}
}

// withRetry wraps one remote call with bounded retries. The last error is
// returned unwrapped so typed errors survive.
func (p *Pipeline) withRetry(ctx context.Context, fn func() error) error {
	opts := append([]retry.Option{retry.Context(ctx)}, p.retryOpts...)
	return retry.Do(fn, opts...)
}

// Ingest records new search results as tracked candidates. Results whose
// source id is already tracked are skipped; the source torrent is fetched
// once here so the record carries its infohash for later client dedup.
// Returns the number of newly tracked records.
func (p *Pipeline) Ingest(ctx context.Context, results []jackett.Result) (int, error) {
	var inserted int
	for _, result := range results {
		exists, err := p.store.ExistsBySourceID(ctx, result.SourceID)
		if err != nil {
			return inserted, fmt.Errorf("check source id %d: %w", result.SourceID, err)
		}
		if exists {
			continue
		}

		var raw []byte
		err = p.withRetry(ctx, func() error {
			var dlErr error
			raw, dlErr = p.source.Download(ctx, result.DownloadURL)
			return dlErr
		})
		if err != nil {
			log.Warn().Err(err).Int64("sourceID", result.SourceID).Str("release", result.ReleaseName).Msg("Failed to fetch source torrent, skipping result")
			continue
		}

		infohash, err := torrentfile.InfohashFromMetainfo(raw)
		if err != nil {
			log.Warn().Err(err).Int64("sourceID", result.SourceID).Str("release", result.ReleaseName).Msg("Source torrent unusable, skipping result")
			continue
		}

		release := &models.Release{
			SourceID:       result.SourceID,
			ReleaseName:    result.ReleaseName,
			Artist:         result.Artist,
			Album:          result.Album,
			Year:           result.Year,
			DownloadURL:    result.DownloadURL,
			CreateDate:     result.CreateDate,
			Size:           result.Size,
			Genres:         result.Genres,
			SourceInfohash: infohash,
			LastUpdated:    p.now().Unix(),
			Status:         models.StatusTracked,
		}

		ok, err := p.store.Insert(ctx, release)
		if err != nil {
			return inserted, fmt.Errorf("insert release %d: %w", result.SourceID, err)
		}
		if ok {
			inserted++
			log.Info().Int64("sourceID", result.SourceID).Str("release", result.ReleaseName).Msg("Tracking new release")
		}
	}

	return inserted, nil
}

// RefreshEligibility re-evaluates every tracked record against the metadata
// database and the destination tracker. A record with no metadata match, an
// empty artist list or an existing duplicate becomes ineligible; a matched
// record with no duplicate becomes eligible. Remote failures leave the
// record tracked for the next pass.
func (p *Pipeline) RefreshEligibility(ctx context.Context) error {
	releases, err := p.store.ByStatus(ctx, models.StatusTracked)
	if err != nil {
		return fmt.Errorf("load tracked releases: %w", err)
	}

	for _, release := range releases {
		if err := p.refreshOne(ctx, release); err != nil {
			log.Warn().Err(err).Int64("id", release.ID).Str("release", release.ReleaseName).Msg("Eligibility check failed, leaving record tracked")
		}
	}
	return nil
}

func (p *Pipeline) refreshOne(ctx context.Context, release *models.Release) error {
	query := release.SearchQuery()

	var (
		discogsID int64
		found     bool
	)
	err := p.withRetry(ctx, func() error {
		var searchErr error
		discogsID, found, searchErr = p.metadata.Search(ctx, query)
		return searchErr
	})
	if err != nil {
		return fmt.Errorf("metadata search: %w", err)
	}

	if !found {
		release.Status = models.StatusIneligible
		log.Info().Int64("id", release.ID).Str("release", release.ReleaseName).Msg("No metadata match, marking ineligible")
		return p.store.Update(ctx, release)
	}

	var meta *discogs.Release
	err = p.withRetry(ctx, func() error {
		var fetchErr error
		meta, fetchErr = p.metadata.ReleaseByID(ctx, discogsID)
		return fetchErr
	})
	if err != nil {
		return fmt.Errorf("metadata fetch %d: %w", discogsID, err)
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	release.DiscogsReleaseID = discogsID
	release.DiscogsReleaseJSON = metaJSON
	release.LastUpdated = p.now().Unix()

	// A record without credited artists cannot be uploaded.
	if len(meta.Artists) == 0 {
		release.Status = models.StatusIneligible
		log.Info().Int64("id", release.ID).Int64("discogsID", discogsID).Msg("Metadata has no artists, marking ineligible")
		return p.store.Update(ctx, release)
	}

	var duplicate bool
	err = p.withRetry(ctx, func() error {
		var dupErr error
		duplicate, dupErr = p.dupes.Exists(ctx, query)
		return dupErr
	})
	if err != nil {
		return fmt.Errorf("duplicate check: %w", err)
	}

	if duplicate {
		release.Status = models.StatusIneligible
		log.Info().Int64("id", release.ID).Str("release", release.ReleaseName).Msg("Already on destination tracker, marking ineligible")
	} else {
		release.Status = models.StatusEligible
		log.Info().Int64("id", release.ID).Str("release", release.ReleaseName).Int64("discogsID", discogsID).Msg("Release is eligible")
	}

	return p.store.Update(ctx, release)
}

// DownloadEligible hands every eligible record's source torrent to the
// download client. Records whose infohash is already loaded are left
// eligible; successfully added records move to downloaded.
func (p *Pipeline) DownloadEligible(ctx context.Context) error {
	releases, err := p.store.ByStatus(ctx, models.StatusEligible)
	if err != nil {
		return fmt.Errorf("load eligible releases: %w", err)
	}
	if len(releases) == 0 {
		return nil
	}

	hashes := make([]string, 0, len(releases))
	for _, release := range releases {
		hashes = append(hashes, release.SourceInfohash)
	}

	existing, err := p.client.ExistingHashes(ctx, hashes)
	if err != nil {
		return fmt.Errorf("query download client: %w", err)
	}

	for _, release := range releases {
		if existing[release.SourceInfohash] {
			log.Debug().Int64("id", release.ID).Str("infohash", release.SourceInfohash).Msg("Torrent already in client, leaving record eligible")
			continue
		}

		if err := p.downloadOne(ctx, release); err != nil {
			log.Warn().Err(err).Int64("id", release.ID).Str("release", release.ReleaseName).Msg("Download failed, leaving record eligible")
		}
	}
	return nil
}

func (p *Pipeline) downloadOne(ctx context.Context, release *models.Release) error {
	var raw []byte
	err := p.withRetry(ctx, func() error {
		var dlErr error
		raw, dlErr = p.source.Download(ctx, release.DownloadURL)
		return dlErr
	})
	if err != nil {
		return fmt.Errorf("fetch source torrent: %w", err)
	}

	if err := p.client.AddTorrent(ctx, raw, nil); err != nil {
		return fmt.Errorf("add to client: %w", err)
	}

	release.Status = models.StatusDownloaded
	release.LastUpdated = p.now().Unix()
	log.Info().Int64("id", release.ID).Str("release", release.ReleaseName).Msg("Source torrent handed to download client")
	return p.store.Update(ctx, release)
}

// PublishOptions narrows a publish pass.
type PublishOptions struct {
	// ID publishes a single record instead of the downloaded batch.
	ID int64
	// Limit caps the batch size; zero means no cap.
	Limit int
}

// ErrNotDownloaded is returned when a single-record publish targets a record
// outside the downloaded status.
var ErrNotDownloaded = errors.New("release is not in downloaded status")

// PublishDownloaded rewrites and uploads downloaded records. A successful
// upload moves the record to uploaded, seeds the rewritten torrent in the
// download client and removes the source torrent; a failed upload leaves the
// record downloaded for a later pass.
func (p *Pipeline) PublishDownloaded(ctx context.Context, opts PublishOptions) error {
	var releases []*models.Release

	if opts.ID != 0 {
		release, err := p.store.ByID(ctx, opts.ID)
		if err != nil {
			return err
		}
		if release.Status != models.StatusDownloaded {
			return fmt.Errorf("%w: release %d is %s", ErrNotDownloaded, release.ID, release.Status)
		}
		releases = []*models.Release{release}
	} else {
		var err error
		releases, err = p.store.ByStatus(ctx, models.StatusDownloaded)
		if err != nil {
			return fmt.Errorf("load downloaded releases: %w", err)
		}
		if opts.Limit > 0 && len(releases) > opts.Limit {
			releases = releases[:opts.Limit]
		}
	}

	for _, release := range releases {
		if err := p.publishOne(ctx, release); err != nil {
			log.Warn().Err(err).Int64("id", release.ID).Str("release", release.ReleaseName).Msg("Publish failed, leaving record downloaded")
		}
	}
	return nil
}

func (p *Pipeline) publishOne(ctx context.Context, release *models.Release) error {
	if len(release.DiscogsReleaseJSON) == 0 {
		return fmt.Errorf("release %d has no stored metadata", release.ID)
	}
	var meta discogs.Release
	if err := json.Unmarshal(release.DiscogsReleaseJSON, &meta); err != nil {
		return fmt.Errorf("decode stored metadata: %w", err)
	}

	var raw []byte
	err := p.withRetry(ctx, func() error {
		var dlErr error
		raw, dlErr = p.source.Download(ctx, release.DownloadURL)
		return dlErr
	})
	if err != nil {
		return fmt.Errorf("fetch source torrent: %w", err)
	}

	rewritten, targetInfohash, err := p.rewriter.Rewrite(raw, p.now())
	if err != nil {
		return fmt.Errorf("rewrite torrent: %w", err)
	}

	filename := release.SearchQuery() + ".torrent"
	result, err := p.publisher.Publish(ctx, &meta, filename, rewritten)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	release.Status = models.StatusUploaded
	release.TargetInfohash = targetInfohash
	release.LastUpdated = p.now().Unix()
	if err := p.store.Update(ctx, release); err != nil {
		return fmt.Errorf("persist uploaded status: %w", err)
	}

	log.Info().
		Int64("id", release.ID).
		Str("release", release.ReleaseName).
		Int64("torrentID", result.TorrentID).
		Int64("groupID", result.GroupID).
		Str("infohash", targetInfohash).
		Msg("Release uploaded")

	// Best-effort client housekeeping: the upload already happened, so
	// failures here only warn.
	if err := p.client.AddTorrent(ctx, rewritten, map[string]string{"tags": uploadTag}); err != nil {
		log.Warn().Err(err).Int64("id", release.ID).Msg("Failed to seed rewritten torrent")
	}
	if err := p.client.DeleteTorrent(ctx, release.SourceInfohash); err != nil {
		log.Warn().Err(err).Int64("id", release.ID).Msg("Failed to remove source torrent")
	}

	return nil
}
