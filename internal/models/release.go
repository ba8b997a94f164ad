// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status tracks a release candidate through the qualification pipeline.
type Status string

const (
	StatusTracked    Status = "tracked"
	StatusEligible   Status = "eligible"
	StatusDownloaded Status = "downloaded"
	StatusUploaded   Status = "uploaded"
	StatusIneligible Status = "ineligible"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusTracked, StatusEligible, StatusDownloaded, StatusUploaded, StatusIneligible:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusUploaded || s == StatusIneligible
}

// ErrReleaseNotFound is returned when a release lookup matches no row.
var ErrReleaseNotFound = errors.New("release not found")

// Release is one tracked release candidate. Records are created when first
// observed from a search result and are only ever transitioned forward by
// the pipeline, never deleted.
type Release struct {
	ID                 int64
	SourceID           int64
	ReleaseName        string
	Artist             string
	Album              string
	Year               int
	DownloadURL        string
	CreateDate         int64
	Size               int64
	Genres             []string
	DiscogsReleaseID   int64
	DiscogsReleaseJSON []byte
	SourceInfohash     string
	TargetInfohash     string
	LastUpdated        int64
	Status             Status
}

// SearchQuery builds the query string used against the metadata provider
// and the destination tracker.
func (r *Release) SearchQuery() string {
	return fmt.Sprintf("%s - %s - %d", r.Artist, r.Album, r.Year)
}

// ReleaseStore persists release candidates.
type ReleaseStore struct {
	db *sql.DB
}

// NewReleaseStore constructs a release store.
func NewReleaseStore(db *sql.DB) *ReleaseStore {
	return &ReleaseStore{db: db}
}

// ExistsBySourceID reports whether a candidate with the given source-tracker
// id is already tracked.
func (s *ReleaseStore) ExistsBySourceID(ctx context.Context, sourceID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM releases WHERE source_id = ?`, sourceID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check source id: %w", err)
	}
	return true, nil
}

// Insert adds a new candidate in tracked status. Returns false without error
// when a record with the same source id already exists.
func (s *ReleaseStore) Insert(ctx context.Context, r *Release) (bool, error) {
	if r == nil {
		return false, errors.New("release is nil")
	}
	if r.Status == "" {
		r.Status = StatusTracked
	}
	if !r.Status.Valid() {
		return false, fmt.Errorf("invalid status %q", r.Status)
	}
	if r.LastUpdated == 0 {
		r.LastUpdated = time.Now().Unix()
	}

	genresJSON, err := json.Marshal(r.Genres)
	if err != nil {
		return false, fmt.Errorf("encode genres: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO releases (
			source_id, release_name, artist, album, year, download_url,
			create_date, size, genres_json, discogs_release_id,
			discogs_release_json, source_infohash, target_infohash,
			last_updated, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO NOTHING`,
		r.SourceID,
		r.ReleaseName,
		r.Artist,
		r.Album,
		r.Year,
		r.DownloadURL,
		r.CreateDate,
		r.Size,
		string(genresJSON),
		nullableInt64(r.DiscogsReleaseID),
		nullableBytes(r.DiscogsReleaseJSON),
		r.SourceInfohash,
		nullableString(r.TargetInfohash),
		r.LastUpdated,
		string(r.Status),
	)
	if err != nil {
		return false, fmt.Errorf("insert release: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("last insert id: %w", err)
	}
	r.ID = id
	return true, nil
}

// ByID fetches one release by internal id.
func (s *ReleaseStore) ByID(ctx context.Context, id int64) (*Release, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+releaseColumns+` FROM releases WHERE id = ?`, id)
	r, err := scanRelease(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReleaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get release: %w", err)
	}
	return r, nil
}

// ByStatus returns releases matching any of the given statuses ordered by
// creation date.
func (s *ReleaseStore) ByStatus(ctx context.Context, statuses ...Status) ([]*Release, error) {
	if len(statuses) == 0 {
		return nil, errors.New("at least one status is required")
	}

	placeholders := make([]byte, 0, len(statuses)*2)
	args := make([]any, len(statuses))
	for i, status := range statuses {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = string(status)
	}

	query := `SELECT ` + releaseColumns + ` FROM releases WHERE status IN (` + string(placeholders) + `) ORDER BY create_date`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query by status: %w", err)
	}
	defer rows.Close()

	var releases []*Release
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, err
		}
		releases = append(releases, r)
	}
	return releases, rows.Err()
}

// Update persists every mutable field and the status in a single statement
// so a concurrent reader never observes a partial update.
func (s *ReleaseStore) Update(ctx context.Context, r *Release) error {
	if r == nil {
		return errors.New("release is nil")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("invalid status %q", r.Status)
	}

	genresJSON, err := json.Marshal(r.Genres)
	if err != nil {
		return fmt.Errorf("encode genres: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE releases
		 SET release_name = ?, artist = ?, album = ?, year = ?, download_url = ?,
		     create_date = ?, size = ?, genres_json = ?, discogs_release_id = ?,
		     discogs_release_json = ?, source_infohash = ?, target_infohash = ?,
		     last_updated = ?, status = ?
		 WHERE id = ?`,
		r.ReleaseName,
		r.Artist,
		r.Album,
		r.Year,
		r.DownloadURL,
		r.CreateDate,
		r.Size,
		string(genresJSON),
		nullableInt64(r.DiscogsReleaseID),
		nullableBytes(r.DiscogsReleaseJSON),
		r.SourceInfohash,
		nullableString(r.TargetInfohash),
		r.LastUpdated,
		string(r.Status),
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("update release: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrReleaseNotFound
	}
	return nil
}

// Stats returns a count of releases grouped by status.
func (s *ReleaseStore) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM releases GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("release stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

const releaseColumns = "id, source_id, release_name, artist, album, year, download_url, create_date, size, genres_json, discogs_release_id, discogs_release_json, source_infohash, target_infohash, last_updated, status"

func scanRelease(scanner interface{ Scan(dest ...any) error }) (*Release, error) {
	var (
		r                Release
		genresJSON       string
		discogsReleaseID sql.NullInt64
		discogsJSON      sql.NullString
		targetInfohash   sql.NullString
		status           string
	)

	if err := scanner.Scan(
		&r.ID,
		&r.SourceID,
		&r.ReleaseName,
		&r.Artist,
		&r.Album,
		&r.Year,
		&r.DownloadURL,
		&r.CreateDate,
		&r.Size,
		&genresJSON,
		&discogsReleaseID,
		&discogsJSON,
		&r.SourceInfohash,
		&targetInfohash,
		&r.LastUpdated,
		&status,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(genresJSON), &r.Genres); err != nil {
		return nil, fmt.Errorf("decode genres: %w", err)
	}
	r.DiscogsReleaseID = discogsReleaseID.Int64
	if discogsJSON.Valid {
		r.DiscogsReleaseJSON = []byte(discogsJSON.String)
	}
	r.TargetInfohash = targetInfohash.String
	r.Status = Status(status)

	return &r, nil
}

func nullableInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableBytes(v []byte) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}
