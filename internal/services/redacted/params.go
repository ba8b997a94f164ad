// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package redacted

import (
	"mime/multipart"
	"strconv"
	"strings"

	"swarmchaser/internal/releasename"
	"swarmchaser/internal/services/discogs"
)

// Gazelle upload constants for a WEB FLAC album.
const (
	categoryMusic    = "0"
	releaseTypeAlbum = "1"
	uploadFormat     = "FLAC"
	uploadBitrate    = "Lossless"
	uploadMedia      = "WEB"
)

// AlbumParams is the upload form for one album, derived from the metadata
// record.
type AlbumParams struct {
	Artists     []string
	Title       string
	Year        int
	RecordLabel string
	CatalogueNo string
	Tags        string
	Image       string
	Description string
}

// BuildAlbumParams converts a metadata release into upload parameters.
func BuildAlbumParams(release *discogs.Release) AlbumParams {
	params := AlbumParams{
		Title:       release.Title,
		Year:        release.Year,
		Tags:        buildTags(release),
		Image:       pickImage(release.Images),
		Description: Description(release),
	}

	for _, artist := range release.Artists {
		params.Artists = append(params.Artists, artist.Name)
	}

	if len(release.Labels) > 0 {
		params.RecordLabel = release.Labels[0].Name
		params.CatalogueNo = release.Labels[0].CatNo
	}

	return params
}

// buildTags normalizes genre and style names into the tracker's tag format
// and joins them with commas. Names that normalize to nothing are dropped.
func buildTags(release *discogs.Release) string {
	var tags []string
	seen := make(map[string]struct{})
	for _, name := range append(append([]string{}, release.Genres...), release.Styles...) {
		tag := releasename.NormalizeGenre(name)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return strings.Join(tags, ",")
}

// pickImage prefers the primary release image, falling back to the first
// secondary one.
func pickImage(images []discogs.Image) string {
	for _, img := range images {
		if img.Type == "primary" {
			return img.URI
		}
	}
	for _, img := range images {
		if img.Type == "secondary" {
			return img.URI
		}
	}
	return ""
}

// writeTo adds every form field to a multipart writer.
func (p AlbumParams) writeTo(w *multipart.Writer) error {
	fields := map[string]string{
		"category_type":             categoryMusic,
		"title":                     p.Title,
		"year":                      strconv.Itoa(p.Year),
		"releasetype":               releaseTypeAlbum,
		"remaster_year":             strconv.Itoa(p.Year),
		"remaster_record_label":     p.RecordLabel,
		"remaster_catalogue_number": p.CatalogueNo,
		"format":                    uploadFormat,
		"bitrate":                   uploadBitrate,
		"media":                     uploadMedia,
		"tags":                      p.Tags,
		"image":                     p.Image,
		"album_desc":                p.Description,
	}

	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return err
		}
	}

	for _, artist := range p.Artists {
		if err := w.WriteField("artists[]", artist); err != nil {
			return err
		}
		if err := w.WriteField("importance[]", "1"); err != nil {
			return err
		}
	}

	return nil
}
