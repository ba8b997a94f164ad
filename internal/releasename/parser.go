// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package releasename extracts structured release fields from free-text
// tracker titles of the form "(genre) [FORMAT] Artist - Album - Year, ...".
package releasename

import (
	"regexp"
	"strconv"
	"strings"
)

var titlePattern = regexp.MustCompile(`^\(([A-Za-z\s,.-]*)\) \[([A-Z]*)\] (.*) - (.*) - (\d{4}), `)

// Release holds the fields parsed out of a release title.
type Release struct {
	Artist string
	Album  string
	Year   int
	Format string
	Genres []string
}

// Parse matches a title against the fixed release-name pattern. The second
// return value is false when the title does not match; unparsable titles are
// an expected, common case for a noisy search feed, not an error.
func Parse(title string) (*Release, bool) {
	m := titlePattern.FindStringSubmatch(title)
	if m == nil {
		return nil, false
	}

	year, err := strconv.Atoi(m[5])
	if err != nil {
		return nil, false
	}

	return &Release{
		Artist: m[3],
		Album:  m[4],
		Year:   year,
		Format: m[2],
		Genres: SplitGenres(m[1]),
	}, true
}

// SplitGenres splits a raw genre field into normalized tags. Separators are
// tried in priority order; when none is present the whole field is one tag.
func SplitGenres(field string) []string {
	var parts []string
	for _, sep := range []string{"|", ",", "/"} {
		if strings.Contains(field, sep) {
			parts = strings.Split(field, sep)
			break
		}
	}
	if parts == nil {
		parts = []string{field}
	}

	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = NormalizeGenre(p)
	}
	return out
}

// NormalizeGenre lowercases a genre tag, strips periods and joins words with
// periods. The compound Discogs genre "Folk, World, & Country" normalizes to
// an empty tag; that quirk is relied on downstream and must not be "fixed".
func NormalizeGenre(genre string) string {
	if genre == "Folk, World, & Country" {
		return ""
	}

	g := strings.ToLower(strings.TrimSpace(genre))
	g = strings.ReplaceAll(g, ".", "")
	return strings.ReplaceAll(g, " ", ".")
}
