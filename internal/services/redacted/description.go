// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package redacted

import (
	"fmt"
	"strconv"
	"strings"

	"swarmchaser/internal/services/discogs"
)

// Description renders the album description in BBCode from the metadata
// record: an artist/title header, label and catalogue number, release year
// and country, genres, then a tracklist with per-track durations and a
// total running time. Tracks with unparseable durations are listed as-is
// and excluded from the total.
func Description(release *discogs.Release) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[b]%s - %s[/b]\n", release.ArtistsSort, release.Title))
	if len(release.Labels) > 0 {
		label := release.Labels[0]
		b.WriteString("Label/Cat#: " + label.Name)
		if label.CatNo != "" {
			b.WriteString(" / " + label.CatNo)
		}
		b.WriteString("\n")
	}
	if release.Year > 0 {
		b.WriteString(fmt.Sprintf("Released: %d", release.Year))
		if release.Country != "" {
			b.WriteString(" (" + release.Country + ")")
		}
		b.WriteString("\n")
	}
	if len(release.Genres) > 0 {
		b.WriteString("Genre: " + strings.Join(release.Genres, ", ") + "\n")
	}
	b.WriteString("\n[b]Tracklist[/b]\n")

	var totalSeconds int
	var haveTotal bool
	for _, track := range release.Tracklist {
		if track.Duration == "" {
			b.WriteString(fmt.Sprintf("%s. %s\n", track.Position, track.Title))
			continue
		}

		b.WriteString(fmt.Sprintf("%s. %s [i](%s)[/i]\n", track.Position, track.Title, track.Duration))
		if seconds, err := parseDuration(track.Duration); err == nil {
			totalSeconds += seconds
			haveTotal = true
		}
	}

	if haveTotal {
		b.WriteString(fmt.Sprintf("\nTotal length: %s\n", formatDuration(totalSeconds)))
	}

	if release.URI != "" {
		b.WriteString(fmt.Sprintf("\nMore information: [url]%s[/url]\n", release.URI))
	}

	return b.String()
}

// parseDuration converts "ss", "m:ss" or "h:mm:ss" into seconds.
func parseDuration(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("unrecognized duration %q", s)
	}

	var total int
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("unrecognized duration %q", s)
		}
		total = total*60 + n
	}
	return total, nil
}

func formatDuration(seconds int) string {
	if seconds >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
