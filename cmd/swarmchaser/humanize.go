// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"time"
)

// humanizeDate renders a past timestamp relative to now, e.g. "just now",
// "5 minutes ago", "Yesterday", "3 weeks ago".
func humanizeDate(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}

	elapsed := now.Sub(t)
	if elapsed < 0 {
		elapsed = 0
	}

	plural := func(n int64, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s ago", unit)
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}

	const day = 24 * time.Hour
	switch {
	case elapsed < time.Minute:
		return "just now"
	case elapsed < time.Hour:
		return plural(int64(elapsed/time.Minute), "minute")
	case elapsed < day:
		return plural(int64(elapsed/time.Hour), "hour")
	case elapsed < 2*day:
		return "Yesterday"
	case elapsed < 7*day:
		return plural(int64(elapsed/day), "day")
	case elapsed < 30*day:
		return plural(int64(elapsed/(7*day)), "week")
	case elapsed < 365*day:
		return plural(int64(elapsed/(30*day)), "month")
	default:
		return plural(int64(elapsed/(365*day)), "year")
	}
}
