// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torrentfile rewrites downloaded metainfo files for republication
// on a different tracker and computes BitTorrent infohashes.
package torrentfile

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"swarmchaser/pkg/bencode"
)

var (
	// ErrEmptyPayload is returned when the source torrent download yielded
	// zero bytes.
	ErrEmptyPayload = errors.New("torrent payload is empty")

	// ErrMissingInfo is returned when the metainfo has no info dictionary.
	ErrMissingInfo = errors.New("metainfo has no info dictionary")
)

// Infohash computes the SHA-1 digest over the canonical encoding of an info
// dictionary. This matches what a compliant BitTorrent client computes.
func Infohash(info bencode.Dict) [sha1.Size]byte {
	return sha1.Sum(bencode.Encode(info))
}

// InfohashHex returns the infohash as a lowercase hex string.
func InfohashHex(info bencode.Dict) string {
	sum := Infohash(info)
	return hex.EncodeToString(sum[:])
}

// InfohashFromMetainfo decodes a raw metainfo file and returns the hex
// infohash of its info dictionary.
func InfohashFromMetainfo(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", ErrEmptyPayload
	}

	v, _, err := bencode.Decode(raw)
	if err != nil {
		return "", fmt.Errorf("decode metainfo: %w", err)
	}

	top, ok := v.(bencode.Dict)
	if !ok {
		return "", fmt.Errorf("%w: top-level value is not a dictionary", bencode.ErrMalformed)
	}
	info, ok := top["info"].(bencode.Dict)
	if !ok {
		return "", ErrMissingInfo
	}

	return InfohashHex(info), nil
}

// Rewriter transforms a metainfo file into one pointing at a different
// tracker. Each Rewrite call is a pure transform of its input.
type Rewriter struct {
	Announce string
	Source   string
	Private  bool
}

// Rewrite decodes raw metainfo bytes and produces the republished variant:
// a new top-level dictionary carrying only the destination announce URL, the
// creation timestamp and a copy of the info dictionary with the private flag
// and source tag set. All other info fields are left untouched so the
// torrent's user-visible identity is preserved; original top-level keys such
// as announce-list or comment are discarded.
//
// Returns the re-encoded bytes and the hex infohash of the new info
// dictionary.
func (r Rewriter) Rewrite(raw []byte, createdAt time.Time) ([]byte, string, error) {
	if len(raw) == 0 {
		return nil, "", ErrEmptyPayload
	}

	v, _, err := bencode.Decode(raw)
	if err != nil {
		return nil, "", fmt.Errorf("decode metainfo: %w", err)
	}

	top, ok := v.(bencode.Dict)
	if !ok {
		return nil, "", fmt.Errorf("%w: top-level value is not a dictionary", bencode.ErrMalformed)
	}
	info, ok := top["info"].(bencode.Dict)
	if !ok {
		return nil, "", ErrMissingInfo
	}

	newInfo := info.Clone()
	private := bencode.Integer(0)
	if r.Private {
		private = 1
	}
	newInfo["private"] = private
	newInfo["source"] = bencode.Bytes(r.Source)

	out := bencode.Dict{
		"announce":      bencode.Bytes(r.Announce),
		"creation date": bencode.Integer(createdAt.Unix()),
		"info":          newInfo,
	}

	return bencode.Encode(out), InfohashHex(newInfo), nil
}
