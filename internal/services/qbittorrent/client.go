// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbittorrent wraps the download client API behind the small surface
// the pipeline needs.
package qbittorrent

import (
	"context"
	"fmt"
	"strings"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"

	"swarmchaser/internal/domain"
)

const defaultTimeout = 60 * time.Second

// Client is a thin wrapper over the qBittorrent Web API.
type Client struct {
	qbt      *qbt.Client
	category string
}

// NewClient creates a client for the configured qBittorrent instance and
// verifies credentials.
func NewClient(ctx context.Context, cfg domain.QBittorrentConfig) (*Client, error) {
	qbtClient := qbt.NewClient(qbt.Config{
		Host:     cfg.Host,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  int(defaultTimeout.Seconds()),
	})

	if err := qbtClient.LoginCtx(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to qBittorrent instance: %w", err)
	}

	return &Client{qbt: qbtClient, category: cfg.Category}, nil
}

// ExistingHashes returns which of the given v1 infohashes are already loaded
// in the client. Hash comparison is case insensitive.
func (c *Client) ExistingHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	if len(hashes) == 0 {
		return map[string]bool{}, nil
	}

	torrents, err := c.qbt.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: hashes})
	if err != nil {
		return nil, fmt.Errorf("list torrents: %w", err)
	}

	existing := make(map[string]bool, len(torrents))
	for _, torrent := range torrents {
		hash := torrent.InfohashV1
		if hash == "" {
			hash = torrent.Hash
		}
		existing[strings.ToLower(hash)] = true
	}
	return existing, nil
}

// AddTorrent loads raw torrent bytes into the client under the configured
// category. Extra options override the defaults.
func (c *Client) AddTorrent(ctx context.Context, data []byte, options map[string]string) error {
	opts := map[string]string{}
	if c.category != "" {
		opts["category"] = c.category
	}
	for key, value := range options {
		opts[key] = value
	}

	if err := c.qbt.AddTorrentFromMemoryCtx(ctx, data, opts); err != nil {
		return fmt.Errorf("add torrent: %w", err)
	}
	return nil
}

// DeleteTorrent removes a torrent from the client, keeping its files on
// disk.
func (c *Client) DeleteTorrent(ctx context.Context, hash string) error {
	if err := c.qbt.DeleteTorrentsCtx(ctx, []string{hash}, false); err != nil {
		return fmt.Errorf("delete torrent %s: %w", hash, err)
	}
	return nil
}
