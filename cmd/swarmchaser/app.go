// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"swarmchaser/internal/config"
	"swarmchaser/internal/database"
	"swarmchaser/internal/memocache"
	"swarmchaser/internal/models"
	"swarmchaser/internal/pipeline"
	"swarmchaser/internal/services/discogs"
	"swarmchaser/internal/services/jackett"
	"swarmchaser/internal/services/qbittorrent"
	"swarmchaser/internal/services/redacted"
	"swarmchaser/internal/torrentfile"
)

// Application wires configuration, storage and the remote clients together
// for one CLI invocation.
type Application struct {
	cfg      *config.AppConfig
	db       *sql.DB
	store    *models.ReleaseStore
	jackett  *jackett.Client
	discogs  *discogs.Client
	redacted *redacted.Client
	pipeline *pipeline.Pipeline
}

// NewApplication loads configuration and opens the database. The qBittorrent
// connection is only established when connectClient is set, so read-only
// commands work without a reachable download client.
func NewApplication(ctx context.Context, configDir, dataDir string, connectClient bool) (*Application, error) {
	cfg, err := config.New(configDir, version)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if dataDir != "" {
		cfg.SetDataDir(dataDir)
	}

	cfg.ApplyLogConfig()

	if err := cfg.Config.Validate(); err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.GetDatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	app := &Application{
		cfg:   cfg,
		db:    db,
		store: models.NewReleaseStore(db),
		jackett: jackett.NewClient(
			cfg.Config.Jackett.URL,
			cfg.Config.Jackett.APIKey,
			cfg.Config.Jackett.Tracker,
			cfg.Config.Jackett.Timeout,
		),
		discogs:  discogs.NewClient(cfg.Config.Discogs.URL, cfg.Config.Discogs.Token, memocache.New[discogs.SearchOutcome]()),
		redacted: redacted.NewClient(cfg.Config.Redacted.URL, cfg.Config.Redacted.APIKey, memocache.New[int]()),
	}

	var client pipeline.DownloadClient
	if connectClient {
		qbtClient, err := qbittorrent.NewClient(ctx, cfg.Config.QBittorrent)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		client = qbtClient
	}

	rewriter := torrentfile.Rewriter{
		Announce: cfg.Config.Redacted.AnnounceURL,
		Source:   cfg.Config.Redacted.SourceTag,
		Private:  true,
	}

	app.pipeline = pipeline.New(app.store, app.discogs, app.redacted, app.jackett, client, app.redacted, rewriter)

	log.Debug().Str("database", cfg.GetDatabasePath()).Msg("Application initialized")
	return app, nil
}

// Close releases the database handle.
func (a *Application) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}
