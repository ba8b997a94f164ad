// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"fmt"
	"strings"
)

// Config is the application configuration, loaded from TOML and environment
// overrides.
type Config struct {
	Version string

	LogLevel      string `mapstructure:"logLevel"`
	LogPath       string `mapstructure:"logPath"`
	LogMaxSize    int    `mapstructure:"logMaxSize"`
	LogMaxBackups int    `mapstructure:"logMaxBackups"`
	DataDir       string `mapstructure:"dataDir"`

	Jackett     JackettConfig     `mapstructure:"jackett"`
	Discogs     DiscogsConfig     `mapstructure:"discogs"`
	Redacted    RedactedConfig    `mapstructure:"redacted"`
	QBittorrent QBittorrentConfig `mapstructure:"qbittorrent"`
}

// JackettConfig describes the Jackett search provider.
type JackettConfig struct {
	URL     string `mapstructure:"url"`
	APIKey  string `mapstructure:"apiKey"`
	Tracker string `mapstructure:"tracker"`
	Timeout int    `mapstructure:"timeout"`
}

// DiscogsConfig describes the Discogs metadata provider.
type DiscogsConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// RedactedConfig describes the destination tracker.
type RedactedConfig struct {
	URL         string `mapstructure:"url"`
	APIKey      string `mapstructure:"apiKey"`
	AnnounceURL string `mapstructure:"announceUrl"`
	SourceTag   string `mapstructure:"sourceTag"`
}

// QBittorrentConfig describes the download client.
type QBittorrentConfig struct {
	Host     string `mapstructure:"host"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Category string `mapstructure:"category"`
}

// Validate checks that every credential and URL the pipeline needs is
// present. A failure here aborts the process before any record is touched.
func (c *Config) Validate() error {
	var missing []string

	if c.Jackett.URL == "" {
		missing = append(missing, "jackett.url")
	}
	if c.Jackett.APIKey == "" {
		missing = append(missing, "jackett.apiKey")
	}
	if c.Discogs.Token == "" {
		missing = append(missing, "discogs.token")
	}
	if c.Redacted.APIKey == "" {
		missing = append(missing, "redacted.apiKey")
	}
	if c.Redacted.AnnounceURL == "" {
		missing = append(missing, "redacted.announceUrl")
	}
	if c.QBittorrent.Host == "" {
		missing = append(missing, "qbittorrent.host")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
