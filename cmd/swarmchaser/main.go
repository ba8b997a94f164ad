// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"swarmchaser/internal/buildinfo"
	"swarmchaser/internal/config"
	"swarmchaser/internal/models"
	"swarmchaser/internal/pipeline"
	"swarmchaser/internal/services/discogs"
	"swarmchaser/internal/services/redacted"
)

var version = buildinfo.Version

func main() {
	config.InitDefaultLogger(version)

	var rootCmd = &cobra.Command{
		Use:   "swarmchaser",
		Short: "Track, qualify and republish lossless music releases",
		Long: `swarmchaser - watches a source tracker for lossless music releases,
qualifies them against the Discogs database and republishes the keepers.`,
	}

	rootCmd.Version = version

	rootCmd.AddCommand(RunSearchCommand())
	rootCmd.AddCommand(RunRefreshCommand())
	rootCmd.AddCommand(RunStatusCommand())
	rootCmd.AddCommand(RunDownloadCommand())
	rootCmd.AddCommand(RunUploadCommand())
	rootCmd.AddCommand(RunShowCommand())
	rootCmd.AddCommand(RunSetCommand())
	rootCmd.AddCommand(RunDiscogsCommand())
	rootCmd.AddCommand(RunVersionCommand(version))
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// addCommonFlags registers the config/data directory flags shared by every
// command that touches the database.
func addCommonFlags(command *cobra.Command, configDir, dataDir *string) {
	command.Flags().StringVar(configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/swarmchaser/). Can also be a direct path to a .toml file")
	command.Flags().StringVar(dataDir, "data-dir", "", "data directory for the database (default is next to config file)")
}

func RunSearchCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		query     string
		format    string
		year      int
		limit     int
		insert    bool
	)

	var command = &cobra.Command{
		Use:   "search",
		Short: "Search the source tracker for release candidates",
		Long: `Search the source tracker through Jackett and list usable results.
With --insert, new results are recorded as tracked releases.

The default query is "<format> <year>", e.g. "FLAC 2024".`,
	}

	addCommonFlags(command, &configDir, &dataDir)
	command.Flags().StringVarP(&query, "query", "q", "", "search query (default: \"<format> <year>\")")
	command.Flags().StringVarP(&format, "format", "f", "FLAC", "release format for the default query")
	command.Flags().IntVarP(&year, "year", "y", time.Now().Year(), "release year for the default query")
	command.Flags().IntVarP(&limit, "limit", "l", 0, "cap the number of results (0 = all)")
	command.Flags().BoolVar(&insert, "insert", false, "track new results")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		app, err := NewApplication(ctx, configDir, dataDir, false)
		if err != nil {
			return err
		}
		defer app.Close()

		if query == "" {
			query = fmt.Sprintf("%s %d", format, year)
		}

		results, err := app.jackett.Search(ctx, query)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if limit > 0 && len(results) > limit {
			results = results[:limit]
		}

		rows := make([][]string, 0, len(results))
		for _, result := range results {
			rows = append(rows, []string{
				strconv.FormatInt(result.SourceID, 10),
				result.Artist,
				result.Album,
				strconv.Itoa(result.Year),
				fmt.Sprintf("%.1f MiB", float64(result.Size)/(1<<20)),
				strings.Join(result.Genres, ", "),
			})
		}
		cmd.Println(renderTable(
			[]string{"Source ID", "Artist", "Album", "Year", "Size", "Genres"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
		))

		if !insert {
			return nil
		}

		inserted, err := app.pipeline.Ingest(ctx, results)
		if err != nil {
			return err
		}
		cmd.Printf("Tracking %d new release(s)\n", inserted)
		return nil
	}

	return command
}

func RunRefreshCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
	)

	var command = &cobra.Command{
		Use:   "refresh",
		Short: "Re-evaluate tracked releases for upload eligibility",
	}

	addCommonFlags(command, &configDir, &dataDir)

	command.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		app, err := NewApplication(ctx, configDir, dataDir, false)
		if err != nil {
			return err
		}
		defer app.Close()

		return app.pipeline.RefreshEligibility(ctx)
	}

	return command
}

func RunStatusCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
	)

	var command = &cobra.Command{
		Use:   "status",
		Short: "Show tracked releases and pipeline totals",
	}

	addCommonFlags(command, &configDir, &dataDir)

	command.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		app, err := NewApplication(ctx, configDir, dataDir, false)
		if err != nil {
			return err
		}
		defer app.Close()

		releases, err := app.store.ByStatus(ctx,
			models.StatusTracked,
			models.StatusEligible,
			models.StatusDownloaded,
			models.StatusUploaded,
			models.StatusIneligible,
		)
		if err != nil {
			return err
		}

		now := time.Now()
		rows := make([][]string, 0, len(releases))
		for _, release := range releases {
			discogsID := ""
			if release.DiscogsReleaseID != 0 {
				discogsID = strconv.FormatInt(release.DiscogsReleaseID, 10)
			}
			rows = append(rows, []string{
				strconv.FormatInt(release.ID, 10),
				release.SearchQuery(),
				string(release.Status),
				discogsID,
				humanizeDate(time.Unix(release.LastUpdated, 0), now),
			})
		}
		cmd.Println(renderTable(
			[]string{"ID", "Release", "Status", "Discogs", "Last Updated"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
		))

		stats, err := app.store.Stats(ctx)
		if err != nil {
			return err
		}
		var parts []string
		for _, status := range []models.Status{
			models.StatusTracked,
			models.StatusEligible,
			models.StatusDownloaded,
			models.StatusUploaded,
			models.StatusIneligible,
		} {
			if count := stats[status]; count > 0 {
				parts = append(parts, fmt.Sprintf("%s: %d", status, count))
			}
		}
		if len(parts) > 0 {
			cmd.Println(strings.Join(parts, "  "))
		}
		return nil
	}

	return command
}

func RunDownloadCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
	)

	var command = &cobra.Command{
		Use:   "download",
		Short: "Hand eligible releases to the download client",
	}

	addCommonFlags(command, &configDir, &dataDir)

	command.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		app, err := NewApplication(ctx, configDir, dataDir, true)
		if err != nil {
			return err
		}
		defer app.Close()

		return app.pipeline.DownloadEligible(ctx)
	}

	return command
}

func RunUploadCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		limit     int
		id        int64
		verify    bool
	)

	var command = &cobra.Command{
		Use:   "upload",
		Short: "Rewrite and publish downloaded releases",
	}

	addCommonFlags(command, &configDir, &dataDir)
	command.Flags().IntVarP(&limit, "limit", "l", 0, "cap the number of uploads this run (0 = all)")
	command.Flags().Int64Var(&id, "id", 0, "publish a single release by id")
	command.Flags().BoolVar(&verify, "verify", false, "reserved, currently has no effect")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		app, err := NewApplication(ctx, configDir, dataDir, true)
		if err != nil {
			return err
		}
		defer app.Close()

		if verify {
			log.Warn().Msg("--verify is not implemented yet and has no effect")
		}

		return app.pipeline.PublishDownloaded(ctx, pipeline.PublishOptions{ID: id, Limit: limit})
	}

	return command
}

func RunShowCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
	)

	var command = &cobra.Command{
		Use:   "show <id>",
		Short: "Show one release record and its upload parameters",
		Args:  cobra.ExactArgs(1),
	}

	addCommonFlags(command, &configDir, &dataDir)

	command.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid release id %q", args[0])
		}

		app, err := NewApplication(ctx, configDir, dataDir, false)
		if err != nil {
			return err
		}
		defer app.Close()

		release, err := app.store.ByID(ctx, id)
		if err != nil {
			return err
		}

		cmd.Printf("ID:              %d\n", release.ID)
		cmd.Printf("Source ID:       %d\n", release.SourceID)
		cmd.Printf("Release:         %s\n", release.ReleaseName)
		cmd.Printf("Status:          %s\n", release.Status)
		cmd.Printf("Size:            %.1f MiB\n", float64(release.Size)/(1<<20))
		cmd.Printf("Genres:          %s\n", strings.Join(release.Genres, ", "))
		cmd.Printf("Source infohash: %s\n", release.SourceInfohash)
		if release.TargetInfohash != "" {
			cmd.Printf("Target infohash: %s\n", release.TargetInfohash)
		}
		if release.DiscogsReleaseID != 0 {
			cmd.Printf("Discogs release: %d\n", release.DiscogsReleaseID)
		}

		if len(release.DiscogsReleaseJSON) > 0 {
			var meta discogs.Release
			if err := json.Unmarshal(release.DiscogsReleaseJSON, &meta); err != nil {
				return fmt.Errorf("decode stored metadata: %w", err)
			}
			params := redacted.BuildAlbumParams(&meta)
			cmd.Println("\nUpload parameters:")
			cmd.Printf("  Artists:   %s\n", strings.Join(params.Artists, ", "))
			cmd.Printf("  Title:     %s\n", params.Title)
			cmd.Printf("  Year:      %d\n", params.Year)
			cmd.Printf("  Label:     %s %s\n", params.RecordLabel, params.CatalogueNo)
			cmd.Printf("  Tags:      %s\n", params.Tags)
			cmd.Printf("  Image:     %s\n", params.Image)
			cmd.Println("\nDescription:")
			cmd.Println(params.Description)
		}
		return nil
	}

	return command
}

func RunSetCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
	)

	var command = &cobra.Command{
		Use:   "set <id> <discogs-id>",
		Short: "Manually attach a Discogs release to a tracked record",
		Args:  cobra.ExactArgs(2),
	}

	addCommonFlags(command, &configDir, &dataDir)

	command.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid release id %q", args[0])
		}
		discogsID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid discogs id %q", args[1])
		}

		app, err := NewApplication(ctx, configDir, dataDir, false)
		if err != nil {
			return err
		}
		defer app.Close()

		release, err := app.store.ByID(ctx, id)
		if err != nil {
			return err
		}
		if release.Status.Terminal() {
			return fmt.Errorf("release %d is %s and cannot change", release.ID, release.Status)
		}

		meta, err := app.discogs.ReleaseByID(ctx, discogsID)
		if err != nil {
			return err
		}
		if len(meta.Artists) == 0 {
			return fmt.Errorf("discogs release %d has no credited artists", discogsID)
		}

		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}

		release.DiscogsReleaseID = discogsID
		release.DiscogsReleaseJSON = metaJSON
		release.LastUpdated = time.Now().Unix()
		if release.Status == models.StatusTracked {
			release.Status = models.StatusEligible
		}
		if err := app.store.Update(ctx, release); err != nil {
			return err
		}

		cmd.Printf("Attached Discogs release %d (%s - %s) to record %d\n", discogsID, meta.ArtistsSort, meta.Title, release.ID)
		return nil
	}

	return command
}

func RunDiscogsCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
	)

	var command = &cobra.Command{
		Use:   "discogs <discogs-id>",
		Short: "Fetch and print a raw Discogs release record",
		Args:  cobra.ExactArgs(1),
	}

	addCommonFlags(command, &configDir, &dataDir)

	command.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		discogsID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid discogs id %q", args[0])
		}

		app, err := NewApplication(ctx, configDir, dataDir, false)
		if err != nil {
			return err
		}
		defer app.Close()

		meta, err := app.discogs.ReleaseByID(ctx, discogsID)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		cmd.Println(string(out))
		return nil
	}

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of swarmchaser",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without running the pipeline.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/swarmchaser/config.toml
- Windows: %APPDATA%\swarmchaser\config.toml

You can specify either a directory path or a direct file path:
- Directory: swarmchaser generate-config --config-dir /path/to/config/
- File: swarmchaser generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				defaultDir := config.GetDefaultConfigDir()
				configPath = filepath.Join(defaultDir, "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}
