package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trobanga/s2ingest/internal/models"
	"github.com/trobanga/s2ingest/internal/services"
	"github.com/trobanga/s2ingest/internal/ui"
)

// releaseCmd represents the release command group
var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Inspect S2AG releases",
	Long: `Query the S2AG datasets API without ingesting anything.

Available subcommands:
  latest - Show the latest release
  files  - List the files of a dataset type`,
}

var releaseLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the latest release",
	Args:  cobra.NoArgs,
	RunE:  runReleaseLatest,
}

var releaseFilesCmd = &cobra.Command{
	Use:   "files <dataset-type> [release]",
	Short: "List the files of a dataset type",
	Long: `List the file links of a dataset type in a release (the latest by default).

Links are signed and expire; they are printed without their query string.

Example:
  s2ingest release files papers
  s2ingest release files abstracts 2023-06-13`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runReleaseFiles,
}

func init() {
	rootCmd.AddCommand(releaseCmd)
	releaseCmd.AddCommand(releaseLatestCmd)
	releaseCmd.AddCommand(releaseFilesCmd)
}

func newReleaseClient() (*services.ReleaseClient, func(), error) {
	config, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	client, err := services.NewReleaseClient(config.Release, config.Retry, logger)
	if err != nil {
		_ = logger.Close()
		return nil, nil, err
	}
	return client, func() { _ = logger.Close() }, nil
}

func runReleaseLatest(cmd *cobra.Command, args []string) error {
	client, done, err := newReleaseClient()
	if err != nil {
		return err
	}
	defer done()

	spinner := ui.NewSpinner("Resolving latest release")
	spinner.Start()
	release, err := client.Resolve(cmd.Context())
	spinner.Stop(err == nil)
	if err != nil {
		return err
	}

	fmt.Println(release.ID)
	return nil
}

func runReleaseFiles(cmd *cobra.Command, args []string) error {
	types := models.ParseDatasetTypes(args[:1])
	if len(types) != 1 {
		return fmt.Errorf("expected one dataset type, got %q", args[0])
	}

	client, done, err := newReleaseClient()
	if err != nil {
		return err
	}
	defer done()

	ctx := cmd.Context()
	var release models.Release
	if len(args) == 2 {
		r, ok := models.ParseRelease(args[1])
		if !ok {
			return fmt.Errorf("release %q is not a %s date", args[1], models.ReleaseDateLayout)
		}
		release = r
	} else {
		release, err = client.Resolve(ctx)
		if err != nil {
			return err
		}
	}

	files, err := client.ListFiles(ctx, release, types[0])
	if err != nil {
		return err
	}

	fmt.Printf("Release %s, %s: %d files\n", release.ID, types[0], len(files))
	for _, f := range files {
		fmt.Printf("  %s\n", f.Location())
	}
	return nil
}
