package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amf-flx/fluxnet-shuttle/internal/download"
	"github.com/amf-flx/fluxnet-shuttle/internal/shuttle"
	"github.com/amf-flx/fluxnet-shuttle/internal/snapshot"
)

type downloadOptions struct {
	SnapshotFile string
	Sites        []string
	OutputDir    string
	Quiet        bool
	UserID       string
	UserEmail    string
	IntendedUse  string
	Description  string
}

func newDownloadCmd(flags *rootFlags) *cobra.Command {
	opts := downloadOptions{}

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download FLUXNET datasets",
		Long:  "Download FLUXNET data files for specified sites using a snapshot file produced by the listall command.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd, flags, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.SnapshotFile, "snapshot-file", "f", "", "Path to snapshot CSV file (from listall)")
	cmd.MarkFlagRequired("snapshot-file") //nolint:errcheck
	cmd.Flags().StringSliceVarP(&opts.Sites, "sites", "s", nil, "Site IDs to download (default: every site in the snapshot)")
	cmd.Flags().StringVarP(&opts.OutputDir, "output-dir", "o", ".", "Directory to save downloaded files")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "Skip confirmation prompt when downloading all sites")
	cmd.Flags().StringVar(&opts.UserID, "user-id", "", "User ID for data hub tracking")
	cmd.Flags().StringVar(&opts.UserEmail, "user-email", "", "User email for data hub tracking")
	cmd.Flags().StringVar(&opts.IntendedUse, "intended-use", "", "Intended use for data hub tracking (e.g. synthesis, model)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "Brief description of intended use")

	return cmd
}

func runDownload(cmd *cobra.Command, flags *rootFlags, opts downloadOptions) error {
	if err := validateOutputDir(opts.OutputDir); err != nil {
		return err
	}

	// Downloading the whole snapshot is easy to trigger by accident, so
	// ask first unless --quiet or an explicit site list is given.
	if len(opts.Sites) == 0 && !opts.Quiet {
		entries, err := snapshot.Load(opts.SnapshotFile)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "No site IDs specified. This will download ALL %d sites from the snapshot file.\n", len(entries))
		fmt.Fprint(cmd.OutOrStdout(), "Proceed with download? [y/n]: ")

		response, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(response)) {
		case "y", "yes":
		default:
			fmt.Fprintln(cmd.OutOrStdout(), "Download cancelled.")
			return nil
		}
	}

	app, err := newAppContext(flags)
	if err != nil {
		return err
	}
	defer app.Close()

	sh := shuttle.New(app.registry, app.cfg, nil, app.log)
	manager := download.New(sh, app.log)

	paths, err := manager.Run(context.Background(), download.Options{
		SnapshotFile: opts.SnapshotFile,
		SiteIDs:      opts.Sites,
		OutputDir:    opts.OutputDir,
		UserID:       opts.UserID,
		UserEmail:    opts.UserEmail,
		IntendedUse:  opts.IntendedUse,
		Description:  opts.Description,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("Downloaded %d file(s)", len(paths))))
	for _, path := range paths {
		fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("  "+path))
	}
	return nil
}
