package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amf-flx/fluxnet-shuttle/internal/model"
	"github.com/amf-flx/fluxnet-shuttle/internal/shuttle"
	"github.com/amf-flx/fluxnet-shuttle/internal/snapshot"
)

type listallOptions struct {
	OutputDir string
	DataHubs  []string
}

func newListallCmd(flags *rootFlags) *cobra.Command {
	opts := listallOptions{}

	cmd := &cobra.Command{
		Use:   "listall",
		Short: "List all available FLUXNET datasets",
		Long:  "Fetch a snapshot of all available FLUXNET datasets from the configured data hubs and save it as a CSV file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListall(cmd, flags, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.OutputDir, "output-dir", "o", ".", "Directory to save the snapshot file")
	cmd.Flags().StringSliceVarP(&opts.DataHubs, "data-hubs", "d", nil, "Data hubs to query (default: all configured hubs)")

	return cmd
}

func runListall(cmd *cobra.Command, flags *rootFlags, opts listallOptions) error {
	if err := validateOutputDir(opts.OutputDir); err != nil {
		return err
	}

	app, err := newAppContext(flags)
	if err != nil {
		return err
	}
	defer app.Close()

	var dataHubs []string
	if len(opts.DataHubs) > 0 {
		dataHubs = opts.DataHubs
	}

	sh := shuttle.New(app.registry, app.cfg, dataHubs, app.log)

	ctx := context.Background()
	st, err := sh.AllSites(ctx, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	path, counts, err := snapshot.Write(ctx, st, opts.OutputDir, app.log)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), renderListallSummary(path, counts, sh.Errors()))
	return nil
}

// renderListallSummary formats the end-of-run report: where the
// snapshot went, how many sites each hub contributed, and any hub
// failures collected along the way.
func renderListallSummary(path string, counts map[string]int, summary model.ErrorSummary) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("FLUXNET dataset snapshot") + "\n")
	b.WriteString(labelStyle.Render("snapshot: ") + path + "\n")

	hubs := make([]string, 0, len(counts))
	total := 0
	for hub, count := range counts {
		hubs = append(hubs, hub)
		total += count
	}
	sort.Strings(hubs)

	for _, hub := range hubs {
		b.WriteString(fmt.Sprintf("  %s %d sites\n", labelStyle.Render(hub+":"), counts[hub]))
	}
	b.WriteString(successStyle.Render(fmt.Sprintf("%d sites total", total)) + "\n")

	if summary.TotalErrors > 0 {
		b.WriteString(errorStyle.Render(fmt.Sprintf("%d data hub error(s):", summary.TotalErrors)) + "\n")
		for _, detail := range summary.Errors {
			b.WriteString("  " + errorStyle.Render(detail.DataHub+": ") + detail.Error + "\n")
		}
	} else {
		b.WriteString(dimStyle.Render("no data hub errors") + "\n")
	}

	return b.String()
}

// validateOutputDir rejects missing or unwritable output directories
// before any network work starts.
func validateOutputDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("output directory does not exist: %s", dir)
	}
	if !info.IsDir() {
		return fmt.Errorf("output path is not a directory: %s", dir)
	}

	probe, err := os.CreateTemp(dir, ".fluxnet-shuttle-*")
	if err != nil {
		return fmt.Errorf("output directory is not writable: %s", dir)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}
