package main

import (
	"github.com/spf13/cobra"
)

// defaultLogFile receives the structured run log unless --no-log-file
// is set.
const defaultLogFile = "fluxnet-shuttle-run.log"

type rootFlags struct {
	configPath string
	verbose    bool
	logFile    string
	noLogFile  bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "fluxnet-shuttle",
		Short:         "Discover and download FLUXNET datasets from multiple data hubs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to shuttle configuration file (YAML)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringVarP(&flags.logFile, "log-file", "l", defaultLogFile, "Log file path")
	cmd.PersistentFlags().BoolVar(&flags.noLogFile, "no-log-file", false, "Disable logging to file")

	cmd.AddCommand(newListallCmd(flags))
	cmd.AddCommand(newDownloadCmd(flags))
	cmd.AddCommand(newHubsCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
