package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/knakagawa/trendwatch/pkg/daemon"
)

const version = "1.0.0"

var daemonURL string

// newClient builds the admin API client from the global --url flag.
func newClient() *daemon.Client {
	return daemon.NewClient(daemonURL)
}

func createRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "trendctl",
		Short:   "Control a running trendwatchd daemon",
		Long:    "trendctl talks to the trendwatchd admin API: inspect cached trends,\ncheck scheduler and cache state, browse run history, and force a refresh.",
		Version: version,
	}
	root.PersistentFlags().StringVarP(&daemonURL, "url", "u", "http://localhost:8087", "Daemon admin API base URL")

	root.AddCommand(createStatusCommand())
	root.AddCommand(createTrendsCommand())
	root.AddCommand(createRefreshCommand())
	root.AddCommand(createCacheCommand())
	root.AddCommand(createRunsCommand())
	return root
}

func main() {
	if err := createRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
