package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/hamed0406/urlmonitor/internal/client"
)

var (
	apiURL string
	api    *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "urlmonitor",
	Short: "Manage monitored URLs and inspect their uptime",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		api = client.New(apiURL)
	},
	SilenceUsage: true,
}

func main() {
	defaultURL := os.Getenv("API_BASE")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", defaultURL, "monitor API URL")

	rootCmd.AddCommand(addCmd(), listCmd(), deactivateCmd(), removeCmd(),
		checkCmd(), statusCmd(), historyCmd(), statsCmd(), scheduleCmd(), pruneCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
