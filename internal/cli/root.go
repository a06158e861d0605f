package cli

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "hearth",
	Short: "Behavioral pipeline for smart-home automation proposals",
	Long: "Hearth observes smart-home state changes, maintains a decaying relationship\n" +
		"graph, mines behavioral patterns, scores household mood, and turns\n" +
		"high-confidence patterns into automation proposals that require human approval.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mineCmd)
	rootCmd.AddCommand(resetCmd)
}
