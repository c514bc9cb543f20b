package cmd

import (
	"fmt"

	"github.com/keyfort/keyfort/internal/config"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Version: %s\nCommit: %s\nBuilt: %s\n", config.Version, config.CommitHash, config.BuildTimestamp)
	},
}
