package cliapp

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rohmanhakim/crawlcore/internal/build"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the crawlcore version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), build.FullVersion())
	},
}
