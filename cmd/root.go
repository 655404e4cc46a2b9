package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/beacon/cmd/gen"
	"github.com/luma/beacon/internal/meta"
)

var rootCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Command transport between automation agents and a desktop app",
	Long: `Beacon carries structured automation commands between a remote
agent and a running desktop application over a newline-framed JSON
socket protocol.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		info := meta.GetInfo()
		fmt.Printf("beacon %s (%s, %s, %s)\n",
			info.Version, info.Build, info.Platform, info.GoVersion)
	},
}

func init() {
	rootCmd.AddCommand(ServeCmd)
	rootCmd.AddCommand(CallCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(gen.RootCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
