// backend serves the chunked upload endpoint and runs the holding-area
// janitor.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "backend",
		Short: "Chunked media upload service",
		Long: `backend accepts large files as a sequence of chunks, reassembles them in a
holding area, verifies their SHA-256 and places them under the downloads
directory (or into an S3 bucket).

Settings come from the environment, optionally layered over a YAML file:

  DOWNLOADS_PATH=/srv/media TEMP_CHUNKS_PATH=/srv/tmp backend serve
  backend serve --config /etc/uploader.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file (environment overrides it)")

	rootCmd.AddCommand(
		newServeCmd(&cfgFile),
		newSweepCmd(&cfgFile),
		newCheckConfigCmd(&cfgFile),
	)
	return rootCmd
}
