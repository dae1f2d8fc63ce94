// Flexgate serves HTTP and WebSocket on one plain TCP port.
//
// Each connection is inspected before any protocol is chosen: TLS client
// hellos are refused with an alert, everything else is served as HTTP/1.1,
// and WebSocket upgrades are handed to an echo or broadcast session.
//
// Usage:
//
//	flexgate [command] [flags]
//
// See 'flexgate --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/flexgate/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "flexgate",
	Short: "Flexible HTTP and WebSocket server",
	Long: `flexgate serves static files over HTTP/1.1 and upgrades WebSocket
connections on the same port. Connections that open with a TLS handshake
are refused with a TLS alert.

Settings are read from the configuration file and can be overridden with
flags. Use 'flexgate config init' to write a starting file.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default: user config dir)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "flexgate %s\n", version.Full())
	},
}
