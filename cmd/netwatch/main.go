// Netwatch - lightweight network monitoring backend
//
// The core is the discovery engine: give it a CIDR range and a
// credential profile and it finds the SSH-reachable hosts, logs in,
// and records what it learned about each device. An HTTP API fronts
// the engine through a request/reply control plane so the blocking
// scan work never runs in an HTTP handler.
//
// Subcommands:
//
//	netwatch serve          Run the API server and discovery workers
//	netwatch migrate        Apply database schema migrations
//	netwatch keygen         Generate a credential encryption key
//	netwatch user create    Create an account interactively
//	netwatch version        Print build information
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/netwatch-nms/netwatch/pkg/config"
	"github.com/netwatch-nms/netwatch/pkg/util"
	"github.com/netwatch-nms/netwatch/pkg/version"
)

var (
	configPath string
	verbose    bool

	cfg *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "netwatch",
	Short:             "Network monitoring backend",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Netwatch discovers and monitors devices over SSH.

Point it at a CIDR range with a credential profile and the discovery
engine finds live hosts, authenticates, and records device facts.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "keygen" || cmd.Name() == "help" {
			return nil
		}

		if verbose {
			util.SetLogLevel("debug")
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		if err := util.SetLogLevel(cfg.Log.Level); err != nil {
			return err
		}
		if verbose {
			util.SetLogLevel("debug")
		}
		if cfg.Log.JSON {
			util.SetJSONFormat()
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "netwatch.yaml", "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(serveCmd, migrateCmd, keygenCmd, userCmd, versionCmd)
}
