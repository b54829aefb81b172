// Command devicesim is a reference device-side implementation and test
// harness for the device link protocol: a cobra command tree exercising
// the full handshake/dispatch/OTA/pub-sub stack over a plain (unencrypted)
// UDP transport, standing in for real hardware and the embedded DTLS
// library spec.md §1 excludes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alxayo/devlink/internal/logger"
)

var version = "dev"

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "devicesim",
		Short:         "Simulate a device link endpoint for protocol testing",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.Init()
			if err := logger.SetLevel(logLevel); err != nil {
				fmt.Fprintf(os.Stderr, "warning: invalid log level %q, using default\n", logLevel)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug|info|warn|error")

	root.AddCommand(newRunCommand())
	root.AddCommand(newSimulateEventCommand())
	root.AddCommand(newSimulateUpdateCommand())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	})

	return root
}
