// Command creditsd serves the credits HTTP API and webhook endpoints and
// offers operator commands against the configured store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "creditsd",
		Short:         "Prepaid credits ledger with subscription reconciliation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a config file (default: ./credits.yaml or /etc/credits/credits.yaml)")

	cfgPath := func() string { return configPath }
	root.AddCommand(
		newServeCmd(cfgPath),
		newMigrateCmd(cfgPath),
		newPlansCmd(cfgPath),
		newUserCmd(cfgPath),
		newGrantCmd(cfgPath),
		newConsumeCmd(cfgPath),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "creditsd %s\n", Version)
			if GitCommit != "unknown" {
				fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", GitCommit)
			}
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
