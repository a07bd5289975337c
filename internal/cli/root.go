package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
)

// NewRootCmd creates the root command for tollgate
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tollgate",
		Short: "tollgate - Envoy ext_authz API authorization filter",
		Long: `tollgate is an Envoy ext_authz (gRPC) service that authorizes API
requests: it resolves API credentials from configurable request locations,
matches mapping rules into usage counts, and authorizes each call against
an authrep accounting backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: ./configs/tollgate.yaml)")

	// Add subcommands
	rootCmd.AddCommand(NewServeCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
