// Package cli implements the applyr command line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/applyr-io/applyr/internal/logging"
)

var (
	noColor       bool
	logLevel      string
	backendType   string
	backendConfig map[string]string
)

var rootCmd = &cobra.Command{
	Use:   "applyr",
	Short: "Declarative resource orchestration",
	Long: `Applyr reconciles declared resources with their last-applied state.

It evaluates a PKL configuration into a resource graph, plans the minimal
set of create, update and delete operations, and executes them in
dependency order with bounded parallelism.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&backendType, "backend", "local", "State backend type (local, s3)")
	rootCmd.PersistentFlags().StringToStringVar(&backendConfig, "backend-config", nil, "State backend configuration (format: key=value)")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(versionCmd)
}
