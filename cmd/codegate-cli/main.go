// codegate-cli is the command-line interface for the code execution gateway.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ronai/codegate/internal/sandbox"
)

func main() {
	// Process mode re-executes this binary as a worker.
	if len(os.Args) > 1 && os.Args[1] == sandbox.WorkerFlag {
		sandbox.RunWorker()
		return
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "codegate-cli",
		Short:         "Untrusted code execution gateway CLI",
		Long:          "Screen and run programs locally, or talk to a codegate server.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Global flags
	rootCmd.PersistentFlags().String("server", getEnvDefault("CODEGATE_SERVER_URL", "http://localhost:3001"), "codegate server URL")
	rootCmd.PersistentFlags().String("token", os.Getenv("CODEGATE_TOKEN"), "Service token for the capture route")
	rootCmd.PersistentFlags().String("config", "", "Configuration file for local execution")
	rootCmd.PersistentFlags().Duration("timeout", 0, "Execution timeout for local runs (overrides config)")

	// Local commands
	rootCmd.AddCommand(newExecCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newScreenCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newReplCmd())
	rootCmd.AddCommand(newBuiltinsCmd())

	// Server commands
	rootCmd.AddCommand(newRemoteCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newGenerateCmd())
	rootCmd.AddCommand(newExecutionsCmd())
	rootCmd.AddCommand(newWatchCmd())

	return rootCmd
}

func getEnvDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
