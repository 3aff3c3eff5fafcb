package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/artpar/mcplaunch/config"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile    string
	modulePath string
)

// rootCmd launches the module when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "mcplaunch [path]",
	Short: "Start an external server module and report whether it loaded",
	Long: `mcplaunch starts the server module at a configured path and prints
exactly one line: "<name> started successfully" on stdout, or
"Error starting <name>: <detail>" on stderr.

The path comes from, in order of precedence:
  mcplaunch <path>               positional argument
  mcplaunch --module <path>      flag
  MCPLAUNCH_MODULE_PATH          environment
  module.path in mcplaunch.yaml  config file

Examples:
  mcplaunch ./node_modules/@modelcontextprotocol/server-puppeteer
  mcplaunch --config /etc/mcplaunch.yaml
  mcplaunch validate`,
	Args:          cobra.MaximumNArgs(1),
	RunE:          runLaunch,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// exitError carries a process exit code without printing anything.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			return exit.code
		}
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().StringVarP(&modulePath, "module", "m", "", "module path (overrides config and environment)")
}

// configOverrides returns the command-line overrides, a positional path
// taking precedence over --module.
func configOverrides(args []string) []config.Override {
	path := modulePath
	if len(args) > 0 {
		path = args[0]
	}
	return []config.Override{config.WithModulePath(path)}
}

// loadConfig loads the config file when present and falls back to the
// environment. A --config pointing at a missing file is an error.
func loadConfig(cmd *cobra.Command, overrides []config.Override) (*config.Config, error) {
	if f := cmd.Flag("config"); f != nil && f.Changed {
		if _, err := os.Stat(cfgFile); err != nil {
			return nil, fmt.Errorf("config file not found: %s", cfgFile)
		}
		return config.Load(cfgFile, overrides...)
	}
	return config.LoadWithFallback(cfgFile, overrides...)
}
