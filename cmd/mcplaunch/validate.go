package main

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/artpar/mcplaunch/adapters/process"
	"github.com/artpar/mcplaunch/bootstrap"
	"github.com/artpar/mcplaunch/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate configuration and resolve the module without starting it",
	Long: `Validate the mcplaunch configuration.

Checks:
  - Config file (or environment) is valid
  - Module path exists and has an entry point
  - Module runtime is installed

Examples:
  mcplaunch validate
  mcplaunch validate ./node_modules/@modelcontextprotocol/server-puppeteer`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd, configOverrides(args))
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)
	fmt.Fprintf(out, "  %s Module path from: %s\n", checkMark, modulePathSource(args))

	target := bootstrap.Target(cfg.Module)
	resolved, err := process.Resolve(target, exec.LookPath)
	if err != nil {
		fmt.Fprintf(out, "  %s Module resolved: %s\n", crossMark, cfg.Module.Path)
		return err
	}
	fmt.Fprintf(out, "  %s Module resolved: %s\n", checkMark, resolved.Entry)
	fmt.Fprintf(out, "  %s Name: %s\n", checkMark, target.DisplayName())
	fmt.Fprintf(out, "  %s Command: %s\n", checkMark, strings.Join(append([]string{resolved.Program}, resolved.Args...), " "))
	fmt.Fprintf(out, "  %s Startup grace: %s\n", checkMark, cfg.Module.StartupGrace)
	if !cfg.Launch.Wait {
		fmt.Fprintf(out, "  %s Detached, module log: %s\n", checkMark, cfg.Launch.DetachLog)
	}

	if cfg.History.Enabled {
		fmt.Fprintf(out, "  %s History: %s\n", checkMark, cfg.History.DSN)
	}
	if cfg.Status.Enabled {
		fmt.Fprintf(out, "  %s Status server: %s\n", checkMark, cfg.Status.Addr)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

// modulePathSource names where the module path came from, highest
// precedence first.
func modulePathSource(args []string) string {
	switch {
	case len(args) > 0:
		return "argument"
	case modulePath != "":
		return "--module"
	case config.HasEnvConfig():
		return "MCPLAUNCH_MODULE_PATH"
	}
	return cfgFile
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
