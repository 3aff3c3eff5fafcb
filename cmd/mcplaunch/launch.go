package main

import (
	"context"

	apihttp "github.com/artpar/mcplaunch/adapters/http"
	"github.com/artpar/mcplaunch/bootstrap"
	"github.com/spf13/cobra"
)

var launchCmd = &cobra.Command{
	Use:   "launch [path]",
	Short: "Start the module (default command)",
	Long: `Start the configured module and report whether it loaded.

After a successful load mcplaunch stays attached to the module and exits
with its exit code, unless launch.wait is false. A failed load is reported
on stderr and mcplaunch exits 0.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLaunch,
}

var launchHotReload bool

func init() {
	rootCmd.AddCommand(launchCmd)

	for _, c := range []*cobra.Command{rootCmd, launchCmd} {
		c.Flags().BoolVar(&launchHotReload, "hot-reload", true, "reload logging settings when the config file changes or on SIGHUP")
	}
}

func runLaunch(cmd *cobra.Command, args []string) error {
	overrides := configOverrides(args)
	cfg, err := loadConfig(cmd, overrides)
	if err != nil {
		return err
	}

	a, err := bootstrap.New(cfg, bootstrap.Options{
		ConfigPath: cfgFile,
		Overrides:  overrides,
		HotReload:  launchHotReload,
		Stdin:      cmd.InOrStdin(),
		Stdout:     cmd.OutOrStdout(),
		Stderr:     cmd.ErrOrStderr(),
		Version: apihttp.VersionResponse{
			Version: version,
			Commit:  commit,
		},
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if code := a.Run(ctx); code != 0 {
		return &exitError{code: code}
	}
	return nil
}
