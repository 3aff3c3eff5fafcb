package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/artpar/mcplaunch/adapters/sqlite"
	"github.com/artpar/mcplaunch/config"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded launch attempts",
	Long: `List launch attempts recorded in the history database, newest first.

History is recorded when history.enabled is true.

Examples:
  mcplaunch history
  mcplaunch history --limit 5
  mcplaunch history --dsn /var/lib/mcplaunch/history.db`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var (
	historyLimit int
	historyDSN   string
)

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of attempts to show")
	historyCmd.Flags().StringVar(&historyDSN, "dsn", "", "history database (default: history.dsn from config)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	dsn := historyDSN
	if dsn == "" {
		cfg, err := loadConfig(cmd, nil)
		switch {
		case errors.Is(err, config.ErrNoModulePath):
			dsn = config.Default().History.DSN
		case err != nil:
			return fmt.Errorf("config error: %w", err)
		default:
			dsn = cfg.History.DSN
		}
	}

	db, err := sqlite.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate history: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	records, err := sqlite.NewLaunchStore(db).List(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No launches recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tNAME\tSTATE\tPID\tDURATION\tEXIT\tERROR")
	for _, r := range records {
		exit := "-"
		if r.ExitCode != nil {
			exit = strconv.Itoa(*r.ExitCode)
		} else if r.Running() {
			exit = "running"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Name,
			r.State,
			r.PID,
			(time.Duration(r.DurationMS) * time.Millisecond).String(),
			exit,
			truncate(r.Error, 60),
		)
	}
	return w.Flush()
}

// truncate folds s onto one line and shortens it to at most n runes.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
