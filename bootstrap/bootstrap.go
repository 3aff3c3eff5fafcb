// Package bootstrap wires all dependencies and runs the launcher.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/artpar/mcplaunch/adapters/clock"
	apihttp "github.com/artpar/mcplaunch/adapters/http"
	"github.com/artpar/mcplaunch/adapters/idgen"
	"github.com/artpar/mcplaunch/adapters/metrics"
	"github.com/artpar/mcplaunch/adapters/process"
	"github.com/artpar/mcplaunch/adapters/sqlite"
	"github.com/artpar/mcplaunch/app"
	"github.com/artpar/mcplaunch/config"
	"github.com/artpar/mcplaunch/domain/launch"
	"github.com/artpar/mcplaunch/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Options provides optional configuration for application initialization.
type Options struct {
	// ConfigPath enables hot reload of logging settings when the file exists.
	ConfigPath string
	Overrides  []config.Override
	HotReload  bool

	// Standard streams. Nil means the process streams.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Version apihttp.VersionResponse
}

// App represents the wired launcher.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Launcher *app.Launcher
	Metrics  *metrics.Collector
	Registry *prometheus.Registry
	DB       *sqlite.DB
	Status   *apihttp.Server
	Holder   *config.Holder

	logOutput *logOutput
}

// New creates and wires the application for cfg. Optional parts that fail to
// initialize (history, hot reload) are logged and skipped so they can never
// prevent the launch attempt.
func New(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	logger, output := setupLogger(cfg.Logging, opts.Stderr)
	logger.Debug().Str("module", cfg.Module.Path).Msg("initializing mcplaunch")

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Registry:  prometheus.NewRegistry(),
		logOutput: output,
	}
	a.Metrics = metrics.NewWithRegistry(a.Registry)

	var store ports.LaunchStore
	if cfg.History.Enabled {
		s, err := a.initHistory(cfg.History.DSN)
		if err != nil {
			logger.Warn().Err(err).Str("dsn", cfg.History.DSN).Msg("launch history disabled")
		} else {
			store = s
		}
	}

	loader := process.New(process.Config{
		StartupGrace: cfg.Module.StartupGrace,
		Stdin:        opts.Stdin,
		Stdout:       opts.Stdout,
		Stderr:       opts.Stderr,
		Detach:       !cfg.Launch.Wait,
		DetachLog:    cfg.Launch.DetachLog,
		Logger:       logger.With().Str("component", "loader").Logger(),
	})

	a.Launcher = app.NewLauncher(Target(cfg.Module), app.LauncherDeps{
		Loader:   loader,
		Store:    store,
		Observer: a.Metrics,
		Clock:    clock.Real{},
		IDGen:    idgen.UUID{},
		Stdout:   opts.Stdout,
		Stderr:   opts.Stderr,
		Logger:   logger,
	})

	if cfg.Status.Enabled {
		router := apihttp.NewRouter(apihttp.NewHealthHandler(a.Launcher), logger, apihttp.RouterConfig{
			Version:     opts.Version,
			Gatherer:    a.Registry,
			MetricsPath: cfg.Status.MetricsPath,
		})
		a.Status = apihttp.NewServer(cfg.Status.Addr, router, logger.With().Str("component", "status").Logger())
	}

	if opts.HotReload && opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); err == nil {
			a.initHolder(opts.ConfigPath, opts.Overrides)
		}
	}

	return a, nil
}

// Target builds the launch target for a module config. The display name
// defaults to the package.json name, then to the base of the path.
func Target(m config.ModuleConfig) launch.Target {
	name := m.Name
	if name == "" {
		name = process.PackageName(m.Path)
	}
	return launch.Target{
		Path:    m.Path,
		Name:    name,
		Runtime: m.Runtime,
		Args:    m.Args,
		Env:     m.Env,
		Dir:     m.Dir,
	}
}

func (a *App) initHistory(dsn string) (*sqlite.LaunchStore, error) {
	db, err := sqlite.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	a.DB = db
	return sqlite.NewLaunchStore(db), nil
}

func (a *App) initHolder(path string, overrides []config.Override) {
	holder, err := config.NewHolder(path, a.Logger.With().Str("component", "config").Logger(), overrides...)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("config hot reload disabled")
		return
	}

	holder.OnChange(func(cfg *config.Config) {
		applyLevel(cfg.Logging.Level)
		a.logOutput.setFormat(cfg.Logging.Format)
		a.Metrics.RecordConfigReload(nil)
	})
	holder.OnError(func(err error) {
		a.Metrics.RecordConfigReload(err)
	})

	if err := holder.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watch failed, SIGHUP reload still active")
	}
	holder.WatchSignals()
	a.Holder = holder
	a.Logger.Debug().Str("path", holder.Path()).Msg("config hot reload enabled")
}

// Run performs the launch attempt and, when configured, stays attached to the
// loaded module until it exits or the launcher receives SIGINT or SIGTERM.
// It returns the process exit code.
func (a *App) Run(ctx context.Context) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer a.Shutdown()

	if a.Status != nil {
		if err := a.Status.Start(); err != nil {
			a.Logger.Error().Err(err).Msg("status server not started")
			a.Status = nil
		} else {
			go a.watchStatus(a.Status.Errors())
		}
	}

	result, err := a.Launcher.Launch(ctx)
	if err != nil {
		a.Logger.Error().Err(err).Msg("launch refused")
		return 1
	}
	if !result.Succeeded() {
		return 0
	}
	if !a.Config.Launch.Wait {
		a.Logger.Debug().
			Int("pid", result.PID).
			Str("log", a.Config.Launch.DetachLog).
			Msg("detaching from module")
		return 0
	}

	return a.Launcher.Wait(ctx, a.Config.Launch.ShutdownTimeout)
}

// watchStatus reports a status server that stopped on its own. The module
// is not affected.
func (a *App) watchStatus(errs <-chan error) {
	for err := range errs {
		a.Logger.Error().Err(err).Msg("status server stopped")
	}
}

// Shutdown releases everything New and Run started. Safe to call twice.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.Holder != nil {
		a.Holder.Stop()
	}

	if a.Status != nil {
		if err := a.Status.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("status server shutdown error")
		}
		a.Status = nil
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
		a.DB = nil
	}

	a.Logger.Debug().Msg("shutdown complete")
	return nil
}
