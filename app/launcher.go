// Package app contains the Launcher service that performs a single attempt to
// start an external server module and reports the outcome.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/artpar/mcplaunch/adapters/clock"
	"github.com/artpar/mcplaunch/domain/launch"
	"github.com/artpar/mcplaunch/ports"
	"github.com/rs/zerolog"
)

// ErrNotRunning is reported by HealthCheck when no loaded module is running.
var ErrNotRunning = errors.New("module not running")

// LauncherDeps contains dependencies for the launcher.
type LauncherDeps struct {
	Loader   ports.Loader
	Store    ports.LaunchStore    // optional
	Observer ports.LaunchObserver // optional
	Clock    ports.Clock
	IDGen    ports.IDGenerator
	Stdout   io.Writer
	Stderr   io.Writer
	Logger   zerolog.Logger
}

// Launcher performs one launch attempt and, on success, supervises the
// loaded module until it exits.
type Launcher struct {
	deps   LauncherDeps
	target launch.Target

	mu        sync.Mutex
	attempted bool
	state     launch.State
	result    launch.Result
	process   ports.Process
}

// NewLauncher creates a launcher for target.
func NewLauncher(target launch.Target, deps LauncherDeps) *Launcher {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Stdout == nil {
		deps.Stdout = io.Discard
	}
	if deps.Stderr == nil {
		deps.Stderr = io.Discard
	}
	return &Launcher{
		deps:   deps,
		target: target,
		state:  launch.StateNotAttempted,
	}
}

// Launch attempts to load the module and writes exactly one line: the
// success message to stdout or the failure message to stderr. Load failures
// are reported in the result and never returned as errors; the only error is
// ErrAlreadyAttempted on a second call.
func (l *Launcher) Launch(ctx context.Context) (launch.Result, error) {
	l.mu.Lock()
	if l.attempted {
		l.mu.Unlock()
		return launch.Result{}, launch.ErrAlreadyAttempted
	}
	l.attempted = true
	l.mu.Unlock()

	result := launch.Result{
		Target:    l.target,
		State:     launch.StateNotAttempted,
		StartedAt: l.deps.Clock.Now(),
	}
	if l.deps.IDGen != nil {
		result.ID = l.deps.IDGen.New()
	}

	l.deps.Logger.Debug().
		Str("path", l.target.Path).
		Str("name", l.target.DisplayName()).
		Msg("launching module")

	proc, err := l.load(ctx)
	result.Duration = clock.Since(l.deps.Clock, result.StartedAt)

	if err != nil {
		result.State = launch.StateFailed
		result.Err = err
	} else {
		result.State = launch.StateSucceeded
		if proc != nil {
			result.PID = proc.PID()
		}
	}

	l.mu.Lock()
	if !l.state.CanTransition(result.State) {
		from := l.state
		l.mu.Unlock()
		if proc != nil {
			_ = proc.Kill()
		}
		return launch.Result{}, fmt.Errorf("%w: state %s cannot become %s", launch.ErrAlreadyAttempted, from, result.State)
	}
	l.state = result.State
	l.result = result
	if result.Succeeded() {
		l.process = proc
	}
	l.mu.Unlock()

	l.report(result)
	l.record(ctx, result)

	if l.deps.Observer != nil {
		l.deps.Observer.Attempted(result)
	}

	return result, nil
}

// load calls the loader, turning a panic into a load failure.
func (l *Launcher) load(ctx context.Context) (proc ports.Process, err error) {
	defer func() {
		if r := recover(); r != nil {
			proc = nil
			err = launch.NewLoadError(l.target.Path, fmt.Errorf("panic: %v", r))
		}
	}()

	if l.deps.Loader == nil {
		return nil, launch.NewLoadError(l.target.Path, errors.New("no loader configured"))
	}

	proc, err = l.deps.Loader.Load(ctx, l.target)
	if err != nil && !launch.IsLoadFailure(err) {
		err = launch.NewLoadError(l.target.Path, err)
	}
	return proc, err
}

// report writes the single console line for result.
func (l *Launcher) report(result launch.Result) {
	line, toStderr := launch.Message(result)
	w := l.deps.Stdout
	if toStderr {
		w = l.deps.Stderr
	}
	fmt.Fprintln(w, line)

	// The console line is the report; logs stay below the default level.
	if toStderr {
		l.deps.Logger.Debug().
			Err(result.Err).
			Str("launch_id", result.ID).
			Dur("duration", result.Duration).
			Msg("module load failed")
		return
	}
	l.deps.Logger.Info().
		Str("launch_id", result.ID).
		Int("pid", result.PID).
		Dur("duration", result.Duration).
		Msg("module loaded")
}

// record persists the attempt. Store failures never change the outcome.
func (l *Launcher) record(ctx context.Context, result launch.Result) {
	if l.deps.Store == nil {
		return
	}
	if err := l.deps.Store.Create(context.WithoutCancel(ctx), launch.NewRecord(result)); err != nil {
		l.deps.Logger.Warn().Err(err).Str("launch_id", result.ID).Msg("failed to record launch")
	}
}

// Wait blocks until the loaded module exits and returns the exit code the
// launcher should exit with. When ctx is cancelled the module is sent
// SIGTERM and killed if it is still running after shutdownTimeout.
// Without a loaded module Wait returns 0 immediately.
func (l *Launcher) Wait(ctx context.Context, shutdownTimeout time.Duration) int {
	l.mu.Lock()
	proc := l.process
	result := l.result
	l.mu.Unlock()

	if proc == nil {
		return 0
	}

	stopping := false
	select {
	case <-proc.Done():
	case <-ctx.Done():
		stopping = true
		l.stop(proc, shutdownTimeout)
	}

	code := proc.ExitCode()
	if code < 0 {
		// Terminated by a signal: a requested stop is a clean exit.
		if stopping {
			code = 0
		} else {
			code = 1
		}
	}

	l.mu.Lock()
	l.process = nil
	l.mu.Unlock()

	l.deps.Logger.Info().
		Str("launch_id", result.ID).
		Int("pid", result.PID).
		Int("exit_code", proc.ExitCode()).
		Msg("module exited")

	if l.deps.Store != nil {
		if err := l.deps.Store.Finish(context.WithoutCancel(ctx), result.ID, proc.ExitCode(), l.deps.Clock.Now()); err != nil {
			l.deps.Logger.Warn().Err(err).Str("launch_id", result.ID).Msg("failed to record module exit")
		}
	}
	if l.deps.Observer != nil {
		l.deps.Observer.Exited(proc.ExitCode())
	}

	return code
}

func (l *Launcher) stop(proc ports.Process, timeout time.Duration) {
	l.deps.Logger.Info().Dur("timeout", timeout).Msg("stopping module")

	if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		l.deps.Logger.Debug().Err(err).Msg("signal failed, killing module")
		_ = proc.Kill()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-proc.Done():
	case <-timer.C:
		l.deps.Logger.Warn().Msg("module did not stop in time, killing it")
		_ = proc.Kill()
		<-proc.Done()
	}
}

// State returns the launcher state.
func (l *Launcher) State() launch.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// HealthCheck returns nil while a loaded module is running.
func (l *Launcher) HealthCheck(ctx context.Context) error {
	l.mu.Lock()
	proc := l.process
	l.mu.Unlock()

	if proc == nil {
		return ErrNotRunning
	}
	select {
	case <-proc.Done():
		return ErrNotRunning
	default:
		return nil
	}
}
