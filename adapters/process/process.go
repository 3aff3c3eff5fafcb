// Package process loads external server modules by starting them as child
// processes under their runtime.
package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/artpar/mcplaunch/domain/launch"
	"github.com/artpar/mcplaunch/ports"
	"github.com/rs/zerolog"
)

const (
	// DefaultStartupGrace is how long a module must stay up to count as loaded.
	DefaultStartupGrace = 2 * time.Second

	// DefaultTailBytes bounds the stderr captured for failure messages.
	DefaultTailBytes = 4096

	waitDelay = 2 * time.Second
)

// Config configures a Loader.
type Config struct {
	// StartupGrace is how long a module that cannot report its own load
	// must stay up to count as loaded. Node modules report theirs.
	StartupGrace time.Duration
	TailBytes    int

	// Standard streams handed to the module. Nil streams are discarded.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Detach prepares the module to outlive this process. Its stderr, and
	// its stdout unless Stdout is a file, go to DetachLog.
	Detach    bool
	DetachLog string

	LookPath LookPathFunc
	Logger   zerolog.Logger
}

// Loader starts modules as child processes.
type Loader struct {
	cfg Config
}

// New creates a process loader.
func New(cfg Config) *Loader {
	if cfg.StartupGrace < 0 {
		cfg.StartupGrace = 0
	}
	if cfg.TailBytes <= 0 {
		cfg.TailBytes = DefaultTailBytes
	}
	if cfg.LookPath == nil {
		cfg.LookPath = exec.LookPath
	}
	return &Loader{cfg: cfg}
}

var _ ports.Loader = (*Loader)(nil)

// Load resolves t, starts it, and waits for its load to settle. Node entries
// are loaded through a small bootstrap that reports when the entry finished
// loading or threw. Other modules count as loaded if they are still running
// when the startup grace window closes or exited cleanly inside it.
// Module output is held back until the outcome is known and dropped on
// failure. The returned process outlives ctx.
func (l *Loader) Load(ctx context.Context, t launch.Target) (ports.Process, error) {
	cmd, err := Resolve(t, l.cfg.LookPath)
	if err != nil {
		return nil, err
	}

	s, err := l.openStreams()
	if err != nil {
		return nil, launch.NewLoadError(t.Path, err)
	}
	defer s.close()

	args := cmd.Args
	watch := reportsLoad(cmd.Runtime)
	if watch {
		args = nodeArgs(cmd.Args)
	}

	l.cfg.Logger.Debug().
		Str("program", cmd.Program).
		Strs("args", cmd.Args).
		Str("entry", cmd.Entry).
		Bool("detach", l.cfg.Detach).
		Msg("starting module")

	c := exec.Command(cmd.Program, args...)
	c.Dir = t.Dir
	c.Env = mergeEnv(os.Environ(), t.Env)
	c.Stdin = s.stdin
	c.Stdout = s.stdout
	c.Stderr = s.stderr
	c.WaitDelay = waitDelay

	var ready <-chan readyReport
	if watch {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, launch.NewLoadError(t.Path, err)
		}
		c.ExtraFiles = []*os.File{w}
		err = c.Start()
		w.Close()
		if err != nil {
			r.Close()
			return nil, launch.NewLoadError(t.Path, err)
		}
		ready = watchReady(r)
	} else if err := c.Start(); err != nil {
		return nil, launch.NewLoadError(t.Path, err)
	}

	p := newProcess(c)

	if ready != nil {
		err = l.awaitReady(ctx, t, p, s, ready)
	} else {
		err = l.awaitGrace(ctx, t, p, s)
	}
	if err != nil {
		s.discard()
		return nil, err
	}
	s.release()
	return p, nil
}

func (l *Loader) awaitReady(ctx context.Context, t launch.Target, p *childProcess, s *streams, ready <-chan readyReport) error {
	var rep readyReport
	select {
	case rep = <-ready:
	case <-ctx.Done():
		return abort(ctx, t, p)
	}

	switch rep.state {
	case readyLoaded:
		return nil
	case readyThrew:
		select {
		case <-p.Done():
		case <-ctx.Done():
			_ = p.Kill()
			<-p.Done()
		}
		l.logTail(s)
		return launch.NewLoadError(t.Path, fmt.Errorf("%w: %s", launch.ErrThrew, rep.msg))
	}

	// The pipe closed without a report, so the module ended its own load.
	select {
	case <-p.Done():
	case <-ctx.Done():
		return abort(ctx, t, p)
	}
	return l.exited(t, p, s)
}

func (l *Loader) awaitGrace(ctx context.Context, t launch.Target, p *childProcess, s *streams) error {
	timer := time.NewTimer(l.cfg.StartupGrace)
	defer timer.Stop()

	select {
	case <-p.Done():
		return l.exited(t, p, s)
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return abort(ctx, t, p)
	}
}

// exited judges a module that ended before its load settled. A clean exit
// counts as loaded.
func (l *Loader) exited(t launch.Target, p *childProcess, s *streams) error {
	if p.ExitCode() == 0 {
		return nil
	}
	l.logTail(s)
	return &launch.LoadError{
		Path:   t.Path,
		Cause:  fmt.Errorf("%w: %s", launch.ErrExited, p.state()),
		Stderr: s.stderrTail(l.cfg.TailBytes),
	}
}

func (l *Loader) logTail(s *streams) {
	if tail := s.stderrTail(l.cfg.TailBytes); tail != "" {
		l.cfg.Logger.Debug().Str("stderr", tail).Msg("module stderr")
	}
}

func abort(ctx context.Context, t launch.Target, p *childProcess) error {
	_ = p.Kill()
	<-p.Done()
	return launch.NewLoadError(t.Path, ctx.Err())
}

// mergeEnv overlays extra on base. Keys in extra replace existing entries.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := extra[key]; ok {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

// childProcess tracks a started command until it exits.
type childProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	waitErr error
}

func newProcess(cmd *exec.Cmd) *childProcess {
	p := &childProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p
}

func (p *childProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *childProcess) Done() <-chan struct{} {
	return p.done
}

func (p *childProcess) ExitCode() int {
	select {
	case <-p.done:
	default:
		return -1
	}
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

func (p *childProcess) Signal(sig os.Signal) error {
	select {
	case <-p.done:
		return os.ErrProcessDone
	default:
	}
	return p.cmd.Process.Signal(sig)
}

func (p *childProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return p.cmd.Process.Kill()
}

// state describes how the process ended.
func (p *childProcess) state() string {
	if p.cmd.ProcessState != nil {
		return p.cmd.ProcessState.String()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waitErr != nil {
		return p.waitErr.Error()
	}
	return "unknown exit"
}

var _ ports.Process = (*childProcess)(nil)
