package bootstrap

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/artpar/mcplaunch/config"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// logOutput is the writer behind the launcher's logger. Its format can be
// switched on config reload without rebuilding loggers already handed out.
type logOutput struct {
	mu  sync.Mutex
	out io.Writer
	w   io.Writer
}

func newLogOutput(out io.Writer, format string) *logOutput {
	o := &logOutput{out: out}
	o.setFormat(format)
	return o
}

func (o *logOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Write(p)
}

func (o *logOutput) setFormat(format string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if useConsole(format, o.out) {
		o.w = zerolog.ConsoleWriter{Out: o.out, TimeFormat: time.RFC3339}
		return
	}
	o.w = o.out
}

// useConsole reports whether format resolves to human-readable output.
// "auto" picks console output only when out is a terminal.
func useConsole(format string, out io.Writer) bool {
	switch format {
	case "console":
		return true
	case "json":
		return false
	}
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func applyLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// setupLogger builds the launcher logger. Logs always go to out (stderr in
// production) so stdout stays free for the launch message and the module.
func setupLogger(cfg config.LoggingConfig, out io.Writer) (zerolog.Logger, *logOutput) {
	applyLevel(cfg.Level)
	output := newLogOutput(out, cfg.Format)
	return zerolog.New(output).With().Timestamp().Logger(), output
}
