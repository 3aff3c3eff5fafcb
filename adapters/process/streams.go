package process

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// gateLimit bounds output held back while a load is in progress. A module
// that writes more than this before its load settles is let through early.
const gateLimit = 64 << 10

// gate holds a stream's output until the load outcome is known. Released
// output flows through; discarded output is dropped.
type gate struct {
	mu      sync.Mutex
	w       io.Writer
	held    []byte
	open    bool
	dropped bool
}

func (g *gate) Write(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case g.dropped:
		return len(p), nil
	case g.open:
		return g.w.Write(p)
	}
	g.held = append(g.held, p...)
	if len(g.held) > gateLimit {
		g.flushLocked()
	}
	return len(p), nil
}

func (g *gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.flushLocked()
}

func (g *gate) flushLocked() {
	g.open = true
	if len(g.held) > 0 {
		_, _ = g.w.Write(g.held)
	}
	g.held = nil
}

func (g *gate) discard() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dropped = true
	g.held = nil
}

// streams are the standard streams of one load attempt.
type streams struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	gates []*gate
	tail  *tailBuffer

	log      *os.File
	logStart int64
}

// openStreams wires the module's streams. A waiting launcher relays them
// through gates. A detached module only gets real files, because pipes
// relayed by this process would break once it exits.
func (l *Loader) openStreams() (*streams, error) {
	if l.cfg.Detach {
		return l.detachedStreams()
	}

	s := &streams{stdin: l.cfg.Stdin, tail: newTailBuffer(l.cfg.TailBytes)}
	if l.cfg.Stdout != nil {
		s.stdout = s.gate(l.cfg.Stdout)
	}
	s.stderr = s.tail
	if l.cfg.Stderr != nil {
		s.stderr = io.MultiWriter(s.gate(l.cfg.Stderr), s.tail)
	}
	return s, nil
}

func (l *Loader) detachedStreams() (*streams, error) {
	s := &streams{}
	if f, ok := l.cfg.Stdin.(*os.File); ok && f != nil {
		s.stdin = f
	}

	if l.cfg.DetachLog != "" {
		if err := os.MkdirAll(filepath.Dir(l.cfg.DetachLog), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(l.cfg.DetachLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open module log: %w", err)
		}
		start, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open module log: %w", err)
		}
		s.log, s.logStart = f, start
		s.stderr = f
	}

	if f, ok := l.cfg.Stdout.(*os.File); ok && f != nil {
		s.stdout = f
	} else if s.log != nil {
		s.stdout = s.log
	}
	return s, nil
}

func (s *streams) gate(w io.Writer) *gate {
	g := &gate{w: w}
	s.gates = append(s.gates, g)
	return g
}

func (s *streams) release() {
	for _, g := range s.gates {
		g.release()
	}
}

func (s *streams) discard() {
	for _, g := range s.gates {
		g.discard()
	}
}

// stderrTail returns the module's most recent stderr output.
func (s *streams) stderrTail(limit int) string {
	if s.log != nil {
		return readTail(s.log.Name(), s.logStart, limit)
	}
	if s.tail != nil {
		return s.tail.String()
	}
	return ""
}

// close drops this process's handle on the module log. The module keeps
// its own.
func (s *streams) close() {
	if s.log != nil {
		s.log.Close()
	}
}

// readTail returns at most limit bytes written to path after offset start.
func readTail(path string, start int64, limit int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() <= start {
		return ""
	}
	from := start
	if info.Size()-from > int64(limit) {
		from = info.Size() - int64(limit)
	}
	buf := make([]byte, info.Size()-from)
	n, _ := f.ReadAt(buf, from)
	return string(buf[:n])
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
