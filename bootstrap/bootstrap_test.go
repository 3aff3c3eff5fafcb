package bootstrap_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/artpar/mcplaunch/adapters/sqlite"
	"github.com/artpar/mcplaunch/bootstrap"
	"github.com/artpar/mcplaunch/config"
	"github.com/artpar/mcplaunch/domain/launch"
)

// lockedBuffer is written concurrently by the launcher, its logger, and the
// module's stream copiers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

type streams struct {
	stdout lockedBuffer
	stderr lockedBuffer
}

func testConfig(modulePath string) *config.Config {
	cfg := config.Default()
	cfg.Module.Path = modulePath
	cfg.Module.StartupGrace = 100 * time.Millisecond
	cfg.Launch.ShutdownTimeout = time.Second
	cfg.Logging.Format = "json"
	return cfg
}

// newApp wires cfg with the console line streams split from the log stream,
// so tests can assert on the exact lines a user sees.
func newApp(t *testing.T, cfg *config.Config) (*bootstrap.App, *streams) {
	t.Helper()
	s := &streams{}
	a, err := bootstrap.New(cfg, bootstrap.Options{
		Stdin:  strings.NewReader(""),
		Stdout: &s.stdout,
		Stderr: &s.stderr,
	})
	if err != nil {
		t.Fatalf("bootstrap.New: %v", err)
	}
	t.Cleanup(func() { a.Shutdown() })
	return a, s
}

func script(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "server.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// errorLines returns the non-JSON lines written to stderr, which are the
// console messages rather than structured logs.
func errorLines(stderr string) []string {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(stderr), "\n") {
		if line == "" || strings.HasPrefix(line, "{") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func TestNew_RequiresConfig(t *testing.T) {
	if _, err := bootstrap.New(nil, bootstrap.Options{}); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestNew_OptionalParts(t *testing.T) {
	cfg := testConfig("/nonexistent")
	a, _ := newApp(t, cfg)

	if a.Launcher == nil {
		t.Fatal("Launcher should not be nil")
	}
	if a.Metrics == nil {
		t.Error("Metrics should always be wired")
	}
	if a.DB != nil {
		t.Error("DB should be nil when history is disabled")
	}
	if a.Status != nil {
		t.Error("Status should be nil when status is disabled")
	}
	if a.Holder != nil {
		t.Error("Holder should be nil without a config path")
	}
}

func TestNew_HistoryAndStatus(t *testing.T) {
	cfg := testConfig("/nonexistent")
	cfg.History.Enabled = true
	cfg.History.DSN = filepath.Join(t.TempDir(), "history.db")
	cfg.Status.Enabled = true
	cfg.Status.Addr = "127.0.0.1:0"

	a, _ := newApp(t, cfg)

	if a.DB == nil {
		t.Error("DB should be opened when history is enabled")
	}
	if a.Status == nil {
		t.Error("Status should be created when status is enabled")
	}
}

func TestNew_HistoryFailureIsNotFatal(t *testing.T) {
	cfg := testConfig("/nonexistent")
	cfg.History.Enabled = true
	cfg.History.DSN = filepath.Join(t.TempDir(), "missing", "dir", "history.db")

	a, s := newApp(t, cfg)

	if a.DB != nil {
		t.Error("DB should be nil when it cannot be opened")
	}
	if !strings.Contains(s.stderr.String(), "launch history disabled") {
		t.Errorf("expected warning in logs, got: %s", s.stderr.String())
	}
}

func TestNew_HotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcplaunch.yaml")
	if err := os.WriteFile(path, []byte("module:\n  path: /opt/server\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a, err := bootstrap.New(cfg, bootstrap.Options{
		ConfigPath: path,
		HotReload:  true,
		Stdout:     &bytes.Buffer{},
		Stderr:     &bytes.Buffer{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown()

	if a.Holder == nil {
		t.Fatal("Holder should be set when the config file exists")
	}
	if a.Holder.Get().Module.Path != "/opt/server" {
		t.Errorf("Holder module path = %s", a.Holder.Get().Module.Path)
	}
	if a.Holder.Path() != path {
		t.Errorf("Holder.Path() = %s, want %s", a.Holder.Path(), path)
	}
}

func TestTarget_Name(t *testing.T) {
	pkg := t.TempDir()
	manifest := `{"name": "@modelcontextprotocol/server-puppeteer", "main": "dist/index.js"}`
	if err := os.WriteFile(filepath.Join(pkg, "package.json"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		module config.ModuleConfig
		want   string
	}{
		{"configured name wins", config.ModuleConfig{Path: pkg, Name: "Puppeteer MCP server"}, "Puppeteer MCP server"},
		{"package.json name", config.ModuleConfig{Path: pkg}, "@modelcontextprotocol/server-puppeteer"},
		{"base of path", config.ModuleConfig{Path: "/opt/servers/weather.py"}, "weather.py"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bootstrap.Target(tt.module).DisplayName()
			if got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRun_MissingModule(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "does-not-exist"))
	cfg.Module.Name = "Puppeteer MCP server"
	a, s := newApp(t, cfg)

	code := a.Run(context.Background())

	if code != 0 {
		t.Errorf("exit code = %d, want 0 (failure is reported, not propagated)", code)
	}
	if s.stdout.Len() != 0 {
		t.Errorf("stdout = %q, want empty", s.stdout.String())
	}
	lines := errorLines(s.stderr.String())
	if len(lines) != 1 {
		t.Fatalf("error lines = %q, want exactly one", lines)
	}
	if !strings.HasPrefix(lines[0], "Error starting Puppeteer MCP server: ") {
		t.Errorf("error line = %q", lines[0])
	}
	if !strings.Contains(lines[0], "does-not-exist") {
		t.Errorf("error line should name the path: %q", lines[0])
	}
}

func TestRun_ModuleFailsDuringLoad(t *testing.T) {
	path := script(t, `echo "Error: Cannot find module 'puppeteer'" >&2; exit 1`)
	cfg := testConfig(path)
	a, s := newApp(t, cfg)

	code := a.Run(context.Background())

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if s.stdout.Len() != 0 {
		t.Errorf("stdout = %q, want empty", s.stdout.String())
	}
	if !strings.Contains(s.stderr.String(), "Error starting server.sh: ") {
		t.Errorf("stderr missing error line: %s", s.stderr.String())
	}
	if !strings.Contains(s.stderr.String(), "Cannot find module 'puppeteer'") {
		t.Errorf("stderr missing module failure: %s", s.stderr.String())
	}
}

func TestRun_ModuleLoadsAndExits(t *testing.T) {
	path := script(t, "sleep 0.3\nexit 3")
	cfg := testConfig(path)
	a, s := newApp(t, cfg)

	code := a.Run(context.Background())

	if code != 3 {
		t.Errorf("exit code = %d, want 3 (module exit code)", code)
	}
	if s.stdout.String() != "server.sh started successfully\n" {
		t.Errorf("stdout = %q", s.stdout.String())
	}
	if lines := errorLines(s.stderr.String()); len(lines) != 0 {
		t.Errorf("unexpected error lines: %q", lines)
	}
}

func TestRun_StopOnCancel(t *testing.T) {
	path := script(t, "exec sleep 5")
	cfg := testConfig(path)
	a, s := newApp(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	code := a.Run(ctx)

	if code != 0 {
		t.Errorf("exit code = %d, want 0 after requested stop", code)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("Run took %s, module was not stopped", time.Since(start))
	}
	if !strings.Contains(s.stdout.String(), "started successfully") {
		t.Errorf("stdout = %q", s.stdout.String())
	}
}

func TestRun_NoWait(t *testing.T) {
	path := script(t, "echo 'listening on stdio' >&2\nexec sleep 1")
	logPath := filepath.Join(t.TempDir(), "module.log")
	cfg := testConfig(path)
	cfg.Launch.Wait = false
	cfg.Launch.DetachLog = logPath
	a, s := newApp(t, cfg)

	start := time.Now()
	code := a.Run(context.Background())

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if time.Since(start) > 900*time.Millisecond {
		t.Errorf("Run waited for the module: %s", time.Since(start))
	}
	if s.stdout.String() != "server.sh started successfully\n" {
		t.Errorf("stdout = %q", s.stdout.String())
	}
	if strings.Contains(s.stderr.String(), "listening on stdio") {
		t.Error("detached module output should not pass through the launcher")
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read module log: %v", err)
	}
	if !strings.Contains(string(data), "listening on stdio") {
		t.Errorf("module log = %q", data)
	}
}

// TestDetachedLauncherProcess is run as a separate launcher process by
// TestRun_DetachedModuleOutlivesLauncher.
func TestDetachedLauncherProcess(t *testing.T) {
	if os.Getenv("MCPLAUNCH_TEST_DETACHED_LAUNCHER") != "1" {
		t.Skip("runs only as a child of TestRun_DetachedModuleOutlivesLauncher")
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	a, err := bootstrap.New(cfg, bootstrap.Options{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	os.Exit(a.Run(context.Background()))
}

func TestRun_DetachedModuleOutlivesLauncher(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "alive")
	logPath := filepath.Join(dir, "module.log")
	path := script(t, "sleep 1\necho 'still serving' >&2\ntouch '"+marker+"'")

	stdout, err := os.Create(filepath.Join(dir, "launcher.out"))
	if err != nil {
		t.Fatal(err)
	}
	defer stdout.Close()
	var stderr bytes.Buffer

	cmd := exec.Command(os.Args[0], "-test.run=^TestDetachedLauncherProcess$")
	cmd.Env = append(os.Environ(),
		"MCPLAUNCH_TEST_DETACHED_LAUNCHER=1",
		"MCPLAUNCH_MODULE_PATH="+path,
		"MCPLAUNCH_WAIT=false",
		"MCPLAUNCH_STARTUP_GRACE=100ms",
		"MCPLAUNCH_DETACH_LOG="+logPath,
		"MCPLAUNCH_LOG_LEVEL=warn",
	)
	cmd.Stdout = stdout
	// A pipe, like a supervisor capturing output. It closes when the
	// launcher exits.
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		t.Fatalf("launcher: %v, stderr: %s", err, stderr.String())
	}
	if _, err := os.Stat(marker); err == nil {
		t.Fatal("module finished before the launcher exited")
	}

	out, err := os.ReadFile(stdout.Name())
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "server.sh started successfully\n" {
		t.Errorf("launcher stdout = %q", out)
	}
	if stderr.Len() != 0 {
		t.Errorf("launcher stderr = %q, want empty", stderr.String())
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(marker); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("module did not survive the launcher exiting")
		}
		time.Sleep(50 * time.Millisecond)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "still serving") {
		t.Errorf("module log = %q", data)
	}
}

func TestRun_FailureWritesExactlyOneLine(t *testing.T) {
	path := script(t, strings.Join([]string{
		"echo 'booting' ",
		"echo \"$0:12\" >&2",
		"echo '    throw err;' >&2",
		"echo '    ^' >&2",
		"echo '' >&2",
		"echo \"Error: Cannot find module 'puppeteer'\" >&2",
		"exit 1",
	}, "\n"))
	cfg := testConfig(path)
	cfg.Logging.Level = "warn"
	a, s := newApp(t, cfg)

	code := a.Run(context.Background())

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if s.stdout.Len() != 0 {
		t.Errorf("stdout = %q, want empty", s.stdout.String())
	}
	want := "Error starting server.sh: load " + path +
		": module exited during load: exit status 1: Error: Cannot find module 'puppeteer'\n"
	if got := s.stderr.String(); got != want {
		t.Errorf("stderr = %q, want exactly %q", got, want)
	}
}

func nodePackage(t *testing.T, files map[string]string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("load reporting needs ExtraFiles")
	}
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node not installed")
	}
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestRun_NodePackage(t *testing.T) {
	t.Run("loads", func(t *testing.T) {
		dir := nodePackage(t, map[string]string{
			"package.json":  `{"name":"@modelcontextprotocol/server-demo","main":"dist/index.js"}`,
			"dist/index.js": "require('./tools');\nsetInterval(() => {}, 1000);\n",
			"dist/tools.js": "module.exports = { ping: () => 'pong' };\n",
		})
		cfg := testConfig(dir)
		cfg.Module.StartupGrace = 0
		cfg.Logging.Level = "warn"
		a, s := newApp(t, cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()

		if code := a.Run(ctx); code != 0 {
			t.Errorf("exit code = %d, want 0 after requested stop", code)
		}
		if got := s.stdout.String(); got != "@modelcontextprotocol/server-demo started successfully\n" {
			t.Errorf("stdout = %q", got)
		}
		if got := s.stderr.String(); got != "" {
			t.Errorf("stderr = %q, want empty", got)
		}
	})

	t.Run("throws during load", func(t *testing.T) {
		dir := nodePackage(t, map[string]string{
			"package.json": `{"name":"server-broken"}`,
			"index.js":     "console.log('starting');\nrequire('puppeteer-not-installed');\n",
		})
		cfg := testConfig(dir)
		cfg.Module.StartupGrace = 0
		cfg.Logging.Level = "warn"
		a, s := newApp(t, cfg)

		if code := a.Run(context.Background()); code != 0 {
			t.Errorf("exit code = %d, want 0", code)
		}
		if s.stdout.Len() != 0 {
			t.Errorf("stdout = %q, want empty", s.stdout.String())
		}
		want := "Error starting server-broken: load " + dir +
			": module threw during load: Error: Cannot find module 'puppeteer-not-installed'\n"
		if got := s.stderr.String(); got != want {
			t.Errorf("stderr = %q, want exactly %q", got, want)
		}
	})
}

func TestRun_RecordsHistory(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "history.db")
	path := script(t, "sleep 0.2\nexit 0")
	cfg := testConfig(path)
	cfg.History.Enabled = true
	cfg.History.DSN = dsn
	a, _ := newApp(t, cfg)

	if code := a.Run(context.Background()); code != 0 {
		t.Fatalf("exit code = %d", code)
	}

	db, err := sqlite.Open(dsn)
	if err != nil {
		t.Fatalf("reopen history: %v", err)
	}
	defer db.Close()

	records, err := sqlite.NewLaunchStore(db).List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.State != launch.StateSucceeded {
		t.Errorf("State = %s, want succeeded", rec.State)
	}
	if rec.ExitCode == nil || *rec.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", rec.ExitCode)
	}
	if rec.EndedAt == nil {
		t.Error("EndedAt should be set after the module exits")
	}
}

func TestShutdown_Twice(t *testing.T) {
	cfg := testConfig("/nonexistent")
	cfg.History.Enabled = true
	cfg.History.DSN = filepath.Join(t.TempDir(), "history.db")
	a, _ := newApp(t, cfg)

	if err := a.Shutdown(); err != nil {
		t.Errorf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}
