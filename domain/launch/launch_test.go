package launch

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestState_CanTransition(t *testing.T) {
	tests := []struct {
		from State
		to   State
		want bool
	}{
		{StateNotAttempted, StateSucceeded, true},
		{StateNotAttempted, StateFailed, true},
		{StateNotAttempted, StateNotAttempted, false},
		{StateSucceeded, StateFailed, false},
		{StateFailed, StateSucceeded, false},
		{StateSucceeded, StateNotAttempted, false},
		{StateFailed, StateNotAttempted, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTarget_DisplayName(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		want   string
	}{
		{"explicit name", Target{Name: "Puppeteer MCP server", Path: "/x/y"}, "Puppeteer MCP server"},
		{"blank name uses path", Target{Name: "  ", Path: "/opt/servers/server-puppeteer/"}, "server-puppeteer"},
		{"script path", Target{Path: "/opt/bin/run.js"}, "run.js"},
		{"empty", Target{}, "server"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.target.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessage_ExactlyOneLine(t *testing.T) {
	target := Target{Name: "Puppeteer MCP server"}

	line, toStderr := Message(Result{Target: target, State: StateSucceeded})
	if toStderr {
		t.Error("success message should go to stdout")
	}
	if line != "Puppeteer MCP server started successfully" {
		t.Errorf("success line = %q", line)
	}

	cause := NewLoadError("/missing", ErrNotFound)
	line, toStderr = Message(Result{Target: target, State: StateFailed, Err: cause})
	if !toStderr {
		t.Error("failure message should go to stderr")
	}
	if !strings.HasPrefix(line, "Error starting Puppeteer MCP server: ") {
		t.Errorf("failure line = %q", line)
	}
	if !strings.Contains(line, "module not found") {
		t.Errorf("failure line should contain the cause, got %q", line)
	}
}

func TestFailureMessage_NilError(t *testing.T) {
	got := FailureMessage(Target{Name: "srv"}, nil)
	if got != "Error starting srv: unknown error" {
		t.Errorf("FailureMessage() = %q", got)
	}
}

func TestLoadError(t *testing.T) {
	err := &LoadError{Path: "/srv/index.js", Cause: ErrExited, Stderr: "\nTypeError: boom\n"}

	if !errors.Is(err, ErrExited) {
		t.Error("LoadError should unwrap to its cause")
	}
	if !IsLoadFailure(fmt.Errorf("wrapped: %w", err)) {
		t.Error("IsLoadFailure should see through wrapping")
	}
	if IsLoadFailure(errors.New("plain")) {
		t.Error("plain error is not a load failure")
	}

	want := "load /srv/index.js: module exited during load: TypeError: boom"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestLoadError_ShowsOnlyLastStderrLine(t *testing.T) {
	stack := "/srv/index.js:1\nthrow new Error('boom')\n^\n\nError: boom\n    at Object.<anonymous> (/srv/index.js:1:7)\n\nNode.js v20.11.0\n\n"
	err := &LoadError{Path: "/srv/index.js", Cause: ErrThrew, Stderr: stack}

	want := "load /srv/index.js: module threw during load: Node.js v20.11.0"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	msg := FailureMessage(Target{Name: "srv"}, err)
	if strings.Contains(msg, "\n") {
		t.Errorf("FailureMessage() spans lines: %q", msg)
	}
}

func TestFailureMessage_FoldsLineBreaks(t *testing.T) {
	got := FailureMessage(Target{Name: "srv"}, errors.New("first\nsecond\r\nthird"))
	if got != "Error starting srv: first second third" {
		t.Errorf("FailureMessage() = %q", got)
	}
}

func TestLastLine(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"\n\n  \n", ""},
		{"one", "one"},
		{"one\ntwo\n", "two"},
		{"one\r\n  two  \r\n\r\n", "two"},
	}
	for _, tt := range tests {
		if got := LastLine(tt.in); got != tt.want {
			t.Errorf("LastLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewRecord(t *testing.T) {
	r := Result{
		ID:       "abc",
		Target:   Target{Path: "/opt/server-puppeteer"},
		State:    StateFailed,
		Err:      NewLoadError("/opt/server-puppeteer", ErrNoEntry),
		Duration: 1500 * time.Millisecond,
	}

	rec := NewRecord(r)
	if rec.Name != "server-puppeteer" {
		t.Errorf("Name = %q, want server-puppeteer", rec.Name)
	}
	if rec.DurationMS != 1500 {
		t.Errorf("DurationMS = %d, want 1500", rec.DurationMS)
	}
	if !strings.Contains(rec.Error, "no entry point") {
		t.Errorf("Error = %q", rec.Error)
	}
	if rec.Running() {
		t.Error("failed attempt should not be running")
	}

	rec.State = StateSucceeded
	if !rec.Running() {
		t.Error("loaded module without exit code should be running")
	}
	code := 0
	rec.ExitCode = &code
	if rec.Running() {
		t.Error("exited module should not be running")
	}
}
