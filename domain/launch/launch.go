// Package launch provides value types and pure functions for a single
// attempt to start an external server module.
package launch

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// State is the outcome of a launch attempt.
type State string

const (
	StateNotAttempted State = "not-attempted"
	StateSucceeded    State = "succeeded"
	StateFailed       State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// CanTransition reports whether moving from s to next is allowed.
// The only legal moves are not-attempted -> succeeded and not-attempted -> failed.
func (s State) CanTransition(next State) bool {
	return s == StateNotAttempted && next.Terminal()
}

// Target describes the external module to load (value type).
type Target struct {
	Path    string            // package directory, script, or executable
	Name    string            // display name used in console messages
	Runtime string            // interpreter override; empty means auto-detect
	Args    []string          // extra arguments passed to the module
	Env     map[string]string // extra environment for the module
	Dir     string            // working directory; empty inherits the launcher's
}

// DisplayName returns the name used in console messages.
// Falls back to the last element of the path.
func (t Target) DisplayName() string {
	if name := strings.TrimSpace(t.Name); name != "" {
		return name
	}
	if t.Path == "" {
		return "server"
	}
	return filepath.Base(filepath.Clean(t.Path))
}

// Result is the outcome of one launch attempt (value type).
type Result struct {
	ID        string
	Target    Target
	State     State
	Err       error
	PID       int
	StartedAt time.Time
	Duration  time.Duration
}

// Succeeded reports whether the module loaded.
func (r Result) Succeeded() bool {
	return r.State == StateSucceeded
}

// SuccessMessage returns the line written to standard output on success.
func SuccessMessage(t Target) string {
	return fmt.Sprintf("%s started successfully", t.DisplayName())
}

// FailureMessage returns the line written to standard error on failure.
func FailureMessage(t Target, err error) string {
	detail := "unknown error"
	if err != nil {
		detail = err.Error()
	}
	return fmt.Sprintf("Error starting %s: %s", t.DisplayName(), oneLine(detail))
}

// oneLine folds line breaks so a message always fits on a single line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Message returns the single console line for r and whether it belongs on
// standard error. Exactly one line exists for every terminal result.
func Message(r Result) (line string, toStderr bool) {
	if r.State == StateSucceeded {
		return SuccessMessage(r.Target), false
	}
	return FailureMessage(r.Target, r.Err), true
}
