package launch

import (
	"errors"
	"fmt"
	"strings"
)

// Causes wrapped by LoadError. The console message does not distinguish them.
var (
	ErrNotFound         = errors.New("module not found")
	ErrNoEntry          = errors.New("module has no entry point")
	ErrRuntimeMissing   = errors.New("runtime not available")
	ErrUnsupported      = errors.New("unsupported module type")
	ErrExited           = errors.New("module exited during load")
	ErrThrew            = errors.New("module threw during load")
	ErrAlreadyAttempted = errors.New("launch already attempted")
)

// LoadError is the single launch failure kind: any failure while resolving,
// starting, or initializing the external module.
type LoadError struct {
	Path   string
	Cause  error
	Stderr string // tail of the module's stderr; only its last line is shown
}

// NewLoadError wraps cause as a load failure for path.
func NewLoadError(path string, cause error) *LoadError {
	return &LoadError{Path: path, Cause: cause}
}

func (e *LoadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "load %s: %v", e.Path, e.Cause)
	if last := LastLine(e.Stderr); last != "" {
		b.WriteString(": ")
		b.WriteString(last)
	}
	return b.String()
}

// LastLine returns the last non-blank line of s, trimmed.
func LastLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// IsLoadFailure reports whether err is or wraps a *LoadError.
func IsLoadFailure(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}
