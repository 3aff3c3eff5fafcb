package process

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/artpar/mcplaunch/domain/launch"
)

// Command is a resolved, runnable form of a launch target.
type Command struct {
	Program string   // absolute path of the executable to start
	Args    []string // arguments after the program name
	Entry   string   // module entry file
	Runtime string   // interpreter name, empty when the entry runs directly
}

// manifest is the subset of package.json the resolver reads.
type manifest struct {
	Name string `json:"name"`
	Main string `json:"main"`
}

// LookPathFunc finds an executable by name.
type LookPathFunc func(file string) (string, error)

// Resolve turns a target into a command. Directories are resolved the way
// Node resolves require(dir): package.json "main", then index.js.
// All failures are returned as *launch.LoadError.
func Resolve(t launch.Target, lookPath LookPathFunc) (Command, error) {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if strings.TrimSpace(t.Path) == "" {
		return Command{}, launch.NewLoadError(t.Path, fmt.Errorf("%w: empty path", launch.ErrNotFound))
	}

	entry, err := resolveEntry(t.Path)
	if err != nil {
		return Command{}, launch.NewLoadError(t.Path, err)
	}

	runtime := t.Runtime
	if runtime == "" {
		runtime, err = runtimeFor(entry)
		if err != nil {
			return Command{}, launch.NewLoadError(t.Path, err)
		}
	}

	if runtime == "" {
		return Command{
			Program: entry,
			Args:    append([]string(nil), t.Args...),
			Entry:   entry,
		}, nil
	}

	program, err := lookPath(runtime)
	if err != nil {
		return Command{}, launch.NewLoadError(t.Path, fmt.Errorf("%w: %s: %v", launch.ErrRuntimeMissing, runtime, err))
	}

	args := make([]string, 0, len(t.Args)+1)
	args = append(args, entry)
	args = append(args, t.Args...)
	return Command{Program: program, Args: args, Entry: entry, Runtime: runtime}, nil
}

// PackageName returns the "name" field of the package.json in dir, or ""
// when dir is not a package.
func PackageName(dir string) string {
	m, err := readManifest(dir)
	if err != nil {
		return ""
	}
	return m.Name
}

func resolveEntry(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", launch.ErrNotFound, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", launch.ErrNotFound, abs)
		}
		return "", fmt.Errorf("%w: %v", launch.ErrNotFound, err)
	}
	if !info.IsDir() {
		return abs, nil
	}

	m, err := readManifest(abs)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if m.Main != "" {
		if entry, ok := tryFile(filepath.Join(abs, m.Main)); ok {
			return entry, nil
		}
	}
	if entry, ok := tryFile(filepath.Join(abs, "index.js")); ok {
		return entry, nil
	}

	return "", fmt.Errorf("%w: %s", launch.ErrNoEntry, abs)
}

func readManifest(dir string) (manifest, error) {
	var m manifest
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse package.json: %w", err)
	}
	return m, nil
}

// tryFile applies Node's file lookup order for an extensionless main.
func tryFile(base string) (string, bool) {
	candidates := []string{base, base + ".js", base + ".cjs", base + ".mjs", filepath.Join(base, "index.js")}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, true
		}
	}
	return "", false
}

// runtimeFor picks an interpreter from the entry's extension. An empty
// result means the entry is executed directly.
func runtimeFor(entry string) (string, error) {
	switch strings.ToLower(filepath.Ext(entry)) {
	case ".js", ".cjs", ".mjs":
		return "node", nil
	case ".py":
		return "python3", nil
	case ".ts", ".mts", ".cts":
		return "", fmt.Errorf("%w: %s needs to be compiled first", launch.ErrUnsupported, filepath.Base(entry))
	}

	info, err := os.Stat(entry)
	if err != nil {
		return "", fmt.Errorf("%w: %v", launch.ErrNotFound, err)
	}
	if info.Mode()&0o111 == 0 {
		return "", fmt.Errorf("%w: %s is not executable", launch.ErrUnsupported, filepath.Base(entry))
	}
	return "", nil
}
