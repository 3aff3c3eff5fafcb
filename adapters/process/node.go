package process

import (
	"bufio"
	"io"
	"path/filepath"
	"runtime"
	"strings"
)

// nodeLoader runs as `node -e` in front of the module. It loads the entry as
// the main module and reports the outcome as one line on fd 3: "ok" once the
// entry has finished loading, or "error: <message>" when loading threw.
const nodeLoader = `
const fs = require('fs');
const Module = require('module');
const { pathToFileURL } = require('url');

if (process.argv[1] === '--') process.argv.splice(1, 1);
const entry = process.argv[1];
let reported = false;

function report(line) {
  if (reported) return;
  reported = true;
  try {
    fs.writeSync(3, line + '\n');
    fs.closeSync(3);
  } catch (_) {}
}

function fail(err) {
  const text = err && err.stack ? String(err.stack) : String(err);
  try { fs.writeSync(2, text + '\n'); } catch (_) {}
  report('error: ' + String(err).split('\n')[0]);
  process.exit(1);
}

function viaImport() {
  import(pathToFileURL(entry).href).then(() => report('ok'), fail);
}

if (entry.toLowerCase().endsWith('.mjs')) {
  viaImport();
} else {
  try {
    Module._load(entry, null, true);
    report('ok');
  } catch (err) {
    if (err && (err.code === 'ERR_REQUIRE_ESM' || err.code === 'ERR_REQUIRE_ASYNC_MODULE')) {
      viaImport();
    } else {
      fail(err);
    }
  }
}
`

// readyPrefix marks a load failure reported by nodeLoader.
const readyPrefix = "error: "

type readyState int

const (
	readyClosed readyState = iota // fd 3 closed without a report
	readyLoaded
	readyThrew
)

// readyReport is what the module wrote on its ready pipe.
type readyReport struct {
	state readyState
	msg   string
}

// reportsLoad reports whether the runtime can signal load completion.
// ExtraFiles is not available on windows.
func reportsLoad(name string) bool {
	if runtime.GOOS == "windows" {
		return false
	}
	base := strings.TrimSuffix(filepath.Base(name), ".exe")
	return base == "node" || base == "nodejs"
}

func nodeArgs(args []string) []string {
	out := make([]string, 0, len(args)+3)
	out = append(out, "-e", nodeLoader, "--")
	return append(out, args...)
}

// watchReady reads the single report line from r and closes it.
func watchReady(r io.ReadCloser) <-chan readyReport {
	ch := make(chan readyReport, 1)
	go func() {
		defer r.Close()
		line, _ := bufio.NewReader(r).ReadString('\n')
		ch <- parseReady(line)
	}()
	return ch
}

func parseReady(line string) readyReport {
	line = strings.TrimRight(line, "\r\n")
	switch {
	case line == "ok":
		return readyReport{state: readyLoaded}
	case strings.HasPrefix(line, readyPrefix):
		return readyReport{state: readyThrew, msg: strings.TrimPrefix(line, readyPrefix)}
	}
	return readyReport{state: readyClosed}
}
