package runner

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"jaithonls/internal/config"
	"jaithonls/internal/workspace"
)

// Command identifiers accepted by workspace/executeCommand.
const (
	CmdRun      = "jaithon.run"
	CmdDebug    = "jaithon.debug"
	CmdCompile  = "jaithon.compile"
	CmdExecute  = "jaithon.execute"
	CmdShell    = "jaithon.shell"
	CmdRunTests = "jaithon.runTests"
	CmdRefresh  = "jaithon.refresh"
)

// Commands lists every command the server advertises.
var Commands = []string{CmdRun, CmdDebug, CmdCompile, CmdExecute, CmdShell, CmdRunTests, CmdRefresh}

// BundleExt is the extension of compiled bundles written by --compile.
const BundleExt = ".jaic"

var (
	ErrNoFile     = errors.New("command needs a file")
	ErrNoRoot     = errors.New("command needs a workspace folder")
	ErrUnknown    = errors.New("unknown command")
	ErrNotAFile   = errors.New("not a Jaithon source file")
	ErrNotABundle = errors.New("not a compiled .jaic bundle")
)

// Build turns a command into an invocation. file is the absolute path of
// the target document, or "" for commands that take none. Default
// arguments always come before the command's own.
func Build(command string, s config.Settings, roots []string, file string) (Invocation, error) {
	exe := Resolve(s, roots)
	args := slices.Clone(s.DefaultArgs)

	switch command {
	case CmdRun, CmdDebug, CmdCompile:
		if file == "" {
			return Invocation{}, ErrNoFile
		}
		if !isSource(file) {
			return Invocation{}, fmt.Errorf("%w: %s", ErrNotAFile, file)
		}
		switch command {
		case CmdDebug:
			args = append(args, "--debug")
		case CmdCompile:
			args = append(args, "--compile")
		}
		args = append(args, file)
		return Invocation{Exe: exe, Args: args, Dir: workDir(roots, file)}, nil

	case CmdExecute:
		if file == "" {
			return Invocation{}, ErrNoFile
		}
		if !strings.EqualFold(filepath.Ext(file), BundleExt) {
			return Invocation{}, fmt.Errorf("%w: %s", ErrNotABundle, file)
		}
		args = append(args, "--execute", file)
		return Invocation{Exe: exe, Args: args, Dir: workDir(roots, file)}, nil

	case CmdShell:
		dir := ""
		if len(roots) > 0 {
			dir = roots[0]
		}
		return Invocation{Exe: exe, Args: append(args, "--shell"), Dir: dir}, nil

	case CmdRunTests:
		if len(roots) == 0 {
			return Invocation{}, ErrNoRoot
		}
		script := s.TestRunner
		if !filepath.IsAbs(script) {
			script = filepath.Join(roots[0], script)
		}
		return Invocation{Exe: s.PythonPath, Args: []string{script}, Dir: roots[0]}, nil
	}
	return Invocation{}, fmt.Errorf("%w: %s", ErrUnknown, command)
}

// workDir is the root holding file, so imports resolve the way they do
// from the project directory, or the file's own directory outside roots.
func workDir(roots []string, file string) string {
	if _, root, ok := workspace.Rel(roots, file); ok {
		return root
	}
	return filepath.Dir(file)
}

func isSource(p string) bool {
	return strings.EqualFold(filepath.Ext(p), config.SourceExt)
}
