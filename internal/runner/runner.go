// Package runner starts the Jaithon interpreter, either in an editor
// terminal or as a child process whose output is captured and streamed.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"jaithonls/internal/config"
	"jaithonls/internal/logging"
)

// TerminalName is the reusable editor terminal runs are sent to.
const TerminalName = "Jaithon"

// DefaultExecutable is the interpreter name used when nothing else resolves.
const DefaultExecutable = "jaithon"

var safeArg = regexp.MustCompile(`^[A-Za-z0-9_./\-:=]+$`)

// Quote returns arg as a shell token: unchanged when it only holds safe
// characters, otherwise wrapped in double quotes with inner quotes escaped.
func Quote(arg string) string {
	if safeArg.MatchString(arg) {
		return arg
	}
	return `"` + strings.ReplaceAll(arg, `"`, `\"`) + `"`
}

// CommandLine joins exe and args into one quoted command line.
func CommandLine(exe string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, Quote(exe))
	for _, a := range args {
		parts = append(parts, Quote(a))
	}
	return strings.Join(parts, " ")
}

// Invocation is one interpreter run.
type Invocation struct {
	Exe  string   `json:"exe"`
	Args []string `json:"args"`
	Dir  string   `json:"dir,omitempty"`
}

// CommandLine renders the invocation for a shell.
func (inv Invocation) CommandLine() string {
	return CommandLine(inv.Exe, inv.Args)
}

// lookPath is swapped out in tests.
var lookPath = exec.LookPath

// Resolve finds the interpreter executable. In order: the configured path
// (with ~ expanded and relative paths taken from the first root), jaithon,
// build/jaithon or bin/jaithon in a root, $JAITHON_HOME/bin/jaithon, then
// PATH. When none exists it returns a best guess and lets the spawn fail.
func Resolve(s config.Settings, roots []string) string {
	configured := expandPath(s.InterpreterPath, roots)
	if configured != "" && isExecutableFile(configured) {
		return configured
	}
	if configured != "" && !strings.ContainsRune(configured, filepath.Separator) {
		if p, err := lookPath(configured); err == nil {
			return p
		}
	}

	var candidates []string
	for _, root := range roots {
		candidates = append(candidates,
			filepath.Join(root, DefaultExecutable),
			filepath.Join(root, "build", DefaultExecutable),
			filepath.Join(root, "bin", DefaultExecutable),
		)
	}
	if home := os.Getenv("JAITHON_HOME"); home != "" {
		candidates = append(candidates, filepath.Join(home, "bin", DefaultExecutable))
	}
	for _, c := range candidates {
		if isExecutableFile(c) {
			return c
		}
	}

	if p, err := lookPath(DefaultExecutable); err == nil {
		return p
	}
	if configured != "" {
		return configured
	}
	return DefaultExecutable
}

func expandPath(p string, roots []string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	// A bare name like "jaithon3" is left for PATH lookup by the caller.
	if !filepath.IsAbs(p) && strings.ContainsRune(p, filepath.Separator) && len(roots) > 0 {
		p = filepath.Join(roots[0], p)
	}
	return p
}

func isExecutableFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir() && info.Mode().Perm()&0111 != 0
}

// Terminal sends a command line to a named editor terminal, creating it if
// needed.
type Terminal interface {
	RunInTerminal(name, commandLine, dir string) error
}

// Output receives the captured output of a run.
type Output interface {
	Line(runID, text string)
	Exited(runID string, code int)
}

// Runner starts invocations. Captured runs outlive the call that started
// them; Close kills them.
type Runner struct {
	terminal Terminal
	output   Output
	outputMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// New creates a runner.
func New(terminal Terminal, output Output, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{terminal: terminal, output: output, ctx: ctx, cancel: cancel, logger: logger}
}

// Start runs inv in the terminal when inTerminal is set, otherwise as a
// captured child process. It returns the run id without waiting for the
// process.
func (r *Runner) Start(inv Invocation, inTerminal bool) (string, error) {
	runID := uuid.NewString()
	line := inv.CommandLine()

	if inTerminal {
		r.logger.Info("running in terminal", "run_id", runID, "command", line)
		if err := r.terminal.RunInTerminal(TerminalName, line, inv.Dir); err != nil {
			return "", fmt.Errorf("sending to terminal: %w", err)
		}
		return runID, nil
	}

	r.logger.Info("running captured", "run_id", runID, "command", line, "dir", inv.Dir)
	r.emit(runID, "> "+line)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.capture(runID, inv)
	}()
	return runID, nil
}

// capture runs the process and streams its output line by line.
func (r *Runner) capture(runID string, inv Invocation) {
	cmd := exec.CommandContext(r.ctx, inv.Exe, inv.Args...)
	cmd.Dir = inv.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.fail(runID, err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.fail(runID, err)
		return
	}
	if err := cmd.Start(); err != nil {
		r.fail(runID, err)
		return
	}

	var streams sync.WaitGroup
	streams.Add(2)
	go r.stream(runID, stdout, &streams)
	go r.stream(runID, stderr, &streams)
	streams.Wait()

	code := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			r.fail(runID, err)
			return
		}
		code = exitErr.ExitCode()
	}
	r.logger.Info("run finished", "run_id", runID, "exit_code", code)
	r.emit(runID, fmt.Sprintf("[exit code %d]", code))
	r.outputMu.Lock()
	r.output.Exited(runID, code)
	r.outputMu.Unlock()
}

func (r *Runner) stream(runID string, rd io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		r.emit(runID, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		r.logger.Debug("output stream ended", "run_id", runID, "error", err)
		// Drain so the child never blocks on a full pipe.
		io.Copy(io.Discard, rd)
	}
}

// fail reports a process that could not be started or waited on.
func (r *Runner) fail(runID string, err error) {
	r.logger.Error("run failed", "run_id", runID, "error", err)
	r.emit(runID, fmt.Sprintf("failed to run: %v", err))
	r.outputMu.Lock()
	r.output.Exited(runID, -1)
	r.outputMu.Unlock()
}

func (r *Runner) emit(runID, text string) {
	r.outputMu.Lock()
	r.output.Line(runID, text)
	r.outputMu.Unlock()
}

// Wait blocks until every captured run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close kills running processes and waits for them.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}
