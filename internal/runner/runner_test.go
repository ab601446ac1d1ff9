package runner

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jaithonls/internal/config"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"my file.jai", `"my file.jai"`},
		{"/usr/local/bin/jaithon", "/usr/local/bin/jaithon"},
		{"--debug", "--debug"},
		{"--threads=4", "--threads=4"},
		{"C:/code/x.jai", "C:/code/x.jai"},
		{`say "hi"`, `"say \"hi\""`},
		{"", `""`},
		{"a$b", `"a$b"`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Quote(tt.in))
		})
	}
}

func TestCommandLine(t *testing.T) {
	got := CommandLine("/usr/local/bin/jaithon", []string{"--debug", "my file.jai"})
	assert.Equal(t, `/usr/local/bin/jaithon --debug "my file.jai"`, got)

	inv := Invocation{Exe: "/opt/my tools/jaithon", Args: []string{"x.jai"}}
	assert.Equal(t, `"/opt/my tools/jaithon" x.jai`, inv.CommandLine())
}

func writeExecutable(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))
}

func stubLookPath(t *testing.T, found map[string]string) {
	t.Helper()
	orig := lookPath
	lookPath = func(name string) (string, error) {
		if p, ok := found[name]; ok {
			return p, nil
		}
		return "", errors.New("not found")
	}
	t.Cleanup(func() { lookPath = orig })
}

func TestResolve(t *testing.T) {
	t.Setenv("JAITHON_HOME", "")

	t.Run("configured absolute path", func(t *testing.T) {
		stubLookPath(t, nil)
		exe := filepath.Join(t.TempDir(), "custom", "jaithon")
		writeExecutable(t, exe)

		s := config.Default()
		s.InterpreterPath = exe
		assert.Equal(t, exe, Resolve(s, nil))
	})

	t.Run("configured path relative to first root", func(t *testing.T) {
		stubLookPath(t, nil)
		root := t.TempDir()
		writeExecutable(t, filepath.Join(root, "tools", "jai"))

		s := config.Default()
		s.InterpreterPath = "tools/jai"
		assert.Equal(t, filepath.Join(root, "tools", "jai"), Resolve(s, []string{root}))
	})

	t.Run("configured bare name on PATH", func(t *testing.T) {
		stubLookPath(t, map[string]string{"jaithon-nightly": "/usr/bin/jaithon-nightly"})

		s := config.Default()
		s.InterpreterPath = "jaithon-nightly"
		assert.Equal(t, "/usr/bin/jaithon-nightly", Resolve(s, nil))
	})

	t.Run("build output in root", func(t *testing.T) {
		stubLookPath(t, map[string]string{"jaithon": "/usr/bin/jaithon"})
		root := t.TempDir()
		writeExecutable(t, filepath.Join(root, "build", "jaithon"))

		assert.Equal(t, filepath.Join(root, "build", "jaithon"), Resolve(config.Default(), []string{root}))
	})

	t.Run("root binary before build", func(t *testing.T) {
		stubLookPath(t, nil)
		root := t.TempDir()
		writeExecutable(t, filepath.Join(root, "jaithon"))
		writeExecutable(t, filepath.Join(root, "build", "jaithon"))

		assert.Equal(t, filepath.Join(root, "jaithon"), Resolve(config.Default(), []string{root}))
	})

	t.Run("JAITHON_HOME", func(t *testing.T) {
		stubLookPath(t, nil)
		home := t.TempDir()
		writeExecutable(t, filepath.Join(home, "bin", "jaithon"))
		t.Setenv("JAITHON_HOME", home)

		assert.Equal(t, filepath.Join(home, "bin", "jaithon"), Resolve(config.Default(), []string{t.TempDir()}))
	})

	t.Run("PATH", func(t *testing.T) {
		stubLookPath(t, map[string]string{"jaithon": "/usr/local/bin/jaithon"})
		assert.Equal(t, "/usr/local/bin/jaithon", Resolve(config.Default(), []string{t.TempDir()}))
	})

	t.Run("best guess is configured value", func(t *testing.T) {
		stubLookPath(t, nil)
		s := config.Default()
		s.InterpreterPath = "/nowhere/jaithon"
		assert.Equal(t, "/nowhere/jaithon", Resolve(s, nil))
	})

	t.Run("best guess default", func(t *testing.T) {
		stubLookPath(t, nil)
		assert.Equal(t, DefaultExecutable, Resolve(config.Default(), nil))
	})

	t.Run("non executable file skipped", func(t *testing.T) {
		stubLookPath(t, nil)
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, "jaithon"), nil, 0644))
		assert.Equal(t, DefaultExecutable, Resolve(config.Default(), []string{root}))
	})
}

type fakeTerminal struct {
	name, line, dir string
	err             error
}

func (f *fakeTerminal) RunInTerminal(name, commandLine, dir string) error {
	f.name, f.line, f.dir = name, commandLine, dir
	return f.err
}

type recordingOutput struct {
	mu    sync.Mutex
	lines []string
	codes map[string]int
}

func (r *recordingOutput) Line(runID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, text)
}

func (r *recordingOutput) Exited(runID string, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.codes == nil {
		r.codes = make(map[string]int)
	}
	r.codes[runID] = code
}

func TestStartInTerminal(t *testing.T) {
	term := &fakeTerminal{}
	out := &recordingOutput{}
	r := New(term, out, nil)
	defer r.Close()

	id, err := r.Start(Invocation{Exe: "/usr/bin/jaithon", Args: []string{"--debug", "my file.jai"}, Dir: "/proj"}, true)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, TerminalName, term.name)
	assert.Equal(t, `/usr/bin/jaithon --debug "my file.jai"`, term.line)
	assert.Equal(t, "/proj", term.dir)
	assert.Empty(t, out.lines)
}

func TestStartInTerminalError(t *testing.T) {
	r := New(&fakeTerminal{err: errors.New("closed")}, &recordingOutput{}, nil)
	defer r.Close()

	_, err := r.Start(Invocation{Exe: "jaithon"}, true)
	assert.Error(t, err)
}

func TestStartCaptured(t *testing.T) {
	out := &recordingOutput{}
	r := New(&fakeTerminal{}, out, nil)
	defer r.Close()

	id, err := r.Start(Invocation{Exe: "sh", Args: []string{"-c", "echo hello; echo oops >&2; exit 3"}}, false)
	require.NoError(t, err)
	r.Wait()

	out.mu.Lock()
	defer out.mu.Unlock()
	require.Len(t, out.lines, 4)
	assert.Equal(t, `> sh -c "echo hello; echo oops >&2; exit 3"`, out.lines[0])
	middle := []string{out.lines[1], out.lines[2]}
	sort.Strings(middle)
	assert.Equal(t, []string{"hello", "oops"}, middle)
	assert.Equal(t, "[exit code 3]", out.lines[3])
	assert.Equal(t, 3, out.codes[id])
}

func TestStartCapturedSuccess(t *testing.T) {
	out := &recordingOutput{}
	r := New(&fakeTerminal{}, out, nil)
	defer r.Close()

	dir := t.TempDir()
	id, err := r.Start(Invocation{Exe: "pwd", Dir: dir}, false)
	require.NoError(t, err)
	r.Wait()

	out.mu.Lock()
	defer out.mu.Unlock()
	assert.Equal(t, 0, out.codes[id])
	assert.Equal(t, "[exit code 0]", out.lines[len(out.lines)-1])
}

func TestStartCapturedSpawnFailure(t *testing.T) {
	out := &recordingOutput{}
	r := New(&fakeTerminal{}, out, nil)
	defer r.Close()

	id, err := r.Start(Invocation{Exe: filepath.Join(t.TempDir(), "missing-jaithon")}, false)
	require.NoError(t, err)
	r.Wait()

	out.mu.Lock()
	defer out.mu.Unlock()
	assert.Equal(t, -1, out.codes[id])
	assert.Contains(t, out.lines[len(out.lines)-1], "failed to run")
}
