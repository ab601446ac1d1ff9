// Package config holds the jaithon-ls settings and the layers they are
// loaded from: built-in defaults, a .jaithon.toml file, environment
// variables and the editor's "jaithon" settings section.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
)

// FileName is the per-workspace settings file looked up in the first root.
const FileName = ".jaithon.toml"

// Section is the settings key the editor nests our settings under.
const Section = "jaithon"

// SourceExt is the Jaithon source file extension.
const SourceExt = ".jai"

// ModulesConfig selects the files offered as import paths.
type ModulesConfig struct {
	Include []string `toml:"include" json:"include"`
	// StripBase drops the literal directory prefix of the matching pattern
	// ("modules/" for "modules/**/*.jai") from each module path.
	StripBase bool `toml:"strip_base" json:"stripBase"`
}

// IndexConfig selects the files scanned for symbol definitions.
type IndexConfig struct {
	Include []string `toml:"include" json:"include"`
}

// Settings is the complete configuration surface.
type Settings struct {
	InterpreterPath  string        `toml:"interpreter_path" json:"interpreterPath"`
	Modules          ModulesConfig `toml:"modules" json:"modules"`
	Index            IndexConfig   `toml:"index" json:"index"`
	Exclude          string        `toml:"exclude" json:"exclude"`
	DefaultArgs      []string      `toml:"default_args" json:"defaultArgs"`
	RunInTerminal    bool          `toml:"run_in_terminal" json:"runInTerminal"`
	PythonPath       string        `toml:"python_path" json:"pythonPath"`
	TestRunner       string        `toml:"test_runner" json:"testRunner"`
	RespectGitignore bool          `toml:"respect_gitignore" json:"respectGitignore"`
	DebounceMs       int           `toml:"debounce_ms" json:"debounceMs"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		Modules: ModulesConfig{
			Include:   []string{"lib/modules/**/*.jai", "modules/**/*.jai"},
			StripBase: true,
		},
		Index: IndexConfig{
			Include: []string{"lib/std.jai", "lib/modules/**/*.jai", "modules/**/*.jai"},
		},
		Exclude:          "**/{node_modules,__pycache__,build,out,__jaicache__}/**",
		RunInTerminal:    true,
		PythonPath:       "python3",
		TestRunner:       "test_runner.py",
		RespectGitignore: true,
		DebounceMs:       200,
	}
}

// Clone returns a deep copy so decoders never write into shared slices.
func (s Settings) Clone() Settings {
	s.Modules.Include = slices.Clone(s.Modules.Include)
	s.Index.Include = slices.Clone(s.Index.Include)
	s.DefaultArgs = slices.Clone(s.DefaultArgs)
	return s
}

// Equal reports whether two settings are identical.
func (s Settings) Equal(o Settings) bool {
	return s.InterpreterPath == o.InterpreterPath &&
		slices.Equal(s.Modules.Include, o.Modules.Include) &&
		s.Modules.StripBase == o.Modules.StripBase &&
		slices.Equal(s.Index.Include, o.Index.Include) &&
		s.Exclude == o.Exclude &&
		slices.Equal(s.DefaultArgs, o.DefaultArgs) &&
		s.RunInTerminal == o.RunInTerminal &&
		s.PythonPath == o.PythonPath &&
		s.TestRunner == o.TestRunner &&
		s.RespectGitignore == o.RespectGitignore &&
		s.DebounceMs == o.DebounceMs
}

// Debounce is DebounceMs as a duration.
func (s Settings) Debounce() time.Duration {
	return time.Duration(s.DebounceMs) * time.Millisecond
}

// Validate checks glob syntax and numeric ranges.
func (s Settings) Validate() error {
	var errs []error
	check := func(field, pattern string) {
		if pattern == "" {
			return
		}
		if filepath.IsAbs(pattern) || strings.HasPrefix(pattern, "/") {
			errs = append(errs, fmt.Errorf("%s: pattern %q must be relative to a workspace root", field, pattern))
			return
		}
		if !doublestar.ValidatePattern(pattern) {
			errs = append(errs, fmt.Errorf("%s: invalid glob %q", field, pattern))
		}
	}
	for _, p := range s.Modules.Include {
		check("modules.include", p)
	}
	for _, p := range s.Index.Include {
		check("index.include", p)
	}
	check("exclude", s.Exclude)
	if s.DebounceMs < 0 {
		errs = append(errs, fmt.Errorf("debounce_ms must not be negative, got %d", s.DebounceMs))
	}
	return errors.Join(errs...)
}

// LoadFile decodes a TOML settings file on top of base.
func LoadFile(path string, base Settings) (Settings, error) {
	s := base.Clone()
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return base, fmt.Errorf("decoding %s: %w", path, err)
	}
	return s, nil
}

// Load builds settings from defaults, then the settings file, then the
// environment. explicit names the file to read; when empty, FileName in
// root is used if it exists. The returned path is the file actually read,
// or "" when none was.
func Load(root, explicit string) (Settings, string, error) {
	s := Default()
	path := explicit
	if path == "" && root != "" {
		candidate := filepath.Join(root, FileName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		loaded, err := LoadFile(path, s)
		if err != nil {
			return s.WithEnv(), "", err
		}
		s = loaded
	}
	s = s.WithEnv()
	if err := s.Validate(); err != nil {
		return s, path, fmt.Errorf("invalid settings: %w", err)
	}
	return s, path, nil
}

// WithEnv applies environment overrides:
//   - JAITHON_PATH: interpreter executable
//   - JAITHON_LS_PYTHON: interpreter for the test runner script
//   - JAITHON_LS_RUN_IN_TERMINAL: true/false
//   - JAITHON_LS_DEBOUNCE_MS: refresh debounce in milliseconds
func (s Settings) WithEnv() Settings {
	s = s.Clone()
	if v := os.Getenv("JAITHON_PATH"); v != "" {
		s.InterpreterPath = v
	}
	if v := os.Getenv("JAITHON_LS_PYTHON"); v != "" {
		s.PythonPath = v
	}
	if v := os.Getenv("JAITHON_LS_RUN_IN_TERMINAL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			s.RunInTerminal = b
		}
	}
	if v := os.Getenv("JAITHON_LS_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			s.DebounceMs = n
		}
	}
	return s
}

// Merge applies an editor settings object (the value of the "jaithon"
// section) on top of s. Keys that are absent keep their current value.
func (s Settings) Merge(raw json.RawMessage) (Settings, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return s, nil
	}
	merged := s.Clone()
	if err := json.Unmarshal(raw, &merged); err != nil {
		return s, fmt.Errorf("decoding %s settings: %w", Section, err)
	}
	if err := merged.Validate(); err != nil {
		return s, fmt.Errorf("invalid %s settings: %w", Section, err)
	}
	return merged, nil
}

// SectionFrom extracts the "jaithon" section from a
// workspace/didChangeConfiguration settings payload.
func SectionFrom(settings json.RawMessage) json.RawMessage {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(settings, &wrapper); err != nil {
		return nil
	}
	return wrapper[Section]
}
