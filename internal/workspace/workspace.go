// Package workspace tracks the workspace roots and enumerates the files
// under them that match the configured globs.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"jaithonls/internal/config"
	"jaithonls/internal/logging"
)

// ErrNoRoots is returned by file enumeration when no root is configured.
// Callers treat it as "nothing to do".
var ErrNoRoots = errors.New("no workspace roots")

// File is a file found by FindFiles.
type File struct {
	Path string // absolute path
	Root string // root it was found under
	Base string // literal directory prefix of the matching pattern, slash separated, "" for none
}

// Targets says which snapshots a changed file affects.
type Targets uint8

const (
	Modules Targets = 1 << iota
	Symbols
)

// Has reports whether t includes target.
func (t Targets) Has(target Targets) bool {
	return t&target != 0
}

// Workspace holds the roots and current settings. It is safe for
// concurrent use.
type Workspace struct {
	mu       sync.RWMutex
	roots    []string
	settings config.Settings
	ignores  map[string]*ignore.GitIgnore
	logger   *slog.Logger
}

// New creates a workspace with default settings and no roots.
func New(logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Workspace{
		settings: config.Default(),
		ignores:  make(map[string]*ignore.GitIgnore),
		logger:   logger,
	}
}

// SetRoots replaces the root list. Relative roots are made absolute and
// duplicates dropped; order is kept.
func (w *Workspace) SetRoots(roots []string) {
	var clean []string
	for _, r := range roots {
		if r == "" {
			continue
		}
		abs, err := filepath.Abs(r)
		if err != nil {
			continue
		}
		if !slices.Contains(clean, abs) {
			clean = append(clean, abs)
		}
	}
	w.mu.Lock()
	w.roots = clean
	w.ignores = make(map[string]*ignore.GitIgnore)
	w.mu.Unlock()
}

// Roots returns a copy of the root list.
func (w *Workspace) Roots() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.roots)
}

// SetSettings installs new settings.
func (w *Workspace) SetSettings(s config.Settings) {
	w.mu.Lock()
	w.settings = s.Clone()
	w.ignores = make(map[string]*ignore.GitIgnore)
	w.mu.Unlock()
}

// Settings returns a copy of the current settings.
func (w *Workspace) Settings() config.Settings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.settings.Clone()
}

// Rel returns path relative to the first root containing it, or path
// unchanged when no root does.
func (w *Workspace) Rel(p string) string {
	rel, _, _ := Rel(w.Roots(), p)
	return rel
}

// Rel returns p relative to the first of roots that is an ancestor of it,
// along with that root. When none is, p is returned as is and ok is false.
func Rel(roots []string, p string) (rel, root string, ok bool) {
	for _, r := range roots {
		if isSubpath(p, r) {
			rel, err := filepath.Rel(r, p)
			if err == nil {
				return rel, r, true
			}
		}
	}
	return p, "", false
}

// isSubpath returns true if child is under parent
func isSubpath(child, parent string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// FindFiles lists files under every root matching one of include and not
// matching exclude. Results are ordered by pattern, then root, then walk
// order. Overlapping patterns yield duplicates.
func (w *Workspace) FindFiles(ctx context.Context, include []string, exclude string) ([]File, error) {
	roots := w.Roots()
	if len(roots) == 0 {
		return nil, ErrNoRoots
	}

	var files []File
	for _, pattern := range include {
		pattern = cleanPattern(pattern)
		if pattern == "" {
			continue
		}
		if !doublestar.ValidatePattern(pattern) {
			w.logger.Warn("skipping invalid glob", "pattern", pattern)
			continue
		}
		base, _ := doublestar.SplitPattern(pattern)
		if base == "." {
			base = ""
		}
		for _, root := range roots {
			err := doublestar.GlobWalk(os.DirFS(root), pattern, func(rel string, d fs.DirEntry) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				if w.excluded(root, rel, exclude) {
					return nil
				}
				files = append(files, File{
					Path: filepath.Join(root, filepath.FromSlash(rel)),
					Root: root,
					Base: base,
				})
				return nil
			}, doublestar.WithFilesOnly())
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("walking %s in %s: %w", pattern, root, err)
			}
		}
	}
	return files, nil
}

// ModuleFiles lists the files behind module paths.
func (w *Workspace) ModuleFiles(ctx context.Context) ([]File, error) {
	s := w.Settings()
	return w.FindFiles(ctx, s.Modules.Include, s.Exclude)
}

// IndexFiles lists the absolute paths of the files to index.
func (w *Workspace) IndexFiles(ctx context.Context) ([]string, error) {
	s := w.Settings()
	files, err := w.FindFiles(ctx, s.Index.Include, s.Exclude)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return paths, nil
}

// Classify reports which snapshots a create, delete or modify of the file
// at p invalidates. The file need not exist.
func (w *Workspace) Classify(p string) Targets {
	rel, root, ok := Rel(w.Roots(), p)
	if !ok {
		return 0
	}
	rel = filepath.ToSlash(rel)
	s := w.Settings()
	if w.excluded(root, rel, s.Exclude) {
		return 0
	}
	var t Targets
	if matchAny(s.Modules.Include, rel) {
		t |= Modules
	}
	if matchAny(s.Index.Include, rel) {
		t |= Symbols
	}
	return t
}

// Ignored reports whether the directory or file at p is filtered by the
// exclude glob or .gitignore. Used by the watcher to skip directories.
func (w *Workspace) Ignored(p string, isDir bool) bool {
	rel, root, ok := Rel(w.Roots(), p)
	if !ok {
		return false
	}
	rel = filepath.ToSlash(rel)
	if isDir {
		// "dir/**" style excludes match the directory's contents.
		rel += "/"
		if w.gitignored(root, rel) {
			return true
		}
		ok, _ := doublestar.Match(w.Settings().Exclude, rel+"x")
		return ok
	}
	return w.excluded(root, rel, w.Settings().Exclude)
}

func (w *Workspace) excluded(root, rel, exclude string) bool {
	if exclude != "" {
		if ok, _ := doublestar.Match(exclude, rel); ok {
			return true
		}
	}
	return w.gitignored(root, rel)
}

func (w *Workspace) gitignored(root, rel string) bool {
	if !w.Settings().RespectGitignore {
		return false
	}
	gi := w.gitignore(root)
	return gi != nil && gi.MatchesPath(rel)
}

// gitignore returns the compiled .gitignore rules for root, loading them
// on first use. nil means no rules.
func (w *Workspace) gitignore(root string) *ignore.GitIgnore {
	w.mu.RLock()
	gi, ok := w.ignores[root]
	w.mu.RUnlock()
	if ok {
		return gi
	}
	gi = loadGitignore(root)
	w.mu.Lock()
	w.ignores[root] = gi
	w.mu.Unlock()
	return gi
}

// loadGitignore loads gitignore patterns from the global ~/.gitignore and
// the root's own .gitignore.
func loadGitignore(rootPath string) *ignore.GitIgnore {
	var patterns []string

	if homeDir, err := os.UserHomeDir(); err == nil {
		patterns = append(patterns, readIgnoreLines(filepath.Join(homeDir, ".gitignore"))...)
	}
	patterns = append(patterns, readIgnoreLines(filepath.Join(rootPath, ".gitignore"))...)

	if len(patterns) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(patterns...)
}

func readIgnoreLines(p string) []string {
	content, err := os.ReadFile(p)
	if err != nil {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed[0] == '#' {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(cleanPattern(p), rel); ok {
			return true
		}
	}
	return false
}

// cleanPattern normalizes a glob to the slash-separated, root-relative
// form io/fs expects.
func cleanPattern(p string) string {
	p = strings.TrimSpace(filepath.ToSlash(p))
	p = strings.TrimPrefix(p, "./")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}
