// Package modules collects the import paths of the Jaithon modules in the
// workspace and serves them as completion candidates after "import".
package modules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"jaithonls/internal/config"
	"jaithonls/internal/logging"
	"jaithonls/internal/workspace"
)

// importPrefix matches a line typed up to the cursor that is an import
// statement with a partial module path.
var importPrefix = regexp.MustCompile(`^\s*import\s+[\w/.\-]*$`)

// Source lists module files and knows the workspace roots.
type Source interface {
	ModuleFiles(ctx context.Context) ([]workspace.File, error)
	Roots() []string
	Settings() config.Settings
}

type snapshot struct {
	gen   uint64
	paths []string
}

// Collector owns the current module path snapshot.
type Collector struct {
	src     Source
	gen     atomic.Uint64
	current atomic.Pointer[snapshot]
	logger  *slog.Logger
}

// NewCollector returns a collector with an empty snapshot.
func NewCollector(src Source, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = logging.Nop()
	}
	c := &Collector{src: src, logger: logger}
	c.current.Store(&snapshot{})
	return c
}

// Refresh rescans the module globs and replaces the snapshot. With no
// workspace roots it does nothing. A scan that finishes after a newer one
// was installed is discarded.
func (c *Collector) Refresh(ctx context.Context) error {
	gen := c.gen.Add(1)

	files, err := c.src.ModuleFiles(ctx)
	if errors.Is(err, workspace.ErrNoRoots) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("listing module files: %w", err)
	}

	roots := c.src.Roots()
	strip := c.src.Settings().Modules.StripBase
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, ModulePath(roots, f, strip))
	}

	if c.install(&snapshot{gen: gen, paths: paths}) {
		c.logger.Debug("module paths refreshed", "count", len(paths))
	} else {
		c.logger.Debug("discarding stale module scan", "generation", gen)
	}
	return nil
}

func (c *Collector) install(next *snapshot) bool {
	for {
		cur := c.current.Load()
		if cur.gen > next.gen {
			return false
		}
		if c.current.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// Paths returns the current module paths in discovery order.
func (c *Collector) Paths() []string {
	paths := c.current.Load().paths
	out := make([]string, len(paths))
	copy(out, paths)
	return out
}

// CompletionCandidates returns every module path when linePrefix is an
// import statement being typed. ok is false when completion does not apply
// at this position.
func (c *Collector) CompletionCandidates(linePrefix string) (paths []string, ok bool) {
	if !importPrefix.MatchString(linePrefix) {
		return nil, false
	}
	return c.Paths(), true
}

// ModulePath converts a module file to its import path: relative to the
// first root containing it (absolute when none does), without the .jai
// extension, with "/" separators. When stripBase is set and the file was
// found under that same root, the literal directory prefix of the pattern
// that matched it is removed as well.
func ModulePath(roots []string, f workspace.File, stripBase bool) string {
	rel, root, ok := workspace.Rel(roots, f.Path)
	p := filepath.ToSlash(rel)
	if ok && stripBase && f.Base != "" && root == f.Root {
		p = strings.TrimPrefix(p, f.Base+"/")
	}
	return trimExt(p)
}

func trimExt(p string) string {
	n := len(config.SourceExt)
	if len(p) > n && strings.EqualFold(p[len(p)-n:], config.SourceExt) {
		return p[:len(p)-n]
	}
	return p
}
