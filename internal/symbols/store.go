package symbols

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"jaithonls/internal/logging"
	"jaithonls/internal/workspace"
)

// FileLister lists the absolute paths of the files to index.
type FileLister interface {
	IndexFiles(ctx context.Context) ([]string, error)
}

type snapshot struct {
	gen uint64
	idx *Index
}

// Store owns the current Index. Readers always see a complete index: a
// refresh builds a new one off to the side and swaps it in.
type Store struct {
	src      FileLister
	readFile func(string) ([]byte, error)
	gen      atomic.Uint64
	current  atomic.Pointer[snapshot]
	logger   *slog.Logger
}

// NewStore returns a store holding an empty index.
func NewStore(src FileLister, logger *slog.Logger) *Store {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Store{src: src, readFile: os.ReadFile, logger: logger}
	s.current.Store(&snapshot{idx: Empty()})
	return s
}

// Current returns the installed index.
func (s *Store) Current() *Index {
	return s.current.Load().idx
}

// Refresh rescans every index file and installs the result. Files that
// cannot be read are skipped. With no workspace roots it does nothing. A
// scan that finishes after a newer one was installed is discarded.
func (s *Store) Refresh(ctx context.Context) error {
	gen := s.gen.Add(1)

	paths, err := s.src.IndexFiles(ctx)
	if errors.Is(err, workspace.ErrNoRoots) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("listing index files: %w", err)
	}

	b := NewBuilder()
	skipped := 0
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		content, err := s.readFile(p)
		if err != nil {
			s.logger.Debug("skipping unreadable file", "path", p, "error", err)
			skipped++
			continue
		}
		b.Add(p, Extract(string(content)))
	}
	files := b.Files()
	idx := b.Index()

	if !s.install(&snapshot{gen: gen, idx: idx}) {
		s.logger.Debug("discarding stale symbol scan", "generation", gen)
		return nil
	}
	s.logger.Debug("symbol index refreshed", "files", files, "skipped", skipped, "names", idx.Len())
	return nil
}

func (s *Store) install(next *snapshot) bool {
	for {
		cur := s.current.Load()
		if cur.gen > next.gen {
			return false
		}
		if s.current.CompareAndSwap(cur, next) {
			return true
		}
	}
}
