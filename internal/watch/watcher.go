package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/fsnotify/fsnotify"

	"jaithonls/internal/logging"
	"jaithonls/internal/workspace"
)

// Tree is the view of the workspace the watcher needs.
type Tree interface {
	Roots() []string
	Ignored(p string, isDir bool) bool
	Classify(p string) workspace.Targets
}

// Triggerer receives the targets a file event invalidates.
type Triggerer interface {
	Trigger(targets workspace.Targets)
}

// maxWatches limits directory watches to prevent file descriptor exhaustion
const maxWatches = 4000

// Watcher turns fsnotify events under the workspace roots into refresh
// triggers.
type Watcher struct {
	tree    Tree
	trigger Triggerer
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewWatcher creates a watcher. Call WatchRoots, then Run.
func NewWatcher(tree Tree, trigger Triggerer, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Watcher{tree: tree, trigger: trigger, watcher: fsw, logger: logger}, nil
}

// Close stops delivering events.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// WatchRoots replaces the watch list with every non-ignored directory
// under the current roots.
func (w *Watcher) WatchRoots() error {
	roots := w.tree.Roots()
	for _, p := range w.watcher.WatchList() {
		w.watcher.Remove(p)
	}
	count := 0
	for _, root := range roots {
		n, err := w.addTree(root, maxWatches-count)
		count += n
		if err != nil {
			return fmt.Errorf("watching %s: %w", root, err)
		}
	}
	w.logger.Debug("added watches", "count", count, "roots", len(roots))
	return nil
}

// addTree watches dir and its subdirectories, at most limit of them.
func (w *Watcher) addTree(dir string, limit int) (int, error) {
	count := 0
	limitReached := false
	isRoot := slices.Contains(w.tree.Roots(), dir)
	err := filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !entry.IsDir() {
			return nil
		}
		if path != dir || !isRoot {
			if isIgnoredDir(entry.Name()) || w.tree.Ignored(path, true) {
				return filepath.SkipDir
			}
		}
		if count >= limit {
			if !limitReached {
				w.logger.Warn("reached max watches limit", "limit", maxWatches, "dir", dir)
				limitReached = true
			}
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return nil // Skip errors
		}
		count++
		return nil
	})
	return count, err
}

// Run handles fsnotify events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// handleEvent maps a create, write, remove or rename to refresh targets.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if isIgnoredDir(filepath.Base(event.Name)) || w.tree.Ignored(event.Name, true) {
				return
			}
			w.addTree(event.Name, maxWatches-len(w.watcher.WatchList()))
			// A directory moved into place may already hold sources.
			w.trigger.Trigger(workspace.Modules | workspace.Symbols)
			return
		}
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		if slices.Contains(w.watcher.WatchList(), event.Name) {
			w.watcher.Remove(event.Name)
			w.trigger.Trigger(workspace.Modules | workspace.Symbols)
			return
		}
	}

	if targets := w.tree.Classify(event.Name); targets != 0 {
		w.logger.Debug("file changed", "path", event.Name, "op", event.Op.String())
		w.trigger.Trigger(targets)
	}
}

// isIgnoredDir returns true for version control and editor directories,
// which never hold workspace sources.
func isIgnoredDir(name string) bool {
	switch name {
	case ".git", ".svn", ".hg", ".idea", ".vscode":
		return true
	}
	return false
}
