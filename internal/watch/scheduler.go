// Package watch keeps the module and symbol snapshots current. File events
// from fsnotify and from the editor are debounced per target and queued
// for a single worker, which runs the refreshes one job at a time.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"jaithonls/internal/logging"
	"jaithonls/internal/workspace"
)

// Refresher rebuilds one snapshot.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// ErrStopped is returned by Flush once the scheduler has stopped.
var ErrStopped = errors.New("scheduler stopped")

type job struct {
	targets workspace.Targets
	done    chan error // nil for fire-and-forget jobs
}

// Scheduler debounces refresh requests and runs them on one worker.
type Scheduler struct {
	modules Refresher
	symbols Refresher

	queue       chan job
	debounceMap map[workspace.Targets]*time.Timer
	debounceMu  sync.Mutex
	debounce    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewScheduler creates a scheduler. Call Start to run the worker.
func NewScheduler(modules, symbols Refresher, debounce time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		modules:     modules,
		symbols:     symbols,
		queue:       make(chan job, 64),
		debounceMap: make(map[workspace.Targets]*time.Timer),
		debounce:    debounce,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}
}

// Start launches the worker goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.worker()
}

// Stop cancels pending timers and the running refresh, then waits for the
// worker to exit.
func (s *Scheduler) Stop() {
	s.debounceMu.Lock()
	for key, timer := range s.debounceMap {
		timer.Stop()
		delete(s.debounceMap, key)
	}
	s.debounceMu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// SetDebounce changes the delay applied to later triggers.
func (s *Scheduler) SetDebounce(d time.Duration) {
	s.debounceMu.Lock()
	s.debounce = d
	s.debounceMu.Unlock()
}

// Trigger requests a refresh of targets. Each target has its own timer;
// a trigger arriving before the timer fires restarts it.
func (s *Scheduler) Trigger(targets workspace.Targets) {
	for _, t := range []workspace.Targets{workspace.Modules, workspace.Symbols} {
		if targets.Has(t) {
			s.schedule(t)
		}
	}
}

func (s *Scheduler) schedule(target workspace.Targets) {
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	if timer, ok := s.debounceMap[target]; ok {
		timer.Stop()
	}
	s.debounceMap[target] = time.AfterFunc(s.debounce, func() {
		s.debounceMu.Lock()
		delete(s.debounceMap, target)
		s.debounceMu.Unlock()

		select {
		case s.queue <- job{targets: target}:
			s.logger.Debug("queued refresh", "target", targetName(target))
		default:
			s.logger.Warn("refresh queue full, skipping", "target", targetName(target))
		}
	})
}

// Flush runs a refresh of targets on the worker now, bypassing the
// debounce, and waits for it to finish.
func (s *Scheduler) Flush(ctx context.Context, targets workspace.Targets) error {
	j := job{targets: targets, done: make(chan error, 1)}
	select {
	case s.queue <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrStopped
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrStopped
	}
}

// worker processes the refresh queue
func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case j := <-s.queue:
			err := s.run(j.targets)
			if j.done != nil {
				j.done <- err
			}
		}
	}
}

// run refreshes every requested target. Modules and symbols do not depend
// on each other, so a job naming both refreshes them in parallel.
func (s *Scheduler) run(targets workspace.Targets) error {
	start := time.Now()
	g, ctx := errgroup.WithContext(s.ctx)
	if targets.Has(workspace.Modules) {
		g.Go(func() error {
			if err := s.modules.Refresh(ctx); err != nil {
				return fmt.Errorf("refreshing modules: %w", err)
			}
			return nil
		})
	}
	if targets.Has(workspace.Symbols) {
		g.Go(func() error {
			if err := s.symbols.Refresh(ctx); err != nil {
				return fmt.Errorf("refreshing symbols: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("refresh failed", "target", targetName(targets), "error", err)
		return err
	}
	s.logger.Debug("refresh completed", "target", targetName(targets), "duration", time.Since(start))
	return nil
}

func targetName(t workspace.Targets) string {
	switch t {
	case workspace.Modules:
		return "modules"
	case workspace.Symbols:
		return "symbols"
	case workspace.Modules | workspace.Symbols:
		return "all"
	}
	return "none"
}
