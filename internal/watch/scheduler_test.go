package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jaithonls/internal/workspace"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
	block chan struct{}
}

func (c *countingRefresher) Refresh(ctx context.Context) error {
	c.calls.Add(1)
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.err
}

func newTestScheduler(t *testing.T, debounce time.Duration) (*Scheduler, *countingRefresher, *countingRefresher) {
	t.Helper()
	mods, syms := &countingRefresher{}, &countingRefresher{}
	s := NewScheduler(mods, syms, debounce, nil)
	s.Start()
	t.Cleanup(s.Stop)
	return s, mods, syms
}

func TestFlushRunsBothTargets(t *testing.T) {
	s, mods, syms := newTestScheduler(t, time.Hour)

	require.NoError(t, s.Flush(context.Background(), workspace.Modules|workspace.Symbols))
	assert.Equal(t, int32(1), mods.calls.Load())
	assert.Equal(t, int32(1), syms.calls.Load())
}

func TestFlushSingleTarget(t *testing.T) {
	s, mods, syms := newTestScheduler(t, time.Hour)

	require.NoError(t, s.Flush(context.Background(), workspace.Symbols))
	assert.Zero(t, mods.calls.Load())
	assert.Equal(t, int32(1), syms.calls.Load())
}

func TestFlushReportsError(t *testing.T) {
	mods, syms := &countingRefresher{err: errors.New("boom")}, &countingRefresher{}
	s := NewScheduler(mods, syms, time.Hour, nil)
	s.Start()
	defer s.Stop()

	err := s.Flush(context.Background(), workspace.Modules)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refreshing modules")

	// The worker keeps going after a failure.
	require.NoError(t, s.Flush(context.Background(), workspace.Symbols))
}

func TestTriggerDebounces(t *testing.T) {
	s, mods, syms := newTestScheduler(t, 30*time.Millisecond)

	for i := 0; i < 5; i++ {
		s.Trigger(workspace.Modules)
		time.Sleep(5 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return mods.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	// Give a second, spurious refresh the chance to show up.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), mods.calls.Load())
	assert.Zero(t, syms.calls.Load())
}

func TestTriggerTargetsHaveSeparateTimers(t *testing.T) {
	s, mods, syms := newTestScheduler(t, 20*time.Millisecond)

	s.Trigger(workspace.Modules)
	s.Trigger(workspace.Symbols)

	assert.Eventually(t, func() bool {
		return mods.calls.Load() == 1 && syms.calls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRefreshesAreSerialized(t *testing.T) {
	block := make(chan struct{})
	mods := &countingRefresher{block: block}
	syms := &countingRefresher{}
	s := NewScheduler(mods, syms, time.Hour, nil)
	s.Start()
	defer s.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Flush(context.Background(), workspace.Modules)
	}()
	require.Eventually(t, func() bool { return mods.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	// The symbols job waits behind the blocked modules job.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.Flush(ctx, workspace.Symbols)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, syms.calls.Load())

	close(block)
	wg.Wait()
	assert.Eventually(t, func() bool { return syms.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestFlushAfterStop(t *testing.T) {
	s := NewScheduler(&countingRefresher{}, &countingRefresher{}, time.Hour, nil)
	s.Start()
	s.Stop()

	assert.ErrorIs(t, s.Flush(context.Background(), workspace.Modules), ErrStopped)
}

func TestTargetName(t *testing.T) {
	assert.Equal(t, "modules", targetName(workspace.Modules))
	assert.Equal(t, "symbols", targetName(workspace.Symbols))
	assert.Equal(t, "all", targetName(workspace.Modules|workspace.Symbols))
	assert.Equal(t, "none", targetName(0))
}
