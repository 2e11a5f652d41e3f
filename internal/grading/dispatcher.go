package grading

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// RunFunc executes deep analysis for one session.
type RunFunc func(ctx context.Context, sessionID string) error

// AsyncDispatcher runs deep analysis on a background goroutine detached
// from the caller's cancellation. At most one run per session is in
// flight; a second Dispatch for the same session is dropped.
type AsyncDispatcher struct {
	run    RunFunc
	logger *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// NewAsyncDispatcher creates a dispatcher calling run.
func NewAsyncDispatcher(run RunFunc, logger *zap.Logger) *AsyncDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncDispatcher{run: run, logger: logger, inFlight: make(map[string]struct{})}
}

// Dispatch implements Dispatcher. It never blocks on the run.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, sessionID string) error {
	d.mu.Lock()
	if _, ok := d.inFlight[sessionID]; ok {
		d.mu.Unlock()
		d.logger.Debug("deep analysis already in flight", zap.String("session.id", sessionID))
		return nil
	}
	d.inFlight[sessionID] = struct{}{}
	d.wg.Add(1)
	d.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.inFlight, sessionID)
			d.mu.Unlock()
		}()
		if err := d.run(runCtx, sessionID); err != nil {
			d.logger.Warn("deep analysis failed", zap.String("session.id", sessionID), zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until every dispatched run has returned.
func (d *AsyncDispatcher) Wait() {
	d.wg.Wait()
}

var _ Dispatcher = (*AsyncDispatcher)(nil)
