// Package background runs work that must outlive the request that scheduled it.
package background

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Go once the group has stopped accepting work.
var ErrClosed = errors.New("background group is closed")

// Group tracks detached tasks so shutdown can wait for them.
type Group struct {
	logger  *slog.Logger
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	pending atomic.Int64
	ctx     context.Context
	cancel  context.CancelFunc

	// OnChange is called with the new in-flight count whenever it moves.
	OnChange func(pending int64)
}

func NewGroup(logger *slog.Logger) *Group {
	ctx, cancel := context.WithCancel(context.Background())
	return &Group{
		logger: logger.With("component", "BackgroundGroup"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go runs fn on its own goroutine with a context that is only cancelled
// when a Drain gives up.
func (g *Group) Go(name string, fn func(ctx context.Context)) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.logger.Warn("Refusing background task after close", "task", name)
		return ErrClosed
	}
	g.wg.Add(1)
	g.mu.Unlock()

	g.track(1)
	go func() {
		defer g.wg.Done()
		defer g.track(-1)
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("Background task panicked", "task", name, "panic", r)
			}
		}()
		fn(g.ctx)
	}()
	return nil
}

// Close stops the group from accepting new tasks. Running tasks are unaffected.
func (g *Group) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// Drain closes the group and waits for every running task. If ctx expires first
// the task context is cancelled and ctx.Err() is returned.
func (g *Group) Drain(ctx context.Context) error {
	g.Close()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.cancel()
		return nil
	case <-ctx.Done():
		g.logger.Warn("Drain deadline reached with tasks still running", "pending", g.Pending())
		g.cancel()
		return ctx.Err()
	}
}

func (g *Group) Pending() int64 {
	return g.pending.Load()
}

func (g *Group) track(delta int64) {
	n := g.pending.Add(delta)
	if g.OnChange != nil {
		g.OnChange(n)
	}
}
