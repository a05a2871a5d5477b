// Package workers contains the background workers of pagehost.
package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// loop runs cycle once after initialDelay and then on every interval tick
// until stopped. Each cycle gets its own timeout.
type loop struct {
	interval     time.Duration
	initialDelay time.Duration
	cycleTimeout time.Duration
	cycle        func(ctx context.Context)
	logger       *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start begins the background goroutine. Starting a running loop is a no-op.
func (l *loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.wg.Add(1)
	go l.run(ctx)
	l.logger.Info("worker started", "interval", l.interval)
}

// Stop cancels the loop and waits for the running cycle to return.
func (l *loop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	l.wg.Wait()
	l.logger.Info("worker stopped")
}

func (l *loop) run(ctx context.Context) {
	defer l.wg.Done()

	if l.initialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.initialDelay):
		}
	}
	l.runCycle(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.runCycle(ctx)
		}
	}
}

func (l *loop) runCycle(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, l.cycleTimeout)
	defer cancel()
	l.cycle(ctx)
}
