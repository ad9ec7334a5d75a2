// Package runtime owns the single shutdown token every long-running task in
// the process shares: chain tails, backfill workers, and the API server all
// select on it instead of each wiring up their own signal handling.
package runtime

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chainforge/evmindex/internal/logger"
)

// GracefulWindow bounds how long in-flight work gets to reach a safe
// stopping point once shutdown starts before the process gives up and
// exits anyway.
const GracefulWindow = time.Second

// Coordinator holds the shutdown token and tracks outstanding work so a
// final cache flush only runs once nothing is mid-handler.
type Coordinator struct {
	log    *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup
}

// New builds a Coordinator whose context is cancelled when Shutdown is
// called, or on SIGINT/SIGTERM once ListenForSignals has been called.
func New(log *logger.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{log: log, ctx: ctx, cancel: cancel}
}

// ListenForSignals cancels the coordinator's context on SIGINT or SIGTERM.
// Call once, typically from main.
func (c *Coordinator) ListenForSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		c.log.Infof("received %s, shutting down", sig)
		c.cancel()
	}()
}

// Done returns the shutdown token every long-running task should select on.
func (c *Coordinator) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Context returns the coordinator's context, for callers that need to pass
// it through rather than select on Done directly.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// Shutdown cancels the shutdown token directly, for callers (tests, a CLI
// command) that need to trigger shutdown without an OS signal.
func (c *Coordinator) Shutdown() {
	c.cancel()
}

// Track registers one unit of in-flight work (a handler invocation, a
// backfill step) and returns the function to call when it completes.
// WaitForDrain blocks until every tracked unit has finished or the graceful window
// elapses, whichever comes first.
func (c *Coordinator) Track() func() {
	c.wg.Add(1)
	return c.wg.Done
}

// WaitForDrain blocks until every tracked unit of work completes or
// GracefulWindow elapses, reporting which happened. A caller that gets
// false should treat any further mutation as unsafe and skip the final
// flush rather than risk writing a half-applied handler's output.
func (c *Coordinator) WaitForDrain() (drained bool) {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(GracefulWindow):
		c.log.Warn("graceful shutdown window elapsed with work still in flight")
		return false
	}
}
