// Package builder assembles command buses, query buses, processor
// executors, and their backends into one Application with an ordered
// startup/shutdown lifecycle, generalizing the teacher's
// cmd/platform/main.go App struct and its manual wiring (database,
// event bus, OPA client, each optionally nil and individually
// defer-closed) into a reusable container: components register a
// Starter/Closer pair, Application.Run starts them in registration
// order and stops them in reverse, and a Starter that returns an error
// makes Run close every registered component (best-effort; see
// Application.shutdown) rather than leaving a half-started process
// running.
package builder

import (
	"context"
	"fmt"
	"log"
	"time"
)

// shutdownTimeout bounds how long Application.shutdown waits for all
// Closers combined, matching the teacher's srv.Shutdown grace period in
// cmd/platform/main.go.
const shutdownTimeout = 30 * time.Second

// Starter begins a long-running component (an Executor.Run loop, an
// http.Server.ListenAndServe) and blocks until ctx is cancelled or the
// component fails on its own.
type Starter func(ctx context.Context) error

// Closer releases a component's resources (DB pool, event store
// client). Errors are logged, not propagated — shutdown is always
// best-effort per spec.md §7's permitted silent-failure list, since a
// half-failed shutdown should still let the process exit rather than
// hang or panic.
type Closer func(ctx context.Context) error

type component struct {
	name   string
	start  Starter
	close  Closer
	cancel context.CancelFunc
}

// Application is a named collection of components with an ordered
// lifecycle and a build-time-validated wiring (no duplicate query
// handlers, no upcaster cycle — both enforced by the query.Bus and
// upcast.Pipeline the caller registers before calling Register here;
// Application itself validates only that no two components share a
// name).
type Application struct {
	components []*component
	byName     map[string]bool
}

func New() *Application {
	return &Application{byName: make(map[string]bool)}
}

// Register adds a component to the Application. start may be nil for a
// purely passive component (say, a connection pool with nothing to run
// but something to close); close may be nil for a component with
// nothing to release.
func (a *Application) Register(name string, start Starter, close Closer) error {
	if a.byName[name] {
		return fmt.Errorf("builder: component %q already registered", name)
	}
	a.byName[name] = true
	a.components = append(a.components, &component{name: name, start: start, close: close})
	return nil
}

// Run starts every registered component with a Starter, in registration
// order, then blocks until ctx is cancelled. On return (whether from
// ctx cancellation or a component's Starter returning an error) it
// shuts every started component down in reverse registration order.
//
// A component's Starter is expected to block until its own derived
// context is cancelled (an http.Server.ListenAndServe, an
// Executor.Run); Run treats an early return from any of them as fatal
// and begins shutdown immediately, returning that component's error.
func (a *Application) Run(ctx context.Context) error {
	runCtx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	errs := make(chan error, len(a.components))
	started := make([]*component, 0, len(a.components))

	for _, c := range a.components {
		if c.start == nil {
			started = append(started, c)
			continue
		}
		compCtx, cancel := context.WithCancel(runCtx)
		c.cancel = cancel
		started = append(started, c)
		go func(c *component, ctx context.Context) {
			if err := c.start(ctx); err != nil {
				errs <- fmt.Errorf("builder: component %q: %w", c.name, err)
			}
		}(c, compCtx)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
		log.Printf("builder: %v, shutting down", runErr)
	}

	cancelAll()
	a.shutdown(started)
	return runErr
}

// shutdown closes every started component in reverse registration
// order, logging (not propagating) any Closer error so one failed
// close doesn't block the rest from attempting to release their own
// resources.
func (a *Application) shutdown(started []*component) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := len(started) - 1; i >= 0; i-- {
		c := started[i]
		if c.close == nil {
			continue
		}
		if err := c.close(shutdownCtx); err != nil {
			log.Printf("builder: component %q close failed: %v", c.name, err)
		}
	}
}
