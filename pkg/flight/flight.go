// Package flight deduplicates concurrent executions of the same keyed work.
//
// It behaves like golang.org/x/sync/singleflight, except that the shared
// work runs on its own context which is cancelled only once every caller
// waiting on it has given up.
package flight

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// PanicError is returned to every caller when the shared work panics.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("flight: work panicked: %v\n\n%s", e.Value, e.Stack)
}

type call struct {
	done    chan struct{}
	val     string
	err     error
	waiters int
	cancel  context.CancelFunc
}

// Group runs keyed work at most once at a time per key.
type Group struct {
	mu    sync.Mutex
	calls map[string]*call
}

// Do executes fn for key unless an execution for key is already in flight,
// in which case it waits for that execution's result. shared reports whether
// the result came from an execution started by another caller.
func (g *Group) Do(ctx context.Context, key string, fn func(ctx context.Context) (string, error)) (val string, shared bool, err error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[string]*call)
	}

	c, ok := g.calls[key]
	if ok {
		c.waiters++
		g.mu.Unlock()
		val, err = g.wait(ctx, key, c)
		return val, true, err
	}

	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c = &call{
		done:    make(chan struct{}),
		waiters: 1,
		cancel:  cancel,
	}
	g.calls[key] = c
	g.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.val, c.err = "", &PanicError{Value: r, Stack: debug.Stack()}
			}
			cancel()

			g.mu.Lock()
			if g.calls[key] == c {
				delete(g.calls, key)
			}
			g.mu.Unlock()

			close(c.done)
		}()
		c.val, c.err = fn(workCtx)
	}()

	val, err = g.wait(ctx, key, c)
	return val, false, err
}

func (g *Group) wait(ctx context.Context, key string, c *call) (string, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		g.mu.Lock()
		c.waiters--
		if c.waiters == 0 {
			// Abandoned work must not be joined by later callers.
			c.cancel()
			if g.calls[key] == c {
				delete(g.calls, key)
			}
		}
		g.mu.Unlock()
		return "", ctx.Err()
	}
}

// InFlight reports whether work for key is currently running.
func (g *Group) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, ok := g.calls[key]
	return ok
}
