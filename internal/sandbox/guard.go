package sandbox

import (
	"context"
	"sync"
)

// creationGuard collapses concurrent ensure calls for the same project
// into a single attempt; late callers wait and share the first caller's
// result. It is deliberately scoped to this process: the sandbox engine
// is host-local, so an in-memory set suffices and no distributed lock is
// taken. It does not provide cross-instance mutual exclusion.
type creationGuard struct {
	mu       sync.Mutex
	inflight map[string]*inflightCall
}

type inflightCall struct {
	done chan struct{}
	id   string
	err  error
}

func newCreationGuard() *creationGuard {
	return &creationGuard{inflight: make(map[string]*inflightCall)}
}

// do runs fn for key unless an attempt for the same key is already in
// flight, in which case it waits for that attempt and returns its result.
func (g *creationGuard) do(ctx context.Context, key string, fn func() (string, error)) (string, error) {
	g.mu.Lock()
	if call, busy := g.inflight[key]; busy {
		g.mu.Unlock()
		select {
		case <-call.done:
			return call.id, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	call := &inflightCall{done: make(chan struct{})}
	g.inflight[key] = call
	g.mu.Unlock()

	call.id, call.err = fn()

	g.mu.Lock()
	delete(g.inflight, key)
	g.mu.Unlock()
	close(call.done)

	return call.id, call.err
}
