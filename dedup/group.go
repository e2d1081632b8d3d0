package dedup

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/catalogops/resilience"
)

// ErrEmptyKey is returned when Do is called without a key.
var ErrEmptyKey = errors.New("dedup: key is empty")

// Func is the work shared by every caller of one key.
type Func func(ctx context.Context) (any, error)

// Group runs at most one Func per key at a time.
type Group struct {
	sf singleflight.Group

	mu       sync.Mutex
	inflight map[string]int // key -> attached callers

	executions int64
	shared     int64
}

// New creates an empty Group.
func New() *Group {
	return &Group{inflight: make(map[string]int)}
}

// Do runs fn for key unless a call for key is already in flight, in which
// case it waits for that call's outcome. shared reports whether the outcome
// was delivered to more than one caller.
//
// fn runs detached from the caller's cancellation so one impatient caller
// cannot fail the others; values from ctx are still visible to fn. If ctx
// ends first, Do returns a cancellation error for this caller only.
func (g *Group) Do(ctx context.Context, key string, fn Func) (v any, shared bool, err error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}

	g.attach(key)
	defer g.detach(key)

	runCtx := context.WithoutCancel(ctx)
	ch := g.sf.DoChan(key, func() (any, error) {
		g.mu.Lock()
		g.executions++
		g.mu.Unlock()
		return fn(runCtx)
	})

	select {
	case res := <-ch:
		if res.Shared {
			g.mu.Lock()
			g.shared++
			g.mu.Unlock()
		}
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, resilience.Cancelled("caller stopped waiting", ctx.Err())
	}
}

// Len returns the number of keys with waiting callers.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}

// Forget detaches every in-flight key accepted by match, so the next Do for
// it starts a new execution. Callers already waiting still receive the
// running call's outcome. It returns the number of keys forgotten.
func (g *Group) Forget(match func(key string) bool) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for key := range g.inflight {
		if match(key) {
			g.sf.Forget(key)
			n++
		}
	}
	return n
}

// Stats returns execution counters.
func (g *Group) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		InFlight:   len(g.inflight),
		Executions: g.executions,
		Shared:     g.shared,
	}
}

func (g *Group) attach(key string) {
	g.mu.Lock()
	g.inflight[key]++
	g.mu.Unlock()
}

func (g *Group) detach(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight[key] <= 1 {
		delete(g.inflight, key)
		return
	}
	g.inflight[key]--
}

// Stats contains dedup counters.
type Stats struct {
	InFlight   int   // keys with attached callers
	Executions int64 // Func invocations
	Shared     int64 // results delivered to a caller that shared them
}
