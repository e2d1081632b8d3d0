package scheduler

import (
	"context"

	"github.com/jonwraymond/catalogops/resilience"
)

// Ticket is the caller's handle on one admitted operation.
type Ticket struct {
	s *Scheduler
	p *pending
}

// ID returns the operation's unique identifier.
func (t *Ticket) ID() string { return t.p.id }

// State returns the operation's current state.
func (t *Ticket) State() State {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.p.state
}

// Done is closed once the outcome is available.
func (t *Ticket) Done() <-chan struct{} { return t.p.done }

// Wait blocks until the outcome is available or ctx ends. Ending ctx stops
// the wait only; use Cancel to abort the operation.
func (t *Ticket) Wait(ctx context.Context) (any, error) {
	select {
	case <-t.p.done:
		return t.p.value, t.p.err
	case <-ctx.Done():
		return nil, resilience.Cancelled("caller stopped waiting", ctx.Err())
	}
}

// Cancel aborts the operation. A queued or backing-off operation is removed
// immediately; an executing one has its context cancelled and its slot is
// released when the attempt returns. The outcome is a cancellation error.
// Cancel is a no-op once the operation has finished.
func (t *Ticket) Cancel() {
	t.s.cancel(t.p)
}
