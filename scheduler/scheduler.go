package scheduler

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/catalogops/observe"
	"github.com/jonwraymond/catalogops/resilience"
)

// Scheduler errors.
var (
	// ErrClosed is returned when submitting to a scheduler that was shut down.
	ErrClosed = errors.New("scheduler: scheduler is closed")

	// ErrNilOperation is returned when an Operation has no Run function.
	ErrNilOperation = errors.New("scheduler: operation has no run function")
)

// Config configures the scheduler.
type Config struct {
	// MaxConcurrent is the number of execution slots.
	// Default: 3
	MaxConcurrent int

	// Retry decides which failures are retried and how long to back off.
	// Default: resilience.NewRetryPolicy(resilience.RetryConfig{})
	Retry *resilience.RetryPolicy

	// DefaultTimeout bounds each execution when Operation.Timeout is zero.
	// Default: 15 seconds
	DefaultTimeout time.Duration

	// RateLimiter paces dispatch when set. A slot is held while waiting.
	RateLimiter *resilience.RateLimiter

	// Middleware instruments each execution attempt.
	// Default: observe.NopMiddleware()
	Middleware *observe.Middleware

	// Logger receives retry, failure and cancellation events.
	// Default: the middleware's logger
	Logger observe.Logger

	// OnStateChange is called on every transition while the scheduler's lock
	// is held. It must not call back into the Scheduler.
	OnStateChange func(id string, from, to State)
}

// Operation is one unit of outbound work.
type Operation struct {
	// Name identifies the operation kind in telemetry (e.g. "list").
	Name string

	// Namespace is the cache namespace the operation belongs to.
	Namespace string

	// Key is the request identity, used for logs and spans.
	Key string

	// Timeout bounds one execution attempt. Zero uses Config.DefaultTimeout.
	Timeout time.Duration

	// Run performs one attempt. It must honor ctx.
	Run func(ctx context.Context) (any, error)
}

// Scheduler admits operations into a bounded-concurrency FIFO queue,
// executes them with a per-attempt deadline, retries classified failures at
// the front of the queue, and delivers exactly one outcome per operation.
type Scheduler struct {
	mu      sync.Mutex
	config  Config
	retry   *resilience.RetryPolicy
	slots   *resilience.Bulkhead
	mw      *observe.Middleware
	logger  observe.Logger
	queue   *list.List // of *pending
	active  map[string]*pending
	closed  bool
	rootCtx context.Context
	stop    context.CancelFunc
	workers sync.WaitGroup

	stats Stats
}

type pending struct {
	id         string
	op         Operation
	attempt    int
	enqueuedAt time.Time
	state      State

	elem    *list.Element      // set while Queued
	timer   *time.Timer        // set while Retrying
	cancel  context.CancelFunc // set while Executing
	aborted bool

	done  chan struct{}
	value any
	err   error
}

// New creates a scheduler.
func New(config Config) *Scheduler {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 3
	}
	if config.Retry == nil {
		config.Retry = resilience.NewRetryPolicy(resilience.RetryConfig{})
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 15 * time.Second
	}
	if config.Middleware == nil {
		config.Middleware = observe.NopMiddleware()
	}
	if config.Logger == nil {
		config.Logger = config.Middleware.Logger()
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		config:  config,
		retry:   config.Retry,
		slots:   resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: config.MaxConcurrent}),
		mw:      config.Middleware,
		logger:  config.Logger.With(observe.F("component", "scheduler")),
		queue:   list.New(),
		active:  make(map[string]*pending),
		rootCtx: ctx,
		stop:    stop,
	}
}

// Enqueue admits op and returns a ticket for its outcome.
func (s *Scheduler) Enqueue(op Operation) (*Ticket, error) {
	if op.Run == nil {
		return nil, ErrNilOperation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	p := &pending{
		id:         uuid.NewString(),
		op:         op,
		enqueuedAt: time.Now(),
		state:      StateQueued,
		done:       make(chan struct{}),
	}
	p.elem = s.queue.PushBack(p)
	s.active[p.id] = p
	s.stats.Submitted++

	s.dispatchLocked()
	return &Ticket{s: s, p: p}, nil
}

// Submit enqueues op and waits for its outcome. If ctx ends first the
// operation is cancelled and a cancellation error is returned.
func (s *Scheduler) Submit(ctx context.Context, op Operation) (any, error) {
	t, err := s.Enqueue(op)
	if err != nil {
		return nil, err
	}

	v, err := t.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		t.Cancel()
	}
	return v, err
}

// SetMaxConcurrent resizes the slot pool and admits queued work if it grew.
func (s *Scheduler) SetMaxConcurrent(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slots.Resize(n)
	s.config.MaxConcurrent = s.slots.Metrics().MaxConcurrent
	s.dispatchLocked()
}

// Stats returns a snapshot of scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.Queued = s.queue.Len()
	m := s.slots.Metrics()
	st.Executing = m.Active
	st.MaxExecuting = m.MaxActive
	st.MaxConcurrent = m.MaxConcurrent
	for _, p := range s.active {
		if p.state == StateRetrying {
			st.Backoff++
		}
	}
	return st
}

// Shutdown aborts every executing operation, cancels queued and backing-off
// operations, rejects further submissions and waits for workers to exit.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.stop()

		for _, p := range s.active {
			switch p.state {
			case StateQueued:
				s.queue.Remove(p.elem)
				p.elem = nil
				s.finishLocked(p, StateCancelled, nil, resilience.Cancelled("scheduler shut down", ErrClosed))
			case StateRetrying:
				p.timer.Stop()
				p.timer = nil
				s.finishLocked(p, StateCancelled, nil, resilience.Cancelled("scheduler shut down", ErrClosed))
			case StateExecuting:
				p.aborted = true
			}
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: shutdown: %w", ctx.Err())
	}
}

// dispatchLocked starts queued operations while slots are free.
func (s *Scheduler) dispatchLocked() {
	for s.queue.Len() > 0 && !s.closed {
		if !s.slots.TryAcquire() {
			return
		}

		p := s.queue.Remove(s.queue.Front()).(*pending)
		p.elem = nil
		s.transitionLocked(p, StateExecuting)

		execCtx, cancel := context.WithCancel(s.rootCtx)
		p.cancel = cancel

		s.workers.Add(1)
		go s.execute(execCtx, p, p.attempt)
	}
}

func (s *Scheduler) execute(ctx context.Context, p *pending, attempt int) {
	defer s.workers.Done()

	meta := observe.OperationMeta{
		Namespace: p.op.Namespace,
		Name:      p.op.Name,
		Key:       p.op.Key,
		Attempt:   attempt,
	}
	timeout := p.op.Timeout
	if timeout <= 0 {
		timeout = s.config.DefaultTimeout
	}

	run := s.mw.Wrap(func(ctx context.Context, _ observe.OperationMeta) (any, error) {
		if s.config.RateLimiter != nil {
			if err := s.config.RateLimiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		out := make(chan any, 1)
		err := resilience.ExecuteWithTimeout(ctx, timeout, func(ctx context.Context) error {
			v, err := p.op.Run(ctx)
			if err == nil {
				out <- v
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		return <-out, nil
	})

	value, err := run(ctx, meta)

	s.mu.Lock()
	defer s.mu.Unlock()

	p.cancel()
	p.cancel = nil
	s.slots.Release()

	switch {
	case p.aborted:
		reason := "operation cancelled"
		if s.closed {
			reason = "scheduler shut down"
		}
		s.finishLocked(p, StateCancelled, nil, resilience.Cancelled(reason, context.Canceled))

	case err == nil:
		s.finishLocked(p, StateSucceeded, value, nil)

	case s.retry.ShouldRetry(err, attempt):
		delay := s.retry.DelayFor(attempt)
		s.retry.NotifyRetry(attempt, err, delay)
		s.mw.Metrics().RecordRetry(ctx, meta)
		s.stats.Retries++
		s.logger.Warn(ctx, "retrying operation",
			observe.F("op.id", meta.OperationID()),
			observe.F("attempt", attempt),
			observe.F("delay_ms", delay.Milliseconds()),
			observe.Err(err),
		)

		s.transitionLocked(p, StateRetrying)
		p.attempt = attempt + 1
		p.timer = time.AfterFunc(delay, func() { s.requeue(p) })

	case s.retry.Retryable(err):
		s.finishLocked(p, StateFailed, nil, &resilience.ExhaustedRetriesError{Attempts: attempt + 1, Last: err})

	default:
		s.finishLocked(p, StateFailed, nil, err)
	}

	s.dispatchLocked()
}

// requeue moves a backed-off operation to the front of the queue.
func (s *Scheduler) requeue(p *pending) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.state != StateRetrying {
		return
	}
	p.timer = nil
	if s.closed {
		s.finishLocked(p, StateCancelled, nil, resilience.Cancelled("scheduler shut down", ErrClosed))
		return
	}

	s.transitionLocked(p, StateQueued)
	p.elem = s.queue.PushFront(p)
	s.dispatchLocked()
}

func (s *Scheduler) cancel(p *pending) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch p.state {
	case StateQueued:
		s.queue.Remove(p.elem)
		p.elem = nil
		s.finishLocked(p, StateCancelled, nil, resilience.Cancelled("operation cancelled", context.Canceled))
	case StateRetrying:
		p.timer.Stop()
		p.timer = nil
		s.finishLocked(p, StateCancelled, nil, resilience.Cancelled("operation cancelled", context.Canceled))
	case StateExecuting:
		// The worker releases the slot and delivers the outcome.
		p.aborted = true
		p.cancel()
	}
}

func (s *Scheduler) transitionLocked(p *pending, to State) {
	from := p.state
	if !from.CanTransition(to) {
		s.logger.Error(context.Background(), "illegal state transition",
			observe.F("op.uuid", p.id),
			observe.F("from", from.String()),
			observe.F("to", to.String()),
		)
	}
	p.state = to
	if s.config.OnStateChange != nil {
		s.config.OnStateChange(p.id, from, to)
	}
}

func (s *Scheduler) finishLocked(p *pending, state State, value any, err error) {
	s.transitionLocked(p, state)
	p.value = value
	p.err = err
	delete(s.active, p.id)

	switch state {
	case StateSucceeded:
		s.stats.Succeeded++
	case StateFailed:
		s.stats.Failed++
		s.logger.Error(context.Background(), "operation failed",
			observe.F("op.name", p.op.Name),
			observe.F("op.key", p.op.Key),
			observe.F("attempts", p.attempt+1),
			observe.Err(err),
		)
	case StateCancelled:
		s.stats.Cancelled++
		s.logger.Debug(context.Background(), "operation cancelled",
			observe.F("op.name", p.op.Name),
			observe.F("op.key", p.op.Key),
		)
	}

	close(p.done)
}

// Stats contains scheduler counters.
type Stats struct {
	Submitted     int64
	Succeeded     int64
	Failed        int64
	Cancelled     int64
	Retries       int64
	Queued        int
	Backoff       int
	Executing     int
	MaxExecuting  int
	MaxConcurrent int
}
