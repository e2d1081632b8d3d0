package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonwraymond/catalogops/observe"
	"github.com/jonwraymond/catalogops/resilience"
)

// Coordinator errors.
var (
	// ErrSuperseded is returned to a debounced caller replaced by a newer call.
	ErrSuperseded = errors.New("batch: call superseded by a newer one")

	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("batch: coordinator is closed")

	// ErrEmptyKey is returned when a batch key is empty.
	ErrEmptyKey = errors.New("batch: key is empty")
)

// Func is the work a debounced call performs.
type Func func(ctx context.Context) (any, error)

// FlushFunc writes an accumulated sequence of items as one operation.
type FlushFunc func(ctx context.Context, key string, items []any) (any, error)

// Config configures the coordinator.
type Config struct {
	// DebounceWindow is the quiet period before a debounced call runs.
	// Default: 300ms
	DebounceWindow time.Duration

	// FlushWindow is the quiet period before an accumulated batch flushes.
	// Default: 2s
	FlushWindow time.Duration

	// Logger receives flush failures.
	// Default: observe.NopLogger()
	Logger observe.Logger

	// OnFlushError is called when a timer-driven flush fails.
	OnFlushError func(key string, items []any, err error)
}

// Coordinator owns the debounce and accumulation timers for every batch key.
type Coordinator struct {
	mu           sync.Mutex
	config       Config
	debounced    map[string]*debounceEntry
	accumulators map[string]*accumulator
	closed       bool
	generation   uint64

	rootCtx context.Context
	stop    context.CancelFunc
	flushes sync.WaitGroup

	stats Stats
}

type outcome struct {
	value any
	err   error
}

type debounceEntry struct {
	gen    uint64
	timer  *time.Timer
	ctx    context.Context
	fn     Func
	result chan outcome // buffered; receives exactly one outcome
}

type accumulator struct {
	gen   uint64
	timer *time.Timer
	items []any
	flush FlushFunc
}

// New creates a coordinator.
func New(config Config) *Coordinator {
	if config.DebounceWindow <= 0 {
		config.DebounceWindow = 300 * time.Millisecond
	}
	if config.FlushWindow <= 0 {
		config.FlushWindow = 2 * time.Second
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	config.Logger = config.Logger.With(observe.F("component", "batch"))

	ctx, stop := context.WithCancel(context.Background())
	return &Coordinator{
		config:       config,
		debounced:    make(map[string]*debounceEntry),
		accumulators: make(map[string]*accumulator),
		rootCtx:      ctx,
		stop:         stop,
	}
}

// Debounce schedules fn to run once key has been quiet for DebounceWindow
// and waits for its outcome. A newer Debounce for the same key replaces this
// call, which then returns ErrSuperseded without fn ever running.
func (c *Coordinator) Debounce(ctx context.Context, key string, fn Func) (any, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	if prev, ok := c.debounced[key]; ok {
		prev.timer.Stop()
		prev.result <- outcome{err: ErrSuperseded}
		c.stats.Superseded++
	}

	c.generation++
	entry := &debounceEntry{
		gen:    c.generation,
		ctx:    ctx,
		fn:     fn,
		result: make(chan outcome, 1),
	}
	gen := entry.gen
	entry.timer = time.AfterFunc(c.config.DebounceWindow, func() { c.fireDebounce(key, gen) })
	c.debounced[key] = entry
	c.mu.Unlock()

	select {
	case res := <-entry.result:
		return res.value, res.err
	case <-ctx.Done():
		c.mu.Lock()
		if cur, ok := c.debounced[key]; ok && cur.gen == gen {
			cur.timer.Stop()
			delete(c.debounced, key)
		}
		c.mu.Unlock()
		return nil, resilience.Cancelled("debounced call abandoned", ctx.Err())
	}
}

func (c *Coordinator) fireDebounce(key string, gen uint64) {
	c.mu.Lock()
	entry, ok := c.debounced[key]
	if !ok || entry.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.debounced, key)
	c.flushes.Add(1)
	c.mu.Unlock()
	defer c.flushes.Done()

	value, err := entry.fn(entry.ctx)
	entry.result <- outcome{value: value, err: err}
}

// Accumulate appends item to key's batch and restarts its FlushWindow timer.
// flush replaces any FlushFunc registered by earlier calls for the key.
func (c *Coordinator) Accumulate(key string, item any, flush FlushFunc) error {
	if key == "" {
		return ErrEmptyKey
	}
	if flush == nil {
		return fmt.Errorf("batch: accumulate %q: nil flush function", key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	acc, ok := c.accumulators[key]
	if !ok {
		acc = &accumulator{}
		c.accumulators[key] = acc
	} else {
		acc.timer.Stop()
	}

	acc.items = append(acc.items, item)
	acc.flush = flush
	c.generation++
	acc.gen = c.generation
	gen := acc.gen
	acc.timer = time.AfterFunc(c.config.FlushWindow, func() { c.fireAccumulated(key, gen) })
	c.stats.Accumulated++
	return nil
}

func (c *Coordinator) fireAccumulated(key string, gen uint64) {
	c.mu.Lock()
	acc, ok := c.accumulators[key]
	if !ok || acc.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.accumulators, key)
	c.flushes.Add(1)
	c.mu.Unlock()
	defer c.flushes.Done()

	if _, err := c.run(c.rootCtx, key, acc); err != nil {
		c.config.Logger.Error(c.rootCtx, "batch flush failed",
			observe.F("batch.key", key),
			observe.F("batch.items", len(acc.items)),
			observe.Err(err),
		)
		if c.config.OnFlushError != nil {
			c.config.OnFlushError(key, acc.items, err)
		}
	}
}

// Flush immediately writes key's accumulated items and returns the flush
// outcome. It returns (nil, nil) when nothing is pending for key.
func (c *Coordinator) Flush(ctx context.Context, key string) (any, error) {
	c.mu.Lock()
	acc, ok := c.accumulators[key]
	if !ok {
		c.mu.Unlock()
		return nil, nil
	}
	acc.timer.Stop()
	delete(c.accumulators, key)
	c.flushes.Add(1)
	c.mu.Unlock()
	defer c.flushes.Done()

	return c.run(ctx, key, acc)
}

// FlushAll flushes every pending accumulator and joins their errors.
func (c *Coordinator) FlushAll(ctx context.Context) error {
	var errs []error
	for _, key := range c.Keys() {
		if _, err := c.Flush(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("flush %q: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) run(ctx context.Context, key string, acc *accumulator) (any, error) {
	value, err := acc.flush(ctx, key, acc.items)

	c.mu.Lock()
	c.stats.Flushes++
	if err != nil {
		c.stats.FlushErrors++
	}
	c.mu.Unlock()

	return value, err
}

// Pending returns the number of items waiting in key's accumulator.
func (c *Coordinator) Pending(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if acc, ok := c.accumulators[key]; ok {
		return len(acc.items)
	}
	return 0
}

// Keys returns the keys with accumulated items, sorted.
func (c *Coordinator) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.accumulators))
	for k := range c.accumulators {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetWindows changes the debounce and flush windows for subsequent calls.
// Zero leaves a window unchanged.
func (c *Coordinator) SetWindows(debounce, flush time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if debounce > 0 {
		c.config.DebounceWindow = debounce
	}
	if flush > 0 {
		c.config.FlushWindow = flush
	}
}

// Stats returns coordinator counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.stats
	st.PendingKeys = len(c.accumulators)
	st.PendingDebounce = len(c.debounced)
	for _, acc := range c.accumulators {
		st.PendingItems += len(acc.items)
	}
	return st
}

// Shutdown stops every timer, drops accumulated items, fails waiting
// debounced callers and cancels in-flight flushes. It waits for running
// flushes to return or ctx to end.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		c.stop()

		for key, entry := range c.debounced {
			entry.timer.Stop()
			entry.result <- outcome{err: resilience.Cancelled("batch coordinator shut down", ErrClosed)}
			delete(c.debounced, key)
		}
		for key, acc := range c.accumulators {
			acc.timer.Stop()
			c.stats.Dropped += int64(len(acc.items))
			delete(c.accumulators, key)
		}
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.flushes.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("batch: shutdown: %w", ctx.Err())
	}
}

// Stats contains coordinator counters.
type Stats struct {
	Accumulated     int64 // items appended
	Flushes         int64 // accumulator flushes run
	FlushErrors     int64
	Superseded      int64 // debounced calls replaced
	Dropped         int64 // items discarded by Shutdown
	PendingKeys     int
	PendingItems    int
	PendingDebounce int
}
