package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/catalogops/resilience"
)

// waitGeneration blocks until n calls have registered, keeping arrival order deterministic.
func waitGeneration(t *testing.T, c *Coordinator, n uint64) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := c.generation
		c.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(100 * time.Microsecond)
	}
	t.Fatalf("generation never reached %d", n)
}

func TestCoordinator_Defaults(t *testing.T) {
	c := New(Config{})
	defer c.Shutdown(context.Background())

	if c.config.DebounceWindow != 300*time.Millisecond {
		t.Errorf("DebounceWindow = %v, want 300ms", c.config.DebounceWindow)
	}
	if c.config.FlushWindow != 2*time.Second {
		t.Errorf("FlushWindow = %v, want 2s", c.config.FlushWindow)
	}
}

func TestCoordinator_DebounceKeepsLatest(t *testing.T) {
	c := New(Config{DebounceWindow: 50 * time.Millisecond})
	defer c.Shutdown(context.Background())

	var mu sync.Mutex
	var executed []string

	queries := []string{"a", "ab", "abc"}
	results := make([]any, len(queries))
	errs := make([]error, len(queries))

	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			results[i], errs[i] = c.Debounce(context.Background(), "search:lib1", func(ctx context.Context) (any, error) {
				mu.Lock()
				executed = append(executed, q)
				mu.Unlock()
				return "results for " + q, nil
			})
		}(i, q)
		waitGeneration(t, c, uint64(i+1))
	}
	wg.Wait()

	if fmt.Sprint(executed) != "[abc]" {
		t.Errorf("executed = %v, want [abc]", executed)
	}
	for i := 0; i < 2; i++ {
		if !errors.Is(errs[i], ErrSuperseded) {
			t.Errorf("call %q error = %v, want ErrSuperseded", queries[i], errs[i])
		}
	}
	if errs[2] != nil || results[2] != "results for abc" {
		t.Errorf("last call = (%v, %v), want results for abc", results[2], errs[2])
	}
	if got := c.Stats().Superseded; got != 2 {
		t.Errorf("Superseded = %d, want 2", got)
	}
}

func TestCoordinator_DebounceSeparateWindows(t *testing.T) {
	c := New(Config{DebounceWindow: 10 * time.Millisecond})
	defer c.Shutdown(context.Background())

	var calls int32
	fn := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}

	for i := 0; i < 2; i++ {
		if _, err := c.Debounce(context.Background(), "search:lib1", fn); err != nil {
			t.Fatalf("Debounce() error = %v", err)
		}
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestCoordinator_DebounceContextCancelled(t *testing.T) {
	c := New(Config{DebounceWindow: time.Hour})
	defer c.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Debounce(ctx, "search:lib1", func(ctx context.Context) (any, error) {
		t.Error("abandoned call must not run")
		return nil, nil
	})
	if !errors.Is(err, resilience.ErrCancelled) {
		t.Errorf("Debounce() error = %v, want ErrCancelled", err)
	}
	if got := c.Stats().PendingDebounce; got != 0 {
		t.Errorf("PendingDebounce = %d, want 0", got)
	}
}

func TestCoordinator_AccumulateFlushesInOrder(t *testing.T) {
	c := New(Config{FlushWindow: 30 * time.Millisecond})
	defer c.Shutdown(context.Background())

	flushed := make(chan []any, 2)
	flush := func(ctx context.Context, key string, items []any) (any, error) {
		flushed <- items
		return nil, nil
	}

	for i := 1; i <= 5; i++ {
		if err := c.Accumulate("progress", fmt.Sprintf("record-%d", i), flush); err != nil {
			t.Fatalf("Accumulate() error = %v", err)
		}
	}
	if got := c.Pending("progress"); got != 5 {
		t.Errorf("Pending() = %d, want 5", got)
	}

	select {
	case items := <-flushed:
		want := "[record-1 record-2 record-3 record-4 record-5]"
		if fmt.Sprint(items) != want {
			t.Errorf("flushed = %v, want %s", items, want)
		}
	case <-time.After(time.Second):
		t.Fatal("batch was never flushed")
	}

	select {
	case items := <-flushed:
		t.Errorf("unexpected second flush: %v", items)
	case <-time.After(80 * time.Millisecond):
	}
	if got := c.Pending("progress"); got != 0 {
		t.Errorf("Pending() after flush = %d, want 0", got)
	}
}

func TestCoordinator_AccumulateResetsTimer(t *testing.T) {
	c := New(Config{FlushWindow: 40 * time.Millisecond})
	defer c.Shutdown(context.Background())

	var flushes int32
	flush := func(ctx context.Context, key string, items []any) (any, error) {
		atomic.AddInt32(&flushes, 1)
		return nil, nil
	}

	for i := 0; i < 4; i++ {
		_ = c.Accumulate("progress", i, flush)
		time.Sleep(20 * time.Millisecond)
	}
	if got := atomic.LoadInt32(&flushes); got != 0 {
		t.Errorf("flushes while still receiving = %d, want 0", got)
	}

	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&flushes); got != 1 {
		t.Errorf("flushes = %d, want 1", got)
	}
}

func TestCoordinator_FailedFlushNotRequeued(t *testing.T) {
	var reported atomic.Value
	c := New(Config{
		FlushWindow: 10 * time.Millisecond,
		OnFlushError: func(key string, items []any, err error) {
			reported.Store(fmt.Sprintf("%s:%d:%v", key, len(items), err))
		},
	})
	defer c.Shutdown(context.Background())

	var calls int32
	flush := func(ctx context.Context, key string, items []any) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("server unavailable")
	}

	_ = c.Accumulate("progress", "a", flush)
	_ = c.Accumulate("progress", "b", flush)

	deadline := time.Now().Add(time.Second)
	for reported.Load() == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if got, _ := reported.Load().(string); got != "progress:2:server unavailable" {
		t.Errorf("OnFlushError = %q", got)
	}
	time.Sleep(50 * time.Millisecond)
	if calls != 1 {
		t.Errorf("flush calls = %d, want 1", calls)
	}
	if got := c.Pending("progress"); got != 0 {
		t.Errorf("Pending() = %d, want 0", got)
	}
	if got := c.Stats().FlushErrors; got != 1 {
		t.Errorf("FlushErrors = %d, want 1", got)
	}
}

func TestCoordinator_ExplicitFlushReturnsError(t *testing.T) {
	var callback atomic.Bool
	c := New(Config{
		FlushWindow:  time.Hour,
		OnFlushError: func(string, []any, error) { callback.Store(true) },
	})
	defer c.Shutdown(context.Background())

	want := errors.New("write failed")
	_ = c.Accumulate("progress", 1, func(ctx context.Context, key string, items []any) (any, error) {
		return nil, want
	})

	if _, err := c.Flush(context.Background(), "progress"); err != want {
		t.Errorf("Flush() error = %v, want %v", err, want)
	}
	if callback.Load() {
		t.Error("OnFlushError fired for an explicit flush")
	}
	if v, err := c.Flush(context.Background(), "progress"); v != nil || err != nil {
		t.Errorf("second Flush() = (%v, %v), want (nil, nil)", v, err)
	}
}

func TestCoordinator_FlushAll(t *testing.T) {
	c := New(Config{FlushWindow: time.Hour})
	defer c.Shutdown(context.Background())

	var mu sync.Mutex
	got := map[string]int{}
	flush := func(ctx context.Context, key string, items []any) (any, error) {
		mu.Lock()
		got[key] = len(items)
		mu.Unlock()
		if key == "bad" {
			return nil, errors.New("boom")
		}
		return nil, nil
	}

	_ = c.Accumulate("progress", 1, flush)
	_ = c.Accumulate("progress", 2, flush)
	_ = c.Accumulate("bad", 1, flush)

	err := c.FlushAll(context.Background())
	if err == nil {
		t.Error("FlushAll() error = nil, want the bad key's error")
	}
	if got["progress"] != 2 || got["bad"] != 1 {
		t.Errorf("flushed = %v", got)
	}
	if keys := c.Keys(); len(keys) != 0 {
		t.Errorf("Keys() = %v, want none", keys)
	}
}

func TestCoordinator_Shutdown(t *testing.T) {
	c := New(Config{DebounceWindow: time.Hour, FlushWindow: time.Hour})

	var flushed atomic.Bool
	_ = c.Accumulate("progress", 1, func(ctx context.Context, key string, items []any) (any, error) {
		flushed.Store(true)
		return nil, nil
	})

	debounced := make(chan error, 1)
	go func() {
		_, err := c.Debounce(context.Background(), "search:lib1", func(ctx context.Context) (any, error) {
			return nil, nil
		})
		debounced <- err
	}()
	deadline := time.Now().Add(time.Second)
	for c.Stats().PendingDebounce == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if err := <-debounced; !errors.Is(err, resilience.ErrCancelled) {
		t.Errorf("Debounce() error = %v, want ErrCancelled", err)
	}
	if flushed.Load() {
		t.Error("accumulated items were flushed during Shutdown")
	}
	if got := c.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
	if err := c.Accumulate("progress", 2, func(context.Context, string, []any) (any, error) { return nil, nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("Accumulate() after Shutdown error = %v, want ErrClosed", err)
	}
}

func TestCoordinator_EmptyKey(t *testing.T) {
	c := New(Config{})
	defer c.Shutdown(context.Background())

	if err := c.Accumulate("", 1, func(context.Context, string, []any) (any, error) { return nil, nil }); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Accumulate() error = %v, want ErrEmptyKey", err)
	}
	if _, err := c.Debounce(context.Background(), "", nil); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Debounce() error = %v, want ErrEmptyKey", err)
	}
}
