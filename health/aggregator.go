package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// AggregatorConfig configures the health aggregator.
type AggregatorConfig struct {
	// Timeout bounds a whole Run.
	// Default: 10 seconds
	Timeout time.Duration
}

// Report is the combined outcome of a Run.
type Report struct {
	Status    Status            `json:"status"`
	CheckedAt time.Time         `json:"checked_at"`
	Checks    map[string]Result `json:"checks"`
}

// Aggregator runs a set of checkers concurrently.
type Aggregator struct {
	timeout time.Duration

	mu       sync.RWMutex
	checkers []Checker
}

// NewAggregator creates a new health aggregator.
func NewAggregator(config AggregatorConfig) *Aggregator {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Aggregator{timeout: config.Timeout}
}

// Register adds a checker. A checker with the same name is replaced.
func (a *Aggregator) Register(c Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, existing := range a.checkers {
		if existing.Name() == c.Name() {
			a.checkers[i] = c
			return
		}
	}
	a.checkers = append(a.checkers, c)
}

// Names returns registered checker names in registration order.
func (a *Aggregator) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, len(a.checkers))
	for i, c := range a.checkers {
		names[i] = c.Name()
	}
	return names
}

// Run executes every checker and returns the combined report. A checker
// still running at the deadline is reported unhealthy with ErrCheckTimeout.
func (a *Aggregator) Run(ctx context.Context) Report {
	a.mu.RLock()
	checkers := append([]Checker(nil), a.checkers...)
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	results := make([]Result, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			results[i] = runCheck(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Status:    StatusHealthy,
		CheckedAt: time.Now(),
		Checks:    make(map[string]Result, len(checkers)),
	}
	for i, c := range checkers {
		report.Checks[c.Name()] = results[i]
		report.Status = worst(report.Status, results[i].Status)
	}
	return report
}

func runCheck(ctx context.Context, c Checker) Result {
	start := time.Now()
	done := make(chan Result, 1)
	go func() { done <- c.Check(ctx) }()

	select {
	case r := <-done:
		r.Duration = time.Since(start)
		return r
	case <-ctx.Done():
		r := Unhealthy("check timed out", ErrCheckTimeout)
		r.Duration = time.Since(start)
		return r
	}
}

func worst(a, b Status) Status {
	if b > a {
		return b
	}
	return a
}
