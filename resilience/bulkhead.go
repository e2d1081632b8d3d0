package resilience

import "sync"

// BulkheadConfig configures the bulkhead.
type BulkheadConfig struct {
	// MaxConcurrent is the number of execution slots.
	// Default: 3
	MaxConcurrent int
}

// Bulkhead is a resizable pool of execution slots. It never blocks: callers
// that find it full keep their work queued and retry after a Release.
type Bulkhead struct {
	mu     sync.Mutex
	config BulkheadConfig

	active    int
	maxActive int
	acquired  int64
	refused   int64
}

// NewBulkhead creates a new bulkhead.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 3
	}

	return &Bulkhead{config: config}
}

// TryAcquire takes a slot if one is free and never blocks.
func (b *Bulkhead) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tryAcquireLocked()
}

// Release returns a slot to the pool.
func (b *Bulkhead) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == 0 {
		// Unbalanced release, nothing to return
		return
	}
	b.active--
}

// Resize changes the number of slots. Slots already held above a reduced
// size are honored until released.
func (b *Bulkhead) Resize(maxConcurrent int) {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.config.MaxConcurrent = maxConcurrent
}

// Metrics returns current bulkhead metrics.
func (b *Bulkhead) Metrics() BulkheadMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	available := b.config.MaxConcurrent - b.active
	if available < 0 {
		available = 0
	}

	return BulkheadMetrics{
		Active:        b.active,
		MaxActive:     b.maxActive,
		Available:     available,
		MaxConcurrent: b.config.MaxConcurrent,
		Acquired:      b.acquired,
		Refused:       b.refused,
	}
}

func (b *Bulkhead) tryAcquireLocked() bool {
	if b.active >= b.config.MaxConcurrent {
		b.refused++
		return false
	}
	b.active++
	b.acquired++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}
	return true
}

// BulkheadMetrics contains bulkhead statistics.
type BulkheadMetrics struct {
	Active        int
	MaxActive     int
	Available     int
	MaxConcurrent int
	Acquired      int64
	Refused       int64 // TryAcquire calls that found the pool full
}
