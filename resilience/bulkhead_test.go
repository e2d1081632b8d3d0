package resilience

import "testing"

func TestNewBulkhead(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{})

	if got := b.Metrics().MaxConcurrent; got != 3 {
		t.Errorf("MaxConcurrent = %d, want 3", got)
	}
}

func TestBulkhead_TryAcquire(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 2})

	if !b.TryAcquire() || !b.TryAcquire() {
		t.Fatal("TryAcquire() = false before pool is full")
	}
	if b.TryAcquire() {
		t.Error("TryAcquire() = true on a full pool")
	}

	b.Release()
	if !b.TryAcquire() {
		t.Error("TryAcquire() after Release = false")
	}
}

func TestBulkhead_Metrics(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 2})
	b.TryAcquire()
	b.TryAcquire()
	b.TryAcquire()
	b.Release()

	m := b.Metrics()
	if m.Active != 1 || m.MaxActive != 2 || m.Available != 1 {
		t.Errorf("Metrics() = %+v, want Active 1, MaxActive 2, Available 1", m)
	}
	if m.Acquired != 2 || m.Refused != 1 {
		t.Errorf("Acquired, Refused = %d, %d, want 2, 1", m.Acquired, m.Refused)
	}
}

func TestBulkhead_Resize(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 2})
	b.TryAcquire()
	b.TryAcquire()

	b.Resize(1)
	b.Release()
	if b.TryAcquire() {
		t.Error("TryAcquire() = true with 1 active and size 1")
	}

	b.Resize(3)
	if !b.TryAcquire() {
		t.Error("TryAcquire() = false after growing the pool")
	}
	if got := b.Metrics().Available; got != 1 {
		t.Errorf("Available = %d, want 1", got)
	}
}

func TestBulkhead_ReleaseUnbalanced(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})
	b.Release()

	if got := b.Metrics().Active; got != 0 {
		t.Errorf("Active = %d, want 0", got)
	}
}
