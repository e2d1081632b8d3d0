package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jonwraymond/catalogops/catalog"
	"github.com/jonwraymond/catalogops/resilience"
	"github.com/jonwraymond/catalogops/store"
	"github.com/jonwraymond/catalogops/transport"
)

// NewStoreChecker reports whether the local database answers queries.
// A busy database is degraded rather than unhealthy.
func NewStoreChecker(s store.Store) Checker {
	return NewCheckerFunc("store", func(ctx context.Context) Result {
		var one int
		err := s.Query(ctx, &one, "SELECT 1")
		switch {
		case err == nil:
			return Healthy("database reachable")
		case resilience.IsRetryable(err):
			return Degraded("database busy").WithDetails(map[string]any{"error": err.Error()})
		default:
			return Unhealthy("database unavailable", err)
		}
	})
}

// PingPath is the unauthenticated liveness endpoint of the media server.
const PingPath = "/ping"

// NewRemoteChecker reports whether the media server answers its ping
// endpoint. Rate limiting and 5xx replies are degraded; anything else that
// fails is unhealthy.
func NewRemoteChecker(t transport.Transport) Checker {
	return NewCheckerFunc("remote", func(ctx context.Context) Result {
		_, err := t.Execute(ctx, transport.Request{Method: http.MethodGet, Path: PingPath})
		if err == nil {
			return Healthy("server reachable")
		}
		var se *resilience.StatusError
		if errors.As(err, &se) && (se.Server() || se.StatusCode == http.StatusTooManyRequests) {
			return Degraded(fmt.Sprintf("server returned %d", se.StatusCode))
		}
		return Unhealthy("server unreachable", err)
	})
}

// ServiceThresholds sets when the facade's backlog counts as degraded.
type ServiceThresholds struct {
	// MaxQueued is the queue length above which the service is degraded.
	// Default: 50
	MaxQueued int

	// MaxPendingProgress is the number of unflushed progress records above
	// which the service is degraded.
	// Default: 1000
	MaxPendingProgress int
}

// NewServiceChecker reports the facade's cache, scheduler and batch state.
func NewServiceChecker(svc *catalog.Service, th ServiceThresholds) Checker {
	if th.MaxQueued <= 0 {
		th.MaxQueued = 50
	}
	if th.MaxPendingProgress <= 0 {
		th.MaxPendingProgress = 1000
	}
	return NewCheckerFunc("service", func(ctx context.Context) Result {
		st, err := svc.Stats(ctx)
		if err != nil {
			return Unhealthy("stats unavailable", err)
		}
		details := map[string]any{
			"cache_entries":    st.Cache.Entries,
			"cache_capacity":   st.Cache.Capacity,
			"queued":           st.Scheduler.Queued,
			"executing":        st.Scheduler.Executing,
			"in_flight":        st.Dedup.InFlight,
			"pending_progress": st.Batch.PendingItems,
			"dropped_progress": st.Batch.Dropped,
		}
		for table, n := range st.Source {
			details["rows_"+table] = n
		}

		switch {
		case st.Scheduler.Queued > th.MaxQueued:
			return Degraded(fmt.Sprintf("%d requests queued", st.Scheduler.Queued)).WithDetails(details)
		case st.Batch.PendingItems > th.MaxPendingProgress:
			return Degraded(fmt.Sprintf("%d progress records pending", st.Batch.PendingItems)).WithDetails(details)
		default:
			return Healthy("backlog within limits").WithDetails(details)
		}
	})
}
