package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fixed(name string, r Result) Checker {
	return NewCheckerFunc(name, func(context.Context) Result { return r })
}

func TestAggregator_RegisterReplacesByName(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{})
	agg.Register(fixed("store", Healthy("ok")))
	agg.Register(fixed("remote", Healthy("ok")))
	agg.Register(fixed("store", Unhealthy("down", nil)))

	names := agg.Names()
	if len(names) != 2 || names[0] != "store" || names[1] != "remote" {
		t.Fatalf("Names() = %v, want [store remote]", names)
	}

	report := agg.Run(context.Background())
	if report.Checks["store"].Status != StatusUnhealthy {
		t.Errorf("store status = %v, want unhealthy", report.Checks["store"].Status)
	}
}

func TestAggregator_WorstStatusWins(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		want    Status
	}{
		{"none", nil, StatusHealthy},
		{"all healthy", []Result{Healthy("a"), Healthy("b")}, StatusHealthy},
		{"one degraded", []Result{Healthy("a"), Degraded("b")}, StatusDegraded},
		{"one unhealthy", []Result{Degraded("a"), Unhealthy("b", errors.New("x"))}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator(AggregatorConfig{})
			for i, r := range tt.results {
				agg.Register(fixed(string(rune('a'+i)), r))
			}
			report := agg.Run(context.Background())
			if report.Status != tt.want {
				t.Errorf("Status = %v, want %v", report.Status, tt.want)
			}
			if len(report.Checks) != len(tt.results) {
				t.Errorf("len(Checks) = %d, want %d", len(report.Checks), len(tt.results))
			}
		})
	}
}

func TestAggregator_Timeout(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Timeout: 20 * time.Millisecond})
	release := make(chan struct{})
	defer close(release)

	agg.Register(NewCheckerFunc("slow", func(context.Context) Result {
		<-release
		return Healthy("late")
	}))
	agg.Register(fixed("fast", Healthy("ok")))

	start := time.Now()
	report := agg.Run(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Run took %v, want it bounded by the timeout", elapsed)
	}

	slow := report.Checks["slow"]
	if slow.Status != StatusUnhealthy || slow.Error != ErrCheckTimeout.Error() {
		t.Errorf("slow = %+v, want unhealthy timeout", slow)
	}
	if report.Checks["fast"].Status != StatusHealthy {
		t.Errorf("fast status = %v, want healthy", report.Checks["fast"].Status)
	}
	if report.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy", report.Status)
	}
}
