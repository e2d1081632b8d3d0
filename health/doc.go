// Package health reports whether catalogops can serve requests.
//
// A Checker inspects one dependency: the local SQLite store, the remote
// media server, or the data-access facade's own backlog. An Aggregator runs
// a set of checkers under one deadline and folds their results into a
// Report whose overall status is the worst individual status.
//
//	agg := health.NewAggregator(health.AggregatorConfig{Timeout: 5 * time.Second})
//	agg.Register(health.NewStoreChecker(db))
//	agg.Register(health.NewServiceChecker(svc, health.ServiceThresholds{}))
//	report := agg.Run(ctx)
//	if report.Status == health.StatusUnhealthy {
//	    os.Exit(1)
//	}
package health
