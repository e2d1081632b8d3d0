package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/catalogops/batch"
	"github.com/jonwraymond/catalogops/cache"
	"github.com/jonwraymond/catalogops/dedup"
	"github.com/jonwraymond/catalogops/observe"
	"github.com/jonwraymond/catalogops/resilience"
	"github.com/jonwraymond/catalogops/scheduler"
)

// Service errors.
var (
	// ErrNilSource is returned by New when Config.Source is nil.
	ErrNilSource = errors.New("catalog: source is nil")

	// ErrNotRemote is returned by Configure when endpoint settings are given
	// for a source that has no endpoint.
	ErrNotRemote = errors.New("catalog: source has no remote endpoint")

	// ErrUnsupported is returned when the source lacks an optional capability.
	ErrUnsupported = errors.New("catalog: operation not supported by source")
)

// Batch keys used with the coordinator.
const (
	progressBatchKey = "progress"
	searchBatchKey   = "search"
)

// Config configures a Service.
type Config struct {
	// Source is the system of record. Required.
	Source Source

	// CacheSize is the maximum number of cached results.
	// Default: 500
	CacheSize int

	// Policy sets per-namespace TTLs.
	// Default: cache.DefaultPolicy()
	Policy *cache.Policy

	// Scheduler configures the request scheduler. Its Middleware and Logger
	// default to this Config's.
	Scheduler scheduler.Config

	// Batch configures the debounce and flush windows.
	Batch batch.Config

	// ListTimeout bounds listing and batch fetch attempts, which return
	// large payloads.
	// Default: 30 seconds
	ListTimeout time.Duration

	// FetchChunkSize is the number of ids per BatchFetch request.
	// Default: 100
	FetchChunkSize int

	// Middleware instruments scheduler attempts and records cache lookups.
	// Default: observe.NopMiddleware()
	Middleware *observe.Middleware

	// Logger receives facade events.
	// Default: the middleware's logger
	Logger observe.Logger

	// OnProgressFlushError is called when a timer-driven progress flush
	// fails. The records are not re-queued.
	OnProgressFlushError func(records []ProgressRecord, err error)
}

// Options are the settings Configure can change at runtime. Zero values
// leave a setting unchanged.
type Options struct {
	BaseURL   string
	AuthToken string
	// ClearToken removes the bearer token. It cannot be combined with
	// AuthToken.
	ClearToken    bool
	MaxConcurrent int
	CacheSize     int
	TTLs          map[string]time.Duration
}

// Service is the data-access facade: every read is served from the cache
// or collapsed into one scheduled call per distinct request, and every
// write invalidates the namespaces it affects.
type Service struct {
	source   Source
	store    *cache.MemoryCache
	cache    *cache.Middleware
	dedup    *dedup.Group
	sched    *scheduler.Scheduler
	batch    *batch.Coordinator
	validate *validator.Validate
	logger   observe.Logger

	listTimeout time.Duration
	chunkSize   int

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Service and the components it owns.
func New(config Config) (*Service, error) {
	if config.Source == nil {
		return nil, ErrNilSource
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 500
	}
	policy := cache.DefaultPolicy()
	if config.Policy != nil {
		policy = *config.Policy
	}
	if config.ListTimeout <= 0 {
		config.ListTimeout = 30 * time.Second
	}
	if config.FetchChunkSize <= 0 {
		config.FetchChunkSize = 100
	}
	if config.Middleware == nil {
		config.Middleware = observe.NopMiddleware()
	}
	if config.Logger == nil {
		config.Logger = config.Middleware.Logger()
	}
	if config.Scheduler.Middleware == nil {
		config.Scheduler.Middleware = config.Middleware
	}
	if config.Scheduler.Logger == nil {
		config.Scheduler.Logger = config.Logger
	}
	if config.Batch.Logger == nil {
		config.Batch.Logger = config.Logger
	}

	s := &Service{
		source:      config.Source,
		store:       cache.NewMemoryCache(config.CacheSize),
		dedup:       dedup.New(),
		sched:       scheduler.New(config.Scheduler),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      config.Logger.With(observe.F("component", "catalog")),
		listTimeout: config.ListTimeout,
		chunkSize:   config.FetchChunkSize,
	}
	s.cache = cache.NewMiddleware(s.store, nil, policy, config.Middleware.Metrics())

	onFlushError := config.Batch.OnFlushError
	config.Batch.OnFlushError = func(key string, items []any, err error) {
		if onFlushError != nil {
			onFlushError(key, items, err)
		}
		if key == progressBatchKey && config.OnProgressFlushError != nil {
			config.OnProgressFlushError(progressRecords(items), err)
		}
	}
	s.batch = batch.New(config.Batch)

	return s, nil
}

// ListItems returns one page of a library's items.
func (s *Service) ListItems(ctx context.Context, q ListQuery) (Page, error) {
	q = q.Normalized()
	if err := s.check(q); err != nil {
		return Page{}, err
	}
	return read(ctx, s, cache.NamespaceLibraryItems, "list", q, s.listTimeout,
		func(ctx context.Context) (Page, error) {
			return s.source.ListItems(ctx, q)
		})
}

// ItemCount returns the number of items in a library matching filter.
func (s *Service) ItemCount(ctx context.Context, libraryID string, filter Filter) (int, error) {
	if libraryID == "" {
		return 0, &resilience.ValidationError{Field: "libraryId", Message: "is required"}
	}
	params := struct {
		LibraryID string `json:"libraryId"`
		Filter    Filter `json:"filter"`
	}{libraryID, filter}

	return read(ctx, s, cache.NamespaceItemCount, "count", params, 0,
		func(ctx context.Context) (int, error) {
			return s.source.CountItems(ctx, libraryID, filter)
		})
}

// Search runs a ranked search, debounced per library: a newer Search for
// the same library within the debounce window supersedes this one, which
// then returns batch.ErrSuperseded without reaching the source.
func (s *Service) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	q = q.Normalized()
	if err := s.check(q); err != nil {
		return nil, err
	}

	v, err := s.batch.Debounce(ctx, searchBatchKey+":"+q.LibraryID, func(ctx context.Context) (any, error) {
		return read(ctx, s, cache.NamespaceSearch, "search", q, 0,
			func(ctx context.Context) ([]SearchResult, error) {
				return s.source.Search(ctx, q)
			})
	})
	if err != nil {
		return nil, err
	}
	results, _ := v.([]SearchResult)
	return results, nil
}

// RecentlyPlayed returns the items with the most recent progress updates.
func (s *Service) RecentlyPlayed(ctx context.Context, limit int) ([]Item, error) {
	if limit < 0 {
		return nil, &resilience.ValidationError{Field: "limit", Message: "must not be negative"}
	}
	if limit == 0 {
		limit = DefaultRecentlyPlayedLimit
	}
	params := map[string]any{"limit": limit}

	return read(ctx, s, cache.NamespaceRecentlyPlayed, "recent", params, 0,
		func(ctx context.Context) ([]Item, error) {
			return s.source.RecentlyPlayed(ctx, limit)
		})
}

// BatchFetch loads items by id. Ids are split into chunks that are fetched
// concurrently through the scheduler; results are concatenated in chunk
// order. Each chunk is cached and deduplicated on its own.
func (s *Service) BatchFetch(ctx context.Context, ids []string) ([]Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	chunks := chunkStrings(ids, s.chunkSize)
	results := make([][]Item, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			params := map[string]any{"ids": chunk}
			items, err := read(gctx, s, cache.NamespaceItems, "fetch", params, s.listTimeout,
				func(ctx context.Context) ([]Item, error) {
					return s.source.FetchItems(ctx, chunk)
				})
			if err != nil {
				return fmt.Errorf("catalog: fetch chunk %d: %w", i, err)
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Item
	for _, items := range results {
		out = append(out, items...)
	}
	return out, nil
}

// SyncProgress queues rec for the next combined progress write. Records
// arriving within the flush window are written together in arrival order.
// A failed timer-driven write is reported to OnProgressFlushError and is
// not retried.
func (s *Service) SyncProgress(ctx context.Context, rec ProgressRecord) error {
	if err := s.check(rec); err != nil {
		return err
	}
	if rec.LastUpdate == 0 {
		rec.LastUpdate = time.Now().UnixMilli()
	}
	return s.batch.Accumulate(progressBatchKey, rec, s.flushProgress)
}

// FlushProgress writes any queued progress records now and returns the
// outcome of that write.
func (s *Service) FlushProgress(ctx context.Context) error {
	_, err := s.batch.Flush(ctx, progressBatchKey)
	return err
}

// PendingProgress returns the number of queued progress records.
func (s *Service) PendingProgress() int {
	return s.batch.Pending(progressBatchKey)
}

func (s *Service) flushProgress(ctx context.Context, _ string, items []any) (any, error) {
	records := progressRecords(items)
	_, err := s.sched.Submit(ctx, scheduler.Operation{
		Name:      "write",
		Namespace: cache.NamespaceProgress,
		Key:       fmt.Sprintf("progress:%d", len(records)),
		Run: func(ctx context.Context) (any, error) {
			return nil, s.source.WriteProgress(ctx, records)
		},
	})

	// Invalidate even on failure: a remote write may have partially landed.
	n := s.invalidate(ctx, cache.NamespaceProgress, cache.NamespaceRecentlyPlayed)
	s.logger.Debug(ctx, "progress flushed",
		observe.F("records", len(records)),
		observe.F("invalidated", n),
	)
	return nil, err
}

// BulkWrite stores items in one all-or-nothing write and drops every
// cached listing, count, search and item lookup.
func (s *Service) BulkWrite(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		if err := s.check(items[i]); err != nil {
			return fmt.Errorf("catalog: item %d: %w", i, err)
		}
	}

	_, err := s.sched.Submit(ctx, scheduler.Operation{
		Name:      "write",
		Namespace: cache.NamespaceLibraryItems,
		Key:       fmt.Sprintf("items:%d", len(items)),
		Timeout:   s.listTimeout,
		Run: func(ctx context.Context) (any, error) {
			return nil, s.source.WriteItems(ctx, items)
		},
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx,
		cache.NamespaceLibraryItems,
		cache.NamespaceItemCount,
		cache.NamespaceSearch,
		cache.NamespaceItems,
	)
	return nil
}

// Invalidate drops every cached result in the given namespaces and
// returns how many entries were removed. Reads already in flight for those
// namespaces still answer their callers, but later reads start afresh
// instead of joining them.
func (s *Service) Invalidate(ctx context.Context, namespaces ...string) int {
	return s.invalidate(ctx, namespaces...)
}

func (s *Service) invalidate(ctx context.Context, namespaces ...string) int {
	if len(namespaces) == 0 {
		return 0
	}
	matchers := make([]cache.Matcher, len(namespaces))
	for i, ns := range namespaces {
		matchers[i] = cache.PrefixMatcher(ns)
	}
	s.dedup.Forget(cache.AnyMatcher(matchers...))
	return s.cache.Invalidate(ctx, namespaces...)
}

// Maintain runs storage maintenance on the source and clears the cache.
func (s *Service) Maintain(ctx context.Context) error {
	m, ok := s.source.(Maintainer)
	if !ok {
		return ErrUnsupported
	}
	_, err := s.sched.Submit(ctx, scheduler.Operation{
		Name:    "maintain",
		Timeout: 10 * time.Minute,
		Run: func(ctx context.Context) (any, error) {
			return nil, m.Maintain(ctx)
		},
	})
	if err != nil {
		return err
	}
	s.store.Clear(ctx)
	return nil
}

// Configure applies runtime settings.
func (s *Service) Configure(opts Options) error {
	if opts.ClearToken && opts.AuthToken != "" {
		return &resilience.ValidationError{Field: "authToken", Message: "cannot set and clear the token together"}
	}
	if opts.BaseURL != "" || opts.AuthToken != "" || opts.ClearToken {
		ep, ok := s.source.(Endpoint)
		if !ok {
			return ErrNotRemote
		}
		if opts.BaseURL != "" {
			if err := ep.SetBaseURL(opts.BaseURL); err != nil {
				return err
			}
		}
		if opts.AuthToken != "" || opts.ClearToken {
			// An empty token clears it.
			if err := ep.SetToken(opts.AuthToken); err != nil {
				return err
			}
		}
	}
	if opts.MaxConcurrent > 0 {
		s.sched.SetMaxConcurrent(opts.MaxConcurrent)
	}
	if opts.CacheSize > 0 {
		s.store.Resize(opts.CacheSize)
	}
	if len(opts.TTLs) > 0 {
		policy := s.cache.Policy()
		for ns, ttl := range opts.TTLs {
			if err := cache.ValidateNamespace(ns); err != nil {
				return err
			}
			policy = policy.WithTTL(ns, ttl)
		}
		s.cache.SetPolicy(policy)
	}
	return nil
}

// Stats is a point-in-time view of every component.
type Stats struct {
	Cache     cache.Stats
	Scheduler scheduler.Stats
	Dedup     dedup.Stats
	Batch     batch.Stats
	Source    map[string]int64 // nil unless the source reports counts
}

// Stats returns component counters and, when available, source row counts.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		Cache:     s.store.Stats(),
		Scheduler: s.sched.Stats(),
		Dedup:     s.dedup.Stats(),
		Batch:     s.batch.Stats(),
	}
	if c, ok := s.source.(Counter); ok {
		counts, err := c.Counts(ctx)
		if err != nil {
			return st, err
		}
		st.Source = counts
	}
	return st, nil
}

// Shutdown tears the service down: pending debounces fail, queued progress
// is dropped, in-flight and backing-off operations are cancelled and the
// cache is cleared. Calls after the first return the first outcome.
func (s *Service) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		var errs []error
		if err := s.batch.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := s.sched.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		s.store.Clear(ctx)
		s.shutdownErr = errors.Join(errs...)
	})
	return s.shutdownErr
}

// read serves (namespace, params) from the cache, or runs fetch once
// through the scheduler on behalf of every concurrent caller with the same
// key and caches the result.
func read[T any](ctx context.Context, s *Service, namespace, name string, params any, timeout time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	return cache.Fetch(ctx, s.cache, namespace, params, func(ctx context.Context, key string) (T, error) {
		var zero T
		v, _, err := s.dedup.Do(ctx, key, func(ctx context.Context) (any, error) {
			return s.sched.Submit(ctx, scheduler.Operation{
				Name:      name,
				Namespace: namespace,
				Key:       key,
				Timeout:   timeout,
				Run: func(ctx context.Context) (any, error) {
					return fetch(ctx)
				},
			})
		})
		if err != nil {
			return zero, err
		}
		typed, ok := v.(T)
		if !ok && v != nil {
			return zero, fmt.Errorf("catalog: %s returned %T, want %T", name, v, zero)
		}
		return typed, nil
	})
}

// check validates v and maps the first failure to a ValidationError.
func (s *Service) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &resilience.ValidationError{
			Field:   fe.Namespace(),
			Message: fmt.Sprintf("failed %q check (value %v)", fe.Tag(), fe.Value()),
		}
	}
	return &resilience.ValidationError{Message: err.Error()}
}

func progressRecords(items []any) []ProgressRecord {
	records := make([]ProgressRecord, 0, len(items))
	for _, it := range items {
		if rec, ok := it.(ProgressRecord); ok {
			records = append(records, rec)
		}
	}
	return records
}

func chunkStrings(s []string, size int) [][]string {
	chunks := make([][]string, 0, (len(s)+size-1)/size)
	for size < len(s) {
		s, chunks = s[size:], append(chunks, s[0:size:size])
	}
	return append(chunks, s)
}
