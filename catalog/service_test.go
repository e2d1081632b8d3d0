package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/catalogops/batch"
	"github.com/jonwraymond/catalogops/cache"
	"github.com/jonwraymond/catalogops/resilience"
	"github.com/jonwraymond/catalogops/scheduler"
)

type fakeSource struct {
	mu sync.Mutex

	listCalls   atomic.Int32
	countCalls  atomic.Int32
	recentCalls atomic.Int32

	listGate chan struct{} // when set, ListItems blocks until closed
	listErrs []error       // returned in order before succeeding
	countErr error

	searches   []string
	fetches    [][]string
	writes     [][]Item
	progress   [][]ProgressRecord
	progressCh chan []ProgressRecord
	writeErr   error
}

func newFakeSource() *fakeSource {
	return &fakeSource{progressCh: make(chan []ProgressRecord, 8)}
}

func (f *fakeSource) ListItems(ctx context.Context, q ListQuery) (Page, error) {
	f.listCalls.Add(1)
	if f.listGate != nil {
		select {
		case <-f.listGate:
		case <-ctx.Done():
			return Page{}, ctx.Err()
		}
	}
	f.mu.Lock()
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		f.mu.Unlock()
		return Page{}, err
	}
	f.mu.Unlock()
	return Page{
		Results: []Item{{ID: "li_1", LibraryID: q.LibraryID, Title: "Dune"}},
		Total:   1,
		Limit:   q.Limit,
		Offset:  q.Offset,
	}, nil
}

func (f *fakeSource) CountItems(_ context.Context, _ string, _ Filter) (int, error) {
	f.countCalls.Add(1)
	if f.countErr != nil {
		return 0, f.countErr
	}
	return 42, nil
}

func (f *fakeSource) Search(_ context.Context, q SearchQuery) ([]SearchResult, error) {
	f.mu.Lock()
	f.searches = append(f.searches, q.Query)
	f.mu.Unlock()
	return []SearchResult{{Item: Item{ID: "li_1", Title: q.Query}, Rank: 1}}, nil
}

func (f *fakeSource) FetchItems(_ context.Context, ids []string) ([]Item, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, ids)
	f.mu.Unlock()
	items := make([]Item, len(ids))
	for i, id := range ids {
		items[i] = Item{ID: id, LibraryID: "lib"}
	}
	return items, nil
}

func (f *fakeSource) RecentlyPlayed(_ context.Context, limit int) ([]Item, error) {
	f.recentCalls.Add(1)
	return []Item{{ID: "li_recent"}}, nil
}

func (f *fakeSource) WriteProgress(_ context.Context, records []ProgressRecord) error {
	f.mu.Lock()
	f.progress = append(f.progress, records)
	err := f.writeErr
	f.mu.Unlock()
	f.progressCh <- records
	return err
}

func (f *fakeSource) WriteItems(_ context.Context, items []Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, items)
	return f.writeErr
}

func newTestService(t *testing.T, src Source, mutate func(*Config)) *Service {
	t.Helper()
	cfg := Config{
		Source: src,
		Scheduler: scheduler.Config{
			Retry: resilience.NewRetryPolicy(resilience.RetryConfig{
				BaseDelay: time.Millisecond,
				MaxDelay:  10 * time.Millisecond,
			}),
		},
		Batch: batch.Config{
			DebounceWindow: 200 * time.Millisecond,
			FlushWindow:    50 * time.Millisecond,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func keysWithPrefix(s *Service, prefix string) int {
	n := 0
	for _, k := range s.store.Keys() {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n
}

func TestNew_NilSource(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNilSource) {
		t.Errorf("New() error = %v, want ErrNilSource", err)
	}
}

func TestService_ListItems_ConcurrentCallersShareOneCall(t *testing.T) {
	src := newFakeSource()
	src.listGate = make(chan struct{})
	s := newTestService(t, src, nil)

	const callers = 10
	var wg sync.WaitGroup
	pages := make([]Page, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pages[i], errs[i] = s.ListItems(context.Background(), ListQuery{LibraryID: "lib", Desc: true})
		}()
	}

	waitFor(t, "first source call", func() bool { return src.listCalls.Load() == 1 })
	time.Sleep(50 * time.Millisecond)
	close(src.listGate)
	wg.Wait()

	if got := src.listCalls.Load(); got != 1 {
		t.Errorf("source calls = %d, want 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if len(pages[i].Results) != 1 || pages[i].Results[0].ID != "li_1" {
			t.Errorf("caller %d page = %+v", i, pages[i])
		}
	}
}

func TestService_ListItems_CacheHit(t *testing.T) {
	src := newFakeSource()
	s := newTestService(t, src, nil)
	ctx := context.Background()

	if _, err := s.ListItems(ctx, ListQuery{LibraryID: "lib"}); err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	// Same request spelled with the defaults filled in.
	if _, err := s.ListItems(ctx, ListQuery{LibraryID: "lib", Limit: DefaultListLimit, Sort: SortAddedAt}); err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if got := src.listCalls.Load(); got != 1 {
		t.Errorf("source calls = %d, want 1", got)
	}

	if _, err := s.ListItems(ctx, ListQuery{LibraryID: "lib", Offset: 100}); err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if got := src.listCalls.Load(); got != 2 {
		t.Errorf("source calls after new offset = %d, want 2", got)
	}
}

func TestService_ListItems_RetriesServerErrors(t *testing.T) {
	src := newFakeSource()
	src.listErrs = []error{
		&resilience.StatusError{StatusCode: 503},
		&resilience.StatusError{StatusCode: 503},
	}
	s := newTestService(t, src, nil)

	page, err := s.ListItems(context.Background(), ListQuery{LibraryID: "lib"})
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if page.Total != 1 {
		t.Errorf("Total = %d, want 1", page.Total)
	}
	if got := src.listCalls.Load(); got != 3 {
		t.Errorf("source calls = %d, want 3", got)
	}
}

func TestService_ListItems_Validation(t *testing.T) {
	src := newFakeSource()
	s := newTestService(t, src, nil)

	tests := []struct {
		name string
		q    ListQuery
	}{
		{"missing library", ListQuery{}},
		{"bad sort", ListQuery{LibraryID: "lib", Sort: "publisher"}},
		{"negative offset", ListQuery{LibraryID: "lib", Offset: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ListItems(context.Background(), tt.q)
			var verr *resilience.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("ListItems() error = %v, want ValidationError", err)
			}
		})
	}
	if got := src.listCalls.Load(); got != 0 {
		t.Errorf("source calls = %d, want 0", got)
	}
}

func TestService_ItemCount_SurfacesErrorsAndDoesNotCache(t *testing.T) {
	src := newFakeSource()
	src.countErr = &resilience.StatusError{StatusCode: 404}
	s := newTestService(t, src, nil)
	ctx := context.Background()

	if _, err := s.ItemCount(ctx, "lib", Filter{}); err == nil {
		t.Fatal("ItemCount() error = nil, want error")
	}
	if got := keysWithPrefix(s, cache.NamespaceItemCount+":"); got != 0 {
		t.Errorf("cached count entries = %d, want 0", got)
	}

	src.countErr = nil
	n, err := s.ItemCount(ctx, "lib", Filter{})
	if err != nil {
		t.Fatalf("ItemCount() error = %v", err)
	}
	if n != 42 {
		t.Errorf("ItemCount() = %d, want 42", n)
	}
	if _, err := s.ItemCount(ctx, "lib", Filter{}); err != nil {
		t.Fatalf("ItemCount() error = %v", err)
	}
	if got := src.countCalls.Load(); got != 2 {
		t.Errorf("source calls = %d, want 2", got)
	}
}

func TestService_Search_DebounceKeepsLatestQuery(t *testing.T) {
	src := newFakeSource()
	s := newTestService(t, src, nil)
	ctx := context.Background()

	type result struct {
		res []SearchResult
		err error
	}
	out := make([]chan result, 3)
	for i, q := range []string{"a", "ab", "abc"} {
		out[i] = make(chan result, 1)
		go func() {
			res, err := s.Search(ctx, SearchQuery{LibraryID: "lib", Query: q})
			out[i] <- result{res, err}
		}()
		waitFor(t, "debounce registration of "+q, func() bool {
			st := s.batch.Stats()
			return st.PendingDebounce == 1 && st.Superseded == int64(i)
		})
	}

	for i := 0; i < 2; i++ {
		r := <-out[i]
		if !errors.Is(r.err, batch.ErrSuperseded) {
			t.Errorf("call %d error = %v, want ErrSuperseded", i, r.err)
		}
	}
	last := <-out[2]
	if last.err != nil {
		t.Fatalf("Search(abc) error = %v", last.err)
	}
	if len(last.res) != 1 || last.res[0].Item.Title != "abc" {
		t.Errorf("Search(abc) = %+v", last.res)
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	if len(src.searches) != 1 || src.searches[0] != "abc" {
		t.Errorf("source searches = %v, want [abc]", src.searches)
	}
}

func TestService_Search_DifferentLibrariesDoNotSupersede(t *testing.T) {
	src := newFakeSource()
	s := newTestService(t, src, func(c *Config) { c.Batch.DebounceWindow = 20 * time.Millisecond })
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, lib := range []string{"lib_a", "lib_b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.Search(ctx, SearchQuery{LibraryID: lib, Query: "dune"})
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Search %d error = %v", i, err)
		}
	}
}

func TestService_SyncProgress_CoalescesInArrivalOrder(t *testing.T) {
	src := newFakeSource()
	s := newTestService(t, src, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := ProgressRecord{ID: fmt.Sprintf("p%d", i), LibraryItemID: "li_1", CurrentTime: float64(i)}
		if err := s.SyncProgress(ctx, rec); err != nil {
			t.Fatalf("SyncProgress(%d) error = %v", i, err)
		}
	}

	select {
	case records := <-src.progressCh:
		if len(records) != 5 {
			t.Fatalf("write size = %d, want 5", len(records))
		}
		for i, rec := range records {
			if want := fmt.Sprintf("p%d", i); rec.ID != want {
				t.Errorf("records[%d].ID = %q, want %q", i, rec.ID, want)
			}
			if rec.LastUpdate == 0 {
				t.Errorf("records[%d].LastUpdate not stamped", i)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("progress was not flushed")
	}

	time.Sleep(100 * time.Millisecond)
	src.mu.Lock()
	defer src.mu.Unlock()
	if len(src.progress) != 1 {
		t.Errorf("progress writes = %d, want 1", len(src.progress))
	}
}

func TestService_SyncProgress_Validation(t *testing.T) {
	s := newTestService(t, newFakeSource(), nil)

	err := s.SyncProgress(context.Background(), ProgressRecord{ID: "p1", LibraryItemID: "li_1", Progress: 1.5})
	var verr *resilience.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("SyncProgress() error = %v, want ValidationError", err)
	}
	if got := s.PendingProgress(); got != 0 {
		t.Errorf("PendingProgress() = %d, want 0", got)
	}
}

func TestService_FlushProgress_InvalidatesProgressNamespaces(t *testing.T) {
	src := newFakeSource()
	s := newTestService(t, src, func(c *Config) { c.Batch.FlushWindow = time.Hour })
	ctx := context.Background()

	if _, err := s.RecentlyPlayed(ctx, 5); err != nil {
		t.Fatalf("RecentlyPlayed() error = %v", err)
	}
	if _, err := s.ListItems(ctx, ListQuery{LibraryID: "lib"}); err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	_ = s.store.Set(ctx, cache.NamespaceProgress+`:{"id":"p1"}`, 0.5, time.Minute)

	if err := s.SyncProgress(ctx, ProgressRecord{ID: "p1", LibraryItemID: "li_1"}); err != nil {
		t.Fatalf("SyncProgress() error = %v", err)
	}
	if err := s.FlushProgress(ctx); err != nil {
		t.Fatalf("FlushProgress() error = %v", err)
	}

	if got := keysWithPrefix(s, cache.NamespaceProgress+":"); got != 0 {
		t.Errorf("progress entries = %d, want 0", got)
	}
	if got := keysWithPrefix(s, cache.NamespaceRecentlyPlayed+":"); got != 0 {
		t.Errorf("recentlyPlayed entries = %d, want 0", got)
	}
	if got := keysWithPrefix(s, cache.NamespaceLibraryItems+":"); got != 1 {
		t.Errorf("libraryItems entries = %d, want 1", got)
	}
}

func TestService_FlushProgress_ReportsFailureToCaller(t *testing.T) {
	src := newFakeSource()
	src.writeErr = &resilience.StatusError{StatusCode: 400}
	s := newTestService(t, src, func(c *Config) { c.Batch.FlushWindow = time.Hour })
	ctx := context.Background()

	_ = s.SyncProgress(ctx, ProgressRecord{ID: "p1", LibraryItemID: "li_1"})
	if err := s.FlushProgress(ctx); err == nil {
		t.Fatal("FlushProgress() error = nil, want error")
	}
	if got := s.PendingProgress(); got != 0 {
		t.Errorf("PendingProgress() = %d, want 0 (no re-queue)", got)
	}
}

func TestService_SyncProgress_TimerFailureCallsHook(t *testing.T) {
	src := newFakeSource()
	src.writeErr = &resilience.StatusError{StatusCode: 400}
	failed := make(chan []ProgressRecord, 1)
	s := newTestService(t, src, func(c *Config) {
		c.OnProgressFlushError = func(records []ProgressRecord, err error) { failed <- records }
	})

	_ = s.SyncProgress(context.Background(), ProgressRecord{ID: "p1", LibraryItemID: "li_1"})

	select {
	case records := <-failed:
		if len(records) != 1 || records[0].ID != "p1" {
			t.Errorf("failed records = %+v", records)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnProgressFlushError was not called")
	}
}

func TestService_BulkWrite_InvalidatesReadNamespaces(t *testing.T) {
	src := newFakeSource()
	s := newTestService(t, src, nil)
	ctx := context.Background()

	if _, err := s.ListItems(ctx, ListQuery{LibraryID: "lib"}); err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if _, err := s.ItemCount(ctx, "lib", Filter{}); err != nil {
		t.Fatalf("ItemCount() error = %v", err)
	}
	if _, err := s.RecentlyPlayed(ctx, 0); err != nil {
		t.Fatalf("RecentlyPlayed() error = %v", err)
	}

	err := s.BulkWrite(ctx, []Item{{ID: "li_2", LibraryID: "lib", Title: "Emma"}})
	if err != nil {
		t.Fatalf("BulkWrite() error = %v", err)
	}

	if got := s.store.Len(); got != 1 {
		t.Errorf("cache entries = %d, want 1 (recentlyPlayed only)", got)
	}
	if got := keysWithPrefix(s, cache.NamespaceRecentlyPlayed+":"); got != 1 {
		t.Errorf("recentlyPlayed entries = %d, want 1", got)
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if len(src.writes) != 1 || len(src.writes[0]) != 1 {
		t.Errorf("writes = %v", src.writes)
	}
}

func TestService_BulkWrite_RejectsInvalidItem(t *testing.T) {
	src := newFakeSource()
	s := newTestService(t, src, nil)

	err := s.BulkWrite(context.Background(), []Item{{ID: "li_1", LibraryID: "lib"}, {ID: "li_2"}})
	var verr *resilience.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("BulkWrite() error = %v, want ValidationError", err)
	}
	if len(src.writes) != 0 {
		t.Errorf("writes = %d, want 0", len(src.writes))
	}
}

func TestService_BatchFetch_ChunksInOrder(t *testing.T) {
	src := newFakeSource()
	s := newTestService(t, src, nil)

	ids := make([]string, 250)
	for i := range ids {
		ids[i] = fmt.Sprintf("li_%03d", i)
	}

	items, err := s.BatchFetch(context.Background(), ids)
	if err != nil {
		t.Fatalf("BatchFetch() error = %v", err)
	}
	if len(items) != len(ids) {
		t.Fatalf("len(items) = %d, want %d", len(items), len(ids))
	}
	for i, it := range items {
		if it.ID != ids[i] {
			t.Fatalf("items[%d].ID = %q, want %q", i, it.ID, ids[i])
		}
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	if len(src.fetches) != 3 {
		t.Errorf("fetch calls = %d, want 3", len(src.fetches))
	}
	if got := keysWithPrefix(s, cache.NamespaceItems+":"); got != 3 {
		t.Errorf("items entries = %d, want 3", got)
	}
}

func TestService_BatchFetch_Empty(t *testing.T) {
	s := newTestService(t, newFakeSource(), nil)
	items, err := s.BatchFetch(context.Background(), nil)
	if err != nil || items != nil {
		t.Errorf("BatchFetch(nil) = %v, %v; want nil, nil", items, err)
	}
}

func TestService_Invalidate(t *testing.T) {
	src := newFakeSource()
	s := newTestService(t, src, nil)
	ctx := context.Background()

	_, _ = s.ListItems(ctx, ListQuery{LibraryID: "lib"})
	_, _ = s.RecentlyPlayed(ctx, 0)

	if got := s.Invalidate(ctx, cache.NamespaceLibraryItems); got != 1 {
		t.Errorf("Invalidate() = %d, want 1", got)
	}
	_, _ = s.ListItems(ctx, ListQuery{LibraryID: "lib"})
	_, _ = s.RecentlyPlayed(ctx, 0)
	if got := src.listCalls.Load(); got != 2 {
		t.Errorf("list calls = %d, want 2", got)
	}
	if got := src.recentCalls.Load(); got != 1 {
		t.Errorf("recent calls = %d, want 1", got)
	}
}

func TestService_Invalidate_DetachesInFlightReads(t *testing.T) {
	src := newFakeSource()
	src.listGate = make(chan struct{})
	s := newTestService(t, src, nil)

	firstErr := make(chan error, 1)
	go func() {
		_, err := s.ListItems(context.Background(), ListQuery{LibraryID: "lib"})
		firstErr <- err
	}()
	waitFor(t, "first source call", func() bool { return src.listCalls.Load() == 1 })

	s.Invalidate(context.Background(), cache.NamespaceLibraryItems)

	secondErr := make(chan error, 1)
	go func() {
		_, err := s.ListItems(context.Background(), ListQuery{LibraryID: "lib"})
		secondErr <- err
	}()
	waitFor(t, "second source call", func() bool { return src.listCalls.Load() == 2 })

	close(src.listGate)
	if err := <-firstErr; err != nil {
		t.Errorf("first ListItems() error = %v", err)
	}
	if err := <-secondErr; err != nil {
		t.Errorf("second ListItems() error = %v", err)
	}
}

func TestService_Configure(t *testing.T) {
	src := newFakeSource()
	s := newTestService(t, src, nil)
	ctx := context.Background()

	if err := s.Configure(Options{BaseURL: "http://abs.local"}); !errors.Is(err, ErrNotRemote) {
		t.Errorf("Configure(BaseURL) error = %v, want ErrNotRemote", err)
	}

	err := s.Configure(Options{
		MaxConcurrent: 5,
		CacheSize:     10,
		TTLs:          map[string]time.Duration{cache.NamespaceItemCount: 0},
	})
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	st, _ := s.Stats(ctx)
	if st.Scheduler.MaxConcurrent != 5 {
		t.Errorf("MaxConcurrent = %d, want 5", st.Scheduler.MaxConcurrent)
	}
	if st.Cache.Capacity != 10 {
		t.Errorf("cache capacity = %d, want 10", st.Cache.Capacity)
	}

	_, _ = s.ItemCount(ctx, "lib", Filter{})
	_, _ = s.ItemCount(ctx, "lib", Filter{})
	if got := src.countCalls.Load(); got != 2 {
		t.Errorf("count calls with caching disabled = %d, want 2", got)
	}
}

// endpointSource is a fakeSource that also accepts runtime endpoint changes.
type endpointSource struct {
	*fakeSource
	baseURL string
	tokens  []string
}

func (e *endpointSource) SetBaseURL(u string) error {
	e.baseURL = u
	return nil
}

func (e *endpointSource) SetToken(raw string) error {
	e.tokens = append(e.tokens, raw)
	return nil
}

func TestService_Configure_Token(t *testing.T) {
	src := &endpointSource{fakeSource: newFakeSource()}
	s := newTestService(t, src, nil)

	if err := s.Configure(Options{BaseURL: "http://abs.local", AuthToken: "tok"}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if err := s.Configure(Options{MaxConcurrent: 2}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if err := s.Configure(Options{ClearToken: true}); err != nil {
		t.Fatalf("Configure(ClearToken) error = %v", err)
	}
	if src.baseURL != "http://abs.local" {
		t.Errorf("baseURL = %q", src.baseURL)
	}
	if strings.Join(src.tokens, ",") != "tok," {
		t.Errorf("SetToken calls = %q, want [tok \"\"]", src.tokens)
	}

	var ve *resilience.ValidationError
	if err := s.Configure(Options{AuthToken: "x", ClearToken: true}); !errors.As(err, &ve) {
		t.Errorf("Configure(AuthToken+ClearToken) error = %v, want ValidationError", err)
	}
}

func TestService_Maintain_Unsupported(t *testing.T) {
	s := newTestService(t, newFakeSource(), nil)
	if err := s.Maintain(context.Background()); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Maintain() error = %v, want ErrUnsupported", err)
	}
}

func TestService_Shutdown(t *testing.T) {
	src := newFakeSource()
	s := newTestService(t, src, func(c *Config) { c.Batch.FlushWindow = time.Hour })
	ctx := context.Background()

	_, _ = s.ListItems(ctx, ListQuery{LibraryID: "lib"})
	_ = s.SyncProgress(ctx, ProgressRecord{ID: "p1", LibraryItemID: "li_1"})

	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := s.store.Len(); got != 0 {
		t.Errorf("cache entries after shutdown = %d, want 0", got)
	}
	if err := s.SyncProgress(ctx, ProgressRecord{ID: "p2", LibraryItemID: "li_1"}); !errors.Is(err, batch.ErrClosed) {
		t.Errorf("SyncProgress() after shutdown error = %v, want batch.ErrClosed", err)
	}
	if _, err := s.ListItems(ctx, ListQuery{LibraryID: "lib"}); !errors.Is(err, scheduler.ErrClosed) {
		t.Errorf("ListItems() after shutdown error = %v, want scheduler.ErrClosed", err)
	}
	if st := s.batch.Stats(); st.Dropped != 1 {
		t.Errorf("dropped progress = %d, want 1", st.Dropped)
	}
	src.mu.Lock()
	written := len(src.progress)
	src.mu.Unlock()
	if written != 0 {
		t.Errorf("progress batches written during shutdown = %d, want 0", written)
	}
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestFilter_Encode(t *testing.T) {
	finished := true
	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{"empty", Filter{}, ""},
		{"media", Filter{MediaType: "book"}, "mediaType.Ym9vaw"},
		{"all", Filter{MediaType: "book", IsFinished: &finished, Series: "Dune"}, "mediaType.Ym9vaw,isFinished.dHJ1ZQ,series.RHVuZQ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Encode(); got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
			if got := tt.filter.Empty(); got != (tt.want == "") {
				t.Errorf("Empty() = %v", got)
			}
		})
	}
}

func TestChunkStrings(t *testing.T) {
	got := chunkStrings([]string{"a", "b", "c", "d", "e"}, 2)
	if len(got) != 3 || len(got[2]) != 1 || got[2][0] != "e" {
		t.Errorf("chunkStrings() = %v", got)
	}
}
