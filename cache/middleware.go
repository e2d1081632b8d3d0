package cache

import (
	"context"
	"fmt"
	"sync/atomic"
)

// FetchFunc loads a value from the source of truth on a cache miss.
// The computed cache key is passed through so that callers can reuse it
// as a request identity.
type FetchFunc func(ctx context.Context, key string) (any, error)

// HitRecorder observes cache lookups. Implementations must be cheap.
type HitRecorder interface {
	RecordLookup(ctx context.Context, namespace string, hit bool)
}

// Middleware wraps fetches with read-through caching.
type Middleware struct {
	cache    Cache
	keyer    Keyer
	policy   atomic.Pointer[Policy]
	recorder HitRecorder
}

// NewMiddleware creates a new read-through cache middleware.
// recorder may be nil.
func NewMiddleware(cache Cache, keyer Keyer, policy Policy, recorder HitRecorder) *Middleware {
	if keyer == nil {
		keyer = NewDefaultKeyer()
	}
	m := &Middleware{
		cache:    cache,
		keyer:    keyer,
		recorder: recorder,
	}
	m.policy.Store(&policy)
	return m
}

// Policy returns the active policy.
func (m *Middleware) Policy() Policy {
	return *m.policy.Load()
}

// SetPolicy replaces the active policy. Existing entries keep their expiry.
func (m *Middleware) SetPolicy(p Policy) {
	m.policy.Store(&p)
}

// Key derives the cache key for namespace and params.
func (m *Middleware) Key(namespace string, params any) (string, error) {
	return m.keyer.Key(namespace, params)
}

// Execute returns the cached value for (namespace, params) or calls fetch
// and stores its result. The second return value reports a cache hit.
// Errors are NOT cached and leave any existing entry untouched.
func (m *Middleware) Execute(ctx context.Context, namespace string, params any, fetch FetchFunc) (any, bool, error) {
	if m.cache == nil {
		return nil, false, ErrNilCache
	}

	key, err := m.keyer.Key(namespace, params)
	if err != nil {
		return nil, false, err
	}

	policy := m.Policy()
	if !policy.ShouldCache(namespace) {
		v, err := fetch(ctx, key)
		return v, false, err
	}

	if cached, ok := m.cache.Get(ctx, key); ok {
		m.record(ctx, namespace, true)
		return cached, true, nil
	}
	m.record(ctx, namespace, false)

	result, err := fetch(ctx, key)
	if err != nil {
		return result, false, err
	}

	_ = m.cache.Set(ctx, key, result, policy.TTLFor(namespace))
	return result, false, nil
}

// Invalidate drops every entry in the given namespaces.
func (m *Middleware) Invalidate(ctx context.Context, namespaces ...string) int {
	if m.cache == nil || len(namespaces) == 0 {
		return 0
	}
	matchers := make([]Matcher, 0, len(namespaces))
	for _, ns := range namespaces {
		matchers = append(matchers, PrefixMatcher(ns))
	}
	return m.cache.Invalidate(ctx, AnyMatcher(matchers...))
}

func (m *Middleware) record(ctx context.Context, namespace string, hit bool) {
	if m.recorder != nil {
		m.recorder.RecordLookup(ctx, namespace, hit)
	}
}

// Fetch is a type-safe wrapper around Middleware.Execute.
func Fetch[T any](ctx context.Context, m *Middleware, namespace string, params any, fetch func(ctx context.Context, key string) (T, error)) (T, error) {
	var zero T
	v, _, err := m.Execute(ctx, namespace, params, func(ctx context.Context, key string) (any, error) {
		return fetch(ctx, key)
	})
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache: entry for %s has type %T, want %T", namespace, v, zero)
	}
	return typed, nil
}
