package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Namespace tags prefix every cache key so that a whole operation type can
// be dropped with a single prefix invalidation.
const (
	NamespaceLibraryItems   = "libraryItems"
	NamespaceItemCount      = "itemCount"
	NamespaceSearch         = "search"
	NamespaceProgress       = "progress"
	NamespaceItems          = "items"
	NamespaceRecentlyPlayed = "recentlyPlayed"
)

// NamespaceSeparator separates the namespace tag from the normalized parameters.
const NamespaceSeparator = ":"

// Sentinel errors for cache operations.
var (
	ErrNilCache         = errors.New("cache: cache is nil")
	ErrInvalidKey       = errors.New("cache: key is invalid")
	ErrKeyTooLong       = errors.New("cache: key exceeds max length")
	ErrInvalidNamespace = errors.New("cache: namespace is invalid")
)

// Cache is a key/value store with per-entry expiry.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: Get never errors; it returns (nil, false) on miss or expiry.
// - Ownership: values are stored by reference; callers must not mutate them.
type Cache interface {
	// Get retrieves a cached value. Returns (nil, false) on miss.
	Get(ctx context.Context, key string) (any, bool)

	// Set stores a value with the given TTL. TTL<=0 means no caching.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Delete removes a cached value. Idempotent - no error on miss.
	Delete(ctx context.Context, key string) error

	// Invalidate removes every entry whose key satisfies match and
	// returns the number of removed entries.
	Invalidate(ctx context.Context, match Matcher) int

	// Clear removes all entries.
	Clear(ctx context.Context)
}

// Matcher selects cache keys for invalidation.
type Matcher func(key string) bool

// PrefixMatcher matches keys belonging to the given namespace.
func PrefixMatcher(namespace string) Matcher {
	prefix := namespace + NamespaceSeparator
	return func(key string) bool {
		return strings.HasPrefix(key, prefix)
	}
}

// SubstringMatcher matches keys containing pattern anywhere.
func SubstringMatcher(pattern string) Matcher {
	return func(key string) bool {
		return strings.Contains(key, pattern)
	}
}

// AnyMatcher matches keys accepted by at least one of matchers.
func AnyMatcher(matchers ...Matcher) Matcher {
	return func(key string) bool {
		for _, m := range matchers {
			if m(key) {
				return true
			}
		}
		return false
	}
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}

// ValidateNamespace checks that a namespace tag can prefix keys unambiguously.
func ValidateNamespace(namespace string) error {
	if namespace == "" || strings.ContainsAny(namespace, NamespaceSeparator+" \n\r") {
		return ErrInvalidNamespace
	}
	return nil
}
