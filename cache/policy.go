package cache

import "time"

// Policy configures caching behavior per namespace.
type Policy struct {
	// DefaultTTL is the TTL for namespaces without an explicit entry.
	// If zero, those namespaces are not cached.
	DefaultTTL time.Duration

	// MaxTTL is the maximum allowed TTL. Larger TTLs are clamped to this.
	// If zero, no maximum is enforced.
	MaxTTL time.Duration

	// TTLs overrides DefaultTTL per namespace. A zero value disables
	// caching for that namespace.
	TTLs map[string]time.Duration
}

// DefaultPolicy returns the default caching policy.
// Listings live longest, counts change rarely, searches and progress churn.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL: 5 * time.Minute,
		MaxTTL:     1 * time.Hour,
		TTLs: map[string]time.Duration{
			NamespaceLibraryItems:   5 * time.Minute,
			NamespaceItemCount:      10 * time.Minute,
			NamespaceSearch:         1 * time.Minute,
			NamespaceProgress:       1 * time.Minute,
			NamespaceRecentlyPlayed: 1 * time.Minute,
			NamespaceItems:          5 * time.Minute,
		},
	}
}

// ShouldCache returns true if results in namespace are cached.
func (p Policy) ShouldCache(namespace string) bool {
	return p.TTLFor(namespace) > 0
}

// TTLFor returns the clamped TTL for namespace.
func (p Policy) TTLFor(namespace string) time.Duration {
	ttl, ok := p.TTLs[namespace]
	if !ok {
		ttl = p.DefaultTTL
	}
	return p.clamp(ttl)
}

// WithTTL returns a copy of p with the TTL for namespace replaced.
func (p Policy) WithTTL(namespace string, ttl time.Duration) Policy {
	ttls := make(map[string]time.Duration, len(p.TTLs)+1)
	for k, v := range p.TTLs {
		ttls[k] = v
	}
	ttls[namespace] = ttl
	p.TTLs = ttls
	return p
}

func (p Policy) clamp(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		return p.MaxTTL
	}
	return ttl
}
