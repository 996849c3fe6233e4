package spf

import (
	"context"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto"
)

// DefaultCacheTTL is how long a flattened resolution is reused before the
// walk is repeated.
const DefaultCacheTTL = time.Hour

// ResolvedInclude is the flattened view of one top-level include chain:
// the deduplicated union of every IP literal reachable beneath it.
type ResolvedInclude struct {
	Domain        string
	IPv4          []string
	IPv6          []string
	NestedLookups int
	Err           string
}

// ResolvedIPs is the flattened output for a whole domain.
type ResolvedIPs struct {
	Domain       string
	Record       string
	Includes     []ResolvedInclude
	IPv4         []string
	IPv6         []string
	TotalLookups int
	ExceedsLimit bool
	Warnings     []string
	ResolvedAt   time.Time
}

// CacheStats reports the behaviour of the resolution cache.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	KeysAdded uint64
}

// IPResolver wraps LookupResolver and caches flattened results per domain
// with a TTL. The cache is process-wide and safe for concurrent use.
type IPResolver struct {
	lookups *LookupResolver
	cache   *ristretto.Cache
	ttl     time.Duration
	now     func() time.Time
}

// IPResolverOption configures an IPResolver.
type IPResolverOption func(*IPResolver)

// WithCacheTTL overrides the default result TTL.
func WithCacheTTL(ttl time.Duration) IPResolverOption {
	return func(r *IPResolver) { r.ttl = ttl }
}

func NewIPResolver(lookups *LookupResolver, opts ...IPResolverOption) *IPResolver {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
		Metrics:     true,
		KeyToHash: func(key any) (uint64, uint64) {
			return xxhash.Sum64String(key.(string)), 0
		},
	})
	if err != nil {
		panic(err)
	}

	r := &IPResolver{
		lookups: lookups,
		cache:   cache,
		ttl:     DefaultCacheTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveIPs flattens the SPF include forest for domain into per-include
// IP sets, serving repeat calls from the cache until the TTL expires.
func (r *IPResolver) ResolveIPs(ctx context.Context, domain string) (*ResolvedIPs, error) {
	if cached, found := r.cache.Get(domain); found {
		return cached.(*ResolvedIPs), nil
	}

	lookup, err := r.lookups.Resolve(ctx, domain)
	if err != nil {
		return nil, err
	}

	result := &ResolvedIPs{
		Domain:       domain,
		Record:       lookup.Record,
		IPv4:         lookup.IPv4,
		IPv6:         lookup.IPv6,
		TotalLookups: lookup.TotalLookups,
		ExceedsLimit: lookup.ExceedsLimit,
		Warnings:     lookup.Warnings,
		ResolvedAt:   r.now(),
	}
	for _, chain := range lookup.Chains {
		result.Includes = append(result.Includes, flattenChain(chain))
	}

	r.cache.SetWithTTL(domain, result, 1, r.ttl)
	r.cache.Wait()
	return result, nil
}

// Invalidate drops the cached resolution for one domain.
func (r *IPResolver) Invalidate(domain string) {
	r.cache.Del(domain)
}

// Clear empties the cache. Intended for tests.
func (r *IPResolver) Clear() {
	r.cache.Clear()
}

// Stats returns cache hit/miss counters.
func (r *IPResolver) Stats() CacheStats {
	m := r.cache.Metrics
	return CacheStats{
		Hits:      m.Hits(),
		Misses:    m.Misses(),
		KeysAdded: m.KeysAdded(),
	}
}

// flattenChain unions every IP literal in the subtree rooted at chain into
// a single ResolvedInclude.
func flattenChain(chain *IncludeChain) ResolvedInclude {
	ip4 := newStringSet()
	ip6 := newStringSet()
	collectChainIPs(chain, ip4, ip6)

	return ResolvedInclude{
		Domain:        chain.Domain,
		IPv4:          ip4.sorted(),
		IPv6:          ip6.sorted(),
		NestedLookups: chain.LookupCount,
		Err:           chain.Err,
	}
}

func collectChainIPs(chain *IncludeChain, ip4, ip6 *stringSet) {
	ip4.addAll(chain.IPv4)
	ip6.addAll(chain.IPv6)
	for _, nested := range chain.Nested {
		collectChainIPs(nested, ip4, ip6)
	}
}
