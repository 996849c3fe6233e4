package spf

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

// countingProvider wraps mockDNSProvider and counts TXT lookups.
type countingProvider struct {
	mockDNSProvider
	txtCalls atomic.Int64
}

func (c *countingProvider) LookupTXT(ctx context.Context, domain string) ([]string, error) {
	c.txtCalls.Add(1)
	return c.mockDNSProvider.LookupTXT(ctx, domain)
}

func newCountingProvider() *countingProvider {
	return &countingProvider{
		mockDNSProvider: mockDNSProvider{
			Records: map[string][]string{
				"example.com": {"v=spf1 include:one.test ~all"},
				"one.test":    {"v=spf1 ip4:1.2.3.4 ip4:5.6.7.8 ~all"},
			},
			IPs: map[string][]net.IP{},
			MXs: map[string][]*net.MX{},
		},
	}
}

func TestResolveIPs(t *testing.T) {
	provider := newCountingProvider()
	resolver := NewIPResolver(NewLookupResolver(provider))

	result, err := resolver.ResolveIPs(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.TotalLookups != 1 {
		t.Errorf("expected 1 lookup, got %d", result.TotalLookups)
	}
	if len(result.Includes) != 1 {
		t.Fatalf("expected 1 resolved include, got %d", len(result.Includes))
	}
	include := result.Includes[0]
	if include.Domain != "one.test" {
		t.Errorf("expected one.test, got %s", include.Domain)
	}
	if len(include.IPv4) != 2 {
		t.Errorf("expected 2 ip4 literals, got %v", include.IPv4)
	}
	if result.ResolvedAt.IsZero() {
		t.Error("expected a resolution timestamp")
	}
}

func TestResolveIPsCaching(t *testing.T) {
	provider := newCountingProvider()
	resolver := NewIPResolver(NewLookupResolver(provider))
	ctx := context.Background()

	if _, err := resolver.ResolveIPs(ctx, "example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	afterFirst := provider.txtCalls.Load()

	if _, err := resolver.ResolveIPs(ctx, "example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.txtCalls.Load() != afterFirst {
		t.Errorf("second resolve must be served from cache, calls went %d -> %d",
			afterFirst, provider.txtCalls.Load())
	}

	resolver.Invalidate("example.com")
	if _, err := resolver.ResolveIPs(ctx, "example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.txtCalls.Load() == afterFirst {
		t.Error("resolve after invalidation must hit DNS again")
	}

	stats := resolver.Stats()
	if stats.Misses == 0 || stats.KeysAdded == 0 {
		t.Errorf("expected cache activity, got %+v", stats)
	}
}

func TestResolveIPsNestedUnion(t *testing.T) {
	provider := &mockDNSProvider{
		Records: map[string][]string{
			"example.com": {"v=spf1 include:outer.test ~all"},
			"outer.test":  {"v=spf1 ip4:1.1.1.1 include:inner.test ~all"},
			"inner.test":  {"v=spf1 ip4:2.2.2.2 ~all"},
		},
	}
	resolver := NewIPResolver(NewLookupResolver(provider))

	result, err := resolver.ResolveIPs(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Includes) != 1 {
		t.Fatalf("expected 1 top-level include, got %d", len(result.Includes))
	}
	outer := result.Includes[0]
	if len(outer.IPv4) != 2 {
		t.Errorf("expected nested IPs unioned into the top-level include, got %v", outer.IPv4)
	}
	if outer.NestedLookups != 2 {
		t.Errorf("expected 2 subtree lookups, got %d", outer.NestedLookups)
	}
}

func TestResolveIPsCustomTTL(t *testing.T) {
	resolver := NewIPResolver(NewLookupResolver(newCountingProvider()), WithCacheTTL(time.Minute))
	if resolver.ttl != time.Minute {
		t.Errorf("expected 1m ttl, got %v", resolver.ttl)
	}
}
