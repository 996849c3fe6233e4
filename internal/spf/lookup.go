package spf

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// DefaultMaxDepth bounds the include recursion during a lookup walk.
const DefaultMaxDepth = 10

// IncludeChain is one node of the include forest: a visited domain, the IP
// literals its own record contributes, and the includes nested beneath it.
// LookupCount accumulates over the subtree including the include mechanism
// that led here.
type IncludeChain struct {
	Domain      string
	Depth       int
	IPv4        []string
	IPv6        []string
	LookupCount int
	Nested      []*IncludeChain
	Circular    bool
	Err         string
}

// LookupResult is the full picture of one SPF resolution walk.
type LookupResult struct {
	Domain       string
	Record       string
	Chains       []*IncludeChain
	IPv4         []string
	IPv6         []string
	TotalLookups int
	ExceedsLimit bool
	Warnings     []string
}

// LookupResolver recursively expands include/a/mx mechanisms over a
// DNSProvider, detecting cycles and honouring the RFC 7208 lookup cap.
//
// The visited set is call-local but persistent for the duration of a walk:
// it is never cleared between sibling branches, so a domain referenced
// twice is expanded once and flagged circular the second time.
type LookupResolver struct {
	dns      DNSProvider
	maxDepth int
	ipv6     bool
	logger   *slog.Logger
}

// LookupOption configures a LookupResolver.
type LookupOption func(*LookupResolver)

// WithMaxDepth overrides the default include recursion bound.
func WithMaxDepth(depth int) LookupOption {
	return func(r *LookupResolver) { r.maxDepth = depth }
}

// WithIPv6 controls whether a/mx targets are also resolved to AAAA
// records. Enabled by default.
func WithIPv6(enabled bool) LookupOption {
	return func(r *LookupResolver) { r.ipv6 = enabled }
}

// WithLookupLogger attaches a logger for walk diagnostics.
func WithLookupLogger(logger *slog.Logger) LookupOption {
	return func(r *LookupResolver) { r.logger = logger }
}

func NewLookupResolver(dns DNSProvider, opts ...LookupOption) *LookupResolver {
	r := &LookupResolver{
		dns:      dns,
		maxDepth: DefaultMaxDepth,
		ipv6:     true,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// walk carries the per-resolution state: the persistent visited set and a
// TXT cache that prevents duplicate lookups within a single call.
type walk struct {
	visited  map[string]bool
	txtCache map[string][]string
}

// Resolve fetches the SPF record for domain and expands its include forest.
// DNS errors on a subtree are recorded on that node and the walk continues,
// so the result always reports the full reachable picture.
func (r *LookupResolver) Resolve(ctx context.Context, domain string) (*LookupResult, error) {
	w := &walk{
		visited:  map[string]bool{domain: true},
		txtCache: make(map[string][]string),
	}

	record, err := r.fetchSPF(ctx, w, domain)
	if err != nil {
		return nil, err
	}
	if record == "" {
		return nil, fmt.Errorf("no SPF record found for %s", domain)
	}

	parsed, err := Parse(record)
	if err != nil {
		return nil, fmt.Errorf("SPF record for %s: %w", domain, err)
	}

	result := &LookupResult{Domain: domain, Record: record}
	ip4 := newStringSet()
	ip6 := newStringSet()

	for _, m := range parsed.Mechanisms {
		switch m.Type {
		case MechInclude:
			chain := r.resolveInclude(ctx, w, m.Value, 1, ip4, ip6)
			result.Chains = append(result.Chains, chain)
			result.TotalLookups += chain.LookupCount
		case MechA, MechMX:
			result.TotalLookups++
			r.resolveHostMechanism(ctx, m, domain, ip4, ip6)
		case MechExists, MechPTR:
			result.TotalLookups++
		case MechIP4:
			ip4.add(m.Value)
		case MechIP6:
			ip6.add(m.Value)
		}
	}

	result.IPv4 = ip4.sorted()
	result.IPv6 = ip6.sorted()
	result.ExceedsLimit = result.TotalLookups > MaxLookups
	if result.ExceedsLimit {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("record requires %d DNS lookups, exceeding the RFC 7208 limit of %d", result.TotalLookups, MaxLookups))
	} else if result.TotalLookups >= LookupWarnThreshold {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("record requires %d DNS lookups, approaching the limit of %d", result.TotalLookups, MaxLookups))
	}

	r.logger.Debug("spf lookup walk finished",
		"domain", domain, "lookups", result.TotalLookups, "chains", len(result.Chains))

	return result, nil
}

// resolveInclude expands one include edge. The edge itself costs one
// lookup, which is retained even when the target has no SPF record.
func (r *LookupResolver) resolveInclude(ctx context.Context, w *walk, domain string, depth int, ip4, ip6 *stringSet) *IncludeChain {
	chain := &IncludeChain{Domain: domain, Depth: depth, LookupCount: 1}

	if w.visited[domain] {
		chain.Circular = true
		chain.LookupCount = 0
		return chain
	}
	w.visited[domain] = true

	if depth > r.maxDepth {
		chain.Err = fmt.Sprintf("include depth %d exceeds maximum of %d", depth, r.maxDepth)
		return chain
	}

	record, err := r.fetchSPF(ctx, w, domain)
	if err != nil {
		chain.Err = err.Error()
		return chain
	}
	if record == "" {
		// The TXT lookup still happened; the missing record is the
		// publisher's problem, not ours.
		chain.Err = fmt.Sprintf("no SPF record found for %s", domain)
		return chain
	}

	parsed, err := Parse(record)
	if err != nil {
		chain.Err = err.Error()
		return chain
	}

	own4 := newStringSet()
	own6 := newStringSet()
	for _, m := range parsed.Mechanisms {
		switch m.Type {
		case MechInclude:
			nested := r.resolveInclude(ctx, w, m.Value, depth+1, ip4, ip6)
			chain.Nested = append(chain.Nested, nested)
			chain.LookupCount += nested.LookupCount
		case MechA, MechMX:
			chain.LookupCount++
			r.resolveHostMechanism(ctx, m, domain, own4, own6)
		case MechExists, MechPTR:
			chain.LookupCount++
		case MechIP4:
			own4.add(m.Value)
		case MechIP6:
			own6.add(m.Value)
		}
	}

	chain.IPv4 = own4.sorted()
	chain.IPv6 = own6.sorted()
	ip4.addAll(chain.IPv4)
	ip6.addAll(chain.IPv6)
	return chain
}

// resolveHostMechanism expands an a or mx mechanism into address literals.
// Lookup failures are tolerated; the mechanism simply contributes nothing.
func (r *LookupResolver) resolveHostMechanism(ctx context.Context, m Mechanism, currentDomain string, ip4, ip6 *stringSet) {
	target := currentDomain
	if m.Value != "" && !strings.HasPrefix(m.Value, "/") {
		target = m.Value
		if idx := strings.Index(target, "/"); idx >= 0 {
			target = target[:idx]
		}
	}

	switch m.Type {
	case MechA:
		r.collectIPs(ctx, target, ip4, ip6)
	case MechMX:
		mxs, err := r.dns.LookupMX(ctx, target)
		if err != nil {
			r.logger.Debug("mx lookup failed", "domain", target, "error", err)
			return
		}
		for _, mx := range mxs {
			r.collectIPs(ctx, strings.TrimSuffix(mx.Host, "."), ip4, ip6)
		}
	}
}

func (r *LookupResolver) collectIPs(ctx context.Context, host string, ip4, ip6 *stringSet) {
	ips, err := r.dns.LookupIP(ctx, host)
	if err != nil {
		r.logger.Debug("address lookup failed", "host", host, "error", err)
		return
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			ip4.add(v4.String())
		} else if r.ipv6 {
			ip6.add(ip.String())
		}
	}
}

// fetchSPF returns the first v=spf1 TXT record for domain, using the
// per-walk cache. An empty string means the domain answered but publishes
// no SPF record.
func (r *LookupResolver) fetchSPF(ctx context.Context, w *walk, domain string) (string, error) {
	records, ok := w.txtCache[domain]
	if !ok {
		var err error
		records, err = r.dns.LookupTXT(ctx, domain)
		if err != nil {
			return "", fmt.Errorf("TXT lookup for %s: %w", domain, err)
		}
		w.txtCache[domain] = records
	}

	for _, record := range records {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(record)), "v=spf1") {
			return record, nil
		}
	}
	return "", nil
}

// stringSet is an insertion-deduplicating set with sorted extraction.
type stringSet struct {
	seen map[string]bool
}

func newStringSet() *stringSet {
	return &stringSet{seen: make(map[string]bool)}
}

func (s *stringSet) add(v string) {
	if v != "" {
		s.seen[v] = true
	}
}

func (s *stringSet) addAll(vs []string) {
	for _, v := range vs {
		s.add(v)
	}
}

func (s *stringSet) sorted() []string {
	out := make([]string, 0, len(s.seen))
	for v := range s.seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
