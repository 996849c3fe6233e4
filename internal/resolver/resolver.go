// Package resolver queries a fixed pool of public recursive resolvers in
// parallel, which is how the engine observes a record's worldwide
// propagation rather than the view of a single cache.
package resolver

import (
	"context"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout is the hard per-probe cap.
const DefaultTimeout = 5 * time.Second

// Provider identifies which operator runs a resolver.
type Provider string

const (
	ProviderGoogle     Provider = "google"
	ProviderCloudflare Provider = "cloudflare"
	ProviderOpenDNS    Provider = "opendns"
)

// Server is one pinned recursive resolver.
type Server struct {
	IP       string
	Provider Provider
}

// DefaultPool is the fixed resolver set: two servers from each of three
// operators, spread enough to stand in for "worldwide".
var DefaultPool = []Server{
	{IP: "8.8.8.8", Provider: ProviderGoogle},
	{IP: "8.8.4.4", Provider: ProviderGoogle},
	{IP: "1.1.1.1", Provider: ProviderCloudflare},
	{IP: "1.0.0.1", Provider: ProviderCloudflare},
	{IP: "208.67.222.222", Provider: ProviderOpenDNS},
	{IP: "208.67.220.220", Provider: ProviderOpenDNS},
}

// RecordType is a queryable record type.
type RecordType string

const (
	TypeTXT   RecordType = "TXT"
	TypeMX    RecordType = "MX"
	TypeCNAME RecordType = "CNAME"
)

// Probe error strings, normalised so callers can bucket failures.
const (
	ErrNoRecords     = "no records found"
	ErrTimeout       = "timeout"
	ErrServerFailure = "server failure"
)

// ServerResult is one resolver probe.
type ServerResult struct {
	Server          string
	Provider        Provider
	Success         bool
	Records         []string
	MatchesExpected bool
	Err             string
	QueriedAt       time.Time
	ResponseTime    time.Duration
}

// MultiServerResult aggregates one fan-out across the pool.
type MultiServerResult struct {
	Name                  string
	Type                  RecordType
	Expected              string
	Results               []ServerResult
	PropagationPercentage int
	PropagatedServers     int
	TotalServers          int
	IsPropagated          bool
	QueriedAt             time.Time
}

// exchangeFunc lets tests stub the wire exchange.
type exchangeFunc func(ctx context.Context, msg *dns.Msg, addr string) (*dns.Msg, time.Duration, error)

// Service fans DNS queries out to the pool.
type Service struct {
	pool     []Server
	timeout  time.Duration
	exchange exchangeFunc
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPool replaces the default resolver pool.
func WithPool(pool []Server) Option {
	return func(s *Service) { s.pool = pool }
}

// WithTimeout overrides the per-probe timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Service) { s.timeout = timeout }
}

func NewService(opts ...Option) *Service {
	client := &dns.Client{}
	s := &Service{
		pool:    DefaultPool,
		timeout: DefaultTimeout,
		exchange: func(ctx context.Context, msg *dns.Msg, addr string) (*dns.Msg, time.Duration, error) {
			return client.ExchangeContext(ctx, msg, addr)
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryServer probes one resolver for name/rtype and compares each
// returned record against expected (case-insensitive, whitespace-trimmed).
func (s *Service) QueryServer(ctx context.Context, server Server, name string, rtype RecordType, expected string) ServerResult {
	result := ServerResult{
		Server:    server.IP,
		Provider:  server.Provider,
		QueriedAt: s.now(),
	}

	qtype, ok := dns.StringToType[string(rtype)]
	if !ok {
		result.Err = fmt.Sprintf("unsupported record type %s", rtype)
		return result
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	addr := net.JoinHostPort(server.IP, "53")
	resp, rtt, err := s.exchange(ctx, msg, addr)
	result.ResponseTime = rtt

	if err != nil {
		result.Err = normalizeError(err)
		return result
	}
	if resp == nil {
		result.Err = ErrServerFailure
		return result
	}
	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		result.Err = ErrNoRecords
		return result
	case dns.RcodeServerFailure:
		result.Err = ErrServerFailure
		return result
	default:
		result.Err = fmt.Sprintf("query failed: %s", dns.RcodeToString[resp.Rcode])
		return result
	}

	result.Records = extractRecords(resp, qtype)
	if len(result.Records) == 0 {
		result.Err = ErrNoRecords
		return result
	}

	result.Success = true
	result.MatchesExpected = matchesExpected(result.Records, expected)
	return result
}

// QueryAcrossServers fans name/rtype out to every resolver in the pool in
// parallel and aggregates coverage.
func (s *Service) QueryAcrossServers(ctx context.Context, name string, rtype RecordType, expected string) *MultiServerResult {
	results := make([]ServerResult, len(s.pool))

	g, ctx := errgroup.WithContext(ctx)
	for i, server := range s.pool {
		g.Go(func() error {
			results[i] = s.QueryServer(ctx, server, name, rtype, expected)
			return nil
		})
	}
	_ = g.Wait() // probes report errors in-band

	agg := &MultiServerResult{
		Name:         name,
		Type:         rtype,
		Expected:     expected,
		Results:      results,
		TotalServers: len(results),
		QueriedAt:    s.now(),
	}
	for _, r := range results {
		if r.Success && r.MatchesExpected {
			agg.PropagatedServers++
		}
	}
	if agg.TotalServers > 0 {
		agg.PropagationPercentage = int(math.Round(float64(agg.PropagatedServers) / float64(agg.TotalServers) * 100))
	}
	agg.IsPropagated = agg.PropagationPercentage == 100
	return agg
}

// extractRecords renders the answer section into comparable strings. TXT
// fragments are concatenated; MX records render as "<priority>
// <exchange>"; CNAME targets lose their trailing dot.
func extractRecords(resp *dns.Msg, qtype uint16) []string {
	var out []string
	for _, ans := range resp.Answer {
		switch rr := ans.(type) {
		case *dns.TXT:
			if rr.Hdr.Rrtype == qtype {
				out = append(out, strings.Join(rr.Txt, ""))
			}
		case *dns.MX:
			out = append(out, fmt.Sprintf("%d %s", rr.Preference, strings.TrimSuffix(rr.Mx, ".")))
		case *dns.CNAME:
			if qtype == dns.TypeCNAME {
				out = append(out, strings.TrimSuffix(rr.Target, "."))
			}
		}
	}
	return out
}

// matchesExpected compares case-insensitively after trimming. An empty
// expectation matches any answer, so existence checks work too.
func matchesExpected(found []string, expected string) bool {
	want := strings.ToLower(strings.TrimSpace(expected))
	if want == "" {
		return len(found) > 0
	}
	for _, record := range found {
		if strings.ToLower(strings.TrimSpace(record)) == want {
			return true
		}
	}
	return false
}

func normalizeError(err error) string {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return ErrTimeout
	}
	switch {
	case err == context.DeadlineExceeded:
		return ErrTimeout
	case strings.Contains(err.Error(), "timeout"),
		strings.Contains(err.Error(), "deadline exceeded"):
		return ErrTimeout
	case strings.Contains(err.Error(), "connection refused"):
		return ErrServerFailure
	default:
		return fmt.Sprintf("query failed: %v", err)
	}
}
