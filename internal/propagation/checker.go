// Package propagation layers meaning over the raw resolver pool: which
// FQDN to probe for each record purpose, how to bucket the answers, and
// the long-running polling session that drives checks until a domain's
// records are visible everywhere.
package propagation

import (
	"context"
	"math"
	"time"

	"github.com/inboxlane/maildns/internal/records"
	"github.com/inboxlane/maildns/internal/resolver"
	"github.com/inboxlane/maildns/internal/store"
)

// Querier is the slice of the resolver service the checker needs.
// *resolver.Service satisfies it.
type Querier interface {
	QueryAcrossServers(ctx context.Context, name string, rtype resolver.RecordType, expected string) *resolver.MultiServerResult
}

// RecordCheck is the per-record propagation view across the pool, with the
// three disjoint server buckets.
type RecordCheck struct {
	RecordID          string
	FQDN              string
	Type              resolver.RecordType
	Expected          string
	Percentage        int
	PropagatedServers int
	TotalServers      int
	CorrectServers    []string
	MissingServers    []string
	WrongServers      []string
	CheckedAt         time.Time
}

// Propagated reports full pool coverage.
func (c *RecordCheck) Propagated() bool {
	return c.TotalServers > 0 && c.PropagatedServers == c.TotalServers
}

// Checker runs propagation checks for provisioned records.
type Checker struct {
	querier Querier
}

func NewChecker(querier Querier) *Checker {
	return &Checker{querier: querier}
}

// CheckSPF probes the apex TXT record.
func (c *Checker) CheckSPF(ctx context.Context, domain, expected string) *RecordCheck {
	return c.check(ctx, domain, resolver.TypeTXT, expected)
}

// CheckDKIM probes <selector>._domainkey.<domain>.
func (c *Checker) CheckDKIM(ctx context.Context, domain, selector, expected string) *RecordCheck {
	if selector == "" {
		selector = records.DefaultDKIMSelector
	}
	return c.check(ctx, selector+"._domainkey."+domain, resolver.TypeTXT, expected)
}

// CheckDMARC probes _dmarc.<domain>.
func (c *Checker) CheckDMARC(ctx context.Context, domain, expected string) *RecordCheck {
	return c.check(ctx, "_dmarc."+domain, resolver.TypeTXT, expected)
}

// CheckMX probes the apex MX set for one "<priority> <exchange>" value.
func (c *Checker) CheckMX(ctx context.Context, domain, expected string) *RecordCheck {
	return c.check(ctx, domain, resolver.TypeMX, expected)
}

// CheckTracking probes the tracking CNAME.
func (c *Checker) CheckTracking(ctx context.Context, domain, subdomain, expected string) *RecordCheck {
	return c.check(ctx, subdomain+"."+domain, resolver.TypeCNAME, expected)
}

// CheckRecord probes a provisioned record by deriving the FQDN and query
// type from its purpose and stored name.
func (c *Checker) CheckRecord(ctx context.Context, domainName string, record *store.DNSRecord) *RecordCheck {
	var check *RecordCheck
	switch record.Purpose {
	case records.PurposeSPF:
		check = c.CheckSPF(ctx, domainName, record.Value)
	case records.PurposeDKIM:
		check = c.CheckDKIM(ctx, domainName, record.Metadata["selector"], record.Value)
	case records.PurposeDMARC:
		check = c.CheckDMARC(ctx, domainName, record.Value)
	case records.PurposeMX:
		check = c.CheckMX(ctx, domainName, records.FormatMX(records.MXRecord{
			Priority: record.Priority,
			Exchange: record.Value,
		}))
	case records.PurposeTracking:
		check = c.CheckTracking(ctx, domainName, record.Name, record.Value)
	default:
		check = c.check(ctx, fqdnFor(record.Name, domainName), resolver.RecordType(record.Type), record.Value)
	}
	check.RecordID = record.ID
	return check
}

func (c *Checker) check(ctx context.Context, fqdn string, rtype resolver.RecordType, expected string) *RecordCheck {
	agg := c.querier.QueryAcrossServers(ctx, fqdn, rtype, expected)

	check := &RecordCheck{
		FQDN:              fqdn,
		Type:              rtype,
		Expected:          expected,
		Percentage:        agg.PropagationPercentage,
		PropagatedServers: agg.PropagatedServers,
		TotalServers:      agg.TotalServers,
		CheckedAt:         agg.QueriedAt,
	}
	for _, r := range agg.Results {
		switch {
		case r.Success && r.MatchesExpected:
			check.CorrectServers = append(check.CorrectServers, r.Server)
		case len(r.Records) > 0:
			check.WrongServers = append(check.WrongServers, r.Server)
		default:
			check.MissingServers = append(check.MissingServers, r.Server)
		}
	}
	return check
}

func fqdnFor(name, domain string) string {
	if name == "@" || name == "" {
		return domain
	}
	return name + "." + domain
}

// GlobalCoverage summarises a set of per-record checks.
type GlobalCoverage struct {
	OverallPercentage   int
	FullyPropagated     int
	PartiallyPropagated int
	NotPropagated       int
	TotalRecords        int
}

// CalculateGlobalCoverage averages the per-record percentages and counts
// records at 100%, in between, and at 0.
func CalculateGlobalCoverage(checks []*RecordCheck) GlobalCoverage {
	coverage := GlobalCoverage{TotalRecords: len(checks)}
	if len(checks) == 0 {
		return coverage
	}

	sum := 0
	for _, check := range checks {
		sum += check.Percentage
		switch {
		case check.Percentage == 100:
			coverage.FullyPropagated++
		case check.Percentage == 0:
			coverage.NotPropagated++
		default:
			coverage.PartiallyPropagated++
		}
	}
	coverage.OverallPercentage = int(math.Round(float64(sum) / float64(len(checks))))
	return coverage
}

// StatusFromPercentage maps coverage to the stored propagation status:
// full coverage is propagated, 40% and up is propagating, anything lower
// is still pending.
func StatusFromPercentage(p int) store.PropagationStatus {
	switch {
	case p == 100:
		return store.PropagationPropagated
	case p >= 40:
		return store.PropagationPropagating
	default:
		return store.PropagationPending
	}
}
