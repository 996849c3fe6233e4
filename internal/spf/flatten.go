package spf

import (
	"context"
	"fmt"
	"strings"
)

// Flattening thresholds beyond the parser limits.
const (
	// lengthWarnRatio is the fraction of MaxRecordLength at which the
	// flattener starts warning about headroom.
	lengthWarnRatio = 0.9

	// maxFlattenedIPs is where flattening stops being worth it: past
	// this many literals the record churns too often to maintain.
	maxFlattenedIPs = 50

	// flattenedLookupWarn is the surface lookup count above which the
	// flattener suggests flattening more includes.
	flattenedLookupWarn = 3
)

// FlattenOptions steer how the new record is assembled.
type FlattenOptions struct {
	// AdditionalIncludes are emitted as include: mechanisms after the
	// preserved ones.
	AdditionalIncludes []string

	// PreserveIncludes are kept as include: mechanisms with their
	// original qualifier instead of being expanded.
	PreserveIncludes []string

	// RemoveIncludes are dropped entirely, along with their resolved
	// IPs.
	RemoveIncludes []string

	// IPv6 controls whether ip6 literals are emitted.
	IPv6 bool

	// AggregateCIDRs merges adjacent and contained networks before
	// emission.
	AggregateCIDRs bool
}

// FlattenResult is the outcome of one flattening run. Errors and warnings
// are structured lists, not thrown control flow.
type FlattenResult struct {
	Domain           string
	Original         string
	Flattened        string
	Success          bool
	OriginalLookups  int
	FlattenedLookups int
	IPv4Count        int
	IPv6Count        int
	Includes         []ResolvedInclude
	Errors           []string
	Warnings         []string
}

// Flattener produces a new SPF string from resolved include chains.
type Flattener struct {
	resolver *IPResolver
}

func NewFlattener(resolver *IPResolver) *Flattener {
	return &Flattener{resolver: resolver}
}

// Flatten rewrites original into a record whose include chains are
// replaced by their resolved IP literals. The output is ordered: preserved
// includes, additional includes, ip4 literals, ip6 literals, the remaining
// non-include mechanisms in original order, then a single all with the
// original qualifier.
func (f *Flattener) Flatten(ctx context.Context, domain, original string, opts FlattenOptions) *FlattenResult {
	result := &FlattenResult{Domain: domain, Original: original}

	parsed, err := Parse(original)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	result.OriginalLookups = parsed.LookupCount()

	resolved, err := f.resolver.ResolveIPs(ctx, domain)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("resolving include chains: %v", err))
		return result
	}
	result.Includes = resolved.Includes

	preserve := toSet(opts.PreserveIncludes)
	remove := toSet(opts.RemoveIncludes)

	parts := []string{"v=spf1"}

	// Preserved includes carry their original qualifier, not a fresh +.
	for _, m := range parsed.Mechanisms {
		if m.Type != MechInclude || !preserve[m.Value] || remove[m.Value] {
			continue
		}
		parts = append(parts, qualifierPrefix(m.Qualifier)+"include:"+m.Value)
	}

	for _, include := range opts.AdditionalIncludes {
		if include != "" && !remove[include] {
			parts = append(parts, "include:"+include)
		}
	}

	ip4 := newStringSet()
	ip6 := newStringSet()
	ip4.addAll(parsed.IPv4())
	ip6.addAll(parsed.IPv6())
	for _, include := range resolved.Includes {
		if preserve[include.Domain] || remove[include.Domain] {
			continue
		}
		ip4.addAll(include.IPv4)
		ip6.addAll(include.IPv6)
	}

	ip4List := ip4.sorted()
	ip6List := ip6.sorted()
	if opts.AggregateCIDRs {
		ip4List = AggregateCIDRs(ip4List)
		ip6List = AggregateCIDRs(ip6List)
	}
	for _, ip := range ip4List {
		parts = append(parts, "ip4:"+ip)
	}
	result.IPv4Count = len(ip4List)
	if opts.IPv6 {
		for _, ip := range ip6List {
			parts = append(parts, "ip6:"+ip)
		}
		result.IPv6Count = len(ip6List)
	}

	// Remaining mechanisms keep their original order and qualifier.
	for _, m := range parsed.Mechanisms {
		switch m.Type {
		case MechInclude, MechIP4, MechIP6, MechAll:
			continue
		}
		parts = append(parts, m.Raw)
	}

	allQualifier := QualifierSoftFail
	if q, ok := parsed.AllQualifier(); ok {
		allQualifier = q
	}
	parts = append(parts, string(allQualifier)+"all")

	result.Flattened = strings.Join(parts, " ")

	report := ValidateSyntax(result.Flattened)
	result.FlattenedLookups = report.LookupCount
	result.Warnings = append(result.Warnings, report.Warnings...)

	if len(result.Flattened) > MaxRecordLength {
		result.Errors = append(result.Errors,
			fmt.Sprintf("flattened record is %d characters, exceeding the %d character limit", len(result.Flattened), MaxRecordLength))
		return result
	}
	if float64(len(result.Flattened)) > lengthWarnRatio*MaxRecordLength {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("flattened record is %d characters, close to the %d character limit", len(result.Flattened), MaxRecordLength))
	}
	if result.FlattenedLookups > flattenedLookupWarn {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("flattened record still requires %d DNS lookups; consider flattening more includes", result.FlattenedLookups))
	}

	result.Success = true
	return result
}

func qualifierPrefix(q Qualifier) string {
	if q == QualifierPass {
		return ""
	}
	return string(q)
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = true
		}
	}
	return set
}

// BenefitLevel classifies how urgently a record needs flattening.
type BenefitLevel string

const (
	BenefitRequired       BenefitLevel = "required"
	BenefitRecommended    BenefitLevel = "recommended"
	BenefitNotRecommended BenefitLevel = "not-recommended"
	BenefitUnnecessary    BenefitLevel = "unnecessary"
)

// BenefitAnalysis is the outcome of AnalyzeBenefit.
type BenefitAnalysis struct {
	ShouldFlatten   bool
	Level           BenefitLevel
	Reason          string
	TotalLookups    int
	TotalIPs        int
	EstimatedLength int
}

// AnalyzeBenefit classifies flattening benefit from a resolved chain:
// required past the lookup cap, recommended when close to it, not
// recommended when the flattened form would not fit, unnecessary when the
// record is already cheap.
func AnalyzeBenefit(resolved *ResolvedIPs) BenefitAnalysis {
	analysis := BenefitAnalysis{
		TotalLookups: resolved.TotalLookups,
		TotalIPs:     len(resolved.IPv4) + len(resolved.IPv6),
	}
	analysis.EstimatedLength = estimateFlattenedLength(resolved)

	switch {
	case analysis.EstimatedLength > MaxRecordLength || analysis.TotalIPs > maxFlattenedIPs:
		analysis.Level = BenefitNotRecommended
		analysis.Reason = fmt.Sprintf("flattened record would hold %d IPs in ~%d characters; keep includes and split responsibilities instead",
			analysis.TotalIPs, analysis.EstimatedLength)
	case resolved.TotalLookups > MaxLookups:
		analysis.ShouldFlatten = true
		analysis.Level = BenefitRequired
		analysis.Reason = fmt.Sprintf("record requires %d DNS lookups and exceeds the 10-lookup limit", resolved.TotalLookups)
	case resolved.TotalLookups >= LookupWarnThreshold:
		analysis.ShouldFlatten = true
		analysis.Level = BenefitRecommended
		analysis.Reason = fmt.Sprintf("record requires %d DNS lookups, close to the 10-lookup limit", resolved.TotalLookups)
	case resolved.TotalLookups <= flattenedLookupWarn:
		analysis.Level = BenefitUnnecessary
		analysis.Reason = fmt.Sprintf("record requires only %d DNS lookups", resolved.TotalLookups)
	default:
		analysis.Level = BenefitUnnecessary
		analysis.Reason = fmt.Sprintf("record requires %d DNS lookups, comfortably under the limit", resolved.TotalLookups)
	}

	return analysis
}

// estimateFlattenedLength approximates the emitted record size from the
// resolved union: "ip4:" plus the literal plus a separator per entry.
func estimateFlattenedLength(resolved *ResolvedIPs) int {
	length := len("v=spf1") + len(" ~all")
	for _, ip := range resolved.IPv4 {
		length += len(" ip4:") + len(ip)
	}
	for _, ip := range resolved.IPv6 {
		length += len(" ip6:") + len(ip)
	}
	return length
}
