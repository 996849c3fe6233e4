// Package spf implements the SPF side of the DNS engine: parsing raw
// records into qualified mechanisms, recursively expanding include chains
// over an injected DNS provider, flattening the result into IP literals,
// and validating the RFC 7208 limits along the way.
package spf

import (
	"errors"
	"fmt"
	"strings"
)

// RFC 7208 limits and the local thresholds derived from them.
const (
	// MaxRecordLength is the practical upper bound for a published SPF
	// TXT record. RFC 7208 section 3.4 recommends staying under 512
	// bytes so the answer fits a single UDP response.
	MaxRecordLength = 512

	// MaxLookups is the RFC 7208 section 4.6.4 cap on lookup-triggering
	// mechanisms per evaluation.
	MaxLookups = 10

	// LookupWarnThreshold is where validation starts warning before the
	// hard cap is reached.
	LookupWarnThreshold = 8
)

// ErrInvalidSyntax is returned when a value does not carry the v=spf1
// version prefix. Everything else is reported through error/warning lists.
var ErrInvalidSyntax = errors.New("invalid SPF record: must start with v=spf1")

// MechanismType identifies one SPF mechanism.
type MechanismType string

const (
	MechInclude MechanismType = "include"
	MechA       MechanismType = "a"
	MechMX      MechanismType = "mx"
	MechPTR     MechanismType = "ptr"
	MechIP4     MechanismType = "ip4"
	MechIP6     MechanismType = "ip6"
	MechExists  MechanismType = "exists"
	MechAll     MechanismType = "all"
	MechUnknown MechanismType = "unknown"
)

// Qualifier is the action prefix of a mechanism. The default is "+".
type Qualifier string

const (
	QualifierPass     Qualifier = "+"
	QualifierFail     Qualifier = "-"
	QualifierSoftFail Qualifier = "~"
	QualifierNeutral  Qualifier = "?"
)

// Mechanism is one token of an SPF record, decomposed as
// [qualifier?][type](:value)?.
type Mechanism struct {
	Type      MechanismType
	Qualifier Qualifier
	Value     string
	Raw       string
}

// TriggersLookup reports whether evaluating the mechanism costs a DNS
// lookup under the RFC 7208 cap.
func (m Mechanism) TriggersLookup() bool {
	switch m.Type {
	case MechInclude, MechA, MechMX, MechExists, MechPTR:
		return true
	}
	return false
}

// ParsedRecord is the derived view of one SPF string. It is never stored;
// callers recompute it from the raw value.
type ParsedRecord struct {
	Version    string
	Mechanisms []Mechanism
	Raw        string
}

// Includes returns the targets of all include mechanisms, in record order.
func (r *ParsedRecord) Includes() []string {
	var out []string
	for _, m := range r.Mechanisms {
		if m.Type == MechInclude {
			out = append(out, m.Value)
		}
	}
	return out
}

// IPv4 returns all ip4 literals, in record order.
func (r *ParsedRecord) IPv4() []string {
	var out []string
	for _, m := range r.Mechanisms {
		if m.Type == MechIP4 {
			out = append(out, m.Value)
		}
	}
	return out
}

// IPv6 returns all ip6 literals, in record order.
func (r *ParsedRecord) IPv6() []string {
	var out []string
	for _, m := range r.Mechanisms {
		if m.Type == MechIP6 {
			out = append(out, m.Value)
		}
	}
	return out
}

// AllQualifier returns the qualifier of the trailing all mechanism, or
// false when the record has none.
func (r *ParsedRecord) AllQualifier() (Qualifier, bool) {
	for i := len(r.Mechanisms) - 1; i >= 0; i-- {
		if r.Mechanisms[i].Type == MechAll {
			return r.Mechanisms[i].Qualifier, true
		}
	}
	return "", false
}

// LookupCount returns the number of surface-level lookup-triggering
// mechanisms in the record.
func (r *ParsedRecord) LookupCount() int {
	n := 0
	for _, m := range r.Mechanisms {
		if m.TriggersLookup() {
			n++
		}
	}
	return n
}

// Parse tokenises a raw TXT value into a ParsedRecord. It fails only when
// the v=spf1 version prefix is missing (case-insensitive, leading
// whitespace tolerated).
func Parse(raw string) (*ParsedRecord, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(strings.ToLower(trimmed), "v=spf1") {
		return nil, ErrInvalidSyntax
	}

	record := &ParsedRecord{Version: "spf1", Raw: raw}
	for _, token := range strings.Fields(trimmed)[1:] {
		record.Mechanisms = append(record.Mechanisms, parseMechanism(token))
	}
	return record, nil
}

func parseMechanism(token string) Mechanism {
	m := Mechanism{Qualifier: QualifierPass, Raw: token}

	rest := token
	if len(rest) > 0 {
		switch Qualifier(rest[0]) {
		case QualifierPass, QualifierFail, QualifierSoftFail, QualifierNeutral:
			m.Qualifier = Qualifier(rest[0])
			rest = rest[1:]
		}
	}

	name := rest
	if idx := strings.Index(rest, ":"); idx >= 0 {
		name = rest[:idx]
		m.Value = rest[idx+1:]
	} else if idx := strings.Index(rest, "/"); idx >= 0 {
		// a/24 style: prefix length without a target domain.
		name = rest[:idx]
		m.Value = rest[idx:]
	}

	switch strings.ToLower(name) {
	case "include":
		m.Type = MechInclude
	case "a":
		m.Type = MechA
	case "mx":
		m.Type = MechMX
	case "ptr":
		m.Type = MechPTR
	case "ip4":
		m.Type = MechIP4
	case "ip6":
		m.Type = MechIP6
	case "exists":
		m.Type = MechExists
	case "all":
		m.Type = MechAll
	default:
		m.Type = MechUnknown
	}
	return m
}

// CountDNSLookups parses raw and counts its surface-level lookup-triggering
// mechanisms. Nested includes are not followed; see LookupResolver for the
// recursive count.
func CountDNSLookups(raw string) (int, error) {
	record, err := Parse(raw)
	if err != nil {
		return 0, err
	}
	return record.LookupCount(), nil
}

// SyntaxReport is the outcome of ValidateSyntax. Errors are hard stops for
// provisioning; warnings are advisory.
type SyntaxReport struct {
	Valid              bool
	Length             int
	ExceedsLength      bool
	LookupCount        int
	ExceedsLookupLimit bool
	Errors             []string
	Warnings           []string
}

// ValidateSyntax checks a raw SPF value against the record-length and
// lookup caps and reports structural warnings.
func ValidateSyntax(raw string) SyntaxReport {
	report := SyntaxReport{Length: len(raw)}

	record, err := Parse(raw)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return report
	}
	report.Valid = true
	report.LookupCount = record.LookupCount()

	if report.Length > MaxRecordLength {
		report.ExceedsLength = true
		report.Errors = append(report.Errors,
			fmt.Sprintf("record is %d characters, exceeding the %d character limit", report.Length, MaxRecordLength))
		report.Valid = false
	}

	if report.LookupCount > MaxLookups {
		report.ExceedsLookupLimit = true
		report.Errors = append(report.Errors,
			fmt.Sprintf("record requires %d DNS lookups, exceeding the limit of %d", report.LookupCount, MaxLookups))
		report.Valid = false
	} else if report.LookupCount >= LookupWarnThreshold {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("record requires %d DNS lookups, approaching the limit of %d", report.LookupCount, MaxLookups))
	}

	if _, ok := record.AllQualifier(); !ok {
		report.Warnings = append(report.Warnings, "record has no terminal all mechanism")
	}

	for _, m := range record.Mechanisms {
		switch m.Type {
		case MechPTR:
			report.Warnings = append(report.Warnings, "ptr mechanism is deprecated and slow; avoid it")
		case MechUnknown:
			report.Warnings = append(report.Warnings, fmt.Sprintf("unknown mechanism %q", m.Raw))
		}
	}

	return report
}
