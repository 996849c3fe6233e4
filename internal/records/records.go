// Package records holds the pure DNS record generators for the email
// setup: DKIM, DMARC, MX, and the branded tracking CNAME, plus the shared
// validation helpers. Nothing in this package performs I/O.
package records

import (
	"regexp"
	"strings"
)

// Type is a DNS record type the provisioning pipeline can publish.
type Type string

const (
	TypeA     Type = "A"
	TypeAAAA  Type = "AAAA"
	TypeTXT   Type = "TXT"
	TypeMX    Type = "MX"
	TypeCNAME Type = "CNAME"
	TypeNS    Type = "NS"
)

// Purpose tags a record with the email concern it serves.
type Purpose string

const (
	PurposeSPF      Purpose = "spf"
	PurposeDKIM     Purpose = "dkim"
	PurposeDMARC    Purpose = "dmarc"
	PurposeMX       Purpose = "mx"
	PurposeTracking Purpose = "tracking"
	PurposeCustom   Purpose = "custom"
)

// DefaultTTL is applied when a record does not specify one.
const DefaultTTL = 3600

// Record is one generated DNS record, ready for the provider. Name is the
// label relative to the apex, with "@" denoting the apex itself.
type Record struct {
	Type     Type
	Name     string
	Value    string
	TTL      int
	Priority int
	Purpose  Purpose
	Metadata map[string]string
}

// Validation collects structured errors and warnings for one generated
// record. Errors make the record unfit to publish; warnings never do.
type Validation struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

func (v *Validation) fail(msg string) {
	v.Errors = append(v.Errors, msg)
	v.Valid = false
}

func (v *Validation) warn(msg string) {
	v.Warnings = append(v.Warnings, msg)
}

func newValidation() Validation {
	return Validation{Valid: true}
}

var domainRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)+$`)

// ValidDomain reports whether domain is a syntactically valid FQDN.
func ValidDomain(domain string) bool {
	domain = strings.TrimSuffix(domain, ".")
	if domain == "" || len(domain) > 253 {
		return false
	}
	if !domainRegex.MatchString(domain) {
		return false
	}
	for _, label := range strings.Split(domain, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
	}
	return true
}

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-\.]*[a-zA-Z0-9])?$`)

// ValidHostname is the looser check applied to MX exchanges and CNAME
// targets.
func ValidHostname(host string) bool {
	host = strings.TrimSuffix(host, ".")
	return host != "" && len(host) <= 253 && hostnameRegex.MatchString(host)
}
