package records

import (
	"fmt"
	"strings"
)

// MXRecord is one exchange in a platform MX set. The record name is always
// the apex.
type MXRecord struct {
	Priority int
	Exchange string
}

// GoogleWorkspaceMX returns the modern single-record Google Workspace MX
// set.
func GoogleWorkspaceMX() []MXRecord {
	return []MXRecord{{Priority: 1, Exchange: "smtp.google.com"}}
}

// Microsoft365MX returns the Exchange Online MX set for a domain. The
// exchange hostname is derived from the domain with dots replaced by
// hyphens, as assigned by the Microsoft 365 admin center.
func Microsoft365MX(domain string) []MXRecord {
	host := strings.ReplaceAll(strings.TrimSuffix(domain, "."), ".", "-")
	return []MXRecord{{Priority: 0, Exchange: host + ".mail.protection.outlook.com"}}
}

// ValidateMX checks a set of MX records: priorities must fit the 16-bit
// wire field and exchanges must look like hostnames. Duplicate priorities
// are legal but usually a mistake, so they warn.
func ValidateMX(set []MXRecord) Validation {
	v := newValidation()
	if len(set) == 0 {
		v.fail("MX set is empty")
		return v
	}

	seen := make(map[int]bool)
	for _, mx := range set {
		if mx.Priority < 0 || mx.Priority > 65535 {
			v.fail(fmt.Sprintf("MX priority %d out of range 0-65535", mx.Priority))
		}
		if !ValidHostname(mx.Exchange) {
			v.fail(fmt.Sprintf("invalid MX exchange hostname %q", mx.Exchange))
		}
		if seen[mx.Priority] {
			v.warn(fmt.Sprintf("duplicate MX priority %d", mx.Priority))
		}
		seen[mx.Priority] = true
	}
	return v
}

// FormatMX renders an MX record the way resolvers report it: "<priority>
// <exchange>".
func FormatMX(mx MXRecord) string {
	return fmt.Sprintf("%d %s", mx.Priority, strings.TrimSuffix(mx.Exchange, "."))
}
