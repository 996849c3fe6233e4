package records

import (
	"fmt"
	"strings"
)

// Tracking CNAME targets per email-sending platform.
const (
	SmartleadTrackingTarget = "open.sleadtrack.com"
)

// trackingTargets maps a tracking provider name to its CNAME target.
var trackingTargets = map[string]string{
	"smartlead": SmartleadTrackingTarget,
}

// commonTrackingNames are the subdomain labels senders usually pick; other
// labels work but draw a warning.
var commonTrackingNames = map[string]bool{
	"track": true, "tracking": true, "open": true, "click": true,
	"email": true, "link": true, "mail": true, "t": true,
}

// TrackingRecord is the branded tracking CNAME for a domain.
type TrackingRecord struct {
	Domain    string
	Subdomain string
	FQDN      string // <subdomain>.<domain>
	Target    string

	// Proxied must stay false: the tracking host terminates the
	// redirect itself, and an edge proxy in front of it breaks open and
	// click handling.
	Proxied bool
}

// BuildTracking builds the subdomain CNAME pointing at the provider's
// tracking host.
func BuildTracking(domain, subdomain, provider string) (*TrackingRecord, Validation) {
	v := ValidateTrackingSubdomain(subdomain, domain)
	if !ValidDomain(domain) {
		v.fail(fmt.Sprintf("invalid domain name: %s", domain))
	}

	target, ok := trackingTargets[strings.ToLower(provider)]
	if !ok {
		v.fail(fmt.Sprintf("unknown tracking provider %q", provider))
	}
	if !v.Valid {
		return nil, v
	}

	return &TrackingRecord{
		Domain:    domain,
		Subdomain: subdomain,
		FQDN:      subdomain + "." + domain,
		Target:    target,
	}, v
}

// ValidateTrackingSubdomain checks a tracking label: lowercase letters,
// digits, and interior hyphens only, at most 63 characters, and distinct
// from the apex.
func ValidateTrackingSubdomain(subdomain, apex string) Validation {
	v := newValidation()

	if subdomain == "" {
		v.fail("tracking subdomain is empty")
		return v
	}
	if len(subdomain) > 63 {
		v.fail(fmt.Sprintf("tracking subdomain is %d characters; DNS labels cap at 63", len(subdomain)))
	}
	if subdomain != strings.ToLower(subdomain) {
		v.fail("tracking subdomain must be lowercase")
	}
	for _, r := range subdomain {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
			v.fail(fmt.Sprintf("tracking subdomain contains invalid character %q", r))
			break
		}
	}
	if strings.HasPrefix(subdomain, "-") || strings.HasSuffix(subdomain, "-") {
		v.fail("tracking subdomain cannot start or end with a hyphen")
	}
	if subdomain == apex || subdomain+"." == apex {
		v.fail("tracking subdomain cannot equal the apex domain")
	}

	if v.Valid {
		if len(subdomain) > 30 {
			v.warn("tracking subdomain is long; shorter labels keep tracking links tidy")
		}
		if strings.Contains(subdomain, "--") {
			v.warn("tracking subdomain contains consecutive hyphens")
		}
		if !commonTrackingNames[subdomain] {
			v.warn(fmt.Sprintf("%q is not a common tracking label; track, open, or click are more recognisable", subdomain))
		}
	}
	return v
}
