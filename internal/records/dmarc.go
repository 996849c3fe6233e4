package records

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DMARCPolicy is the p= / sp= tag value.
type DMARCPolicy string

const (
	DMARCNone       DMARCPolicy = "none"
	DMARCQuarantine DMARCPolicy = "quarantine"
	DMARCReject     DMARCPolicy = "reject"
)

// Alignment is the aspf= / adkim= tag value.
type Alignment string

const (
	AlignmentRelaxed Alignment = "r"
	AlignmentStrict  Alignment = "s"
)

// DefaultReportInterval is the ri= default; the tag is omitted at this
// value.
const DefaultReportInterval = 86400

// DMARCConfig is the typed input to BuildDMARC.
type DMARCConfig struct {
	Policy          DMARCPolicy
	SubdomainPolicy DMARCPolicy // omitted when empty
	Percentage      int         // 0 and 100 both mean "all mail"; pct= omitted at 100
	RUA             []string    // aggregate report addresses, bare or mailto:
	RUF             []string    // forensic report addresses
	ASPF            Alignment   // emitted only when strict
	ADKIM           Alignment   // emitted only when strict
	ReportInterval  int         // emitted only when non-default
	ReportFormat    string      // emitted only when non-default (afrf)
}

// DMARCRecord is a built _dmarc TXT record.
type DMARCRecord struct {
	Domain string
	Name   string // _dmarc
	FQDN   string // _dmarc.<domain>
	Value  string
}

var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func policyLevel(p DMARCPolicy) int {
	switch p {
	case DMARCQuarantine:
		return 1
	case DMARCReject:
		return 2
	}
	return 0
}

func validPolicy(p DMARCPolicy) bool {
	switch p {
	case DMARCNone, DMARCQuarantine, DMARCReject:
		return true
	}
	return false
}

// BuildDMARC emits the _dmarc.<domain> TXT value from a typed config.
func BuildDMARC(domain string, cfg DMARCConfig) (*DMARCRecord, Validation) {
	v := newValidation()

	if !ValidDomain(domain) {
		v.fail(fmt.Sprintf("invalid domain name: %s", domain))
	}
	if !validPolicy(cfg.Policy) {
		v.fail(fmt.Sprintf("invalid DMARC policy %q; must be none, quarantine, or reject", cfg.Policy))
	}
	if cfg.SubdomainPolicy != "" && !validPolicy(cfg.SubdomainPolicy) {
		v.fail(fmt.Sprintf("invalid DMARC subdomain policy %q", cfg.SubdomainPolicy))
	}
	if cfg.Percentage < 0 || cfg.Percentage > 100 {
		v.fail(fmt.Sprintf("pct must be between 0 and 100, got %d", cfg.Percentage))
	}
	for _, addr := range append(append([]string{}, cfg.RUA...), cfg.RUF...) {
		if !emailRegex.MatchString(strings.TrimPrefix(addr, "mailto:")) {
			v.fail(fmt.Sprintf("invalid report address %q", addr))
		}
	}
	if !v.Valid {
		return nil, v
	}

	tags := []string{"v=DMARC1", "p=" + string(cfg.Policy)}
	if cfg.SubdomainPolicy != "" {
		tags = append(tags, "sp="+string(cfg.SubdomainPolicy))
	}
	if cfg.Percentage > 0 && cfg.Percentage < 100 {
		tags = append(tags, "pct="+strconv.Itoa(cfg.Percentage))
	}
	if len(cfg.RUA) > 0 {
		tags = append(tags, "rua="+joinMailto(cfg.RUA))
	}
	if len(cfg.RUF) > 0 {
		tags = append(tags, "ruf="+joinMailto(cfg.RUF))
	}
	if cfg.ASPF == AlignmentStrict {
		tags = append(tags, "aspf=s")
	}
	if cfg.ADKIM == AlignmentStrict {
		tags = append(tags, "adkim=s")
	}
	if cfg.ReportInterval > 0 && cfg.ReportInterval != DefaultReportInterval {
		tags = append(tags, "ri="+strconv.Itoa(cfg.ReportInterval))
	}
	if cfg.ReportFormat != "" && cfg.ReportFormat != "afrf" {
		tags = append(tags, "rf="+cfg.ReportFormat)
	}

	if cfg.Policy == DMARCNone && len(cfg.RUA) == 0 {
		v.warn("p=none without rua reporting gives no visibility into failures")
	}

	return &DMARCRecord{
		Domain: domain,
		Name:   "_dmarc",
		FQDN:   "_dmarc." + domain,
		Value:  strings.Join(tags, "; "),
	}, v
}

func joinMailto(addrs []string) string {
	out := make([]string, len(addrs))
	for i, addr := range addrs {
		if !strings.HasPrefix(addr, "mailto:") {
			addr = "mailto:" + addr
		}
		out[i] = addr
	}
	return strings.Join(out, ",")
}

// ParseDMARC is the inverse of BuildDMARC for a published value.
func ParseDMARC(value string) (*DMARCConfig, error) {
	tags := strings.Split(value, ";")
	if len(tags) == 0 || strings.TrimSpace(tags[0]) != "v=DMARC1" {
		return nil, fmt.Errorf("invalid DMARC record: must start with v=DMARC1")
	}

	cfg := &DMARCConfig{Percentage: 100, ReportInterval: DefaultReportInterval}
	seenPolicy := false
	for _, tag := range tags[1:] {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key, val, found := strings.Cut(tag, "=")
		if !found {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "p":
			cfg.Policy = DMARCPolicy(val)
			seenPolicy = true
		case "sp":
			cfg.SubdomainPolicy = DMARCPolicy(val)
		case "pct":
			if pct, err := strconv.Atoi(val); err == nil {
				cfg.Percentage = pct
			}
		case "rua":
			cfg.RUA = strings.Split(val, ",")
		case "ruf":
			cfg.RUF = strings.Split(val, ",")
		case "aspf":
			cfg.ASPF = Alignment(val)
		case "adkim":
			cfg.ADKIM = Alignment(val)
		case "ri":
			if ri, err := strconv.Atoi(val); err == nil {
				cfg.ReportInterval = ri
			}
		case "rf":
			cfg.ReportFormat = val
		}
	}

	if !seenPolicy || !validPolicy(cfg.Policy) {
		return nil, fmt.Errorf("invalid DMARC record: missing or invalid p= tag")
	}
	return cfg, nil
}

// ValidateDMARC checks a published value without fully materialising it.
func ValidateDMARC(value string) Validation {
	v := newValidation()
	if _, err := ParseDMARC(value); err != nil {
		v.fail(err.Error())
	}
	return v
}

// PolicyProgression is the outcome of ValidatePolicyProgression.
type PolicyProgression struct {
	Valid           bool
	Safe            bool
	Warnings        []string
	Recommendations []string
}

// ValidatePolicyProgression checks a policy change against the safe
// rollout ladder none → quarantine → reject. Tightening is always valid;
// skipping a rung is valid but unsafe; loosening is neither.
func ValidatePolicyProgression(current, next DMARCPolicy) PolicyProgression {
	p := PolicyProgression{}
	if !validPolicy(current) || !validPolicy(next) {
		p.Warnings = append(p.Warnings, "unknown DMARC policy value")
		return p
	}

	cur, nxt := policyLevel(current), policyLevel(next)
	p.Valid = nxt >= cur
	p.Safe = p.Valid && nxt-cur <= 1

	if !p.Valid {
		p.Warnings = append(p.Warnings,
			fmt.Sprintf("moving from %s back to %s weakens enforcement; receivers may already be acting on the stricter policy", current, next))
	} else if !p.Safe {
		p.Warnings = append(p.Warnings,
			fmt.Sprintf("jumping from %s straight to %s risks losing legitimate mail from senders that are not yet aligned", current, next))
		p.Recommendations = append(p.Recommendations,
			fmt.Sprintf("move to %s first and watch aggregate reports before enforcing %s", DMARCQuarantine, next))
	}
	return p
}

// RecommendPolicy suggests a starting policy from the domain's age and
// which authentication mechanisms are already in place.
func RecommendPolicy(domainAgeDays int, hasSPF, hasDKIM bool) DMARCPolicy {
	if !hasSPF || !hasDKIM {
		return DMARCNone
	}
	switch {
	case domainAgeDays < 30:
		return DMARCNone
	case domainAgeDays < 90:
		return DMARCQuarantine
	default:
		return DMARCReject
	}
}
