package spf

import (
	"context"
	"net"
	"strings"

	"github.com/miekg/dns"
)

// Limits applied to raw DNS responses before they enter the resolution
// pipeline.
const (
	maxTXTRecordLength = 4096
	maxDomainLength    = 253
)

// DNSProvider abstracts the lookups the SPF pipeline needs. Implementations
// can use the system resolver, pinned DNS servers, or canned responses for
// testing.
//
// All methods accept a context for cancellation and timeout control.
type DNSProvider interface {
	LookupTXT(ctx context.Context, domain string) ([]string, error)
	LookupIP(ctx context.Context, domain string) ([]net.IP, error)
	LookupMX(ctx context.Context, domain string) ([]*net.MX, error)
	Close() error
}

// DefaultDNSProvider uses Go's net package for lookups.
type DefaultDNSProvider struct{}

func (d *DefaultDNSProvider) LookupTXT(ctx context.Context, domain string) ([]string, error) {
	records, err := net.DefaultResolver.LookupTXT(ctx, domain)
	if err != nil {
		return nil, err
	}
	return filterTXTRecords(records), nil
}

func (d *DefaultDNSProvider) LookupIP(ctx context.Context, domain string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, domain)
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, addr := range addrs {
		ips = append(ips, addr.IP)
	}
	return filterIPs(ips), nil
}

func (d *DefaultDNSProvider) LookupMX(ctx context.Context, domain string) ([]*net.MX, error) {
	mxs, err := net.DefaultResolver.LookupMX(ctx, domain)
	if err != nil {
		return nil, err
	}
	return filterMXRecords(mxs), nil
}

func (d *DefaultDNSProvider) Close() error {
	return nil
}

// PinnedDNSProvider uses miekg/dns to query a fixed list of DNS servers,
// falling back to the system resolver when none of them answer.
type PinnedDNSProvider struct {
	Servers []string // host:port addresses
	client  *dns.Client
}

func NewPinnedDNSProvider(servers []string) *PinnedDNSProvider {
	return &PinnedDNSProvider{
		Servers: servers,
		client:  &dns.Client{},
	}
}

func (p *PinnedDNSProvider) LookupTXT(ctx context.Context, domain string) ([]string, error) {
	for _, server := range p.Servers {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(domain), dns.TypeTXT)
		resp, _, err := p.client.ExchangeContext(ctx, m, server)
		if err != nil || resp == nil || resp.Rcode != dns.RcodeSuccess {
			continue
		}
		var results []string
		for _, ans := range resp.Answer {
			if txt, ok := ans.(*dns.TXT); ok {
				results = append(results, strings.Join(txt.Txt, ""))
			}
		}
		if len(results) > 0 {
			return filterTXTRecords(results), nil
		}
	}
	records, err := net.DefaultResolver.LookupTXT(ctx, domain)
	if err != nil {
		return nil, err
	}
	return filterTXTRecords(records), nil
}

func (p *PinnedDNSProvider) LookupIP(ctx context.Context, domain string) ([]net.IP, error) {
	for _, server := range p.Servers {
		var results []net.IP

		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(domain), dns.TypeA)
		resp, _, err := p.client.ExchangeContext(ctx, m, server)
		if err == nil && resp != nil && resp.Rcode == dns.RcodeSuccess {
			for _, ans := range resp.Answer {
				if a, ok := ans.(*dns.A); ok {
					results = append(results, a.A)
				}
			}
		}

		m.SetQuestion(dns.Fqdn(domain), dns.TypeAAAA)
		resp, _, err = p.client.ExchangeContext(ctx, m, server)
		if err == nil && resp != nil && resp.Rcode == dns.RcodeSuccess {
			for _, ans := range resp.Answer {
				if aaaa, ok := ans.(*dns.AAAA); ok {
					results = append(results, aaaa.AAAA)
				}
			}
		}

		if len(results) > 0 {
			return filterIPs(results), nil
		}
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", domain)
	if err != nil {
		return nil, err
	}
	return filterIPs(ips), nil
}

func (p *PinnedDNSProvider) LookupMX(ctx context.Context, domain string) ([]*net.MX, error) {
	for _, server := range p.Servers {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(domain), dns.TypeMX)
		resp, _, err := p.client.ExchangeContext(ctx, m, server)
		if err != nil || resp == nil || resp.Rcode != dns.RcodeSuccess {
			continue
		}
		var results []*net.MX
		for _, ans := range resp.Answer {
			if mx, ok := ans.(*dns.MX); ok {
				results = append(results, &net.MX{Host: mx.Mx, Pref: mx.Preference})
			}
		}
		if len(results) > 0 {
			return filterMXRecords(results), nil
		}
	}
	mxs, err := net.DefaultResolver.LookupMX(ctx, domain)
	if err != nil {
		return nil, err
	}
	return filterMXRecords(mxs), nil
}

func (p *PinnedDNSProvider) Close() error {
	return nil
}

// filterTXTRecords drops malformed or oversized TXT responses.
func filterTXTRecords(records []string) []string {
	var valid []string
	for _, record := range records {
		if len(record) > maxTXTRecordLength {
			continue
		}
		if !isPrintableASCII(record) {
			continue
		}
		valid = append(valid, record)
	}
	return valid
}

func filterIPs(ips []net.IP) []net.IP {
	var valid []net.IP
	for _, ip := range ips {
		if ip == nil || ip.IsUnspecified() {
			continue
		}
		valid = append(valid, ip)
	}
	return valid
}

func filterMXRecords(mxs []*net.MX) []*net.MX {
	var valid []*net.MX
	for _, mx := range mxs {
		if mx == nil {
			continue
		}
		host := strings.TrimSuffix(mx.Host, ".")
		if host == "" || len(host) > maxDomainLength || !isHostname(host) {
			continue
		}
		valid = append(valid, mx)
	}
	return valid
}

func isPrintableASCII(s string) bool {
	for _, r := range s {
		if r < 32 || r > 126 {
			return false
		}
	}
	return true
}

func isHostname(hostname string) bool {
	for _, char := range hostname {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '.' || char == '-') {
			return false
		}
	}
	return true
}
