// Package config loads and validates the YAML configuration file.
//
// The file describes the DNS provider credentials and one or more domains
// to manage, each with its email platform and optional record settings.
// Sensitive values can come from the environment instead of the file.
//
// Environment Variables:
//   - MAILDNS_API_TOKEN: Cloudflare API token used when the file leaves
//     api_token empty
//   - MAILDNS_PORKBUN_API_KEY, MAILDNS_PORKBUN_SECRET_KEY: Porkbun key
//     pair, used the same way when the provider is porkbun
//
// Example configuration:
//
//	api_token: "cf_..."
//	domains:
//	  - name: example.com
//	    zone_id: "023e105f4ecef8ad9ca31a8372d0c353"
//	    platform: google-workspace
//	    dkim_key: "MIIBIjANBgkq..."
//	    tracking_subdomain: track
//	  - name: another.com
//	    zone_id: "8a9ca31a8372d0c353023e105f4ecef8"
//	    platform: microsoft-365
//	    spf: "v=spf1 include:spf.protection.outlook.com include:_spf.example.net ~all"
//	logging: true
//	dry_run: false
//	dns:
//	  - name: "Cloudflare"
//	    ip: "1.1.1.1"
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/inboxlane/maildns/internal/records"
)

const Version = "1.0.0"

const (
	EnvAPIToken         = "MAILDNS_API_TOKEN"
	EnvPorkbunAPIKey    = "MAILDNS_PORKBUN_API_KEY"
	EnvPorkbunSecretKey = "MAILDNS_PORKBUN_SECRET_KEY"
)

// Supported DNS providers.
const (
	ProviderCloudflare = "cloudflare"
	ProviderPorkbun    = "porkbun"
)

// DNSServer is one pinned resolver for SPF flattening lookups.
type DNSServer struct {
	Name string `yaml:"name"`
	IP   string `yaml:"ip"`
}

type Config struct {
	// Provider selects the DNS backend, cloudflare by default.
	Provider string `yaml:"provider,omitempty"`

	APIToken string `yaml:"api_token,omitempty"`

	PorkbunAPIKey    string `yaml:"porkbun_api_key,omitempty"`
	PorkbunSecretKey string `yaml:"porkbun_secret_key,omitempty"`

	Domains    []Domain    `yaml:"domains"`
	Logging    bool        `yaml:"logging"`
	DryRun     bool        `yaml:"dry_run"`
	DNSServers []DNSServer `yaml:"dns"`
}

type Domain struct {
	Name     string `yaml:"name"`
	ZoneID   string `yaml:"zone_id"`
	Platform string `yaml:"platform,omitempty"`

	// SPF, when set, is the record to flatten. Otherwise a fresh record
	// is synthesised from the platform default.
	SPF            string   `yaml:"spf,omitempty"`
	ExtraIncludes  []string `yaml:"extra_includes,omitempty"`
	KeepIncludes   []string `yaml:"keep_includes,omitempty"`
	IPv6           bool     `yaml:"ipv6,omitempty"`
	AggregateCIDRs bool     `yaml:"aggregate_cidrs,omitempty"`

	DKIMKey      string `yaml:"dkim_key,omitempty"`
	DKIMSelector string `yaml:"dkim_selector,omitempty"`

	DMARCPolicy   string   `yaml:"dmarc_policy,omitempty"`
	DMARCReportTo []string `yaml:"dmarc_report_to,omitempty"`
	DMARCPercent  int      `yaml:"dmarc_percent,omitempty"`

	TrackingSubdomain string `yaml:"tracking_subdomain,omitempty"`
	TrackingProvider  string `yaml:"tracking_provider,omitempty"`

	MX []MXEntry `yaml:"mx,omitempty"`

	TTL     int   `yaml:"ttl,omitempty"`
	Logging *bool `yaml:"logging,omitempty"`
	DryRun  *bool `yaml:"dry_run,omitempty"`
}

// MXEntry is a custom MX host for domains that do not use a platform
// default set.
type MXEntry struct {
	Priority int    `yaml:"priority"`
	Exchange string `yaml:"exchange"`
}

// Validate checks the configuration for completeness.
func (c *Config) Validate() error {
	switch c.Provider {
	case "", ProviderCloudflare:
		if c.APIToken == "" {
			return fmt.Errorf("api_token is required (or set %s)", EnvAPIToken)
		}
	case ProviderPorkbun:
		if c.PorkbunAPIKey == "" || c.PorkbunSecretKey == "" {
			return fmt.Errorf("porkbun_api_key and porkbun_secret_key are required (or set %s and %s)",
				EnvPorkbunAPIKey, EnvPorkbunSecretKey)
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}

	if len(c.Domains) == 0 {
		return fmt.Errorf("at least one domain is required")
	}

	for i, domain := range c.Domains {
		if err := domain.validate(c.Provider); err != nil {
			return fmt.Errorf("domain[%d]: %w", i, err)
		}
	}

	return nil
}

func (d *Domain) validate(provider string) error {
	if d.Name == "" {
		return fmt.Errorf("domain name is required")
	}
	if !records.ValidDomain(d.Name) {
		return fmt.Errorf("invalid domain name format: %s", d.Name)
	}
	// Porkbun addresses zones by domain name, so no zone id is needed.
	if d.ZoneID == "" && provider != ProviderPorkbun {
		return fmt.Errorf("zone_id is required")
	}
	switch d.Platform {
	case "", "google-workspace", "microsoft-365", "custom":
	default:
		return fmt.Errorf("unknown platform %q", d.Platform)
	}
	if d.Platform == "custom" && len(d.MX) == 0 {
		return fmt.Errorf("custom platform requires an mx list")
	}
	if d.DMARCPercent < 0 || d.DMARCPercent > 100 {
		return fmt.Errorf("dmarc_percent must be 0-100, got %d", d.DMARCPercent)
	}
	return nil
}

// LoadConfig reads, defaults, and validates a configuration file.
//
// The environment token override is applied before validation, then each
// domain inherits the global logging and dry-run flags unless it sets its
// own.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file %s: %w", path, err)
	}

	if config.Provider == "" {
		config.Provider = ProviderCloudflare
	}
	if config.APIToken == "" {
		config.APIToken = os.Getenv(EnvAPIToken)
	}
	if config.PorkbunAPIKey == "" {
		config.PorkbunAPIKey = os.Getenv(EnvPorkbunAPIKey)
	}
	if config.PorkbunSecretKey == "" {
		config.PorkbunSecretKey = os.Getenv(EnvPorkbunSecretKey)
	}

	for i := range config.Domains {
		if config.Domains[i].Platform == "" {
			config.Domains[i].Platform = "google-workspace"
		}
		if config.Domains[i].ZoneID == "" && config.Provider == ProviderPorkbun {
			config.Domains[i].ZoneID = config.Domains[i].Name
		}
		if config.Domains[i].Logging == nil {
			config.Domains[i].Logging = &config.Logging
		}
		if config.Domains[i].DryRun == nil {
			config.Domains[i].DryRun = &config.DryRun
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// SetDefaultTTL fills in the record TTL for domains that omit it.
func (c *Config) SetDefaultTTL() {
	for i := range c.Domains {
		if c.Domains[i].TTL == 0 {
			c.Domains[i].TTL = records.DefaultTTL
		}
	}
}

// ServerAddrs returns the pinned resolver IPs, if any.
func (c *Config) ServerAddrs() []string {
	var out []string
	for _, server := range c.DNSServers {
		if server.IP != "" {
			out = append(out, server.IP)
		}
	}
	return out
}
