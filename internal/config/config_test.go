package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxlane/maildns/internal/records"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "maildns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const fullConfig = `
api_token: "cf_token"
logging: true
dry_run: true
domains:
  - name: example.com
    zone_id: "zone-1"
    platform: google-workspace
    dkim_key: "MIIBIjANBgkq"
    tracking_subdomain: track
    tracking_provider: smartlead
  - name: another.com
    zone_id: "zone-2"
    platform: custom
    dry_run: false
    ttl: 300
    mx:
      - priority: 10
        exchange: mx1.another.com
      - priority: 20
        exchange: mx2.another.com
dns:
  - name: "Cloudflare"
    ip: "1.1.1.1"
  - name: "Google"
    ip: "8.8.8.8"
`

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, fullConfig))
	require.NoError(t, err)

	assert.Equal(t, "cf_token", cfg.APIToken)
	assert.True(t, cfg.Logging)
	require.Len(t, cfg.Domains, 2)

	first := cfg.Domains[0]
	assert.Equal(t, "example.com", first.Name)
	assert.Equal(t, "google-workspace", first.Platform)
	require.NotNil(t, first.DryRun)
	assert.True(t, *first.DryRun, "global dry_run must be inherited")

	second := cfg.Domains[1]
	assert.Equal(t, "custom", second.Platform)
	require.NotNil(t, second.DryRun)
	assert.False(t, *second.DryRun, "a per-domain flag wins over the global")
	require.Len(t, second.MX, 2)
	assert.Equal(t, "mx1.another.com", second.MX[0].Exchange)

	assert.Equal(t, []string{"1.1.1.1", "8.8.8.8"}, cfg.ServerAddrs())
}

func TestLoadConfigDefaultsPlatform(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
api_token: "t"
domains:
  - name: example.com
    zone_id: "z"
`))
	require.NoError(t, err)
	assert.Equal(t, "google-workspace", cfg.Domains[0].Platform)
}

func TestLoadConfigEnvToken(t *testing.T) {
	t.Setenv(EnvAPIToken, "env_token")
	cfg, err := LoadConfig(writeConfig(t, `
domains:
  - name: example.com
    zone_id: "z"
`))
	require.NoError(t, err)
	assert.Equal(t, "env_token", cfg.APIToken)
}

func TestLoadConfigFileTokenWins(t *testing.T) {
	t.Setenv(EnvAPIToken, "env_token")
	cfg, err := LoadConfig(writeConfig(t, `
api_token: "file_token"
domains:
  - name: example.com
    zone_id: "z"
`))
	require.NoError(t, err)
	assert.Equal(t, "file_token", cfg.APIToken)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfigBadYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "api_token: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			APIToken: "t",
			Domains: []Domain{
				{Name: "example.com", ZoneID: "z", Platform: "google-workspace"},
			},
		}
	}

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "Valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "Missing token",
			mutate:  func(c *Config) { c.APIToken = "" },
			wantErr: "api_token is required",
		},
		{
			name:    "No domains",
			mutate:  func(c *Config) { c.Domains = nil },
			wantErr: "at least one domain",
		},
		{
			name:    "Missing name",
			mutate:  func(c *Config) { c.Domains[0].Name = "" },
			wantErr: "domain name is required",
		},
		{
			name:    "Invalid name",
			mutate:  func(c *Config) { c.Domains[0].Name = "-bad-.com" },
			wantErr: "invalid domain name format",
		},
		{
			name:    "Missing zone",
			mutate:  func(c *Config) { c.Domains[0].ZoneID = "" },
			wantErr: "zone_id is required",
		},
		{
			name:    "Unknown platform",
			mutate:  func(c *Config) { c.Domains[0].Platform = "fastmail" },
			wantErr: "unknown platform",
		},
		{
			name:    "Custom platform without MX",
			mutate:  func(c *Config) { c.Domains[0].Platform = "custom" },
			wantErr: "requires an mx list",
		},
		{
			name:    "DMARC percent out of range",
			mutate:  func(c *Config) { c.Domains[0].DMARCPercent = 150 },
			wantErr: "dmarc_percent must be 0-100",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadConfigPorkbunProvider(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
provider: porkbun
porkbun_api_key: "pk"
porkbun_secret_key: "sk"
domains:
  - name: example.com
`))
	require.NoError(t, err)
	assert.Equal(t, ProviderPorkbun, cfg.Provider)
	assert.Equal(t, "example.com", cfg.Domains[0].ZoneID,
		"porkbun zones are addressed by domain name")
}

func TestLoadConfigPorkbunEnvKeys(t *testing.T) {
	t.Setenv(EnvPorkbunAPIKey, "env_pk")
	t.Setenv(EnvPorkbunSecretKey, "env_sk")
	cfg, err := LoadConfig(writeConfig(t, `
provider: porkbun
domains:
  - name: example.com
`))
	require.NoError(t, err)
	assert.Equal(t, "env_pk", cfg.PorkbunAPIKey)
	assert.Equal(t, "env_sk", cfg.PorkbunSecretKey)
}

func TestValidateProviders(t *testing.T) {
	base := func() *Config {
		return &Config{Domains: []Domain{{Name: "example.com", ZoneID: "z"}}}
	}

	t.Run("Unknown provider", func(t *testing.T) {
		cfg := base()
		cfg.Provider = "route53"
		cfg.APIToken = "t"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown provider")
	})

	t.Run("Porkbun requires key pair", func(t *testing.T) {
		cfg := base()
		cfg.Provider = ProviderPorkbun
		cfg.PorkbunAPIKey = "pk"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "porkbun_secret_key")
	})

	t.Run("Porkbun does not need zone ids", func(t *testing.T) {
		cfg := base()
		cfg.Provider = ProviderPorkbun
		cfg.PorkbunAPIKey = "pk"
		cfg.PorkbunSecretKey = "sk"
		cfg.Domains[0].ZoneID = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestSetDefaultTTL(t *testing.T) {
	cfg := &Config{Domains: []Domain{
		{Name: "a.com", TTL: 0},
		{Name: "b.com", TTL: 120},
	}}
	cfg.SetDefaultTTL()
	assert.Equal(t, records.DefaultTTL, cfg.Domains[0].TTL)
	assert.Equal(t, 120, cfg.Domains[1].TTL)
}
