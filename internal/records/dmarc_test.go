package records

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDMARC(t *testing.T) {
	testCases := []struct {
		name     string
		domain   string
		cfg      DMARCConfig
		expected string
		hasError bool
	}{
		{
			name:     "Minimal none policy",
			domain:   "example.com",
			cfg:      DMARCConfig{Policy: DMARCNone},
			expected: "v=DMARC1; p=none",
		},
		{
			name:   "Full reject policy",
			domain: "example.com",
			cfg: DMARCConfig{
				Policy:          DMARCReject,
				SubdomainPolicy: DMARCQuarantine,
				Percentage:      50,
				RUA:             []string{"dmarc@example.com"},
				RUF:             []string{"mailto:forensic@example.com"},
				ASPF:            AlignmentStrict,
				ADKIM:           AlignmentStrict,
				ReportInterval:  3600,
			},
			expected: "v=DMARC1; p=reject; sp=quarantine; pct=50; rua=mailto:dmarc@example.com; ruf=mailto:forensic@example.com; aspf=s; adkim=s; ri=3600",
		},
		{
			name:     "Full percentage omits pct",
			domain:   "example.com",
			cfg:      DMARCConfig{Policy: DMARCQuarantine, Percentage: 100},
			expected: "v=DMARC1; p=quarantine",
		},
		{
			name:     "Default report interval omitted",
			domain:   "example.com",
			cfg:      DMARCConfig{Policy: DMARCNone, ReportInterval: DefaultReportInterval},
			expected: "v=DMARC1; p=none",
		},
		{
			name:     "Relaxed alignment omitted",
			domain:   "example.com",
			cfg:      DMARCConfig{Policy: DMARCNone, ASPF: AlignmentRelaxed, ADKIM: AlignmentRelaxed},
			expected: "v=DMARC1; p=none",
		},
		{
			name:     "Invalid policy",
			domain:   "example.com",
			cfg:      DMARCConfig{Policy: "block"},
			hasError: true,
		},
		{
			name:     "Invalid report address",
			domain:   "example.com",
			cfg:      DMARCConfig{Policy: DMARCNone, RUA: []string{"not-an-email"}},
			hasError: true,
		},
		{
			name:     "Percentage out of range",
			domain:   "example.com",
			cfg:      DMARCConfig{Policy: DMARCNone, Percentage: 150},
			hasError: true,
		},
		{
			name:     "Invalid domain",
			domain:   "-bad-.com",
			cfg:      DMARCConfig{Policy: DMARCNone},
			hasError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			record, v := BuildDMARC(tc.domain, tc.cfg)
			if tc.hasError {
				assert.False(t, v.Valid)
				assert.Nil(t, record)
				return
			}
			require.True(t, v.Valid, "errors: %v", v.Errors)
			assert.Equal(t, tc.expected, record.Value)
			assert.Equal(t, "_dmarc", record.Name)
			assert.Equal(t, "_dmarc."+tc.domain, record.FQDN)
		})
	}
}

func TestBuildDMARCNoneWithoutReportingWarns(t *testing.T) {
	_, v := BuildDMARC("example.com", DMARCConfig{Policy: DMARCNone})
	require.True(t, v.Valid)
	assert.NotEmpty(t, v.Warnings)
}

func TestParseDMARC(t *testing.T) {
	t.Run("Round trip", func(t *testing.T) {
		record, v := BuildDMARC("example.com", DMARCConfig{
			Policy:     DMARCQuarantine,
			Percentage: 25,
			RUA:        []string{"dmarc@example.com"},
		})
		require.True(t, v.Valid)

		cfg, err := ParseDMARC(record.Value)
		require.NoError(t, err)
		assert.Equal(t, DMARCQuarantine, cfg.Policy)
		assert.Equal(t, 25, cfg.Percentage)
		assert.Equal(t, []string{"mailto:dmarc@example.com"}, cfg.RUA)
	})

	t.Run("Defaults fill omitted tags", func(t *testing.T) {
		cfg, err := ParseDMARC("v=DMARC1; p=reject")
		require.NoError(t, err)
		assert.Equal(t, 100, cfg.Percentage)
		assert.Equal(t, DefaultReportInterval, cfg.ReportInterval)
	})

	t.Run("Missing version prefix", func(t *testing.T) {
		_, err := ParseDMARC("p=none")
		assert.Error(t, err)
	})

	t.Run("Missing policy tag", func(t *testing.T) {
		_, err := ParseDMARC("v=DMARC1; rua=mailto:x@example.com")
		assert.Error(t, err)
	})
}

func TestValidatePolicyProgression(t *testing.T) {
	testCases := []struct {
		name          string
		current, next DMARCPolicy
		valid, safe   bool
	}{
		{"Stay at none", DMARCNone, DMARCNone, true, true},
		{"None to quarantine", DMARCNone, DMARCQuarantine, true, true},
		{"Quarantine to reject", DMARCQuarantine, DMARCReject, true, true},
		{"None straight to reject", DMARCNone, DMARCReject, true, false},
		{"Reject back to none", DMARCReject, DMARCNone, false, false},
		{"Quarantine back to none", DMARCQuarantine, DMARCNone, false, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := ValidatePolicyProgression(tc.current, tc.next)
			assert.Equal(t, tc.valid, p.Valid)
			assert.Equal(t, tc.safe, p.Safe)
			if !tc.safe {
				assert.NotEmpty(t, p.Warnings)
			}
			if tc.valid && !tc.safe {
				assert.NotEmpty(t, p.Recommendations)
			}
		})
	}
}

func TestRecommendPolicy(t *testing.T) {
	assert.Equal(t, DMARCNone, RecommendPolicy(365, false, true))
	assert.Equal(t, DMARCNone, RecommendPolicy(365, true, false))
	assert.Equal(t, DMARCNone, RecommendPolicy(10, true, true))
	assert.Equal(t, DMARCQuarantine, RecommendPolicy(60, true, true))
	assert.Equal(t, DMARCReject, RecommendPolicy(180, true, true))
}
