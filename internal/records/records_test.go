package records

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidDomain(t *testing.T) {
	testCases := []struct {
		domain string
		valid  bool
	}{
		{"example.com", true},
		{"sub.example.com", true},
		{"example.com.", true},
		{"xn--bcher-kva.example", true},
		{"a.co", true},
		{"", false},
		{"example", false},
		{"-bad.example.com", false},
		{"bad-.example.com", false},
		{"exa mple.com", false},
		{strings.Repeat("a", 64) + ".com", false},
		{strings.Repeat("a.", 130) + "com", false},
	}

	for _, tc := range testCases {
		t.Run(tc.domain, func(t *testing.T) {
			assert.Equal(t, tc.valid, ValidDomain(tc.domain), "domain %q", tc.domain)
		})
	}
}

func TestValidHostname(t *testing.T) {
	assert.True(t, ValidHostname("smtp.google.com"))
	assert.True(t, ValidHostname("smtp.google.com."))
	assert.True(t, ValidHostname("mx"))
	assert.False(t, ValidHostname(""))
	assert.False(t, ValidHostname("-mx.example.com"))
	assert.False(t, ValidHostname(strings.Repeat("a", 260)))
}
