package records

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGoogleWorkspaceMX(t *testing.T) {
	set := GoogleWorkspaceMX()
	assert.Equal(t, []MXRecord{{Priority: 1, Exchange: "smtp.google.com"}}, set)
	assert.True(t, ValidateMX(set).Valid)
}

func TestMicrosoft365MX(t *testing.T) {
	set := Microsoft365MX("example.com")
	assert.Equal(t, []MXRecord{{Priority: 0, Exchange: "example-com.mail.protection.outlook.com"}}, set)

	set = Microsoft365MX("mail.example.co.uk.")
	assert.Equal(t, "mail-example-co-uk.mail.protection.outlook.com", set[0].Exchange)
}

func TestValidateMX(t *testing.T) {
	t.Run("Empty set", func(t *testing.T) {
		v := ValidateMX(nil)
		assert.False(t, v.Valid)
	})

	t.Run("Priority out of range", func(t *testing.T) {
		v := ValidateMX([]MXRecord{{Priority: 70000, Exchange: "mx.example.com"}})
		assert.False(t, v.Valid)
	})

	t.Run("Negative priority", func(t *testing.T) {
		v := ValidateMX([]MXRecord{{Priority: -1, Exchange: "mx.example.com"}})
		assert.False(t, v.Valid)
	})

	t.Run("Invalid exchange", func(t *testing.T) {
		v := ValidateMX([]MXRecord{{Priority: 10, Exchange: "-bad-"}})
		assert.False(t, v.Valid)
	})

	t.Run("Duplicate priorities warn", func(t *testing.T) {
		v := ValidateMX([]MXRecord{
			{Priority: 10, Exchange: "mx1.example.com"},
			{Priority: 10, Exchange: "mx2.example.com"},
		})
		assert.True(t, v.Valid)
		assert.NotEmpty(t, v.Warnings)
	})
}

func TestFormatMX(t *testing.T) {
	assert.Equal(t, "1 smtp.google.com", FormatMX(MXRecord{Priority: 1, Exchange: "smtp.google.com"}))
	assert.Equal(t, "10 mx.example.com", FormatMX(MXRecord{Priority: 10, Exchange: "mx.example.com."}))
}
