package records

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Base64 stand-ins sized like real DER-encoded RSA public keys: 216
// characters decode to 162 bytes (1024 bit), 392 to 294 bytes (2048 bit).
var (
	rsa1024Key = strings.Repeat("A", 216)
	rsa2048Key = strings.Repeat("A", 392)
)

func TestBuildDKIM(t *testing.T) {
	t.Run("Short key needs no splitting", func(t *testing.T) {
		record, v := BuildDKIM("example.com", rsa1024Key, DKIMOptions{})
		require.True(t, v.Valid, "errors: %v", v.Errors)
		require.NotNil(t, record)

		assert.Equal(t, "google", record.Selector)
		assert.Equal(t, "google._domainkey", record.Name)
		assert.Equal(t, "google._domainkey.example.com", record.FQDN)
		assert.Equal(t, "v=DKIM1; k=rsa; p="+rsa1024Key, record.Value)
		assert.False(t, record.RequiresSplitting)
		assert.Empty(t, record.Chunks)
		assert.Empty(t, v.Warnings)
	})

	t.Run("Long key splits into wire chunks", func(t *testing.T) {
		record, v := BuildDKIM("example.com", rsa2048Key, DKIMOptions{Selector: "s1"})
		require.True(t, v.Valid, "errors: %v", v.Errors)

		assert.Equal(t, "s1._domainkey", record.Name)
		assert.True(t, record.RequiresSplitting)
		require.Len(t, record.Chunks, 2)
		assert.Len(t, record.Chunks[0], MaxTXTString)
		assert.Equal(t, record.Value, strings.Join(record.Chunks, ""))
	})

	t.Run("NoSplit fails an oversized key", func(t *testing.T) {
		record, v := BuildDKIM("example.com", rsa2048Key, DKIMOptions{NoSplit: true})
		assert.False(t, v.Valid)
		assert.Nil(t, record)
	})

	t.Run("Whitespace in pasted key is tolerated", func(t *testing.T) {
		pasted := rsa1024Key[:100] + "\n " + rsa1024Key[100:]
		record, v := BuildDKIM("example.com", pasted, DKIMOptions{})
		require.True(t, v.Valid, "errors: %v", v.Errors)
		assert.Equal(t, "v=DKIM1; k=rsa; p="+rsa1024Key, record.Value)
	})

	t.Run("Invalid base64 fails", func(t *testing.T) {
		_, v := BuildDKIM("example.com", "not-base64!!", DKIMOptions{})
		assert.False(t, v.Valid)
	})

	t.Run("Empty key fails", func(t *testing.T) {
		_, v := BuildDKIM("example.com", "", DKIMOptions{})
		assert.False(t, v.Valid)
	})

	t.Run("Invalid domain fails", func(t *testing.T) {
		_, v := BuildDKIM("-bad-.com", rsa1024Key, DKIMOptions{})
		assert.False(t, v.Valid)
	})

	t.Run("Unusual key length warns", func(t *testing.T) {
		oddKey := strings.Repeat("A", 96) // 72 bytes decoded
		record, v := BuildDKIM("example.com", oddKey, DKIMOptions{})
		require.True(t, v.Valid)
		require.NotNil(t, record)
		assert.NotEmpty(t, v.Warnings)
	})

	t.Run("Ed25519 key type emitted", func(t *testing.T) {
		key := strings.Repeat("B", 44)
		record, v := BuildDKIM("example.com", key, DKIMOptions{KeyType: DKIMKeyEd25519})
		require.True(t, v.Valid)
		assert.Contains(t, record.Value, "k=ed25519;")
	})
}

func TestSplitTXTValue(t *testing.T) {
	t.Run("Short value stays whole", func(t *testing.T) {
		chunks := SplitTXTValue("short")
		assert.Equal(t, []string{"short"}, chunks)
	})

	t.Run("Concatenation equals input", func(t *testing.T) {
		value := strings.Repeat("x", 613)
		chunks := SplitTXTValue(value)
		assert.Len(t, chunks, 3)
		assert.Equal(t, value, strings.Join(chunks, ""))
		for _, chunk := range chunks {
			assert.LessOrEqual(t, len(chunk), MaxTXTString)
		}
	})
}

func TestDKIMWireValue(t *testing.T) {
	record, v := BuildDKIM("example.com", rsa2048Key, DKIMOptions{})
	require.True(t, v.Valid)

	wire := record.WireValue()
	assert.Equal(t, 2, strings.Count(wire, `" "`)+1, "expected two quoted strings")
	assert.True(t, strings.HasPrefix(wire, `"v=DKIM1; k=rsa; p=`))
}
