package records

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DKIM formatting limits.
const (
	// MaxTXTString is the wire limit for a single character-string
	// inside a TXT record (RFC 1035).
	MaxTXTString = 255

	// dkimLengthWarn is where the full record value starts drawing a
	// warning even though it can still be published as split strings.
	dkimLengthWarn = 512

	// DefaultDKIMSelector matches the Google Workspace admin console
	// default.
	DefaultDKIMSelector = "google"
)

// DKIMKeyType is the k= tag value.
type DKIMKeyType string

const (
	DKIMKeyRSA     DKIMKeyType = "rsa"
	DKIMKeyEd25519 DKIMKeyType = "ed25519"
)

// Approximate DER lengths of RSA SubjectPublicKeyInfo blocks, used to
// recognise common key sizes. Anything else draws a warning.
const (
	rsa1024DERLen = 162
	rsa2048DERLen = 294
	derLenSlack   = 16
)

// DKIMRecord is a formatted DKIM TXT record for one selector.
type DKIMRecord struct {
	Selector string
	Domain   string

	// Name is the label relative to the apex: selector._domainkey.
	Name string

	// FQDN is the fully qualified record name.
	FQDN string

	// Value is the whole v=DKIM1 string before wire splitting.
	Value string

	// Chunks are the ≤255-character strings whose concatenation equals
	// Value. Present only when splitting was requested and needed.
	Chunks []string

	RequiresSplitting bool
}

// DKIMOptions configure BuildDKIM. The zero value uses the Google
// selector, an RSA key, and enables splitting.
type DKIMOptions struct {
	Selector string
	KeyType  DKIMKeyType
	NoSplit  bool
}

// BuildDKIM formats a supplied base64 public key into a DKIM TXT record.
// Key generation is out of scope; the key arrives from the email platform.
func BuildDKIM(domain, publicKey string, opts DKIMOptions) (*DKIMRecord, Validation) {
	v := newValidation()

	selector := opts.Selector
	if selector == "" {
		selector = DefaultDKIMSelector
	}
	keyType := opts.KeyType
	if keyType == "" {
		keyType = DKIMKeyRSA
	}

	if !ValidDomain(domain) {
		v.fail(fmt.Sprintf("invalid domain name: %s", domain))
	}

	key := stripWhitespace(publicKey)
	if key == "" {
		v.fail("DKIM public key is empty")
	}

	var der []byte
	if key != "" {
		var err error
		der, err = base64.StdEncoding.DecodeString(key)
		if err != nil {
			v.fail("DKIM public key is not valid base64")
		}
	}

	if !v.Valid {
		return nil, v
	}

	if keyType == DKIMKeyRSA && !typicalRSALength(len(der)) {
		v.warn(fmt.Sprintf("unusual DKIM key length (%d bytes decoded); expected a 1024 or 2048 bit RSA key", len(der)))
	}

	record := &DKIMRecord{
		Selector: selector,
		Domain:   domain,
		Name:     selector + "._domainkey",
		FQDN:     fmt.Sprintf("%s._domainkey.%s", selector, domain),
		Value:    fmt.Sprintf("v=DKIM1; k=%s; p=%s", keyType, key),
	}
	record.RequiresSplitting = len(record.Value) > MaxTXTString

	if len(record.Value) > dkimLengthWarn {
		v.warn(fmt.Sprintf("DKIM record is %d characters; some providers reject values over %d", len(record.Value), dkimLengthWarn))
	}

	if record.RequiresSplitting {
		if opts.NoSplit {
			v.fail(fmt.Sprintf("DKIM record is %d characters and splitting is disabled; the wire limit per string is %d", len(record.Value), MaxTXTString))
			return nil, v
		}
		record.Chunks = SplitTXTValue(record.Value)
	}

	return record, v
}

// SplitTXTValue splits a TXT value into ≤255-character strings whose
// concatenation equals the input.
func SplitTXTValue(value string) []string {
	var chunks []string
	for len(value) > MaxTXTString {
		chunks = append(chunks, value[:MaxTXTString])
		value = value[MaxTXTString:]
	}
	return append(chunks, value)
}

// WireValue renders the record the way the zone file carries it: a single
// quoted string, or multiple quoted strings when the value was split.
func (r *DKIMRecord) WireValue() string {
	if len(r.Chunks) == 0 {
		return fmt.Sprintf("%q", r.Value)
	}
	quoted := make([]string, len(r.Chunks))
	for i, chunk := range r.Chunks {
		quoted[i] = fmt.Sprintf("%q", chunk)
	}
	return strings.Join(quoted, " ")
}

func typicalRSALength(derLen int) bool {
	return within(derLen, rsa1024DERLen, derLenSlack) || within(derLen, rsa2048DERLen, derLenSlack)
}

func within(v, target, slack int) bool {
	return v >= target-slack && v <= target+slack
}

func stripWhitespace(s string) string {
	return strings.Join(strings.Fields(s), "")
}
