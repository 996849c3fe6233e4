package spf

import (
	"sort"
	"strings"
)

// Normalize returns a canonical form of an SPF record: v=spf1 first,
// mechanisms sorted, the all mechanism last. Two records that authorise
// the same hosts in a different order normalise to the same string, which
// is what the provisioning dedup compares.
func Normalize(raw string) (string, error) {
	parsed, err := Parse(raw)
	if err != nil {
		return "", err
	}

	var all string
	var mechanisms []string
	for _, m := range parsed.Mechanisms {
		if m.Type == MechAll {
			all = string(m.Qualifier) + "all"
			continue
		}
		mechanisms = append(mechanisms, qualifierPrefix(m.Qualifier)+strings.ToLower(strings.TrimLeft(m.Raw, "+-~?")))
	}
	sort.Strings(mechanisms)

	parts := append([]string{"v=spf1"}, mechanisms...)
	if all != "" {
		parts = append(parts, all)
	}
	return strings.Join(parts, " "), nil
}

// Equivalent reports whether two SPF records normalise to the same
// canonical form. Records that fail to parse are never equivalent.
func Equivalent(a, b string) bool {
	na, err := Normalize(a)
	if err != nil {
		return false
	}
	nb, err := Normalize(b)
	if err != nil {
		return false
	}
	return na == nb
}
