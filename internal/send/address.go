package send

import "strings"

// NormalizeAddress canonicalizes phone-like caller input into a network
// address: strip everything that is not a digit, then prepend the
// default country code unless the number already starts with it. A
// trunk "0" prefix is dropped when the country code is prepended, so
// "0100000001" with code "20" becomes "20100000001". The prefix rule is
// local routing policy, configurable per deployment.
func NormalizeAddress(raw, countryCode string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	if countryCode == "" || strings.HasPrefix(digits, countryCode) {
		return digits
	}
	national := strings.TrimLeft(digits, "0")
	if national == "" {
		return ""
	}
	return countryCode + national
}
