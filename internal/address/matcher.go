package address

import "strings"

// matcherDigits is how many trailing digits of a normalized number form
// its matcher key. Trailing digits survive the formatting variants the
// same number arrives under: country prefixes, separators, parentheses.
const matcherDigits = 8

// Matcher derives the order-insensitive, formatting-insensitive lookup key
// for a raw address. Non-numeric senders (shortcodes with letters, alpha
// sender IDs) fall back to the trimmed raw string verbatim so a malformed
// address never fails ingestion.
func Matcher(raw string) string {
	raw = strings.TrimSpace(raw)
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if d == "" {
		return raw
	}
	if len(d) > matcherDigits {
		return d[len(d)-matcherDigits:]
	}
	return d
}

// SameAddress reports whether two raw addresses resolve to the same
// matcher key.
func SameAddress(a, b string) bool {
	return Matcher(a) == Matcher(b)
}
