package purchase

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// FormatAmount renders an amount the way stored amounts have always been
// compared against provider notifications: up to 12 significant digits, with a
// trailing ".0" for integral values. 9.99 renders as "9.99" and 10 as "10.0".
func FormatAmount(amount float64) string {
	s := strconv.FormatFloat(amount, 'g', 12, 64)
	if strings.ContainsAny(s, ".eIN") {
		return s
	}
	return s + ".0"
}

// NormalizePIN canonicalises an installation PIN as entered by a user. The
// activation digest is computed over the normalized form.
func NormalizePIN(pin string) string {
	return strings.ToUpper(norm.NFC.String(strings.TrimSpace(pin)))
}
