package assemble

import (
	"strings"
)

// NaturalLess orders names by splitting them into alternating text and
// digit runs and comparing digit runs by value, so "item2" sorts before
// "item10".
func NaturalLess(a, b string) bool {
	ta, tb := naturalKey(a), naturalKey(b)
	for i := 0; i < len(ta) && i < len(tb); i++ {
		if c := compareToken(ta[i], tb[i], i%2 == 1); c != 0 {
			return c < 0
		}
	}
	if len(ta) != len(tb) {
		return len(ta) < len(tb)
	}
	return a < b
}

// naturalKey splits s into text and digit runs. Even positions are text
// (possibly empty) and odd positions are digits, so two keys always line
// up token for token.
func naturalKey(s string) []string {
	var out []string
	var b strings.Builder
	digits := false
	for _, r := range s {
		isDigit := r >= '0' && r <= '9'
		if isDigit != digits {
			out = append(out, b.String())
			b.Reset()
			digits = isDigit
		}
		b.WriteRune(r)
	}
	out = append(out, b.String())
	return out
}

// compareToken compares digit runs by numeric value without parsing, so
// arbitrarily long runs cannot overflow.
func compareToken(a, b string, numeric bool) int {
	if !numeric {
		return strings.Compare(a, b)
	}
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
