package extract

import (
	"strconv"
	"strings"
)

// ParseNumber reads a best-effort numeric value out of board text.
// Everything except digits and '.' is stripped first, so currency symbols,
// thousands separators, and unit suffixes ("$1,234.50", "320 mi") all
// parse. Amounts are currency-agnostic scalars — symbols are stripped,
// not validated. Invalid or missing input resolves to 0, never NaN.
func ParseNumber(s string) float64 {
	var b strings.Builder
	dot := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' && !dot:
			// Keep only the first dot: "1.234.56" reads as 1.234.
			dot = true
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0
	}
	return v
}
