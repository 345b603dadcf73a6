package domain

import (
	"strconv"
	"strings"
)

// ParseDecimal parses a numeric string that may use either US or European
// separator conventions:
//
//	"1234.5"  -> 1234.5
//	"1,5"     -> 1.5      (lone comma is a decimal point)
//	"1.234,5" -> 1234.5   (rightmost separator is the decimal point)
//	"1,234.5" -> 1234.5
//	"1.234.567" -> 1234567 (repeated separator with no counterpart: thousands)
//
// Returns false for anything that is not a number.
func ParseDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Both present: the rightmost one is the decimal point, the other
		// is a thousands separator.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
