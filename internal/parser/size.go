// Package parser handles user-supplied size literals like "1k", "1.5m", "3g".
package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// Suffixes use binary multiples: k=1024, m=1024^2, g=1024^3. A bare number is
// bytes. The mantissa may be fractional; the result is truncated to an integer
// byte count.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("invalid size format: %q", s)
	}

	var multiplier float64
	numberPart := s
	switch strings.ToLower(s[len(s)-1:]) {
	case "k":
		multiplier = 1 << 10
		numberPart = s[:len(s)-1]
	case "m":
		multiplier = 1 << 20
		numberPart = s[:len(s)-1]
	case "g":
		multiplier = 1 << 30
		numberPart = s[:len(s)-1]
	default:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size format: %q", s)
		}
		return int64(n), nil
	}

	n, err := strconv.ParseFloat(numberPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size format: %q", s)
	}
	return int64(n * multiplier), nil
}
