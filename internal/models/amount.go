package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrBadAmount is returned by ParseAmount for anything that is not a plain
// positive decimal with at most two fraction digits.
var ErrBadAmount = errors.New("malformed amount")

// ParseAmount converts a decimal string ("40", "40.5", "40.00") into kurus.
// Negative amounts, signs, exponents and more than two fraction digits are
// rejected. All balance arithmetic happens on the int64 result.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrBadAmount)
	}

	whole := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
		if frac == "" {
			return 0, fmt.Errorf("%w: %q", ErrBadAmount, s)
		}
	}
	if whole == "" || len(frac) > 2 {
		return 0, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	lira, err := strconv.ParseUint(whole, 10, 63)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	kurus, err := strconv.ParseUint(frac, 10, 63)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}

	// The kurus total must stay within int64.
	if lira > math.MaxInt64/100 {
		return 0, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	total := lira*100 + kurus
	if total > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	return int64(total), nil
}

// FormatAmount renders kurus as a decimal string with two fraction digits.
func FormatAmount(kurus int64) string {
	sign := ""
	if kurus < 0 {
		sign = "-"
		kurus = -kurus
	}
	return fmt.Sprintf("%s%d.%02d", sign, kurus/100, kurus%100)
}
