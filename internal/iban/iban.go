package iban

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

// Turkish IBAN layout: "TR" + 2 check digits + 5-digit branch code +
// 1 bank-internal digit + 16-digit account number = 26 characters.
const (
	CountryCode = "TR"
	Length      = 26

	branchLen   = 5
	internalLen = 1
	accountLen  = 16
)

// ErrInvalidIdentifier is returned by Validate for any malformed or
// checksum-failing account identifier.
var ErrInvalidIdentifier = errors.New("invalid account identifier")

// Generate produces a new random, checksum-valid Turkish IBAN in raw
// (unformatted) form.
func Generate() string {
	bban := randomDigits(branchLen) + randomDigits(internalLen) + randomDigits(accountLen)
	return CountryCode + checkDigits(CountryCode, bban) + bban
}

// Validate checks length, country prefix and the mod-97 check digits of a
// candidate identifier. The candidate may arrive formatted or raw; it is
// normalized before any check.
func Validate(candidate string) error {
	raw := Normalize(candidate)

	if len(raw) != Length {
		return fmt.Errorf("%w: expected %d characters, got %d", ErrInvalidIdentifier, Length, len(raw))
	}
	if !strings.HasPrefix(raw, CountryCode) {
		return fmt.Errorf("%w: missing %s prefix", ErrInvalidIdentifier, CountryCode)
	}
	for _, c := range raw[2:] {
		if c < '0' || c > '9' {
			return fmt.Errorf("%w: non-digit character", ErrInvalidIdentifier)
		}
	}

	bban := raw[4:]
	if raw[2:4] != checkDigits(CountryCode, bban) {
		return fmt.Errorf("%w: checksum mismatch", ErrInvalidIdentifier)
	}
	return nil
}

// Normalize strips all whitespace and upper-cases the identifier. It must be
// applied before any checksum or lookup operation: the same logical
// identifier may arrive formatted ("TR12 3456 ...") or raw from different
// callers.
func Normalize(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// Format groups a raw identifier into 4-character blocks for display.
// Format and Normalize are lossless inverses of each other.
func Format(raw string) string {
	s := Normalize(raw)
	var parts []string
	for i := 0; i < len(s); i += 4 {
		end := i + 4
		if end > len(s) {
			end = len(s)
		}
		parts = append(parts, s[i:end])
	}
	return strings.Join(parts, " ")
}

// Mask keeps the first and last four characters visible, for use in
// notification bodies.
func Mask(s string) string {
	raw := Normalize(s)
	if len(raw) < 8 {
		return raw
	}
	return raw[:4] + "****" + raw[len(raw)-4:]
}

// checkDigits computes the two ISO 7064 mod-97 check digits for the given
// country code and BBAN: the rearranged string bban+country+"00" is mapped to
// a numeric string (A=10 .. Z=35, digits unchanged) and reduced modulo 97 in
// 7-digit chunks, carrying the remainder forward.
func checkDigits(country, bban string) string {
	numeric := toNumericString(bban + country + "00")

	remainder := 0
	for i := 0; i < len(numeric); i += 7 {
		end := i + 7
		if end > len(numeric) {
			end = len(numeric)
		}
		chunk := strconv.Itoa(remainder) + numeric[i:end]
		n, _ := strconv.Atoi(chunk)
		remainder = n % 97
	}

	return fmt.Sprintf("%02d", 98-remainder)
}

func toNumericString(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c >= 'A' && c <= 'Z' {
			b.WriteString(strconv.Itoa(int(c-'A') + 10))
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func randomDigits(n int) string {
	const digits = "0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = digits[rand.Intn(len(digits))]
	}
	return string(b)
}
