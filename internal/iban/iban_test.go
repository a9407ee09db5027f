package iban

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateValidates(t *testing.T) {
	for i := 0; i < 200; i++ {
		raw := Generate()
		assert.Len(t, raw, Length)
		assert.True(t, strings.HasPrefix(raw, CountryCode))
		assert.NoError(t, Validate(raw))
	}
}

func TestValidate_RejectsMutations(t *testing.T) {
	raw := Generate()

	// Flipping any single body digit must break the mod-97 checksum.
	for pos := 4; pos < Length; pos++ {
		mutated := []byte(raw)
		mutated[pos] = '0' + (mutated[pos]-'0'+1)%10
		err := Validate(string(mutated))
		assert.Error(t, err, "mutation at position %d", pos)
		assert.ErrorIs(t, err, ErrInvalidIdentifier)
	}
}

func TestValidate_Malformed(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
	}{
		{"empty", ""},
		{"too short", "TR12345"},
		{"too long", Generate() + "00"},
		{"wrong prefix", "DE" + Generate()[2:]},
		{"letters in body", "TR12ABCD69040776445097473A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.candidate)
			assert.ErrorIs(t, err, ErrInvalidIdentifier)
		})
	}
}

func TestCheckDigits_Mod97Property(t *testing.T) {
	// With the check digits in place, the rearranged numeric string must
	// reduce to remainder 1 (equivalently: recomputing check digits from the
	// body reproduces them exactly).
	raw := Generate()
	bban := raw[4:]

	require.Equal(t, raw[2:4], checkDigits(CountryCode, bban))

	numeric := toNumericString(bban + CountryCode + raw[2:4])
	remainder := 0
	for i := 0; i < len(numeric); i += 7 {
		end := i + 7
		if end > len(numeric) {
			end = len(numeric)
		}
		chunk := remainder
		for _, c := range numeric[i:end] {
			chunk = chunk*10 + int(c-'0')
		}
		remainder = chunk % 97
	}
	assert.Equal(t, 1, remainder)
}

func TestFormatNormalizeRoundTrip(t *testing.T) {
	raw := Generate()
	formatted := Format(raw)

	assert.Equal(t, raw, Normalize(formatted))

	variants := []string{
		raw,
		formatted,
		strings.ToLower(formatted),
		" " + strings.ReplaceAll(formatted, " ", "  ") + " ",
		"tr" + raw[2:],
	}
	for _, v := range variants {
		assert.Equal(t, formatted, Format(Normalize(v)), "variant %q", v)
		assert.Equal(t, formatted, Format(v), "variant %q", v)
	}
}

func TestFormat_Grouping(t *testing.T) {
	formatted := Format("TR478278690407764450974731")
	assert.Equal(t, "TR47 8278 6904 0776 4450 9747 31", formatted)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "TR47****4731", Mask("TR47 8278 6904 0776 4450 9747 31"))
	assert.Equal(t, "TR12", Mask("TR12"))
}
