package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{"whole naira", "5000", "5000.00", nil},
		{"kobo precision", "19999.99", "19999.99", nil},
		{"rounds extra precision", "10.005", "10.01", nil},
		{"trims whitespace", " 25.50 ", "25.50", nil},
		{"zero allowed", "0", "0.00", nil},
		{"empty rejected", "", "", ErrInvalidAmount},
		{"garbage rejected", "ten naira", "", ErrInvalidAmount},
		{"negative rejected", "-5", "", ErrNegativeAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, Format(got))
		})
	}
}

func TestParsePositive_RejectsZero(t *testing.T) {
	_, err := ParsePositive("0.00")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	d, err := ParsePositive("0.01")
	require.NoError(t, err)
	assert.Equal(t, "0.01", Format(d))
}

func TestPercent(t *testing.T) {
	total := MustParse("20000")

	assert.Equal(t, "300.00", Format(Percent(total, decimal.NewFromFloat(1.5))))
	assert.Equal(t, "700.00", Format(Percent(total, decimal.NewFromFloat(3.5))))

	// Rounding lands on kobo, not fractions of kobo.
	odd := MustParse("19999.99")
	assert.Equal(t, "100.00", Format(Percent(odd, decimal.NewFromFloat(0.5))))
}

func TestKobo(t *testing.T) {
	assert.Equal(t, int64(1999999), Kobo(MustParse("19999.99")))
	assert.Equal(t, int64(0), Kobo(Zero))
}
