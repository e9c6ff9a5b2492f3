package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		wantErr bool
	}{
		{"one cent", "0.01", false},
		{"two places", "12.50", false},
		{"trailing zero third place", "12.500", false},
		{"integer", "100", false},
		{"zero", "0", true},
		{"zero with places", "0.00", true},
		{"negative", "-5", true},
		{"three places", "12.501", true},
		{"sub cent", "0.001", true},
		{"column maximum", "999999999999999999.99", false},
		{"above column maximum", "1000000000000000000", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAmount(decimal.RequireFromString(tt.amount))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount(" 12.50 ")
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.RequireFromString("12.5")))

	for _, raw := range []string{"", "abc", "1e-3", "-1", "NaN"} {
		_, err := ParseAmount(raw)
		assert.ErrorIs(t, err, ErrInvalidAmount, "input %q", raw)
	}
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "87.50", FormatMoney(decimal.RequireFromString("87.5")))
	assert.Equal(t, "0.00", FormatMoney(decimal.Zero))
	assert.Equal(t, "-12.50", FormatMoney(decimal.RequireFromString("-12.5")))
}
