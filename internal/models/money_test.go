package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseDollars(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "whole_number", input: "110", want: "110.00"},
		{name: "one_fractional_digit", input: "110.5", want: "110.50"},
		{name: "two_fractional_digits", input: "110.55", want: "110.55"},
		{name: "trailing_zeros_beyond_two", input: "110.5000", want: "110.50"},
		{name: "zero", input: "0", want: "0.00"},
		{name: "negative_parses", input: "-5.25", want: "-5.25"},
		{name: "large_value", input: "9999999999.99", want: "9999999999.99"},
		{name: "three_fractional_digits", input: "115.999", wantErr: ErrTooPrecise},
		{name: "many_fractional_digits", input: "110.000001", wantErr: ErrTooPrecise},
		{name: "not_a_number", input: "abc", wantErr: ErrMalformedAmount},
		{name: "empty", input: "", wantErr: ErrMalformedAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDollars(json.Number(tt.input))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestRequiredBid(t *testing.T) {
	a := Auction{
		CurrentHighestBid: mustDecimal(t, "110.00"),
		MinimumIncrement:  mustDecimal(t, "10.00"),
	}
	require.Equal(t, "120.00", a.RequiredBid().StringFixed(2))
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	got, err := ParseDollars(json.Number(s))
	require.NoError(t, err)
	return got
}
