package models

import (
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
)

// Monetary values travel as JSON numbers but live as fixed-point decimals
// with two fractional digits. Parsing happens once, at the gateway boundary;
// everything past it compares and stores decimals only.

var (
	// ErrMalformedAmount means the wire value was not a number at all.
	ErrMalformedAmount = errors.New("malformed monetary amount")
	// ErrTooPrecise means the value carried more than two fractional digits.
	ErrTooPrecise = errors.New("monetary amount has more than two fractional digits")
)

// ParseDollars converts a wire amount into a fixed-point decimal. Values with
// more than two fractional digits are rejected rather than rounded; the
// client is expected to quantize before sending.
func ParseDollars(n json.Number) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, ErrMalformedAmount
	}
	if d.Exponent() < -2 {
		// Trailing zeros beyond two digits are harmless; re-check after
		// stripping them.
		if !d.Equal(d.Round(2)) {
			return decimal.Zero, ErrTooPrecise
		}
		d = d.Round(2)
	}
	return d, nil
}
