package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a quantity of a fungible token in its smallest indivisible unit.
// All arithmetic is integer-only. Token symbols are stored lowercase.
//
// Examples:
//   - Tokens(15, "ft") = 15 FT
//   - Tokens(0, "ft")  = 0 FT
type Amount struct {
	Units int64  `json:"units"` // Smallest indivisible unit
	Token string `json:"token"` // Lowercase token symbol: "ft"
}

// Tokens creates an Amount of the given token.
func Tokens(units int64, token string) Amount {
	return Amount{Units: units, Token: strings.ToLower(token)}
}

// Zero returns a zero Amount of the given token.
func Zero(token string) Amount { return Tokens(0, token) }

// ParseAmount parses a decimal integer string such as "15" into an Amount.
// Fractions, exponents that leave a fraction, and values outside int64 are
// rejected.
func ParseAmount(s, token string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, fmt.Errorf("amount: parse %q: %w", s, err)
	}
	if !d.IsInteger() {
		return Amount{}, fmt.Errorf("amount: parse %q: not an integer", s)
	}
	if !d.BigInt().IsInt64() {
		return Amount{}, fmt.Errorf("amount: parse %q: out of range", s)
	}
	return Tokens(d.IntPart(), token), nil
}

// Add adds two Amounts. Panics if tokens don't match.
func (a Amount) Add(other Amount) Amount {
	a.assertSameToken(other)
	return Amount{Units: a.Units + other.Units, Token: a.Token}
}

// Subtract subtracts another Amount. Panics if tokens don't match.
func (a Amount) Subtract(other Amount) Amount {
	a.assertSameToken(other)
	return Amount{Units: a.Units - other.Units, Token: a.Token}
}

// Multiply multiplies the Amount by a quantity.
func (a Amount) Multiply(qty int64) Amount {
	return Amount{Units: a.Units * qty, Token: a.Token}
}

// IsZero returns true if the amount is zero.
func (a Amount) IsZero() bool { return a.Units == 0 }

// IsPositive returns true if the amount is greater than zero.
func (a Amount) IsPositive() bool { return a.Units > 0 }

// IsNegative returns true if the amount is less than zero.
func (a Amount) IsNegative() bool { return a.Units < 0 }

// Equal returns true if both Amounts have the same units and token.
func (a Amount) Equal(other Amount) bool {
	return a.Units == other.Units && a.Token == other.Token
}

// LessThan returns true if a is less than other. Panics if tokens don't match.
func (a Amount) LessThan(other Amount) bool {
	a.assertSameToken(other)
	return a.Units < other.Units
}

// Decimal returns the amount as an arbitrary-precision decimal.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromInt(a.Units)
}

// DecimalString returns the wire form used by token transfers: "15".
func (a Amount) DecimalString() string {
	return a.Decimal().String()
}

// String returns a human-readable form: "15 FT".
func (a Amount) String() string {
	if a.Token == "" {
		return a.DecimalString()
	}
	return a.DecimalString() + " " + strings.ToUpper(a.Token)
}

// MarshalJSON implements json.Marshaler.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Units   int64  `json:"units"`
		Token   string `json:"token"`
		Display string `json:"display"`
	}{
		Units:   a.Units,
		Token:   a.Token,
		Display: a.String(),
	})
}

// assertSameToken panics if tokens don't match.
func (a Amount) assertSameToken(other Amount) {
	if a.Token != other.Token {
		panic(fmt.Sprintf("amount: token mismatch: %s != %s", a.Token, other.Token))
	}
}
