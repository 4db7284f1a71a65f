package token

import (
	"fmt"
	"math/big"
	"strings"
)

// Decimals is the number of fractional digits the ledger's smallest unit carries.
const Decimals = 18

var (
	unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

	// maxApproval is 2^256-1, the saturating allowance an approval requests so a
	// single approval covers future deposits.
	maxApproval = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// Amount is a nonnegative token quantity in the ledger's smallest unit.
// The zero value is zero tokens.
type Amount struct {
	v *big.Int
}

// FromBig copies v into an Amount. Negative values are rejected.
func FromBig(v *big.Int) (Amount, error) {
	if v == nil {
		return Amount{}, fmt.Errorf("nil amount")
	}
	if v.Sign() < 0 {
		return Amount{}, fmt.Errorf("negative amount %s", v)
	}
	return Amount{v: new(big.Int).Set(v)}, nil
}

// Parse reads a base-10 integer string in the smallest unit.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("empty amount")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid amount: %s", s)
	}
	return FromBig(v)
}

// ParsePositive is Parse with zero additionally rejected.
func ParsePositive(s string) (Amount, error) {
	a, err := Parse(s)
	if err != nil {
		return Amount{}, err
	}
	if a.IsZero() {
		return Amount{}, fmt.Errorf("amount must be positive")
	}
	return a, nil
}

// ParseDecimal reads a human decimal string like "1.5" and scales it to the
// smallest unit. Fractional digits beyond Decimals are rejected rather than
// truncated.
func ParseDecimal(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("empty amount")
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals {
		return Amount{}, fmt.Errorf("too many decimal places in %s", s)
	}
	digits := whole + frac + strings.Repeat("0", Decimals-len(frac))
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid amount: %s", s)
	}
	return FromBig(v)
}

// MaxApproval returns the saturating allowance value (2^256-1).
func MaxApproval() Amount {
	return Amount{v: new(big.Int).Set(maxApproval)}
}

// BigInt returns a copy of the underlying integer.
func (a Amount) BigInt() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.v)
}

func (a Amount) IsZero() bool {
	return a.v == nil || a.v.Sign() == 0
}

// Cmp compares a to b, returning -1, 0 or 1.
func (a Amount) Cmp(b Amount) int {
	return a.BigInt().Cmp(b.BigInt())
}

// Add returns a+b without mutating either operand.
func (a Amount) Add(b Amount) Amount {
	return Amount{v: new(big.Int).Add(a.BigInt(), b.BigInt())}
}

// String renders the raw integer representation.
func (a Amount) String() string {
	return a.BigInt().String()
}

// Format renders a decimal display string, trimming trailing fractional zeros.
// Display is derived from the integer representation, never the reverse.
func (a Amount) Format() string {
	v := a.BigInt()
	whole := new(big.Int)
	frac := new(big.Int)
	whole.QuoRem(v, unit, frac)
	if frac.Sign() == 0 {
		return whole.String()
	}
	digits := frac.String()
	padded := strings.Repeat("0", Decimals-len(digits)) + digits
	return whole.String() + "." + strings.TrimRight(padded, "0")
}
