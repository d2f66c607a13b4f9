package model

import (
	"database/sql/driver"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// maxAmount is 2^128 - 1, the largest value an Amount may hold.
var maxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Amount is a non-negative 128-bit integer of currency minor units.
// Arithmetic is checked; conversion to and from super units is
// currency-scoped. The zero value is zero.
type Amount struct {
	n *big.Int
}

// NewAmount builds an Amount from a uint64 minor-unit value.
func NewAmount(v uint64) Amount {
	return Amount{n: new(big.Int).SetUint64(v)}
}

// AmountFromString parses a base-10 minor-unit value.
func AmountFromString(s string) (Amount, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("malformed amount: %q", s)
	}
	return amountFromBig(n)
}

// AmountFromBig validates a big.Int as a 128-bit unsigned amount.
func AmountFromBig(n *big.Int) (Amount, error) {
	return amountFromBig(new(big.Int).Set(n))
}

func amountFromBig(n *big.Int) (Amount, error) {
	if n.Sign() < 0 {
		return Amount{}, fmt.Errorf("amount is negative: %s", n)
	}
	if n.Cmp(maxAmount) > 0 {
		return Amount{}, fmt.Errorf("amount exceeds 128 bits: %s", n)
	}
	return Amount{n: n}, nil
}

func (a Amount) big() *big.Int {
	if a.n == nil {
		return new(big.Int)
	}
	return a.n
}

// CheckedAdd returns a + b, or ok=false on 128-bit overflow.
func (a Amount) CheckedAdd(b Amount) (Amount, bool) {
	sum := new(big.Int).Add(a.big(), b.big())
	if sum.Cmp(maxAmount) > 0 {
		return Amount{}, false
	}
	return Amount{n: sum}, true
}

// CheckedSub returns a - b, or ok=false if b > a.
func (a Amount) CheckedSub(b Amount) (Amount, bool) {
	if a.big().Cmp(b.big()) < 0 {
		return Amount{}, false
	}
	return Amount{n: new(big.Int).Sub(a.big(), b.big())}, true
}

// CheckedMul returns a × m, or ok=false on 128-bit overflow.
func (a Amount) CheckedMul(m uint64) (Amount, bool) {
	prod := new(big.Int).Mul(a.big(), new(big.Int).SetUint64(m))
	if prod.Cmp(maxAmount) > 0 {
		return Amount{}, false
	}
	return Amount{n: prod}, true
}

// CheckedDiv returns a / d (truncating), or ok=false when d is zero.
func (a Amount) CheckedDiv(d uint64) (Amount, bool) {
	if d == 0 {
		return Amount{}, false
	}
	return Amount{n: new(big.Int).Div(a.big(), new(big.Int).SetUint64(d))}, true
}

// Int64 returns the amount as an int64, or ok=false when it does not fit.
func (a Amount) Int64() (int64, bool) {
	if !a.big().IsInt64() {
		return 0, false
	}
	return a.big().Int64(), true
}

// Cmp compares two amounts the way big.Int.Cmp does.
func (a Amount) Cmp(b Amount) int { return a.big().Cmp(b.big()) }

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a.big().Sign() == 0 }

// ToSuperUnit renders the amount in super units of the given currency.
func (a Amount) ToSuperUnit(c Currency) decimal.Decimal {
	return decimal.NewFromBigInt(a.big(), -c.Exponent())
}

// AmountFromSuperUnit converts a super-unit decimal into minor units of the
// given currency. The value must be a non-negative integer number of minor
// units that fits 128 bits.
func AmountFromSuperUnit(c Currency, d decimal.Decimal) (Amount, error) {
	shifted := d.Shift(c.Exponent())
	if !shifted.IsInteger() {
		return Amount{}, fmt.Errorf("%s does not land on %s minor units", d, c)
	}
	return amountFromBig(shifted.BigInt())
}

func (a Amount) String() string { return a.big().String() }

// MarshalJSON encodes the amount as a decimal string to keep 128-bit values
// intact across JSON boundaries.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts either a decimal string or a bare integer.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := AmountFromString(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value implements driver.Valuer; amounts are stored as NUMERIC.
func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements sql.Scanner for NUMERIC columns.
func (a *Amount) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = Amount{}
		return nil
	case int64:
		if v < 0 {
			return fmt.Errorf("negative amount from db: %d", v)
		}
		*a = NewAmount(uint64(v))
		return nil
	case []byte:
		parsed, err := AmountFromString(string(v))
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case string:
		parsed, err := AmountFromString(v)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Amount", src)
	}
}
