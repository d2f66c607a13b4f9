package model

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func maxAmountString() string {
	// 2^128 - 1
	return "340282366920938463463374607431768211455"
}

func TestAmountBounds(t *testing.T) {
	max, err := AmountFromString(maxAmountString())
	require.NoError(t, err)
	assert.Equal(t, maxAmountString(), max.String())

	over := new(big.Int).Add(max.big(), big.NewInt(1))
	_, err = AmountFromBig(over)
	assert.Error(t, err)

	_, err = AmountFromString("-1")
	assert.Error(t, err)
}

func TestAmountCheckedArithmetic(t *testing.T) {
	max, err := AmountFromString(maxAmountString())
	require.NoError(t, err)

	_, ok := max.CheckedAdd(NewAmount(1))
	assert.False(t, ok, "add past the cap must fail")

	sum, ok := NewAmount(2).CheckedAdd(NewAmount(3))
	require.True(t, ok)
	assert.Equal(t, "5", sum.String())

	_, ok = NewAmount(2).CheckedSub(NewAmount(3))
	assert.False(t, ok, "subtraction below zero must fail")

	diff, ok := NewAmount(3).CheckedSub(NewAmount(3))
	require.True(t, ok)
	assert.True(t, diff.IsZero())

	_, ok = max.CheckedMul(2)
	assert.False(t, ok, "multiply past the cap must fail")

	_, ok = NewAmount(10).CheckedDiv(0)
	assert.False(t, ok)

	q, ok := NewAmount(10).CheckedDiv(3)
	require.True(t, ok)
	assert.Equal(t, "3", q.String())
}

func TestAmountZeroValue(t *testing.T) {
	var a Amount
	assert.True(t, a.IsZero())
	assert.Equal(t, "0", a.String())
	sum, ok := a.CheckedAdd(NewAmount(7))
	require.True(t, ok)
	assert.Equal(t, "7", sum.String())
}

func TestAmountJSONStringEncoding(t *testing.T) {
	max, err := AmountFromString(maxAmountString())
	require.NoError(t, err)

	raw, err := json.Marshal(max)
	require.NoError(t, err)
	assert.Equal(t, `"`+maxAmountString()+`"`, string(raw), "amounts must travel as strings")

	var back Amount
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Zero(t, max.Cmp(back))

	// bare integers are accepted on the way in
	require.NoError(t, json.Unmarshal([]byte(`12345`), &back))
	assert.Equal(t, "12345", back.String())

	assert.Error(t, json.Unmarshal([]byte(`"-1"`), &back))
}

func TestAmountDBRoundTrip(t *testing.T) {
	max, err := AmountFromString(maxAmountString())
	require.NoError(t, err)

	value, err := max.Value()
	require.NoError(t, err)
	assert.Equal(t, maxAmountString(), value, "NUMERIC values are written as strings")

	var scanned Amount
	require.NoError(t, scanned.Scan([]byte(maxAmountString())))
	assert.Zero(t, max.Cmp(scanned))

	require.NoError(t, scanned.Scan(int64(42)))
	assert.Equal(t, "42", scanned.String())

	assert.Error(t, scanned.Scan(int64(-1)))
}

func TestAmountSuperUnitConversion(t *testing.T) {
	// 1.5 ETH in wei
	amount, err := AmountFromString("1500000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "1.5", amount.ToSuperUnit(CurrencyETH).String())

	back, err := AmountFromSuperUnit(CurrencyETH, decimal.RequireFromString("1.5"))
	require.NoError(t, err)
	assert.Zero(t, amount.Cmp(back))

	// fractional minor units do not round silently
	_, err = AmountFromSuperUnit(CurrencyEUR, decimal.RequireFromString("0.001"))
	assert.Error(t, err)

	cents := NewAmount(199)
	assert.Equal(t, "1.99", cents.ToSuperUnit(CurrencyEUR).String())
}

func TestAmountInt64(t *testing.T) {
	v, ok := NewAmount(500).Int64()
	require.True(t, ok)
	assert.Equal(t, int64(500), v)

	max, err := AmountFromString(maxAmountString())
	require.NoError(t, err)
	_, ok = max.Int64()
	assert.False(t, ok)
}
