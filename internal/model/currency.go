package model

import (
	"fmt"
	"strings"
)

// Currency is the closed set of currencies the billing core moves.
type Currency string

const (
	CurrencyETH Currency = "eth"
	CurrencySTQ Currency = "stq"
	CurrencyBTC Currency = "btc"
	CurrencyEUR Currency = "eur"
	CurrencyUSD Currency = "usd"
	CurrencyRUB Currency = "rub"
)

// Currencies lists every supported currency.
var Currencies = []Currency{CurrencyETH, CurrencySTQ, CurrencyBTC, CurrencyEUR, CurrencyUSD, CurrencyRUB}

// CryptoCurrencies is the crypto partition.
var CryptoCurrencies = []Currency{CurrencyETH, CurrencySTQ, CurrencyBTC}

// ParseCurrency converts a wire string into a Currency.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToLower(s))
	switch c {
	case CurrencyETH, CurrencySTQ, CurrencyBTC, CurrencyEUR, CurrencyUSD, CurrencyRUB:
		return c, nil
	}
	return "", fmt.Errorf("unknown currency: %q", s)
}

// IsCrypto reports whether the currency settles on-chain.
func (c Currency) IsCrypto() bool {
	switch c {
	case CurrencyETH, CurrencySTQ, CurrencyBTC:
		return true
	}
	return false
}

// IsFiat reports whether the currency settles through the card processor.
func (c Currency) IsFiat() bool {
	return !c.IsCrypto() && c != ""
}

// Exponent is the number of minor-unit decimal places of the currency.
func (c Currency) Exponent() int32 {
	switch c {
	case CurrencyBTC:
		return 8
	case CurrencyETH, CurrencySTQ:
		return 18
	default:
		return 2
	}
}

func (c Currency) String() string { return string(c) }
