// Package service implements the billing workflows on top of the repository
// layer and the external clients. Services validate input, open the DB
// transaction, and emit outbox events; durable side effects on external
// systems happen in the worker.
package service

import (
	"github.com/shopspring/decimal"

	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

// convertToBuyer converts an order total from the seller currency into the
// buyer currency through the quoted rate, rounding half-to-even onto buyer
// minor units. An identity rate short-circuits.
func convertToBuyer(total model.Amount, seller, buyer model.Currency, rate decimal.Decimal) (model.Amount, error) {
	if seller == buyer {
		return total, nil
	}
	super := total.ToSuperUnit(seller).Mul(rate)
	minor := super.Shift(buyer.Exponent()).RoundBank(0)
	converted, err := model.AmountFromBig(minor.BigInt())
	if err != nil {
		return model.Amount{}, errs.Internal(err, "currency conversion out of range")
	}
	return converted, nil
}

// feeAmount is the platform commission on an order total, rounded
// half-to-even onto the order currency's minor units.
func feeAmount(total model.Amount, currency model.Currency, percent int64) (model.Amount, error) {
	super := total.ToSuperUnit(currency).
		Mul(decimal.NewFromInt(percent)).
		Div(decimal.NewFromInt(100))
	minor := super.Shift(currency.Exponent()).RoundBank(0)
	fee, err := model.AmountFromBig(minor.BigInt())
	if err != nil {
		return model.Amount{}, errs.Internal(err, "fee amount out of range")
	}
	return fee, nil
}
