package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentState is the seller-side order state machine. The set is closed;
// transitions happen only through the order service.
type PaymentState string

const (
	PaymentStateInitial               PaymentState = "initial"
	PaymentStateCaptured              PaymentState = "captured"
	PaymentStateDeclined              PaymentState = "declined"
	PaymentStateRefundNeeded          PaymentState = "refund_needed"
	PaymentStateRefunded              PaymentState = "refunded"
	PaymentStatePaymentToSellerNeeded PaymentState = "payment_to_seller_needed"
	PaymentStatePaidToSeller          PaymentState = "paid_to_seller"
)

// legalTransitions is the full transition relation of the state machine.
var legalTransitions = map[PaymentState][]PaymentState{
	PaymentStateInitial:               {PaymentStateCaptured, PaymentStateDeclined},
	PaymentStateCaptured:              {PaymentStatePaymentToSellerNeeded, PaymentStateRefundNeeded},
	PaymentStateRefundNeeded:          {PaymentStateRefunded},
	PaymentStatePaymentToSellerNeeded: {PaymentStatePaidToSeller},
}

// CanTransition reports whether from → to is a legal order state change.
func CanTransition(from, to PaymentState) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is a seller-side line item of an invoice; payouts and fees are
// computed per order.
type Order struct {
	ID             uuid.UUID    `db:"id" json:"id"`
	InvoiceID      uuid.UUID    `db:"invoice_id" json:"invoice_id"`
	StoreID        int64        `db:"store_id" json:"store_id"`
	SellerCurrency Currency     `db:"seller_currency" json:"seller_currency"`
	TotalAmount    Amount       `db:"total_amount" json:"total_amount"`
	CashbackAmount Amount       `db:"cashback_amount" json:"cashback_amount"`
	State          PaymentState `db:"state" json:"state"`
	StripeFee      *Amount      `db:"stripe_fee" json:"stripe_fee,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updated_at"`
}

// ExchangeRateStatus marks whether a quoted rate is still applicable.
type ExchangeRateStatus string

const (
	ExchangeRateStatusActive  ExchangeRateStatus = "active"
	ExchangeRateStatusExpired ExchangeRateStatus = "expired"
)

// OrderExchangeRate is one quoted seller→buyer rate for an order. At most
// one row per order is Active at any time.
type OrderExchangeRate struct {
	ID           int64              `db:"id" json:"id"`
	OrderID      uuid.UUID          `db:"order_id" json:"order_id"`
	ExchangeID   *uuid.UUID         `db:"exchange_id" json:"exchange_id,omitempty"`
	ExchangeRate decimal.Decimal    `db:"exchange_rate" json:"exchange_rate"`
	Status       ExchangeRateStatus `db:"status" json:"status"`
	CreatedAt    time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `db:"updated_at" json:"updated_at"`
}
