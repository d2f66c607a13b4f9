package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus is the buyer-side payment status.
type InvoiceStatus string

const (
	InvoiceStatusPaymentAwaited InvoiceStatus = "payment_awaited"
	InvoiceStatusPaid           InvoiceStatus = "paid"
	InvoiceStatusExpired        InvoiceStatus = "expired"
)

// Invoice is the buyer-side payable; payment is captured at invoice level.
// final_amount_paid and paid_at are set exactly when status becomes Paid.
type Invoice struct {
	ID                  uuid.UUID     `db:"id" json:"id"`
	BuyerUserID         int64         `db:"buyer_user_id" json:"buyer_user_id"`
	BuyerCurrency       Currency      `db:"buyer_currency" json:"buyer_currency"`
	AccountID           *uuid.UUID    `db:"account_id" json:"account_id,omitempty"`
	AmountCaptured      Amount        `db:"amount_captured" json:"amount_captured"`
	FinalAmountPaid     *Amount       `db:"final_amount_paid" json:"final_amount_paid,omitempty"`
	FinalCashbackAmount *Amount       `db:"final_cashback_amount" json:"final_cashback_amount,omitempty"`
	PaidAt              *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
	Status              InvoiceStatus `db:"status" json:"status"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updated_at"`
}

// NewInvoiceOrder is one order line of an invoice creation request.
type NewInvoiceOrder struct {
	ID             uuid.UUID
	StoreID        int64
	SellerCurrency Currency
	TotalAmount    Amount
	CashbackAmount Amount
}

// NewInvoice is the invoice creation request.
type NewInvoice struct {
	BuyerUserID   int64
	BuyerCurrency Currency
	Orders        []NewInvoiceOrder
}

// AmountReceived is one on-chain credit applied to an invoice. The unique
// transaction id makes credit application idempotent.
type AmountReceived struct {
	ID             uuid.UUID `db:"id" json:"id"`
	InvoiceID      uuid.UUID `db:"invoice_id" json:"invoice_id"`
	AmountReceived Amount    `db:"amount_received" json:"amount_received"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// InvoiceOrderDump is one order of an invoice read model, with the total
// converted into the buyer currency through the active rate.
type InvoiceOrderDump struct {
	Order          Order            `json:"order"`
	ExchangeRate   *decimal.Decimal `json:"exchange_rate,omitempty"`
	BuyerTotal     *Amount          `json:"buyer_total,omitempty"`
	HasMissingRate bool             `json:"has_missing_rate"`
}

// InvoiceDump is the invoice read model served to clients.
type InvoiceDump struct {
	Invoice         Invoice            `json:"invoice"`
	Orders          []InvoiceOrderDump `json:"orders"`
	WalletAddress   *string            `json:"wallet_address,omitempty"`
	RequiredTotal   *Amount            `json:"required_total,omitempty"`
	HasMissingRates bool               `json:"has_missing_rates"`
}
