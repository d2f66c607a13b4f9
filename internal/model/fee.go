package model

import (
	"time"

	"github.com/google/uuid"
)

// FeeStatus is the platform-commission settlement status.
type FeeStatus string

const (
	FeeStatusNotPaid FeeStatus = "not_paid"
	FeeStatusPaid    FeeStatus = "paid"
	FeeStatusFail    FeeStatus = "fail"
)

// Fee is the platform's commission on a captured order.
type Fee struct {
	ID             int64      `db:"id" json:"id"`
	OrderID        uuid.UUID  `db:"order_id" json:"order_id"`
	Amount         Amount     `db:"amount" json:"amount"`
	Currency       Currency   `db:"currency" json:"currency"`
	Status         FeeStatus  `db:"status" json:"status"`
	ChargeID       *string    `db:"charge_id" json:"charge_id,omitempty"`
	CryptoAmount   *Amount    `db:"crypto_amount" json:"crypto_amount,omitempty"`
	CryptoCurrency *Currency  `db:"crypto_currency" json:"crypto_currency,omitempty"`
	Metadata       []byte     `db:"metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// NewFee is the payload for inserting a fee row.
type NewFee struct {
	OrderID  uuid.UUID
	Amount   Amount
	Currency Currency
	Status   FeeStatus
	ChargeID *string
	Metadata []byte
}
