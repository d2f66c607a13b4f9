package model

import (
	"time"

	"github.com/google/uuid"
)

// PaymentIntentStatus mirrors the card processor's intent lifecycle.
type PaymentIntentStatus string

const (
	PaymentIntentStatusRequiresPaymentMethod PaymentIntentStatus = "requires_payment_method"
	PaymentIntentStatusRequiresCapture       PaymentIntentStatus = "requires_capture"
	PaymentIntentStatusProcessing            PaymentIntentStatus = "processing"
	PaymentIntentStatusSucceeded             PaymentIntentStatus = "succeeded"
	PaymentIntentStatusCanceled              PaymentIntentStatus = "canceled"
)

// PaymentIntent is the local mirror of a card-processor payment intent.
// The id is provider-issued. Join tables link an intent to either an
// invoice or a fee, never both.
type PaymentIntent struct {
	ID                      string              `db:"id" json:"id"`
	Amount                  Amount              `db:"amount" json:"amount"`
	AmountReceived          Amount              `db:"amount_received" json:"amount_received"`
	Currency                Currency            `db:"currency" json:"currency"`
	ChargeID                *string             `db:"charge_id" json:"charge_id,omitempty"`
	Status                  PaymentIntentStatus `db:"status" json:"status"`
	ClientSecret            *string             `db:"client_secret" json:"client_secret,omitempty"`
	LastPaymentErrorMessage *string             `db:"last_payment_error_message" json:"last_payment_error_message,omitempty"`
	CreatedAt               time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time           `db:"updated_at" json:"updated_at"`
}

// PaymentIntentInvoice links a payment intent to the invoice it funds.
type PaymentIntentInvoice struct {
	ID              int64     `db:"id" json:"id"`
	InvoiceID       uuid.UUID `db:"invoice_id" json:"invoice_id"`
	PaymentIntentID string    `db:"payment_intent_id" json:"payment_intent_id"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// PaymentIntentFee links a payment intent to the fee it settles.
type PaymentIntentFee struct {
	ID              int64     `db:"id" json:"id"`
	FeeID           int64     `db:"fee_id" json:"fee_id"`
	PaymentIntentID string    `db:"payment_intent_id" json:"payment_intent_id"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Customer is the card-processor handle for a user's saved payment sources.
// One customer per user.
type Customer struct {
	ID        string    `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Email     *string   `db:"email" json:"email,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
