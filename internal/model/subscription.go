package model

import (
	"time"
)

// StoreSubscriptionStatus is the store-subscription lifecycle.
type StoreSubscriptionStatus string

const (
	StoreSubscriptionStatusTrial StoreSubscriptionStatus = "trial"
	StoreSubscriptionStatusPaid  StoreSubscriptionStatus = "paid"
	StoreSubscriptionStatusFree  StoreSubscriptionStatus = "free"
)

// StoreSubscription is the per-store billing agreement: a value charged per
// published product per billing cycle.
type StoreSubscription struct {
	StoreID        int64                   `db:"store_id" json:"store_id"`
	Currency       Currency                `db:"currency" json:"currency"`
	Value          Amount                  `db:"value" json:"value"`
	WalletAddress  *string                 `db:"wallet_address" json:"wallet_address,omitempty"`
	TrialStartDate *time.Time              `db:"trial_start_date" json:"trial_start_date,omitempty"`
	Status         StoreSubscriptionStatus `db:"status" json:"status"`
	CreatedAt      time.Time               `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time               `db:"updated_at" json:"updated_at"`
}

// Subscription is one daily product-count snapshot for a store, awaiting
// collection. subscription_payment_id is set exactly when it has been paid.
type Subscription struct {
	ID                            int64     `db:"id" json:"id"`
	StoreID                       int64     `db:"store_id" json:"store_id"`
	PublishedBaseProductsQuantity int64     `db:"published_base_products_quantity" json:"published_base_products_quantity"`
	SubscriptionPaymentID         *int64    `db:"subscription_payment_id" json:"subscription_payment_id,omitempty"`
	CreatedAt                     time.Time `db:"created_at" json:"created_at"`
}

// SubscriptionPaymentStatus is the outcome of one collection attempt.
type SubscriptionPaymentStatus string

const (
	SubscriptionPaymentStatusPaid   SubscriptionPaymentStatus = "paid"
	SubscriptionPaymentStatusFailed SubscriptionPaymentStatus = "failed"
)

// SubscriptionPayment is one per-store collection across a batch of
// subscriptions.
type SubscriptionPayment struct {
	ID            int64                     `db:"id" json:"id"`
	StoreID       int64                     `db:"store_id" json:"store_id"`
	Amount        Amount                    `db:"amount" json:"amount"`
	Currency      Currency                  `db:"currency" json:"currency"`
	ChargeID      *string                   `db:"charge_id" json:"charge_id,omitempty"`
	TransactionID *string                   `db:"transaction_id" json:"transaction_id,omitempty"`
	Status        SubscriptionPaymentStatus `db:"status" json:"status"`
	CreatedAt     time.Time                 `db:"created_at" json:"created_at"`
}
