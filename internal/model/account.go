package model

import (
	"time"

	"github.com/google/uuid"
)

// SystemAccountType distinguishes the configured system wallets.
type SystemAccountType string

const (
	SystemAccountMain     SystemAccountType = "main"
	SystemAccountCashback SystemAccountType = "cashback"
)

// Account is a crypto wallet known to the billing core. Pooled accounts are
// held idle and handed to new invoices to amortize wallet creation latency.
type Account struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Currency      Currency  `db:"currency" json:"currency"`
	IsPooled      bool      `db:"is_pooled" json:"is_pooled"`
	WalletAddress string    `db:"wallet_address" json:"wallet_address"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// NewAccount is the payload for creating an account row.
type NewAccount struct {
	ID            uuid.UUID
	Currency      Currency
	IsPooled      bool
	WalletAddress string
}
