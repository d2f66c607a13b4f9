// Package payments talks to the crypto-payments gateway that holds the
// platform's wallets. Mutating calls carry caller-generated UUIDs so every
// operation is idempotent on the gateway side.
package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/StoriqaTeam/billing-sub000/internal/model"
)

// Account is a gateway-side wallet.
type Account struct {
	ID            uuid.UUID      `json:"id"`
	Currency      model.Currency `json:"currency"`
	Name          string         `json:"name"`
	WalletAddress string         `json:"account_address"`
	Balance       model.Amount   `json:"balance"`
}

// CreateAccountInput carries a caller-generated account id so retries do not
// mint duplicate wallets.
type CreateAccountInput struct {
	ID       uuid.UUID      `json:"id"`
	Currency model.Currency `json:"currency"`
	Name     string         `json:"name"`
}

// Rate is a quoted currency conversion, valid until ExpiresAt.
type Rate struct {
	ID        uuid.UUID       `json:"id"`
	From      model.Currency  `json:"from"`
	To        model.Currency  `json:"to"`
	Amount    model.Amount    `json:"amount"`
	Rate      decimal.Decimal `json:"rate"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// GetRateInput requests a quote for converting Amount of From into To.
type GetRateInput struct {
	ID     uuid.UUID      `json:"id"`
	From   model.Currency `json:"from"`
	To     model.Currency `json:"to"`
	Amount model.Amount   `json:"amount"`
}

// TransferInput moves Amount between two gateway accounts. ID is the
// caller-generated idempotency key.
type TransferInput struct {
	ID            uuid.UUID      `json:"id"`
	FromAccountID uuid.UUID      `json:"from"`
	ToAccountID   uuid.UUID      `json:"to"`
	Amount        model.Amount   `json:"value"`
	Currency      model.Currency `json:"value_currency"`
}

// Fee is one blockchain fee option (higher fee, faster confirmation).
type Fee struct {
	Currency      model.Currency `json:"currency"`
	Value         model.Amount   `json:"value"`
	EstimatedTime int64          `json:"estimated_time"`
}

// WithdrawInput sends Amount from a gateway account to an external wallet
// address. ID is the caller-generated idempotency key.
type WithdrawInput struct {
	ID            uuid.UUID      `json:"id"`
	AccountID     uuid.UUID      `json:"from"`
	ToAddress     string         `json:"to"`
	Amount        model.Amount   `json:"value"`
	Currency      model.Currency `json:"value_currency"`
	BlockchainFee model.Amount   `json:"fee"`
}

// Client is the gateway API surface the billing core uses.
type Client interface {
	CreateAccount(ctx context.Context, input CreateAccountInput) (Account, error)
	DeleteAccount(ctx context.Context, id uuid.UUID) error
	GetAccount(ctx context.Context, id uuid.UUID) (Account, error)
	// AccountByAddress resolves a gateway account by its wallet address.
	AccountByAddress(ctx context.Context, currency model.Currency, address string) (Account, error)
	GetRate(ctx context.Context, input GetRateInput) (Rate, error)
	RefreshRate(ctx context.Context, rateID uuid.UUID) (Rate, error)
	GetFees(ctx context.Context, currency model.Currency) ([]Fee, error)
	CreateInternalTransfer(ctx context.Context, input TransferInput) error
	Withdraw(ctx context.Context, input WithdrawInput) error
}
