package model

import (
	"time"

	"github.com/google/uuid"
)

// PayoutStatus is the seller payout lifecycle.
type PayoutStatus string

const (
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
)

// CryptoPayoutTarget describes the destination wallet of a crypto payout.
type CryptoPayoutTarget struct {
	Currency      Currency `db:"currency" json:"currency"`
	WalletAddress string   `db:"wallet_address" json:"wallet_address"`
	BlockchainFee Amount   `db:"blockchain_fee" json:"blockchain_fee"`
}

// Payout is a seller-directed transfer of funds accumulated from orders in
// PaymentToSellerNeeded. Persisted as one payout row plus one order_payout
// row per included order.
type Payout struct {
	ID          uuid.UUID          `db:"id" json:"id"`
	GrossAmount Amount             `db:"gross_amount" json:"gross_amount"`
	NetAmount   Amount             `db:"net_amount" json:"net_amount"`
	Target      CryptoPayoutTarget `json:"target"`
	UserID      int64              `db:"user_id" json:"user_id"`
	Status      PayoutStatus       `db:"status" json:"status"`
	InitiatedAt time.Time          `db:"initiated_at" json:"initiated_at"`
	CompletedAt *time.Time         `db:"completed_at" json:"completed_at,omitempty"`
	OrderIDs    []uuid.UUID        `json:"order_ids"`
}

// PayoutDetails carries the destination of a requested payout.
type PayoutDetails struct {
	Currency      Currency
	WalletAddress string
	BlockchainFee Amount
}

// PayOutToSellerPayload is the payout request.
type PayOutToSellerPayload struct {
	OrderIDs       []uuid.UUID
	UserID         int64
	PaymentDetails PayoutDetails
}

// Balance is a per-currency sum owed to a store.
type Balance struct {
	Currency Currency `json:"currency"`
	Amount   Amount   `json:"amount"`
}
