// Package repository defines per-entity persistence interfaces and their
// PostgreSQL implementations. Every repository call performs an ACL check:
// after the DB read for reads, before the write for mutations. Mutating
// methods join the caller's transaction; the few explicitly noted methods
// manage their own.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/StoriqaTeam/billing-sub000/internal/model"
)

// AccountsRepo persists crypto wallet accounts.
type AccountsRepo interface {
	Create(ctx context.Context, account model.NewAccount) (model.Account, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Account, error)
	// GetFreePooled returns one pooled account of the currency not linked
	// to any invoice, or nil.
	GetFreePooled(ctx context.Context, currency model.Currency) (*model.Account, error)
	CountPooled(ctx context.Context, currency model.Currency) (int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// InvoicesRepo persists buyer-side invoices.
type InvoicesRepo interface {
	Create(ctx context.Context, invoice model.Invoice) (model.Invoice, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Invoice, error)
	GetByAccountID(ctx context.Context, accountID uuid.UUID) (*model.Invoice, error)
	SetAmountCaptured(ctx context.Context, id uuid.UUID, captured model.Amount) error
	// AddAmountCaptured atomically increments the captured amount and
	// returns the fresh row; concurrent credits serialize on the invoice.
	AddAmountCaptured(ctx context.Context, id uuid.UUID, delta model.Amount) (model.Invoice, error)
	// MarkPaid freezes the final amounts and stamps paid_at.
	MarkPaid(ctx context.Context, id uuid.UUID, finalAmount, finalCashback model.Amount, paidAt time.Time) error
	// MarkExpired times out the invoice; a no-op unless it still awaits
	// payment.
	MarkExpired(ctx context.Context, id uuid.UUID) error
	UnlinkAccount(ctx context.Context, id uuid.UUID) error
}

// AmountsReceivedRepo records on-chain credits. Create returns a
// Constraints error when the transaction id was already applied.
type AmountsReceivedRepo interface {
	Create(ctx context.Context, received model.AmountReceived) error
	SumForInvoice(ctx context.Context, invoiceID uuid.UUID) (model.Amount, error)
}

// OrdersRepo persists seller-side orders.
type OrdersRepo interface {
	Create(ctx context.Context, order model.Order) (model.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Order, error)
	GetByInvoiceID(ctx context.Context, invoiceID uuid.UUID) ([]model.Order, error)
	UpdateState(ctx context.Context, id uuid.UUID, state model.PaymentState) (model.Order, error)
	SetStripeFee(ctx context.Context, id uuid.UUID, fee model.Amount) error
	// GetUnpaidToSeller returns the store's orders in PaymentToSellerNeeded
	// that have no payout yet.
	GetUnpaidToSeller(ctx context.Context, storeID int64) ([]model.Order, error)
}

// RatesRepo persists per-order exchange rate history. AddNewActiveRate
// serializes on the order's rate rows so at most one Active row exists per
// order; it joins the caller's transaction when invoked inside one and
// opens its own otherwise.
type RatesRepo interface {
	GetActiveByOrderID(ctx context.Context, orderID uuid.UUID) (*model.OrderExchangeRate, error)
	AddNewActiveRate(ctx context.Context, orderID uuid.UUID, exchangeID *uuid.UUID, rate decimal.Decimal) (model.OrderExchangeRate, error)
	ExpireActiveRate(ctx context.Context, orderID uuid.UUID) error
}

// PaymentIntentsRepo persists card-processor payment intents and their
// invoice/fee join rows.
type PaymentIntentsRepo interface {
	Create(ctx context.Context, intent model.PaymentIntent) (model.PaymentIntent, error)
	Get(ctx context.Context, id string) (*model.PaymentIntent, error)
	Update(ctx context.Context, intent model.PaymentIntent) error
	LinkInvoice(ctx context.Context, invoiceID uuid.UUID, intentID string) error
	LinkFee(ctx context.Context, feeID int64, intentID string) error
	GetByInvoiceID(ctx context.Context, invoiceID uuid.UUID) (*model.PaymentIntent, error)
	InvoiceForIntent(ctx context.Context, intentID string) (*uuid.UUID, error)
	FeeForIntent(ctx context.Context, intentID string) (*int64, error)
}

// FeesRepo persists platform commission rows.
type FeesRepo interface {
	Create(ctx context.Context, fee model.NewFee) (model.Fee, error)
	Get(ctx context.Context, id int64) (*model.Fee, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*model.Fee, error)
	SetStatus(ctx context.Context, id int64, status model.FeeStatus, chargeID *string) error
}

// PayoutsRepo persists payouts and their order links.
type PayoutsRepo interface {
	Create(ctx context.Context, payout model.Payout) (model.Payout, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Payout, error)
	GetByStoreID(ctx context.Context, storeID int64) ([]model.Payout, error)
	// ExistingForOrders returns the subset of order ids that already have a
	// payout.
	ExistingForOrders(ctx context.Context, orderIDs []uuid.UUID) ([]uuid.UUID, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error
}

// SubscriptionsRepo persists daily product-count snapshots.
type SubscriptionsRepo interface {
	Create(ctx context.Context, sub model.Subscription) (model.Subscription, error)
	GetUnpaid(ctx context.Context) ([]model.Subscription, error)
	ExistsForStoreOnDay(ctx context.Context, storeID int64, day time.Time) (bool, error)
	SetPaymentID(ctx context.Context, ids []int64, paymentID int64) error
}

// StoreSubscriptionsRepo persists per-store billing agreements.
type StoreSubscriptionsRepo interface {
	Get(ctx context.Context, storeID int64) (*model.StoreSubscription, error)
	Create(ctx context.Context, sub model.StoreSubscription) (model.StoreSubscription, error)
	Update(ctx context.Context, sub model.StoreSubscription) (model.StoreSubscription, error)
}

// SubscriptionPaymentsRepo persists per-store collection outcomes.
type SubscriptionPaymentsRepo interface {
	Create(ctx context.Context, payment model.SubscriptionPayment) (model.SubscriptionPayment, error)
	GetByStoreID(ctx context.Context, storeID int64) ([]model.SubscriptionPayment, error)
}

// EventStoreRepo is the transactional outbox. AddEvent joins the caller's
// transaction; the state-transition methods run their own SQL-level atomic
// statements and are safe under concurrent workers.
type EventStoreRepo interface {
	AddEvent(ctx context.Context, event model.Event) (model.EventEntry, error)
	AddScheduledEvent(ctx context.Context, event model.Event, notBefore time.Time) (model.EventEntry, error)
	GetEventsForProcessing(ctx context.Context, limit int) ([]model.EventEntry, error)
	ResetStuckEvents(ctx context.Context, stuckThreshold time.Duration, maxAttempts int32) error
	CompleteEvent(ctx context.Context, id int64) error
	FailEvent(ctx context.Context, id int64, maxAttempts int32) error
}

// UserRolesRepo persists role grants.
type UserRolesRepo interface {
	RolesForUser(ctx context.Context, userID int64) ([]model.UserRole, error)
	ListForUser(ctx context.Context, userID int64) ([]model.UserRole, error)
	Create(ctx context.Context, role model.NewUserRole) (model.UserRole, error)
	DeleteByUserID(ctx context.Context, userID int64) ([]model.UserRole, error)
	DeleteByID(ctx context.Context, id uuid.UUID) (*model.UserRole, error)
}

// CustomersRepo persists card-processor customer mappings.
type CustomersRepo interface {
	Create(ctx context.Context, customer model.Customer) (model.Customer, error)
	GetByUserID(ctx context.Context, userID int64) (*model.Customer, error)
	// GetForStore returns the customer of a user managing the store, if any.
	GetForStore(ctx context.Context, storeID int64) (*model.Customer, error)
	Update(ctx context.Context, customer model.Customer) (model.Customer, error)
	Delete(ctx context.Context, userID int64) error
}

// Factory aggregates the per-entity repositories so services can be
// constructed against a single handle (and tests against an in-memory one).
type Factory interface {
	Accounts() AccountsRepo
	Invoices() InvoicesRepo
	AmountsReceived() AmountsReceivedRepo
	Orders() OrdersRepo
	Rates() RatesRepo
	PaymentIntents() PaymentIntentsRepo
	Fees() FeesRepo
	Payouts() PayoutsRepo
	Subscriptions() SubscriptionsRepo
	StoreSubscriptions() StoreSubscriptionsRepo
	SubscriptionPayments() SubscriptionPaymentsRepo
	EventStore() EventStoreRepo
	UserRoles() UserRolesRepo
	Customers() CustomersRepo
}

// Storage is a Factory that can open transactions. The factory passed to
// the callback is bound to the transaction.
type Storage interface {
	Factory
	InTransaction(ctx context.Context, fn func(Factory) error) error
}
