// Package inmem provides an in-memory repository.Storage for service and
// worker tests. It mirrors the PostgreSQL behavior services rely on:
// transaction-id idempotency, at-most-one active rate per order, outbox
// claim semantics and the retry ceiling. It performs no ACL gating; the
// authorization layer is covered by its own tests.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/internal/repository"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

// Storage is the in-memory repository.Storage.
type Storage struct {
	mu sync.Mutex

	accounts           map[uuid.UUID]model.Account
	invoices           map[uuid.UUID]model.Invoice
	amountsReceived    map[uuid.UUID]model.AmountReceived
	orders             map[uuid.UUID]model.Order
	rates              []model.OrderExchangeRate
	nextRateID         int64
	intents            map[string]model.PaymentIntent
	intentInvoices     map[string]uuid.UUID
	intentFees         map[string]int64
	fees               map[int64]model.Fee
	nextFeeID          int64
	payouts            map[uuid.UUID]model.Payout
	orderPayouts       map[uuid.UUID]uuid.UUID
	subscriptions      map[int64]model.Subscription
	nextSubscriptionID int64
	storeSubs          map[int64]model.StoreSubscription
	subPayments        map[int64]model.SubscriptionPayment
	nextSubPaymentID   int64
	events             map[int64]*eventRecord
	nextEventID        int64
	roles              map[uuid.UUID]model.UserRole
	customers          map[int64]model.Customer
}

type eventRecord struct {
	entry model.EventEntry
}

// NewStorage builds an empty in-memory storage.
func NewStorage() *Storage {
	return &Storage{
		accounts:        map[uuid.UUID]model.Account{},
		invoices:        map[uuid.UUID]model.Invoice{},
		amountsReceived: map[uuid.UUID]model.AmountReceived{},
		orders:          map[uuid.UUID]model.Order{},
		intents:         map[string]model.PaymentIntent{},
		intentInvoices:  map[string]uuid.UUID{},
		intentFees:      map[string]int64{},
		fees:            map[int64]model.Fee{},
		payouts:         map[uuid.UUID]model.Payout{},
		orderPayouts:    map[uuid.UUID]uuid.UUID{},
		subscriptions:   map[int64]model.Subscription{},
		storeSubs:       map[int64]model.StoreSubscription{},
		subPayments:     map[int64]model.SubscriptionPayment{},
		events:          map[int64]*eventRecord{},
		roles:           map[uuid.UUID]model.UserRole{},
		customers:       map[int64]model.Customer{},
	}
}

// InTransaction runs fn against the same storage; in-memory operations are
// individually atomic and tests do not rely on rollback.
func (s *Storage) InTransaction(_ context.Context, fn func(repository.Factory) error) error {
	return fn(s)
}

func (s *Storage) Accounts() repository.AccountsRepo                 { return (*accountsRepo)(s) }
func (s *Storage) Invoices() repository.InvoicesRepo                 { return (*invoicesRepo)(s) }
func (s *Storage) AmountsReceived() repository.AmountsReceivedRepo   { return (*amountsReceivedRepo)(s) }
func (s *Storage) Orders() repository.OrdersRepo                     { return (*ordersRepo)(s) }
func (s *Storage) Rates() repository.RatesRepo                       { return (*ratesRepo)(s) }
func (s *Storage) PaymentIntents() repository.PaymentIntentsRepo     { return (*paymentIntentsRepo)(s) }
func (s *Storage) Fees() repository.FeesRepo                         { return (*feesRepo)(s) }
func (s *Storage) Payouts() repository.PayoutsRepo                   { return (*payoutsRepo)(s) }
func (s *Storage) Subscriptions() repository.SubscriptionsRepo       { return (*subscriptionsRepo)(s) }
func (s *Storage) StoreSubscriptions() repository.StoreSubscriptionsRepo {
	return (*storeSubscriptionsRepo)(s)
}
func (s *Storage) SubscriptionPayments() repository.SubscriptionPaymentsRepo {
	return (*subscriptionPaymentsRepo)(s)
}
func (s *Storage) EventStore() repository.EventStoreRepo { return (*eventStoreRepo)(s) }
func (s *Storage) UserRoles() repository.UserRolesRepo   { return (*userRolesRepo)(s) }
func (s *Storage) Customers() repository.CustomersRepo   { return (*customersRepo)(s) }

type accountsRepo Storage

func (r *accountsRepo) Create(_ context.Context, account model.NewAccount) (model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	created := model.Account{
		ID:            account.ID,
		Currency:      account.Currency,
		IsPooled:      account.IsPooled,
		WalletAddress: account.WalletAddress,
		CreatedAt:     time.Now(),
	}
	r.accounts[created.ID] = created
	return created, nil
}

func (r *accountsRepo) Get(_ context.Context, id uuid.UUID) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account, ok := r.accounts[id]; ok {
		return &account, nil
	}
	return nil, nil
}

func (r *accountsRepo) GetFreePooled(_ context.Context, currency model.Currency) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	linked := map[uuid.UUID]bool{}
	for _, invoice := range r.invoices {
		if invoice.AccountID != nil {
			linked[*invoice.AccountID] = true
		}
	}
	for _, account := range r.accounts {
		if account.IsPooled && account.Currency == currency && !linked[account.ID] {
			found := account
			return &found, nil
		}
	}
	return nil, nil
}

func (r *accountsRepo) CountPooled(_ context.Context, currency model.Currency) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, account := range r.accounts {
		if account.IsPooled && account.Currency == currency {
			count++
		}
	}
	return count, nil
}

func (r *accountsRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, id)
	return nil
}

type invoicesRepo Storage

func (r *invoicesRepo) Create(_ context.Context, invoice model.Invoice) (model.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	invoice.CreatedAt, invoice.UpdatedAt = now, now
	r.invoices[invoice.ID] = invoice
	return invoice, nil
}

func (r *invoicesRepo) Get(_ context.Context, id uuid.UUID) (*model.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if invoice, ok := r.invoices[id]; ok {
		return &invoice, nil
	}
	return nil, nil
}

func (r *invoicesRepo) GetByAccountID(_ context.Context, accountID uuid.UUID) (*model.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, invoice := range r.invoices {
		if invoice.AccountID != nil && *invoice.AccountID == accountID {
			found := invoice
			return &found, nil
		}
	}
	return nil, nil
}

func (r *invoicesRepo) SetAmountCaptured(_ context.Context, id uuid.UUID, captured model.Amount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	invoice, ok := r.invoices[id]
	if !ok {
		return errs.NotFound("invoice")
	}
	invoice.AmountCaptured = captured
	invoice.UpdatedAt = time.Now()
	r.invoices[id] = invoice
	return nil
}

func (r *invoicesRepo) AddAmountCaptured(_ context.Context, id uuid.UUID, delta model.Amount) (model.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	invoice, ok := r.invoices[id]
	if !ok {
		return model.Invoice{}, errs.NotFound("invoice")
	}
	next, ok := invoice.AmountCaptured.CheckedAdd(delta)
	if !ok {
		return model.Invoice{}, errs.New(errs.KindInternal, "captured amount overflow")
	}
	invoice.AmountCaptured = next
	invoice.UpdatedAt = time.Now()
	r.invoices[id] = invoice
	return invoice, nil
}

func (r *invoicesRepo) MarkPaid(_ context.Context, id uuid.UUID, finalAmount, finalCashback model.Amount, paidAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	invoice, ok := r.invoices[id]
	if !ok {
		return errs.NotFound("invoice")
	}
	if invoice.Status == model.InvoiceStatusPaid {
		return nil
	}
	invoice.Status = model.InvoiceStatusPaid
	invoice.FinalAmountPaid = &finalAmount
	invoice.FinalCashbackAmount = &finalCashback
	invoice.PaidAt = &paidAt
	invoice.UpdatedAt = time.Now()
	r.invoices[id] = invoice
	return nil
}

func (r *invoicesRepo) MarkExpired(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	invoice, ok := r.invoices[id]
	if !ok {
		return errs.NotFound("invoice")
	}
	if invoice.Status != model.InvoiceStatusPaymentAwaited {
		return nil
	}
	invoice.Status = model.InvoiceStatusExpired
	invoice.UpdatedAt = time.Now()
	r.invoices[id] = invoice
	return nil
}

func (r *invoicesRepo) UnlinkAccount(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	invoice, ok := r.invoices[id]
	if !ok {
		return errs.NotFound("invoice")
	}
	invoice.AccountID = nil
	invoice.UpdatedAt = time.Now()
	r.invoices[id] = invoice
	return nil
}

type amountsReceivedRepo Storage

func (r *amountsReceivedRepo) Create(_ context.Context, received model.AmountReceived) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.amountsReceived[received.ID]; exists {
		return errs.Constraint("amounts_received_pkey", "already_exists", "transaction already applied")
	}
	received.CreatedAt = time.Now()
	r.amountsReceived[received.ID] = received
	return nil
}

func (r *amountsReceivedRepo) SumForInvoice(_ context.Context, invoiceID uuid.UUID) (model.Amount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := model.NewAmount(0)
	for _, received := range r.amountsReceived {
		if received.InvoiceID == invoiceID {
			next, ok := sum.CheckedAdd(received.AmountReceived)
			if !ok {
				return model.Amount{}, errs.New(errs.KindInternal, "credit sum overflow")
			}
			sum = next
		}
	}
	return sum, nil
}

type ordersRepo Storage

func (r *ordersRepo) Create(_ context.Context, order model.Order) (model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	order.CreatedAt, order.UpdatedAt = now, now
	r.orders[order.ID] = order
	return order, nil
}

func (r *ordersRepo) Get(_ context.Context, id uuid.UUID) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order, ok := r.orders[id]; ok {
		return &order, nil
	}
	return nil, nil
}

func (r *ordersRepo) GetByInvoiceID(_ context.Context, invoiceID uuid.UUID) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var orders []model.Order
	for _, order := range r.orders {
		if order.InvoiceID == invoiceID {
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

func (r *ordersRepo) UpdateState(_ context.Context, id uuid.UUID, state model.PaymentState) (model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return model.Order{}, errs.NotFound("order")
	}
	order.State = state
	order.UpdatedAt = time.Now()
	r.orders[id] = order
	return order, nil
}

func (r *ordersRepo) SetStripeFee(_ context.Context, id uuid.UUID, fee model.Amount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return errs.NotFound("order")
	}
	order.StripeFee = &fee
	r.orders[id] = order
	return nil
}

func (r *ordersRepo) GetUnpaidToSeller(_ context.Context, storeID int64) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var orders []model.Order
	for _, order := range r.orders {
		if order.StoreID != storeID || order.State != model.PaymentStatePaymentToSellerNeeded {
			continue
		}
		if _, hasPayout := r.orderPayouts[order.ID]; hasPayout {
			continue
		}
		orders = append(orders, order)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

type ratesRepo Storage

func (r *ratesRepo) GetActiveByOrderID(_ context.Context, orderID uuid.UUID) (*model.OrderExchangeRate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rates {
		if r.rates[i].OrderID == orderID && r.rates[i].Status == model.ExchangeRateStatusActive {
			rate := r.rates[i]
			return &rate, nil
		}
	}
	return nil, nil
}

func (r *ratesRepo) AddNewActiveRate(_ context.Context, orderID uuid.UUID, exchangeID *uuid.UUID, rate decimal.Decimal) (model.OrderExchangeRate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rates {
		if r.rates[i].OrderID == orderID && r.rates[i].Status == model.ExchangeRateStatusActive {
			r.rates[i].Status = model.ExchangeRateStatusExpired
			r.rates[i].UpdatedAt = time.Now()
		}
	}
	r.nextRateID++
	now := time.Now()
	created := model.OrderExchangeRate{
		ID:           r.nextRateID,
		OrderID:      orderID,
		ExchangeID:   exchangeID,
		ExchangeRate: rate,
		Status:       model.ExchangeRateStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.rates = append(r.rates, created)
	return created, nil
}

func (r *ratesRepo) ExpireActiveRate(_ context.Context, orderID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rates {
		if r.rates[i].OrderID == orderID && r.rates[i].Status == model.ExchangeRateStatusActive {
			r.rates[i].Status = model.ExchangeRateStatusExpired
			r.rates[i].UpdatedAt = time.Now()
		}
	}
	return nil
}

// RatesForOrder returns every rate row of an order, for invariant tests.
func (s *Storage) RatesForOrder(orderID uuid.UUID) []model.OrderExchangeRate {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rates []model.OrderExchangeRate
	for _, rate := range s.rates {
		if rate.OrderID == orderID {
			rates = append(rates, rate)
		}
	}
	return rates
}

type paymentIntentsRepo Storage

func (r *paymentIntentsRepo) Create(_ context.Context, intent model.PaymentIntent) (model.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	intent.CreatedAt, intent.UpdatedAt = now, now
	r.intents[intent.ID] = intent
	return intent, nil
}

func (r *paymentIntentsRepo) Get(_ context.Context, id string) (*model.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if intent, ok := r.intents[id]; ok {
		return &intent, nil
	}
	return nil, nil
}

func (r *paymentIntentsRepo) Update(_ context.Context, intent model.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.intents[intent.ID]
	if !ok {
		return errs.NotFound("payment_intent")
	}
	intent.CreatedAt = stored.CreatedAt
	intent.UpdatedAt = time.Now()
	r.intents[intent.ID] = intent
	return nil
}

func (r *paymentIntentsRepo) LinkInvoice(_ context.Context, invoiceID uuid.UUID, intentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intentInvoices[intentID] = invoiceID
	return nil
}

func (r *paymentIntentsRepo) LinkFee(_ context.Context, feeID int64, intentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intentFees[intentID] = feeID
	return nil
}

func (r *paymentIntentsRepo) GetByInvoiceID(_ context.Context, invoiceID uuid.UUID) (*model.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for intentID, linked := range r.intentInvoices {
		if linked == invoiceID {
			if intent, ok := r.intents[intentID]; ok {
				return &intent, nil
			}
		}
	}
	return nil, nil
}

func (r *paymentIntentsRepo) InvoiceForIntent(_ context.Context, intentID string) (*uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if invoiceID, ok := r.intentInvoices[intentID]; ok {
		return &invoiceID, nil
	}
	return nil, nil
}

func (r *paymentIntentsRepo) FeeForIntent(_ context.Context, intentID string) (*int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if feeID, ok := r.intentFees[intentID]; ok {
		return &feeID, nil
	}
	return nil, nil
}

type feesRepo Storage

func (r *feesRepo) Create(_ context.Context, fee model.NewFee) (model.Fee, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextFeeID++
	now := time.Now()
	created := model.Fee{
		ID:        r.nextFeeID,
		OrderID:   fee.OrderID,
		Amount:    fee.Amount,
		Currency:  fee.Currency,
		Status:    fee.Status,
		ChargeID:  fee.ChargeID,
		Metadata:  fee.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.fees[created.ID] = created
	return created, nil
}

func (r *feesRepo) Get(_ context.Context, id int64) (*model.Fee, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fee, ok := r.fees[id]; ok {
		return &fee, nil
	}
	return nil, nil
}

func (r *feesRepo) GetByOrderID(_ context.Context, orderID uuid.UUID) (*model.Fee, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, fee := range r.fees {
		if fee.OrderID == orderID {
			found := fee
			return &found, nil
		}
	}
	return nil, nil
}

func (r *feesRepo) SetStatus(_ context.Context, id int64, status model.FeeStatus, chargeID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fee, ok := r.fees[id]
	if !ok {
		return errs.NotFound("fee")
	}
	fee.Status = status
	if chargeID != nil {
		fee.ChargeID = chargeID
	}
	fee.UpdatedAt = time.Now()
	r.fees[id] = fee
	return nil
}

type payoutsRepo Storage

func (r *payoutsRepo) Create(_ context.Context, payout model.Payout) (model.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, orderID := range payout.OrderIDs {
		if _, exists := r.orderPayouts[orderID]; exists {
			return model.Payout{}, errs.Constraint("order_payouts_pkey", "already_exists", "order already has a payout")
		}
	}
	r.payouts[payout.ID] = payout
	for _, orderID := range payout.OrderIDs {
		r.orderPayouts[orderID] = payout.ID
	}
	return payout, nil
}

func (r *payoutsRepo) Get(_ context.Context, id uuid.UUID) (*model.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if payout, ok := r.payouts[id]; ok {
		return &payout, nil
	}
	return nil, nil
}

func (r *payoutsRepo) GetByStoreID(_ context.Context, storeID int64) ([]model.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[uuid.UUID]bool{}
	var payouts []model.Payout
	for orderID, payoutID := range r.orderPayouts {
		order, ok := r.orders[orderID]
		if !ok || order.StoreID != storeID || seen[payoutID] {
			continue
		}
		seen[payoutID] = true
		payouts = append(payouts, r.payouts[payoutID])
	}
	sort.Slice(payouts, func(i, j int) bool { return payouts[i].InitiatedAt.Before(payouts[j].InitiatedAt) })
	return payouts, nil
}

func (r *payoutsRepo) ExistingForOrders(_ context.Context, orderIDs []uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var existing []uuid.UUID
	for _, orderID := range orderIDs {
		if _, ok := r.orderPayouts[orderID]; ok {
			existing = append(existing, orderID)
		}
	}
	return existing, nil
}

func (r *payoutsRepo) MarkCompleted(_ context.Context, id uuid.UUID, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	payout, ok := r.payouts[id]
	if !ok {
		return errs.NotFound("payout")
	}
	payout.Status = model.PayoutStatusCompleted
	payout.CompletedAt = &completedAt
	r.payouts[id] = payout
	return nil
}

type subscriptionsRepo Storage

func (r *subscriptionsRepo) Create(_ context.Context, sub model.Subscription) (model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSubscriptionID++
	sub.ID = r.nextSubscriptionID
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	r.subscriptions[sub.ID] = sub
	return sub, nil
}

func (r *subscriptionsRepo) GetUnpaid(_ context.Context) ([]model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var subs []model.Subscription
	for _, sub := range r.subscriptions {
		if sub.SubscriptionPaymentID == nil {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs, nil
}

func (r *subscriptionsRepo) ExistsForStoreOnDay(_ context.Context, storeID int64, day time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	y, m, d := day.Date()
	for _, sub := range r.subscriptions {
		sy, sm, sd := sub.CreatedAt.Date()
		if sub.StoreID == storeID && sy == y && sm == m && sd == d {
			return true, nil
		}
	}
	return false, nil
}

func (r *subscriptionsRepo) SetPaymentID(_ context.Context, ids []int64, paymentID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if sub, ok := r.subscriptions[id]; ok {
			sub.SubscriptionPaymentID = &paymentID
			r.subscriptions[id] = sub
		}
	}
	return nil
}

type storeSubscriptionsRepo Storage

func (r *storeSubscriptionsRepo) Get(_ context.Context, storeID int64) (*model.StoreSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.storeSubs[storeID]; ok {
		return &sub, nil
	}
	return nil, nil
}

func (r *storeSubscriptionsRepo) Create(_ context.Context, sub model.StoreSubscription) (model.StoreSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	sub.CreatedAt, sub.UpdatedAt = now, now
	r.storeSubs[sub.StoreID] = sub
	return sub, nil
}

func (r *storeSubscriptionsRepo) Update(_ context.Context, sub model.StoreSubscription) (model.StoreSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.storeSubs[sub.StoreID]
	if !ok {
		return model.StoreSubscription{}, errs.NotFound("store_subscription")
	}
	sub.CreatedAt = stored.CreatedAt
	sub.UpdatedAt = time.Now()
	r.storeSubs[sub.StoreID] = sub
	return sub, nil
}

type subscriptionPaymentsRepo Storage

func (r *subscriptionPaymentsRepo) Create(_ context.Context, payment model.SubscriptionPayment) (model.SubscriptionPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSubPaymentID++
	payment.ID = r.nextSubPaymentID
	payment.CreatedAt = time.Now()
	r.subPayments[payment.ID] = payment
	return payment, nil
}

func (r *subscriptionPaymentsRepo) GetByStoreID(_ context.Context, storeID int64) ([]model.SubscriptionPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var payments []model.SubscriptionPayment
	for _, payment := range r.subPayments {
		if payment.StoreID == storeID {
			payments = append(payments, payment)
		}
	}
	sort.Slice(payments, func(i, j int) bool { return payments[i].ID > payments[j].ID })
	return payments, nil
}

type eventStoreRepo Storage

func (r *eventStoreRepo) add(event model.Event, scheduledOn *time.Time) model.EventEntry {
	r.nextEventID++
	now := time.Now()
	entry := model.EventEntry{
		ID:              r.nextEventID,
		Event:           event,
		Status:          model.EventStatusPending,
		AttemptCount:    0,
		CreatedAt:       now,
		StatusUpdatedAt: now,
		ScheduledOn:     scheduledOn,
	}
	r.events[entry.ID] = &eventRecord{entry: entry}
	return entry
}

func (r *eventStoreRepo) AddEvent(_ context.Context, event model.Event) (model.EventEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.add(event, nil), nil
}

func (r *eventStoreRepo) AddScheduledEvent(_ context.Context, event model.Event, notBefore time.Time) (model.EventEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.add(event, &notBefore), nil
}

func (r *eventStoreRepo) GetEventsForProcessing(_ context.Context, limit int) ([]model.EventEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.events))
	for id := range r.events {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	now := time.Now()
	var claimed []model.EventEntry
	for _, id := range ids {
		if len(claimed) >= limit {
			break
		}
		record := r.events[id]
		if record.entry.Status != model.EventStatusPending {
			continue
		}
		if record.entry.ScheduledOn != nil && record.entry.ScheduledOn.After(now) {
			continue
		}
		record.entry.Status = model.EventStatusInProgress
		record.entry.AttemptCount++
		record.entry.StatusUpdatedAt = now
		claimed = append(claimed, record.entry)
	}
	return claimed, nil
}

func (r *eventStoreRepo) ResetStuckEvents(_ context.Context, stuckThreshold time.Duration, maxAttempts int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, record := range r.events {
		if record.entry.Status != model.EventStatusInProgress {
			continue
		}
		if record.entry.StatusUpdatedAt.Add(stuckThreshold).After(now) {
			continue
		}
		if record.entry.AttemptCount >= maxAttempts {
			record.entry.Status = model.EventStatusFailed
		} else {
			record.entry.Status = model.EventStatusPending
		}
		record.entry.StatusUpdatedAt = now
	}
	return nil
}

func (r *eventStoreRepo) CompleteEvent(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.events[id]
	if !ok || record.entry.Status != model.EventStatusInProgress {
		return errs.NotFound("event")
	}
	record.entry.Status = model.EventStatusCompleted
	record.entry.StatusUpdatedAt = time.Now()
	return nil
}

func (r *eventStoreRepo) FailEvent(_ context.Context, id int64, maxAttempts int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.events[id]
	if !ok || record.entry.Status != model.EventStatusInProgress {
		return errs.NotFound("event")
	}
	if record.entry.AttemptCount >= maxAttempts {
		record.entry.Status = model.EventStatusFailed
	} else {
		record.entry.Status = model.EventStatusPending
	}
	record.entry.StatusUpdatedAt = time.Now()
	return nil
}

// EventByID returns a snapshot of an outbox entry, for tests.
func (s *Storage) EventByID(id int64) (model.EventEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.events[id]; ok {
		return record.entry, true
	}
	return model.EventEntry{}, false
}

// Events returns snapshots of every outbox entry in id order, for tests.
func (s *Storage) Events() []model.EventEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	entries := make([]model.EventEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, s.events[id].entry)
	}
	return entries
}

type userRolesRepo Storage

func (r *userRolesRepo) RolesForUser(_ context.Context, userID int64) ([]model.UserRole, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var roles []model.UserRole
	for _, role := range r.roles {
		if role.UserID == userID {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

func (r *userRolesRepo) ListForUser(ctx context.Context, userID int64) ([]model.UserRole, error) {
	return r.RolesForUser(ctx, userID)
}

func (r *userRolesRepo) Create(_ context.Context, role model.NewUserRole) (model.UserRole, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	created := model.UserRole{ID: role.ID, UserID: role.UserID, Role: role.Role, Data: role.Data}
	r.roles[created.ID] = created
	return created, nil
}

func (r *userRolesRepo) DeleteByUserID(_ context.Context, userID int64) ([]model.UserRole, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted []model.UserRole
	for id, role := range r.roles {
		if role.UserID == userID {
			deleted = append(deleted, role)
			delete(r.roles, id)
		}
	}
	return deleted, nil
}

func (r *userRolesRepo) DeleteByID(_ context.Context, id uuid.UUID) (*model.UserRole, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role, ok := r.roles[id]; ok {
		delete(r.roles, id)
		return &role, nil
	}
	return nil, nil
}

type customersRepo Storage

func (r *customersRepo) Create(_ context.Context, customer model.Customer) (model.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.customers[customer.UserID]; exists {
		return model.Customer{}, errs.Constraint("customers_user_id_key", "already_exists", "customer already exists for user")
	}
	now := time.Now()
	customer.CreatedAt, customer.UpdatedAt = now, now
	r.customers[customer.UserID] = customer
	return customer, nil
}

func (r *customersRepo) GetByUserID(_ context.Context, userID int64) (*model.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if customer, ok := r.customers[userID]; ok {
		return &customer, nil
	}
	return nil, nil
}

func (r *customersRepo) GetForStore(_ context.Context, storeID int64) (*model.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range r.roles {
		managed, ok := role.StoreID()
		if !ok || managed != storeID {
			continue
		}
		if customer, found := r.customers[role.UserID]; found {
			return &customer, nil
		}
	}
	return nil, nil
}

func (r *customersRepo) Update(_ context.Context, customer model.Customer) (model.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.customers[customer.UserID]
	if !ok {
		return model.Customer{}, errs.NotFound("customer")
	}
	customer.CreatedAt = stored.CreatedAt
	customer.UpdatedAt = time.Now()
	r.customers[customer.UserID] = customer
	return customer, nil
}

func (r *customersRepo) Delete(_ context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.customers, userID)
	return nil
}
