package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/StoriqaTeam/billing-sub000/internal/client/payments"
	"github.com/StoriqaTeam/billing-sub000/internal/client/stripe"
	"github.com/StoriqaTeam/billing-sub000/internal/config"
	"github.com/StoriqaTeam/billing-sub000/internal/events"
	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/internal/repository/inmem"
)

const testFeePercent = 5

// stubCards is a canned card processor. Every successful intent it creates
// is remembered so tests can assert against it.
type stubCards struct {
	mu            sync.Mutex
	nextIntent    int
	nextCharge    int
	captured      map[string]model.Amount
	charges       []stripe.Charge
	refunds       []stripe.Refund
	failCharge    bool
	failIntent    bool
	lastChargeAmt model.Amount
}

func newStubCards() *stubCards {
	return &stubCards{captured: map[string]model.Amount{}}
}

func (s *stubCards) CreateCustomerWithSource(_ context.Context, userID int64, email *string, _ string) (stripe.Customer, error) {
	return stripe.Customer{ID: fmt.Sprintf("cus_%d", userID), Email: email}, nil
}

func (s *stubCards) DeleteCustomer(context.Context, string) error { return nil }

func (s *stubCards) CreatePaymentIntent(_ context.Context, amount model.Amount, currency model.Currency) (stripe.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIntent {
		return stripe.PaymentIntent{}, fmt.Errorf("intent refused")
	}
	s.nextIntent++
	value, _ := amount.Int64()
	secret := "secret"
	return stripe.PaymentIntent{
		ID:           fmt.Sprintf("pi_%d", s.nextIntent),
		Amount:       value,
		Currency:     currency.String(),
		Status:       "requires_payment_method",
		ClientSecret: &secret,
	}, nil
}

func (s *stubCards) CapturePaymentIntent(_ context.Context, intentID string, amount model.Amount) (stripe.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captured[intentID] = amount
	value, _ := amount.Int64()
	return stripe.PaymentIntent{ID: intentID, Amount: value, Status: "succeeded"}, nil
}

func (s *stubCards) RefundCharge(_ context.Context, chargeID string, amount model.Amount) (stripe.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, _ := amount.Int64()
	refund := stripe.Refund{ID: fmt.Sprintf("re_%d", len(s.refunds)+1), Amount: value, Status: "succeeded"}
	s.refunds = append(s.refunds, refund)
	return refund, nil
}

func (s *stubCards) CreateCharge(_ context.Context, _ string, amount model.Amount, currency model.Currency, _ string) (stripe.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCharge {
		return stripe.Charge{}, fmt.Errorf("card declined")
	}
	s.nextCharge++
	value, _ := amount.Int64()
	charge := stripe.Charge{ID: fmt.Sprintf("ch_%d", s.nextCharge), Amount: value, Currency: currency.String(), Paid: true}
	s.charges = append(s.charges, charge)
	s.lastChargeAmt = amount
	return charge, nil
}

// recordingSaga keeps every announced order state transition.
type recordingSaga struct {
	mu     sync.Mutex
	states map[uuid.UUID][]model.PaymentState
}

func newRecordingSaga() *recordingSaga {
	return &recordingSaga{states: map[uuid.UUID][]model.PaymentState{}}
}

func (s *recordingSaga) OrderStateChanged(_ context.Context, orderID uuid.UUID, state model.PaymentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[orderID] = append(s.states[orderID], state)
	return nil
}

func (s *recordingSaga) statesFor(orderID uuid.UUID) []model.PaymentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.PaymentState(nil), s.states[orderID]...)
}

type testEnv struct {
	storage       *inmem.Storage
	gateway       *payments.Mock
	cards         *stubCards
	saga          *recordingSaga
	system        config.SystemAccounts
	accounts      *AccountService
	invoices      *InvoiceService
	fiat          *FiatService
	payouts       *PayoutService
	subscriptions *SubscriptionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	env := &testEnv{
		storage: inmem.NewStorage(),
		gateway: payments.NewMock(),
		cards:   newStubCards(),
		saga:    newRecordingSaga(),
		system: config.SystemAccounts{
			MainSTQ:     uuid.New(),
			MainETH:     uuid.New(),
			MainBTC:     uuid.New(),
			CashbackSTQ: uuid.New(),
		},
	}
	env.accounts = NewAccountService(env.storage, env.gateway, env.system, 2, log)
	env.invoices = NewInvoiceService(env.storage, env.gateway, env.cards, env.saga, env.accounts, events.Noop{}, testFeePercent, config.PaymentExpiry{
		CryptoTimeoutMin: 60,
		FiatTimeoutMin:   15,
	}, log)
	env.fiat = NewFiatService(env.storage, env.cards, env.saga, events.Noop{}, testFeePercent, "whsec_test", log)
	env.payouts = NewPayoutService(env.storage, env.gateway, env.saga, env.accounts, log)
	env.subscriptions = NewSubscriptionService(env.storage, env.gateway, env.cards, env.accounts, config.Subscription{
		PeriodicityDays:       30,
		TrialTimeDurationDays: 30,
	}, log)

	ctx := context.Background()
	require.NoError(t, env.accounts.InitSystemAccounts(ctx))
	require.NoError(t, env.accounts.InitAccountPools(ctx))
	return env
}

// stqAmount converts whole STQ into minor units.
func stqAmount(t *testing.T, units int64) model.Amount {
	t.Helper()
	amount, err := model.AmountFromSuperUnit(model.CurrencySTQ, decimal.NewFromInt(units))
	require.NoError(t, err)
	return amount
}

func (env *testEnv) pendingEvents(t *testing.T, kind model.EventKind) []model.EventEntry {
	t.Helper()
	var matched []model.EventEntry
	for _, entry := range env.storage.Events() {
		if entry.Event.Kind == kind && entry.Status == model.EventStatusPending {
			matched = append(matched, entry)
		}
	}
	return matched
}
