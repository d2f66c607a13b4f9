package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

func cryptoInvoiceInput(t *testing.T, total model.Amount) model.NewInvoice {
	t.Helper()
	return model.NewInvoice{
		BuyerUserID:   77,
		BuyerCurrency: model.CurrencySTQ,
		Orders: []model.NewInvoiceOrder{{
			ID:             uuid.New(),
			StoreID:        10,
			SellerCurrency: model.CurrencySTQ,
			TotalAmount:    total,
		}},
	}
}

func TestCreateCryptoInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	total := stqAmount(t, 5000)

	dump, err := env.invoices.CreateInvoice(ctx, cryptoInvoiceInput(t, total))
	require.NoError(t, err)

	assert.Equal(t, model.InvoiceStatusPaymentAwaited, dump.Invoice.Status)
	require.NotNil(t, dump.Invoice.AccountID, "crypto invoices get a deposit account")
	require.NotNil(t, dump.WalletAddress)
	require.NotNil(t, dump.RequiredTotal)
	assert.Zero(t, total.Cmp(*dump.RequiredTotal))
	require.Len(t, dump.Orders, 1)
	require.NotNil(t, dump.Orders[0].ExchangeRate)
	assert.True(t, dump.Orders[0].ExchangeRate.Equal(decimal.NewFromInt(1)), "same-currency orders carry the identity rate")
	assert.Equal(t, model.PaymentStateInitial, dump.Orders[0].Order.State)
}

func TestCreateInvoiceValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.invoices.CreateInvoice(ctx, model.NewInvoice{BuyerUserID: 1, BuyerCurrency: model.CurrencySTQ})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = env.invoices.CreateInvoice(ctx, model.NewInvoice{
		BuyerUserID:   1,
		BuyerCurrency: model.Currency("doge"),
		Orders: []model.NewInvoiceOrder{{
			ID:             uuid.New(),
			StoreID:        3,
			SellerCurrency: model.CurrencyEUR,
			TotalAmount:    model.NewAmount(100),
		}},
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestCryptoInvoicesGetDistinctAccounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// the pool starts with two free wallets; the third invoice forces a mint
	seen := map[uuid.UUID]bool{}
	for i := 0; i < 3; i++ {
		dump, err := env.invoices.CreateInvoice(ctx, cryptoInvoiceInput(t, stqAmount(t, 100)))
		require.NoError(t, err)
		require.NotNil(t, dump.Invoice.AccountID)
		assert.False(t, seen[*dump.Invoice.AccountID], "every open invoice holds its own deposit account")
		seen[*dump.Invoice.AccountID] = true
	}
}

func TestCryptoInvoicePaidEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	total := stqAmount(t, 5000)

	dump, err := env.invoices.CreateInvoice(ctx, cryptoInvoiceInput(t, total))
	require.NoError(t, err)
	invoiceID := dump.Invoice.ID
	accountID := *dump.Invoice.AccountID
	orderID := dump.Orders[0].Order.ID

	require.NoError(t, env.gateway.Deposit(accountID, total))
	require.NoError(t, env.invoices.ApplyCredit(ctx, accountID, uuid.New(), total))

	// credit application only enqueues the paid transition
	invoice, err := env.storage.Invoices().Get(ctx, invoiceID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusPaymentAwaited, invoice.Status)
	assert.Zero(t, total.Cmp(invoice.AmountCaptured))
	require.Len(t, env.pendingEvents(t, model.EventKindInvoicePaid), 1)

	require.NoError(t, env.invoices.SettleInvoice(ctx, invoiceID))

	invoice, err = env.storage.Invoices().Get(ctx, invoiceID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusPaid, invoice.Status)
	require.NotNil(t, invoice.FinalAmountPaid)
	assert.Zero(t, total.Cmp(*invoice.FinalAmountPaid))
	require.NotNil(t, invoice.PaidAt)
	assert.Nil(t, invoice.AccountID, "the deposit account is released on settlement")

	order, err := env.storage.Orders().Get(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatePaymentToSellerNeeded, order.State)
	assert.Contains(t, env.saga.statesFor(orderID), model.PaymentStatePaymentToSellerNeeded)

	fee, err := env.storage.Fees().GetByOrderID(ctx, orderID)
	require.NoError(t, err)
	require.NotNil(t, fee)
	assert.Equal(t, model.FeeStatusNotPaid, fee.Status)
	expectedFee := stqAmount(t, 250) // 5% of 5000
	assert.Zero(t, expectedFee.Cmp(fee.Amount))

	// the deposit drained into the system main account
	main, err := env.gateway.GetAccount(ctx, env.system.MainSTQ)
	require.NoError(t, err)
	assert.Zero(t, total.Cmp(main.Balance))
	drained, err := env.gateway.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, drained.Balance.IsZero())
}

func TestApplyCreditDuplicateTransaction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	total := stqAmount(t, 5000)

	dump, err := env.invoices.CreateInvoice(ctx, cryptoInvoiceInput(t, total))
	require.NoError(t, err)
	accountID := *dump.Invoice.AccountID

	transactionID := uuid.New()
	require.NoError(t, env.invoices.ApplyCredit(ctx, accountID, transactionID, total))
	// the replayed callback is swallowed without side effects
	require.NoError(t, env.invoices.ApplyCredit(ctx, accountID, transactionID, total))

	invoice, err := env.storage.Invoices().Get(ctx, dump.Invoice.ID)
	require.NoError(t, err)
	assert.Zero(t, total.Cmp(invoice.AmountCaptured), "captured amount counted once")
	assert.Len(t, env.pendingEvents(t, model.EventKindInvoicePaid), 1)
}

func TestApplyCreditConcurrentDeposits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const deposits = 8
	required := stqAmount(t, deposits)
	unit := stqAmount(t, 1)

	dump, err := env.invoices.CreateInvoice(ctx, cryptoInvoiceInput(t, required))
	require.NoError(t, err)
	accountID := *dump.Invoice.AccountID

	start := make(chan struct{})
	results := make([]error, deposits)
	var wg sync.WaitGroup
	for i := 0; i < deposits; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = env.invoices.ApplyCredit(ctx, accountID, uuid.New(), unit)
		}(i)
	}
	close(start)
	wg.Wait()
	for _, err := range results {
		require.NoError(t, err)
	}

	invoice, err := env.storage.Invoices().Get(ctx, dump.Invoice.ID)
	require.NoError(t, err)
	sum, err := env.storage.AmountsReceived().SumForInvoice(ctx, dump.Invoice.ID)
	require.NoError(t, err)
	assert.Zero(t, invoice.AmountCaptured.Cmp(sum), "no concurrent credit is lost")
	assert.Zero(t, required.Cmp(invoice.AmountCaptured))
	assert.Len(t, env.pendingEvents(t, model.EventKindInvoicePaid), 1)
}

func TestApplyCreditOverpayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	required := stqAmount(t, 5000)
	first := stqAmount(t, 3000)
	second := stqAmount(t, 4000)

	dump, err := env.invoices.CreateInvoice(ctx, cryptoInvoiceInput(t, required))
	require.NoError(t, err)
	invoiceID := dump.Invoice.ID
	accountID := *dump.Invoice.AccountID

	require.NoError(t, env.invoices.ApplyCredit(ctx, accountID, uuid.New(), first))
	assert.Empty(t, env.pendingEvents(t, model.EventKindInvoicePaid), "partial payment does not pay the invoice")

	require.NoError(t, env.invoices.ApplyCredit(ctx, accountID, uuid.New(), second))
	require.Len(t, env.pendingEvents(t, model.EventKindInvoicePaid), 1)

	overpaid, ok := first.CheckedAdd(second)
	require.True(t, ok)
	require.NoError(t, env.gateway.Deposit(accountID, overpaid))
	require.NoError(t, env.invoices.SettleInvoice(ctx, invoiceID))

	invoice, err := env.storage.Invoices().Get(ctx, invoiceID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusPaid, invoice.Status)
	require.NotNil(t, invoice.FinalAmountPaid)
	assert.Zero(t, overpaid.Cmp(*invoice.FinalAmountPaid), "the full received amount is kept")
}

func TestSettleInvoiceIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	total := stqAmount(t, 1000)

	dump, err := env.invoices.CreateInvoice(ctx, cryptoInvoiceInput(t, total))
	require.NoError(t, err)
	invoiceID := dump.Invoice.ID
	accountID := *dump.Invoice.AccountID

	require.NoError(t, env.gateway.Deposit(accountID, total))
	require.NoError(t, env.invoices.ApplyCredit(ctx, accountID, uuid.New(), total))
	require.NoError(t, env.invoices.SettleInvoice(ctx, invoiceID))
	// a redelivered event converges on the same state
	require.NoError(t, env.invoices.SettleInvoice(ctx, invoiceID))

	invoice, err := env.storage.Invoices().Get(ctx, invoiceID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusPaid, invoice.Status)
	require.NotNil(t, invoice.FinalAmountPaid)
	assert.Zero(t, total.Cmp(*invoice.FinalAmountPaid))

	main, err := env.gateway.GetAccount(ctx, env.system.MainSTQ)
	require.NoError(t, err)
	assert.Zero(t, total.Cmp(main.Balance), "the drain does not double-move funds")
}

func TestCrossCurrencyRateLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	orderID := uuid.New()
	input := model.NewInvoice{
		BuyerUserID:   5,
		BuyerCurrency: model.CurrencySTQ,
		Orders: []model.NewInvoiceOrder{{
			ID:             orderID,
			StoreID:        9,
			SellerCurrency: model.CurrencyEUR,
			TotalAmount:    model.NewAmount(500), // 5 EUR
		}},
	}
	dump, err := env.invoices.CreateInvoice(ctx, input)
	require.NoError(t, err)

	// 5 EUR at 1000 STQ/EUR
	expected := stqAmount(t, 5000)
	require.NotNil(t, dump.RequiredTotal)
	assert.Zero(t, expected.Cmp(*dump.RequiredTotal))

	env.gateway.SetRate(model.CurrencyEUR, model.CurrencySTQ, decimal.NewFromInt(2000))
	recalced, err := env.invoices.RecalcInvoice(ctx, dump.Invoice.ID)
	require.NoError(t, err)
	expected = stqAmount(t, 10000)
	require.NotNil(t, recalced.RequiredTotal)
	assert.Zero(t, expected.Cmp(*recalced.RequiredTotal))

	rates := env.storage.RatesForOrder(orderID)
	require.Len(t, rates, 2)
	active := 0
	for _, rate := range rates {
		if rate.Status == model.ExchangeRateStatusActive {
			active++
		}
	}
	assert.Equal(t, 1, active, "exactly one active rate per order")
}

func TestRecalcPaidInvoiceRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	total := stqAmount(t, 100)

	dump, err := env.invoices.CreateInvoice(ctx, cryptoInvoiceInput(t, total))
	require.NoError(t, err)
	require.NoError(t, env.gateway.Deposit(*dump.Invoice.AccountID, total))
	require.NoError(t, env.invoices.ApplyCredit(ctx, *dump.Invoice.AccountID, uuid.New(), total))
	require.NoError(t, env.invoices.SettleInvoice(ctx, dump.Invoice.ID))

	_, err = env.invoices.RecalcInvoice(ctx, dump.Invoice.ID)
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestUnpaidInvoiceExpires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	dump, err := env.invoices.CreateInvoice(ctx, cryptoInvoiceInput(t, stqAmount(t, 100)))
	require.NoError(t, err)
	invoiceID := dump.Invoice.ID

	scheduled := env.pendingEvents(t, model.EventKindInvoiceExpired)
	require.Len(t, scheduled, 1, "creation schedules the payment timeout")
	require.NotNil(t, scheduled[0].ScheduledOn)
	assert.True(t, scheduled[0].ScheduledOn.After(time.Now().Add(50*time.Minute)),
		"crypto invoices get the crypto payment window")

	require.NoError(t, env.invoices.ExpireInvoice(ctx, invoiceID))

	invoice, err := env.storage.Invoices().Get(ctx, invoiceID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusExpired, invoice.Status)
	assert.Nil(t, invoice.AccountID, "the deposit account returns to the pool")

	// a redelivered timeout converges
	require.NoError(t, env.invoices.ExpireInvoice(ctx, invoiceID))
}

func TestExpiryLeavesFundedInvoicesAlone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	total := stqAmount(t, 100)

	dump, err := env.invoices.CreateInvoice(ctx, cryptoInvoiceInput(t, total))
	require.NoError(t, err)
	accountID := *dump.Invoice.AccountID

	require.NoError(t, env.invoices.ApplyCredit(ctx, accountID, uuid.New(), stqAmount(t, 40)))
	require.NoError(t, env.invoices.ExpireInvoice(ctx, dump.Invoice.ID))

	invoice, err := env.storage.Invoices().Get(ctx, dump.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusPaymentAwaited, invoice.Status, "funded invoices wait for the remainder")
	require.NotNil(t, invoice.AccountID)
}

func TestUpdateOrderStateGuardsTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	dump, err := env.invoices.CreateInvoice(ctx, cryptoInvoiceInput(t, stqAmount(t, 10)))
	require.NoError(t, err)
	orderID := dump.Orders[0].Order.ID

	_, err = env.invoices.UpdateOrderState(ctx, orderID, model.PaymentStatePaidToSeller)
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	updated, err := env.invoices.UpdateOrderState(ctx, orderID, model.PaymentStateDeclined)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStateDeclined, updated.State)
}
