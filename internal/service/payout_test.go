package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

const sellerWallet = "0x8f3a7b1c9d2e4f5a6b7c8d9e0f1a2b3c4d5e6f7a"

// settledCryptoOrder walks one crypto order through payment so it awaits its
// payout.
func settledCryptoOrder(t *testing.T, env *testEnv, storeID int64, total model.Amount) model.Order {
	t.Helper()
	ctx := context.Background()
	dump, err := env.invoices.CreateInvoice(ctx, model.NewInvoice{
		BuyerUserID:   20,
		BuyerCurrency: model.CurrencySTQ,
		Orders: []model.NewInvoiceOrder{{
			ID:             uuid.New(),
			StoreID:        storeID,
			SellerCurrency: model.CurrencySTQ,
			TotalAmount:    total,
		}},
	})
	require.NoError(t, err)
	accountID := *dump.Invoice.AccountID
	require.NoError(t, env.gateway.Deposit(accountID, total))
	require.NoError(t, env.invoices.ApplyCredit(ctx, accountID, uuid.New(), total))
	require.NoError(t, env.invoices.SettleInvoice(ctx, dump.Invoice.ID))
	order, err := env.storage.Orders().Get(ctx, dump.Orders[0].Order.ID)
	require.NoError(t, err)
	require.Equal(t, model.PaymentStatePaymentToSellerNeeded, order.State)
	return *order
}

func TestGetBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const storeID = int64(11)

	settledCryptoOrder(t, env, storeID, stqAmount(t, 100))
	settledCryptoOrder(t, env, storeID, stqAmount(t, 250))

	balances, err := env.payouts.GetBalance(ctx, storeID)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, model.CurrencySTQ, balances[0].Currency)
	assert.Zero(t, stqAmount(t, 350).Cmp(balances[0].Amount))
}

func TestCalculatePayout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const storeID = int64(12)
	order := settledCryptoOrder(t, env, storeID, stqAmount(t, 500))

	preview, err := env.payouts.CalculatePayout(ctx, storeID, model.CurrencySTQ, sellerWallet)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{order.ID}, preview.OrderIDs)
	assert.Zero(t, stqAmount(t, 500).Cmp(preview.GrossAmount))
	assert.NotEmpty(t, preview.FeeOptions)

	_, err = env.payouts.CalculatePayout(ctx, storeID, model.CurrencyETH, sellerWallet)
	require.Error(t, err, "no ETH orders awaiting payout")
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestPayOutToSellerCurrencyMismatch(t *testing.T) {
	env := newTestEnv(t)
	order := settledCryptoOrder(t, env, 13, stqAmount(t, 500))

	_, err := env.payouts.PayOutToSeller(context.Background(), model.PayOutToSellerPayload{
		OrderIDs: []uuid.UUID{order.ID},
		UserID:   9,
		PaymentDetails: model.PayoutDetails{
			Currency:      model.CurrencyETH,
			WalletAddress: sellerWallet,
			BlockchainFee: model.NewAmount(0),
		},
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	fields := errs.FieldsOf(err)
	require.Contains(t, fields, "wallet_currency")
	require.Len(t, fields["wallet_currency"], 1)
	failure := fields["wallet_currency"][0]
	assert.Equal(t, "currency_mismatch", failure.Code)
	assert.Equal(t, "stq", failure.Params["orders_currency"])
	assert.Equal(t, "eth", failure.Params["wallet_currency"])
}

func TestPayOutToSellerRejectsBadWallet(t *testing.T) {
	env := newTestEnv(t)
	order := settledCryptoOrder(t, env, 14, stqAmount(t, 100))

	_, err := env.payouts.PayOutToSeller(context.Background(), model.PayOutToSellerPayload{
		OrderIDs: []uuid.UUID{order.ID},
		UserID:   9,
		PaymentDetails: model.PayoutDetails{
			Currency:      model.CurrencySTQ,
			WalletAddress: "not-an-address",
		},
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestPayoutLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const storeID = int64(15)
	total := stqAmount(t, 1000)
	fee := stqAmount(t, 10)
	order := settledCryptoOrder(t, env, storeID, total)

	payout, err := env.payouts.PayOutToSeller(ctx, model.PayOutToSellerPayload{
		OrderIDs: []uuid.UUID{order.ID},
		UserID:   9,
		PaymentDetails: model.PayoutDetails{
			Currency:      model.CurrencySTQ,
			WalletAddress: sellerWallet,
			BlockchainFee: fee,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusProcessing, payout.Status)
	net, ok := total.CheckedSub(fee)
	require.True(t, ok)
	assert.Zero(t, net.Cmp(payout.NetAmount))
	require.Len(t, env.pendingEvents(t, model.EventKindPayoutInitiated), 1)

	// a second payout over the same order is refused
	_, err = env.payouts.PayOutToSeller(ctx, model.PayOutToSellerPayload{
		OrderIDs: []uuid.UUID{order.ID},
		UserID:   9,
		PaymentDetails: model.PayoutDetails{
			Currency:      model.CurrencySTQ,
			WalletAddress: sellerWallet,
		},
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	require.NoError(t, env.payouts.ExecutePayout(ctx, payout.ID))

	completed, err := env.payouts.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	updated, err := env.storage.Orders().Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatePaidToSeller, updated.State)
	assert.Contains(t, env.saga.statesFor(order.ID), model.PaymentStatePaidToSeller)

	// the withdrawal left the system main account
	main, err := env.gateway.GetAccount(ctx, env.system.MainSTQ)
	require.NoError(t, err)
	assert.Zero(t, fee.Cmp(main.Balance), "gross minus the net withdrawal stays behind")

	// redelivered event: completed payouts are a no-op
	require.NoError(t, env.payouts.ExecutePayout(ctx, payout.ID))
	main, err = env.gateway.GetAccount(ctx, env.system.MainSTQ)
	require.NoError(t, err)
	assert.Zero(t, fee.Cmp(main.Balance))

	// the paid-out order no longer counts toward the balance
	balances, err := env.payouts.GetBalance(ctx, storeID)
	require.NoError(t, err)
	assert.Empty(t, balances)
}

func TestPayoutsByStore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const storeID = int64(16)
	order := settledCryptoOrder(t, env, storeID, stqAmount(t, 200))

	payout, err := env.payouts.PayOutToSeller(ctx, model.PayOutToSellerPayload{
		OrderIDs: []uuid.UUID{order.ID},
		UserID:   9,
		PaymentDetails: model.PayoutDetails{
			Currency:      model.CurrencySTQ,
			WalletAddress: sellerWallet,
		},
	})
	require.NoError(t, err)

	listed, err := env.payouts.PayoutsByStore(ctx, storeID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, payout.ID, listed[0].ID)
}
