package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StoriqaTeam/billing-sub000/internal/client/payments"
	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

func TestStoreSubscriptionValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.subscriptions.CreateStoreSubscription(ctx, 1, model.CurrencySTQ, model.NewAmount(100), nil)
	require.Error(t, err, "crypto agreements need a wallet")
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	wallet := sellerWallet
	_, err = env.subscriptions.CreateStoreSubscription(ctx, 1, model.CurrencySTQ, model.NewAmount(0), &wallet)
	require.Error(t, err, "zero per-product value is meaningless")

	created, err := env.subscriptions.CreateStoreSubscription(ctx, 1, model.CurrencySTQ, model.NewAmount(100), &wallet)
	require.NoError(t, err)
	assert.Equal(t, model.StoreSubscriptionStatusTrial, created.Status)
	require.NotNil(t, created.TrialStartDate)

	_, err = env.subscriptions.CreateStoreSubscription(ctx, 1, model.CurrencySTQ, model.NewAmount(100), &wallet)
	require.Error(t, err, "one agreement per store")
}

func TestCreateSubscriptionsSkipsTrialAndFree(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	wallet := sellerWallet

	// store 1: still in trial; store 2: free; store 3: no agreement;
	// store 4: past trial
	_, err := env.subscriptions.CreateStoreSubscription(ctx, 1, model.CurrencySTQ, model.NewAmount(10), &wallet)
	require.NoError(t, err)

	past := time.Now().Add(-90 * 24 * time.Hour)
	_, err = env.storage.StoreSubscriptions().Create(ctx, model.StoreSubscription{
		StoreID:        2,
		Currency:       model.CurrencyEUR,
		Value:          model.NewAmount(10),
		TrialStartDate: &past,
		Status:         model.StoreSubscriptionStatusFree,
	})
	require.NoError(t, err)
	_, err = env.storage.StoreSubscriptions().Create(ctx, model.StoreSubscription{
		StoreID:        4,
		Currency:       model.CurrencyEUR,
		Value:          model.NewAmount(10),
		TrialStartDate: &past,
		Status:         model.StoreSubscriptionStatusPaid,
	})
	require.NoError(t, err)

	inputs := []NewSubscriptionInput{
		{StoreID: 1, PublishedBaseProductsQuantity: 5},
		{StoreID: 2, PublishedBaseProductsQuantity: 5},
		{StoreID: 3, PublishedBaseProductsQuantity: 5},
		{StoreID: 4, PublishedBaseProductsQuantity: 5},
	}
	require.NoError(t, env.subscriptions.CreateSubscriptions(ctx, inputs))

	unpaid, err := env.storage.Subscriptions().GetUnpaid(ctx)
	require.NoError(t, err)
	require.Len(t, unpaid, 1, "only the post-trial paying store is snapshotted")
	assert.Equal(t, int64(4), unpaid[0].StoreID)

	// the same day is snapshotted once
	require.NoError(t, env.subscriptions.CreateSubscriptions(ctx, inputs))
	unpaid, err = env.storage.Subscriptions().GetUnpaid(ctx)
	require.NoError(t, err)
	assert.Len(t, unpaid, 1)
}

func TestPaySubscriptionsFiat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const storeID = int64(21)
	seedStoreCustomer(t, env, storeID)

	past := time.Now().Add(-120 * 24 * time.Hour)
	_, err := env.storage.StoreSubscriptions().Create(ctx, model.StoreSubscription{
		StoreID:        storeID,
		Currency:       model.CurrencyEUR,
		Value:          model.NewAmount(20), // 20 cents per product
		TrialStartDate: &past,
		Status:         model.StoreSubscriptionStatusPaid,
	})
	require.NoError(t, err)

	old := time.Now().Add(-40 * 24 * time.Hour)
	for _, qty := range []int64{3, 7} {
		_, err := env.storage.Subscriptions().Create(ctx, model.Subscription{
			StoreID:                       storeID,
			PublishedBaseProductsQuantity: qty,
			CreatedAt:                     old,
		})
		require.NoError(t, err)
	}

	require.NoError(t, env.subscriptions.PaySubscriptions(ctx))

	payments, err := env.subscriptions.SubscriptionPaymentsByStore(ctx, storeID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, model.SubscriptionPaymentStatusPaid, payments[0].Status)
	assert.Equal(t, "200", payments[0].Amount.String(), "(3+7) products at 20 cents")
	require.NotNil(t, payments[0].ChargeID)

	unpaid, err := env.storage.Subscriptions().GetUnpaid(ctx)
	require.NoError(t, err)
	assert.Empty(t, unpaid, "collected snapshots are stamped with their payment")
}

func TestPaySubscriptionsCrypto(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const storeID = int64(22)

	// the store's wallet lives at the gateway with funds on it
	storeAccount, err := env.gateway.CreateAccount(ctx, payments.CreateAccountInput{
		ID:       uuid.New(),
		Currency: model.CurrencySTQ,
		Name:     "store 22 wallet",
	})
	require.NoError(t, err)
	value := stqAmount(t, 2)
	total, ok := value.CheckedMul(10)
	require.True(t, ok)
	require.NoError(t, env.gateway.Deposit(storeAccount.ID, total))

	past := time.Now().Add(-120 * 24 * time.Hour)
	_, err = env.storage.StoreSubscriptions().Create(ctx, model.StoreSubscription{
		StoreID:        storeID,
		Currency:       model.CurrencySTQ,
		Value:          value,
		WalletAddress:  &storeAccount.WalletAddress,
		TrialStartDate: &past,
		Status:         model.StoreSubscriptionStatusPaid,
	})
	require.NoError(t, err)

	old := time.Now().Add(-40 * 24 * time.Hour)
	_, err = env.storage.Subscriptions().Create(ctx, model.Subscription{
		StoreID:                       storeID,
		PublishedBaseProductsQuantity: 10,
		CreatedAt:                     old,
	})
	require.NoError(t, err)

	require.NoError(t, env.subscriptions.PaySubscriptions(ctx))

	payments, err := env.subscriptions.SubscriptionPaymentsByStore(ctx, storeID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, model.SubscriptionPaymentStatusPaid, payments[0].Status)
	require.NotNil(t, payments[0].TransactionID)

	// the charge landed on the system main account
	main, err := env.gateway.GetAccount(ctx, env.system.MainSTQ)
	require.NoError(t, err)
	assert.Zero(t, total.Cmp(main.Balance))
	drained, err := env.gateway.GetAccount(ctx, storeAccount.ID)
	require.NoError(t, err)
	assert.True(t, drained.Balance.IsZero())
}

func TestPaySubscriptionsFailureRecorded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const storeID = int64(23) // no customer registered

	past := time.Now().Add(-120 * 24 * time.Hour)
	_, err := env.storage.StoreSubscriptions().Create(ctx, model.StoreSubscription{
		StoreID:        storeID,
		Currency:       model.CurrencyEUR,
		Value:          model.NewAmount(20),
		TrialStartDate: &past,
		Status:         model.StoreSubscriptionStatusPaid,
	})
	require.NoError(t, err)
	old := time.Now().Add(-40 * 24 * time.Hour)
	_, err = env.storage.Subscriptions().Create(ctx, model.Subscription{
		StoreID:                       storeID,
		PublishedBaseProductsQuantity: 4,
		CreatedAt:                     old,
	})
	require.NoError(t, err)

	require.NoError(t, env.subscriptions.PaySubscriptions(ctx), "one failing store does not abort the run")

	payments, err := env.subscriptions.SubscriptionPaymentsByStore(ctx, storeID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, model.SubscriptionPaymentStatusFailed, payments[0].Status)

	unpaid, err := env.storage.Subscriptions().GetUnpaid(ctx)
	require.NoError(t, err)
	assert.Len(t, unpaid, 1, "failed snapshots stay due")
}

func TestPaySubscriptionsSkipsRecentSnapshots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const storeID = int64(24)
	seedStoreCustomer(t, env, storeID)

	past := time.Now().Add(-120 * 24 * time.Hour)
	_, err := env.storage.StoreSubscriptions().Create(ctx, model.StoreSubscription{
		StoreID:        storeID,
		Currency:       model.CurrencyEUR,
		Value:          model.NewAmount(20),
		TrialStartDate: &past,
		Status:         model.StoreSubscriptionStatusPaid,
	})
	require.NoError(t, err)
	_, err = env.storage.Subscriptions().Create(ctx, model.Subscription{
		StoreID:                       storeID,
		PublishedBaseProductsQuantity: 4,
	})
	require.NoError(t, err)

	require.NoError(t, env.subscriptions.PaySubscriptions(ctx))
	payments, err := env.subscriptions.SubscriptionPaymentsByStore(ctx, storeID)
	require.NoError(t, err)
	assert.Empty(t, payments, "snapshots younger than the billing period wait")
}
