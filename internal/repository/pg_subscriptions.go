package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/StoriqaTeam/billing-sub000/internal/acl"
	"github.com/StoriqaTeam/billing-sub000/internal/model"
)

type pgSubscriptions struct {
	s *pgStorage
}

const subscriptionColumns = `id, store_id, published_base_products_quantity, subscription_payment_id, created_at`

func (r *pgSubscriptions) Create(ctx context.Context, sub model.Subscription) (model.Subscription, error) {
	if err := r.s.check(ctx, acl.ResourceSubscription, acl.ActionWrite, nil); err != nil {
		return model.Subscription{}, err
	}
	var created model.Subscription
	err := sqlx.GetContext(ctx, r.s.ext, &created, `
		INSERT INTO subscriptions (store_id, published_base_products_quantity)
		VALUES ($1, $2)
		RETURNING `+subscriptionColumns,
		sub.StoreID, sub.PublishedBaseProductsQuantity)
	if err != nil {
		return model.Subscription{}, mapDBError(err, "subscription")
	}
	return created, nil
}

func (r *pgSubscriptions) GetUnpaid(ctx context.Context) ([]model.Subscription, error) {
	if err := r.s.check(ctx, acl.ResourceSubscription, acl.ActionRead, nil); err != nil {
		return nil, err
	}
	var subs []model.Subscription
	err := sqlx.SelectContext(ctx, r.s.ext, &subs, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE subscription_payment_id IS NULL
		ORDER BY store_id, created_at`)
	if err != nil {
		return nil, mapDBError(err, "subscription")
	}
	return subs, nil
}

func (r *pgSubscriptions) ExistsForStoreOnDay(ctx context.Context, storeID int64, day time.Time) (bool, error) {
	if err := r.s.check(ctx, acl.ResourceSubscription, acl.ActionRead, nil); err != nil {
		return false, err
	}
	var exists bool
	err := sqlx.GetContext(ctx, r.s.ext, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM subscriptions
			WHERE store_id = $1 AND created_at::date = $2::date
		)`, storeID, day)
	if err != nil {
		return false, mapDBError(err, "subscription")
	}
	return exists, nil
}

func (r *pgSubscriptions) SetPaymentID(ctx context.Context, ids []int64, paymentID int64) error {
	if err := r.s.check(ctx, acl.ResourceSubscription, acl.ActionWrite, nil); err != nil {
		return err
	}
	_, err := r.s.ext.ExecContext(ctx, `
		UPDATE subscriptions SET subscription_payment_id = $1 WHERE id = ANY($2)`,
		paymentID, pq.Array(ids))
	return mapDBError(err, "subscription")
}

type pgStoreSubscriptions struct {
	s *pgStorage
}

const storeSubscriptionColumns = `store_id, currency, value, wallet_address,
	trial_start_date, status, created_at, updated_at`

func (r *pgStoreSubscriptions) Get(ctx context.Context, storeID int64) (*model.StoreSubscription, error) {
	var sub model.StoreSubscription
	err := sqlx.GetContext(ctx, r.s.ext, &sub,
		`SELECT `+storeSubscriptionColumns+` FROM store_subscriptions WHERE store_id = $1`, storeID)
	found, err := noRowsToNil(&sub, err, "store_subscription")
	if err != nil || found == nil {
		return found, err
	}
	if err := r.s.check(ctx, acl.ResourceStoreBilling, acl.ActionRead, acl.OwnedByStore(storeID)); err != nil {
		return nil, err
	}
	return found, nil
}

func (r *pgStoreSubscriptions) Create(ctx context.Context, sub model.StoreSubscription) (model.StoreSubscription, error) {
	if err := r.s.check(ctx, acl.ResourceStoreBilling, acl.ActionWrite, acl.OwnedByStore(sub.StoreID)); err != nil {
		return model.StoreSubscription{}, err
	}
	var created model.StoreSubscription
	err := sqlx.GetContext(ctx, r.s.ext, &created, `
		INSERT INTO store_subscriptions (store_id, currency, value, wallet_address, trial_start_date, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+storeSubscriptionColumns,
		sub.StoreID, sub.Currency, sub.Value, sub.WalletAddress, sub.TrialStartDate, sub.Status)
	if err != nil {
		return model.StoreSubscription{}, mapDBError(err, "store_subscription")
	}
	return created, nil
}

func (r *pgStoreSubscriptions) Update(ctx context.Context, sub model.StoreSubscription) (model.StoreSubscription, error) {
	if err := r.s.check(ctx, acl.ResourceStoreBilling, acl.ActionWrite, acl.OwnedByStore(sub.StoreID)); err != nil {
		return model.StoreSubscription{}, err
	}
	var updated model.StoreSubscription
	err := sqlx.GetContext(ctx, r.s.ext, &updated, `
		UPDATE store_subscriptions
		SET currency = $1, value = $2, wallet_address = $3, trial_start_date = $4,
		    status = $5, updated_at = now()
		WHERE store_id = $6
		RETURNING `+storeSubscriptionColumns,
		sub.Currency, sub.Value, sub.WalletAddress, sub.TrialStartDate, sub.Status, sub.StoreID)
	if err != nil {
		return model.StoreSubscription{}, mapDBError(err, "store_subscription")
	}
	return updated, nil
}

type pgSubscriptionPayments struct {
	s *pgStorage
}

const subscriptionPaymentColumns = `id, store_id, amount, currency, charge_id, transaction_id, status, created_at`

func (r *pgSubscriptionPayments) Create(ctx context.Context, payment model.SubscriptionPayment) (model.SubscriptionPayment, error) {
	if err := r.s.check(ctx, acl.ResourceSubscription, acl.ActionWrite, nil); err != nil {
		return model.SubscriptionPayment{}, err
	}
	var created model.SubscriptionPayment
	err := sqlx.GetContext(ctx, r.s.ext, &created, `
		INSERT INTO subscription_payments (store_id, amount, currency, charge_id, transaction_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+subscriptionPaymentColumns,
		payment.StoreID, payment.Amount, payment.Currency, payment.ChargeID,
		payment.TransactionID, payment.Status)
	if err != nil {
		return model.SubscriptionPayment{}, mapDBError(err, "subscription_payment")
	}
	return created, nil
}

func (r *pgSubscriptionPayments) GetByStoreID(ctx context.Context, storeID int64) ([]model.SubscriptionPayment, error) {
	if err := r.s.check(ctx, acl.ResourceStoreBilling, acl.ActionRead, acl.OwnedByStore(storeID)); err != nil {
		return nil, err
	}
	var payments []model.SubscriptionPayment
	err := sqlx.SelectContext(ctx, r.s.ext, &payments, `
		SELECT `+subscriptionPaymentColumns+` FROM subscription_payments
		WHERE store_id = $1 ORDER BY created_at DESC`, storeID)
	if err != nil {
		return nil, mapDBError(err, "subscription_payment")
	}
	return payments, nil
}
