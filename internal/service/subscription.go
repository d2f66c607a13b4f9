package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/StoriqaTeam/billing-sub000/internal/client/payments"
	"github.com/StoriqaTeam/billing-sub000/internal/client/stripe"
	"github.com/StoriqaTeam/billing-sub000/internal/config"
	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/internal/repository"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
	"github.com/StoriqaTeam/billing-sub000/pkg/walletaddr"
)

// SubscriptionService snapshots store product counts and collects the
// subscription charge across both rails.
type SubscriptionService struct {
	storage     repository.Storage
	gateway     payments.Client
	cards       stripe.Client
	accounts    *AccountService
	periodicity time.Duration
	trialPeriod time.Duration
	log         *logrus.Entry
}

// NewSubscriptionService builds the subscription service.
func NewSubscriptionService(storage repository.Storage, gateway payments.Client, cards stripe.Client, accounts *AccountService, cfg config.Subscription, log *logrus.Logger) *SubscriptionService {
	return &SubscriptionService{
		storage:     storage,
		gateway:     gateway,
		cards:       cards,
		accounts:    accounts,
		periodicity: time.Duration(cfg.PeriodicityDays) * 24 * time.Hour,
		trialPeriod: time.Duration(cfg.TrialTimeDurationDays) * 24 * time.Hour,
		log:         log.WithField("component", "subscription_service"),
	}
}

// NewSubscriptionInput is one store's product count at snapshot time.
type NewSubscriptionInput struct {
	StoreID                       int64 `json:"store_id" binding:"required"`
	PublishedBaseProductsQuantity int64 `json:"published_base_products_quantity" binding:"min=0"`
}

// CreateSubscriptions records one daily snapshot per eligible store. Stores
// without an agreement, Free stores, stores still in trial, and stores
// already snapshotted today are skipped.
func (s *SubscriptionService) CreateSubscriptions(ctx context.Context, inputs []NewSubscriptionInput) error {
	now := time.Now()
	for _, input := range inputs {
		storeSub, err := s.storage.StoreSubscriptions().Get(ctx, input.StoreID)
		if err != nil {
			return err
		}
		if storeSub == nil {
			s.log.WithField("store_id", input.StoreID).Debug("store has no billing agreement, skipping")
			continue
		}
		if storeSub.TrialStartDate == nil {
			trialStart := now
			storeSub.TrialStartDate = &trialStart
			if _, err := s.storage.StoreSubscriptions().Update(ctx, *storeSub); err != nil {
				return err
			}
		}
		if storeSub.Status == model.StoreSubscriptionStatusFree {
			continue
		}
		if now.Before(storeSub.TrialStartDate.Add(s.trialPeriod)) {
			continue
		}
		exists, err := s.storage.Subscriptions().ExistsForStoreOnDay(ctx, input.StoreID, now)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := s.storage.Subscriptions().Create(ctx, model.Subscription{
			StoreID:                       input.StoreID,
			PublishedBaseProductsQuantity: input.PublishedBaseProductsQuantity,
		}); err != nil {
			return err
		}
	}
	return nil
}

// PaySubscriptions collects every store's due snapshots in one charge per
// store. A failed store is recorded and does not block the others.
func (s *SubscriptionService) PaySubscriptions(ctx context.Context) error {
	unpaid, err := s.storage.Subscriptions().GetUnpaid(ctx)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-s.periodicity)
	due := map[int64][]model.Subscription{}
	var stores []int64
	for _, sub := range unpaid {
		if sub.CreatedAt.After(cutoff) {
			continue
		}
		if _, seen := due[sub.StoreID]; !seen {
			stores = append(stores, sub.StoreID)
		}
		due[sub.StoreID] = append(due[sub.StoreID], sub)
	}
	for _, storeID := range stores {
		if err := s.collectStore(ctx, storeID, due[storeID]); err != nil {
			s.log.WithError(err).WithField("store_id", storeID).Error("subscription collection failed")
		}
	}
	return nil
}

func (s *SubscriptionService) collectStore(ctx context.Context, storeID int64, subs []model.Subscription) error {
	storeSub, err := s.storage.StoreSubscriptions().Get(ctx, storeID)
	if err != nil {
		return err
	}
	if storeSub == nil {
		return errs.NotFound("store_subscription")
	}
	total := model.NewAmount(0)
	ids := make([]int64, 0, len(subs))
	for _, sub := range subs {
		if sub.PublishedBaseProductsQuantity < 0 {
			return errs.Newf(errs.KindInternal, "negative product count on subscription %d", sub.ID)
		}
		charge, ok := storeSub.Value.CheckedMul(uint64(sub.PublishedBaseProductsQuantity))
		if !ok {
			return errs.New(errs.KindInternal, "subscription charge overflow")
		}
		sum, ok := total.CheckedAdd(charge)
		if !ok {
			return errs.New(errs.KindInternal, "subscription total overflow")
		}
		total = sum
		ids = append(ids, sub.ID)
	}
	if total.IsZero() {
		// nothing published this cycle; leave the snapshots for the next run
		return nil
	}

	payment := model.SubscriptionPayment{
		StoreID:  storeID,
		Amount:   total,
		Currency: storeSub.Currency,
		Status:   model.SubscriptionPaymentStatusPaid,
	}
	if storeSub.Currency.IsFiat() {
		err = s.collectFiat(ctx, storeID, total, storeSub.Currency, &payment)
	} else {
		err = s.collectCrypto(ctx, *storeSub, total, &payment)
	}
	if err != nil {
		payment.Status = model.SubscriptionPaymentStatusFailed
		if _, createErr := s.storage.SubscriptionPayments().Create(ctx, payment); createErr != nil {
			return createErr
		}
		return err
	}
	created, err := s.storage.SubscriptionPayments().Create(ctx, payment)
	if err != nil {
		return err
	}
	if err := s.storage.Subscriptions().SetPaymentID(ctx, ids, created.ID); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"store_id":  storeID,
		"amount":    total.String(),
		"currency":  storeSub.Currency,
		"snapshots": len(ids),
	}).Info("subscriptions collected")
	return nil
}

func (s *SubscriptionService) collectFiat(ctx context.Context, storeID int64, total model.Amount, currency model.Currency, payment *model.SubscriptionPayment) error {
	customer, err := s.storage.Customers().GetForStore(ctx, storeID)
	if err != nil {
		return err
	}
	if customer == nil {
		return errs.Validation("store_id", "no_customer", "store has no registered customer")
	}
	charge, err := s.cards.CreateCharge(ctx, customer.ID, total, currency, "store subscription")
	if err != nil {
		return err
	}
	chargeID := charge.ID
	payment.ChargeID = &chargeID
	return nil
}

func (s *SubscriptionService) collectCrypto(ctx context.Context, storeSub model.StoreSubscription, total model.Amount, payment *model.SubscriptionPayment) error {
	if storeSub.WalletAddress == nil {
		return errs.Validation("wallet_address", "missing", "store subscription has no wallet address")
	}
	account, err := s.gateway.AccountByAddress(ctx, storeSub.Currency, *storeSub.WalletAddress)
	if err != nil {
		return err
	}
	mainID, err := s.accounts.MainAccountID(storeSub.Currency)
	if err != nil {
		return err
	}
	transferID := uuid.New()
	if err := s.gateway.CreateInternalTransfer(ctx, payments.TransferInput{
		ID:            transferID,
		FromAccountID: account.ID,
		ToAccountID:   mainID,
		Amount:        total,
		Currency:      storeSub.Currency,
	}); err != nil {
		return err
	}
	txID := transferID.String()
	payment.TransactionID = &txID
	return nil
}

// GetStoreSubscription returns a store's billing agreement.
func (s *SubscriptionService) GetStoreSubscription(ctx context.Context, storeID int64) (model.StoreSubscription, error) {
	storeSub, err := s.storage.StoreSubscriptions().Get(ctx, storeID)
	if err != nil {
		return model.StoreSubscription{}, err
	}
	if storeSub == nil {
		return model.StoreSubscription{}, errs.NotFound("store_subscription")
	}
	return *storeSub, nil
}

func validateStoreSubscription(currency model.Currency, value model.Amount, walletAddress *string) error {
	if _, err := model.ParseCurrency(currency.String()); err != nil {
		return errs.Validation("currency", "unknown", err.Error())
	}
	if currency.IsCrypto() {
		if walletAddress == nil {
			return errs.Validation("wallet_address", "missing", "crypto subscriptions need a wallet address")
		}
		if err := walletaddr.Validate(currency, *walletAddress); err != nil {
			return errs.Validation("wallet_address", "invalid", err.Error())
		}
	}
	if value.IsZero() {
		return errs.Validation("value", "zero", "per-product value must be positive")
	}
	return nil
}

// CreateStoreSubscription opens a store's billing agreement in Trial.
func (s *SubscriptionService) CreateStoreSubscription(ctx context.Context, storeID int64, currency model.Currency, value model.Amount, walletAddress *string) (model.StoreSubscription, error) {
	if err := validateStoreSubscription(currency, value, walletAddress); err != nil {
		return model.StoreSubscription{}, err
	}
	existing, err := s.storage.StoreSubscriptions().Get(ctx, storeID)
	if err != nil {
		return model.StoreSubscription{}, err
	}
	if existing != nil {
		return model.StoreSubscription{}, errs.Validation("store_id", "already_exists", "store already has a subscription")
	}
	trialStart := time.Now()
	created, err := s.storage.StoreSubscriptions().Create(ctx, model.StoreSubscription{
		StoreID:        storeID,
		Currency:       currency,
		Value:          value,
		WalletAddress:  walletAddress,
		TrialStartDate: &trialStart,
		Status:         model.StoreSubscriptionStatusTrial,
	})
	if err != nil {
		return model.StoreSubscription{}, errs.AsValidation(err)
	}
	return created, nil
}

// UpdateStoreSubscription changes the agreement's currency, value or wallet.
func (s *SubscriptionService) UpdateStoreSubscription(ctx context.Context, storeID int64, currency model.Currency, value model.Amount, walletAddress *string) (model.StoreSubscription, error) {
	if err := validateStoreSubscription(currency, value, walletAddress); err != nil {
		return model.StoreSubscription{}, err
	}
	existing, err := s.storage.StoreSubscriptions().Get(ctx, storeID)
	if err != nil {
		return model.StoreSubscription{}, err
	}
	if existing == nil {
		return model.StoreSubscription{}, errs.NotFound("store_subscription")
	}
	existing.Currency = currency
	existing.Value = value
	existing.WalletAddress = walletAddress
	return s.storage.StoreSubscriptions().Update(ctx, *existing)
}

// SubscriptionPaymentsByStore lists a store's collection history.
func (s *SubscriptionService) SubscriptionPaymentsByStore(ctx context.Context, storeID int64) ([]model.SubscriptionPayment, error) {
	return s.storage.SubscriptionPayments().GetByStoreID(ctx, storeID)
}
