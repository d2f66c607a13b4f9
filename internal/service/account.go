package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/StoriqaTeam/billing-sub000/internal/client/payments"
	"github.com/StoriqaTeam/billing-sub000/internal/config"
	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/internal/repository"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

// AccountService manages the crypto wallet pool and the configured system
// accounts.
type AccountService struct {
	storage           repository.Storage
	gateway           payments.Client
	systemAccounts    config.SystemAccounts
	minPooledAccounts int
	log               *logrus.Entry
}

// NewAccountService builds the account service.
func NewAccountService(storage repository.Storage, gateway payments.Client, accounts config.SystemAccounts, minPooled int, log *logrus.Logger) *AccountService {
	return &AccountService{
		storage:           storage,
		gateway:           gateway,
		systemAccounts:    accounts,
		minPooledAccounts: minPooled,
		log:               log.WithField("component", "account_service"),
	}
}

// MainAccountID returns the configured system Main account of a currency.
func (s *AccountService) MainAccountID(currency model.Currency) (uuid.UUID, error) {
	var id uuid.UUID
	switch currency {
	case model.CurrencySTQ:
		id = s.systemAccounts.MainSTQ
	case model.CurrencyETH:
		id = s.systemAccounts.MainETH
	case model.CurrencyBTC:
		id = s.systemAccounts.MainBTC
	default:
		return uuid.Nil, errs.Newf(errs.KindInternal, "no system account for currency %s", currency)
	}
	if id == uuid.Nil {
		return uuid.Nil, errs.Newf(errs.KindInternal, "system main account for %s not configured", currency)
	}
	return id, nil
}

// InitSystemAccounts ensures every configured system wallet exists both at
// the gateway and locally. Missing configuration entries are skipped.
func (s *AccountService) InitSystemAccounts(ctx context.Context) error {
	wanted := []struct {
		id       uuid.UUID
		currency model.Currency
		kind     model.SystemAccountType
	}{
		{s.systemAccounts.MainSTQ, model.CurrencySTQ, model.SystemAccountMain},
		{s.systemAccounts.MainETH, model.CurrencyETH, model.SystemAccountMain},
		{s.systemAccounts.MainBTC, model.CurrencyBTC, model.SystemAccountMain},
		{s.systemAccounts.CashbackSTQ, model.CurrencySTQ, model.SystemAccountCashback},
	}
	for _, want := range wanted {
		if want.id == uuid.Nil {
			continue
		}
		existing, err := s.storage.Accounts().Get(ctx, want.id)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		name := fmt.Sprintf("system_%s_%s", want.kind, want.currency)
		remote, err := s.gateway.CreateAccount(ctx, payments.CreateAccountInput{
			ID:       want.id,
			Currency: want.currency,
			Name:     name,
		})
		if err != nil {
			return err
		}
		if _, err := s.storage.Accounts().Create(ctx, model.NewAccount{
			ID:            want.id,
			Currency:      want.currency,
			IsPooled:      false,
			WalletAddress: remote.WalletAddress,
		}); err != nil {
			return err
		}
		s.log.WithFields(logrus.Fields{
			"account_id": want.id,
			"currency":   want.currency,
			"kind":       want.kind,
		}).Info("system account created")
	}
	return nil
}

// InitAccountPools tops up each crypto currency's pool to the configured
// minimum of free pooled accounts.
func (s *AccountService) InitAccountPools(ctx context.Context) error {
	for _, currency := range model.CryptoCurrencies {
		count, err := s.storage.Accounts().CountPooled(ctx, currency)
		if err != nil {
			return err
		}
		for i := count; i < s.minPooledAccounts; i++ {
			if _, err := s.createPooled(ctx, s.storage, currency); err != nil {
				return err
			}
		}
	}
	return nil
}

// createPooled mints a fresh pooled wallet at the gateway and records it.
// If the local insert fails the remote wallet is deleted to compensate; a
// failed compensation leaves an orphan for the reconciliation sweep and is
// only logged.
func (s *AccountService) createPooled(ctx context.Context, f repository.Factory, currency model.Currency) (model.Account, error) {
	id := uuid.New()
	remote, err := s.gateway.CreateAccount(ctx, payments.CreateAccountInput{
		ID:       id,
		Currency: currency,
		Name:     fmt.Sprintf("pooled_%s_%s", currency, id),
	})
	if err != nil {
		return model.Account{}, err
	}
	created, err := f.Accounts().Create(ctx, model.NewAccount{
		ID:            id,
		Currency:      currency,
		IsPooled:      true,
		WalletAddress: remote.WalletAddress,
	})
	if err != nil {
		if delErr := s.gateway.DeleteAccount(ctx, id); delErr != nil {
			s.log.WithError(delErr).WithField("account_id", id).
				Error("compensating gateway account delete failed, orphan left behind")
		}
		return model.Account{}, err
	}
	return created, nil
}

// AllocatePooledAccount hands out a free pooled account of the currency,
// minting one when the pool is empty. It runs against the caller's
// transaction-bound factory: the row lock taken by GetFreePooled has to hold
// until the invoice row links the account.
func (s *AccountService) AllocatePooledAccount(ctx context.Context, f repository.Factory, currency model.Currency) (model.Account, error) {
	if !currency.IsCrypto() {
		return model.Account{}, errs.Validation("currency", "not_crypto", "accounts exist for crypto currencies only")
	}
	free, err := f.Accounts().GetFreePooled(ctx, currency)
	if err != nil {
		return model.Account{}, err
	}
	if free != nil {
		return *free, nil
	}
	return s.createPooled(ctx, f, currency)
}

// DrainAccount moves the account's full gateway balance into the system
// Main account of its currency. A retried drain re-reads the balance and
// finds zero, so the operation is idempotent end to end.
func (s *AccountService) DrainAccount(ctx context.Context, accountID uuid.UUID) error {
	account, err := s.storage.Accounts().Get(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return errs.NotFound("account")
	}
	remote, err := s.gateway.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if remote.Balance.IsZero() {
		return nil
	}
	mainID, err := s.MainAccountID(account.Currency)
	if err != nil {
		return err
	}
	transferID := uuid.New()
	if err := s.gateway.CreateInternalTransfer(ctx, payments.TransferInput{
		ID:            transferID,
		FromAccountID: accountID,
		ToAccountID:   mainID,
		Amount:        remote.Balance,
		Currency:      account.Currency,
	}); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"account_id":  accountID,
		"transfer_id": transferID,
		"amount":      remote.Balance.String(),
		"currency":    account.Currency,
	}).Info("account drained into system main")
	return nil
}
