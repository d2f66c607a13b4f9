package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/StoriqaTeam/billing-sub000/internal/client/payments"
	"github.com/StoriqaTeam/billing-sub000/internal/client/saga"
	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/internal/repository"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
	"github.com/StoriqaTeam/billing-sub000/pkg/walletaddr"
)

// PayoutService accumulates seller earnings and pays them out to crypto
// wallets. A payout is initiated atomically with its outbox event; the
// worker executes the actual transfer.
type PayoutService struct {
	storage  repository.Storage
	gateway  payments.Client
	saga     saga.Client
	accounts *AccountService
	log      *logrus.Entry
}

// NewPayoutService builds the payout service.
func NewPayoutService(storage repository.Storage, gateway payments.Client, orchestrator saga.Client, accounts *AccountService, log *logrus.Logger) *PayoutService {
	return &PayoutService{
		storage:  storage,
		gateway:  gateway,
		saga:     orchestrator,
		accounts: accounts,
		log:      log.WithField("component", "payout_service"),
	}
}

// GetBalance sums the store's orders awaiting payout, per currency.
func (s *PayoutService) GetBalance(ctx context.Context, storeID int64) ([]model.Balance, error) {
	orders, err := s.storage.Orders().GetUnpaidToSeller(ctx, storeID)
	if err != nil {
		return nil, err
	}
	totals := map[model.Currency]model.Amount{}
	var currencies []model.Currency
	for _, order := range orders {
		current, seen := totals[order.SellerCurrency]
		if !seen {
			current = model.NewAmount(0)
			currencies = append(currencies, order.SellerCurrency)
		}
		sum, ok := current.CheckedAdd(order.TotalAmount)
		if !ok {
			return nil, errs.New(errs.KindInternal, "store balance overflow")
		}
		totals[order.SellerCurrency] = sum
	}
	balances := make([]model.Balance, 0, len(currencies))
	for _, currency := range currencies {
		balances = append(balances, model.Balance{Currency: currency, Amount: totals[currency]})
	}
	return balances, nil
}

// CalculatedPayout is the preview of a payout: the orders it would cover
// and the gateway's blockchain fee options.
type CalculatedPayout struct {
	OrderIDs    []uuid.UUID    `json:"order_ids"`
	Currency    model.Currency `json:"currency"`
	GrossAmount model.Amount   `json:"gross_amount"`
	FeeOptions  []payments.Fee `json:"fee_options"`
}

// CalculatePayout previews a payout of every eligible order in the given
// currency.
func (s *PayoutService) CalculatePayout(ctx context.Context, storeID int64, currency model.Currency, walletAddress string) (CalculatedPayout, error) {
	if err := walletaddr.Validate(currency, walletAddress); err != nil {
		return CalculatedPayout{}, errs.Validation("wallet_address", "invalid", err.Error())
	}
	orders, err := s.storage.Orders().GetUnpaidToSeller(ctx, storeID)
	if err != nil {
		return CalculatedPayout{}, err
	}
	result := CalculatedPayout{Currency: currency, GrossAmount: model.NewAmount(0)}
	for _, order := range orders {
		if order.SellerCurrency != currency {
			continue
		}
		sum, ok := result.GrossAmount.CheckedAdd(order.TotalAmount)
		if !ok {
			return CalculatedPayout{}, errs.New(errs.KindInternal, "payout total overflow")
		}
		result.GrossAmount = sum
		result.OrderIDs = append(result.OrderIDs, order.ID)
	}
	if len(result.OrderIDs) == 0 {
		return CalculatedPayout{}, errs.Validation("store_id", "nothing_to_pay", "no orders awaiting payout in this currency")
	}
	fees, err := s.gateway.GetFees(ctx, currency)
	if err != nil {
		return CalculatedPayout{}, err
	}
	result.FeeOptions = fees
	return result, nil
}

// PayOutToSeller validates and initiates a payout: the payout row, its
// order links, and the PayoutInitiated event commit in one transaction.
func (s *PayoutService) PayOutToSeller(ctx context.Context, payload model.PayOutToSellerPayload) (model.Payout, error) {
	if len(payload.OrderIDs) == 0 {
		return model.Payout{}, errs.Validation("order_ids", "empty", "order id list must not be empty")
	}
	details := payload.PaymentDetails
	if err := walletaddr.Validate(details.Currency, details.WalletAddress); err != nil {
		return model.Payout{}, errs.Validation("wallet_address", "invalid", err.Error())
	}

	gross := model.NewAmount(0)
	for _, orderID := range payload.OrderIDs {
		order, err := s.storage.Orders().Get(ctx, orderID)
		if err != nil {
			return model.Payout{}, err
		}
		if order == nil {
			return model.Payout{}, errs.NotFound("order")
		}
		if order.State != model.PaymentStatePaymentToSellerNeeded {
			return model.Payout{}, errs.Validation("order_ids", "wrong_state",
				"order "+orderID.String()+" is not awaiting payout")
		}
		if order.SellerCurrency != details.Currency {
			return model.Payout{}, errs.ValidationFields(map[string][]errs.FieldError{
				"wallet_currency": {{
					Code:    "currency_mismatch",
					Message: "wallet currency does not match order currency",
					Params: map[string]string{
						"orders_currency": order.SellerCurrency.String(),
						"wallet_currency": details.Currency.String(),
					},
				}},
			})
		}
		sum, ok := gross.CheckedAdd(order.TotalAmount)
		if !ok {
			return model.Payout{}, errs.New(errs.KindInternal, "payout total overflow")
		}
		gross = sum
	}

	existing, err := s.storage.Payouts().ExistingForOrders(ctx, payload.OrderIDs)
	if err != nil {
		return model.Payout{}, err
	}
	if len(existing) > 0 {
		return model.Payout{}, errs.Validation("order_ids", "already_paid_out",
			"order "+existing[0].String()+" already has a payout")
	}

	net, ok := gross.CheckedSub(details.BlockchainFee)
	if !ok {
		return model.Payout{}, errs.Validation("blockchain_fee", "exceeds_gross", "blockchain fee exceeds the payout total")
	}

	payout := model.Payout{
		ID:          uuid.New(),
		GrossAmount: gross,
		NetAmount:   net,
		Target: model.CryptoPayoutTarget{
			Currency:      details.Currency,
			WalletAddress: details.WalletAddress,
			BlockchainFee: details.BlockchainFee,
		},
		UserID:      payload.UserID,
		Status:      model.PayoutStatusProcessing,
		InitiatedAt: time.Now(),
		OrderIDs:    payload.OrderIDs,
	}
	err = s.storage.InTransaction(ctx, func(f repository.Factory) error {
		created, err := f.Payouts().Create(ctx, payout)
		if err != nil {
			return err
		}
		payout = created
		event, err := model.NewEvent(model.EventKindPayoutInitiated, model.PayoutInitiatedPayload{PayoutID: payout.ID})
		if err != nil {
			return err
		}
		_, err = f.EventStore().AddEvent(ctx, event)
		return err
	})
	if err != nil {
		return model.Payout{}, errs.AsValidation(err)
	}
	s.log.WithFields(logrus.Fields{
		"payout_id": payout.ID,
		"user_id":   payout.UserID,
		"orders":    len(payout.OrderIDs),
		"net":       payout.NetAmount.String(),
		"currency":  payout.Target.Currency,
	}).Info("payout initiated")
	return payout, nil
}

// ExecutePayout performs the external transfer of an initiated payout and
// completes it. Called by the outbox worker; an already-completed payout is
// a no-op.
func (s *PayoutService) ExecutePayout(ctx context.Context, payoutID uuid.UUID) error {
	payout, err := s.storage.Payouts().Get(ctx, payoutID)
	if err != nil {
		return err
	}
	if payout == nil {
		return errs.NotFound("payout")
	}
	if payout.Status == model.PayoutStatusCompleted {
		return nil
	}
	mainID, err := s.accounts.MainAccountID(payout.Target.Currency)
	if err != nil {
		return err
	}
	// the payout id doubles as the withdrawal idempotency key
	if err := s.gateway.Withdraw(ctx, payments.WithdrawInput{
		ID:            payout.ID,
		AccountID:     mainID,
		ToAddress:     payout.Target.WalletAddress,
		Amount:        payout.NetAmount,
		Currency:      payout.Target.Currency,
		BlockchainFee: payout.Target.BlockchainFee,
	}); err != nil {
		return err
	}
	if err := s.storage.Payouts().MarkCompleted(ctx, payoutID, time.Now()); err != nil {
		return err
	}
	for _, orderID := range payout.OrderIDs {
		order, err := s.storage.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil || !model.CanTransition(order.State, model.PaymentStatePaidToSeller) {
			continue
		}
		updated, err := s.storage.Orders().UpdateState(ctx, orderID, model.PaymentStatePaidToSeller)
		if err != nil {
			return err
		}
		if err := s.saga.OrderStateChanged(ctx, orderID, updated.State); err != nil {
			s.log.WithError(err).WithField("order_id", orderID).Warn("saga order update failed")
		}
	}
	return nil
}

// GetPayout returns one payout.
func (s *PayoutService) GetPayout(ctx context.Context, id uuid.UUID) (model.Payout, error) {
	payout, err := s.storage.Payouts().Get(ctx, id)
	if err != nil {
		return model.Payout{}, err
	}
	if payout == nil {
		return model.Payout{}, errs.NotFound("payout")
	}
	return *payout, nil
}

// PayoutsByStore lists a store's payouts.
func (s *PayoutService) PayoutsByStore(ctx context.Context, storeID int64) ([]model.Payout, error) {
	return s.storage.Payouts().GetByStoreID(ctx, storeID)
}
