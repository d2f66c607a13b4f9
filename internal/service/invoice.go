package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/StoriqaTeam/billing-sub000/internal/client/payments"
	"github.com/StoriqaTeam/billing-sub000/internal/client/saga"
	"github.com/StoriqaTeam/billing-sub000/internal/client/stripe"
	"github.com/StoriqaTeam/billing-sub000/internal/config"
	"github.com/StoriqaTeam/billing-sub000/internal/events"
	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/internal/repository"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

// InvoiceService drives invoices and their orders from creation to the paid
// transition. Payment is captured at invoice level; the heavy side effects
// of the paid transition run in the outbox worker through SettleInvoice.
type InvoiceService struct {
	storage    repository.Storage
	gateway    payments.Client
	cards      stripe.Client
	saga       saga.Client
	accounts   *AccountService
	publisher  events.Publisher
	feePercent int64
	expiry     config.PaymentExpiry
	log        *logrus.Entry
}

// NewInvoiceService builds the invoice service.
func NewInvoiceService(
	storage repository.Storage,
	gateway payments.Client,
	cards stripe.Client,
	orchestrator saga.Client,
	accounts *AccountService,
	publisher events.Publisher,
	feePercent int64,
	expiry config.PaymentExpiry,
	log *logrus.Logger,
) *InvoiceService {
	return &InvoiceService{
		storage:    storage,
		gateway:    gateway,
		cards:      cards,
		saga:       orchestrator,
		accounts:   accounts,
		publisher:  publisher,
		feePercent: feePercent,
		expiry:     expiry,
		log:        log.WithField("component", "invoice_service"),
	}
}

func validateNewInvoice(input model.NewInvoice) error {
	if len(input.Orders) == 0 {
		return errs.Validation("orders", "empty", "invoice needs at least one order")
	}
	if _, err := model.ParseCurrency(string(input.BuyerCurrency)); err != nil {
		return errs.Validation("buyer_currency", "unknown", err.Error())
	}
	return nil
}

// CreateInvoice creates an invoice and its orders on the rail the buyer
// currency selects: a pooled wallet for crypto, a manual-capture payment
// intent for fiat.
func (s *InvoiceService) CreateInvoice(ctx context.Context, input model.NewInvoice) (model.InvoiceDump, error) {
	if err := validateNewInvoice(input); err != nil {
		return model.InvoiceDump{}, err
	}
	invoiceID := uuid.New()
	var err error
	if input.BuyerCurrency.IsCrypto() {
		err = s.createCryptoInvoice(ctx, invoiceID, input)
	} else {
		err = s.createFiatInvoice(ctx, invoiceID, input)
	}
	if err != nil {
		return model.InvoiceDump{}, errs.AsValidation(err)
	}
	s.log.WithFields(logrus.Fields{
		"invoice_id":     invoiceID,
		"buyer_user_id":  input.BuyerUserID,
		"buyer_currency": input.BuyerCurrency,
		"orders":         len(input.Orders),
	}).Info("invoice created")
	return s.GetInvoice(ctx, invoiceID)
}

func (s *InvoiceService) createCryptoInvoice(ctx context.Context, invoiceID uuid.UUID, input model.NewInvoice) error {
	quotes, _, err := s.quoteLines(ctx, input)
	if err != nil {
		return err
	}
	return s.storage.InTransaction(ctx, func(f repository.Factory) error {
		account, err := s.accounts.AllocatePooledAccount(ctx, f, input.BuyerCurrency)
		if err != nil {
			return err
		}
		accountID := account.ID
		if _, err := f.Invoices().Create(ctx, model.Invoice{
			ID:            invoiceID,
			BuyerUserID:   input.BuyerUserID,
			BuyerCurrency: input.BuyerCurrency,
			AccountID:     &accountID,
			Status:        model.InvoiceStatusPaymentAwaited,
		}); err != nil {
			return err
		}
		for _, quote := range quotes {
			if err := s.createOrderWithRate(ctx, f, invoiceID, quote); err != nil {
				return err
			}
		}
		return s.scheduleExpiry(ctx, f, invoiceID, s.expiry.CryptoTimeoutMin)
	})
}

// quotedLine is an order line with its exchange rate into the buyer
// currency, quoted before the invoice transaction opens.
type quotedLine struct {
	line       model.NewInvoiceOrder
	rate       decimal.Decimal
	exchangeID *uuid.UUID
}

// quoteLines quotes every order line and sums the converted totals.
func (s *InvoiceService) quoteLines(ctx context.Context, input model.NewInvoice) ([]quotedLine, model.Amount, error) {
	quotes := make([]quotedLine, 0, len(input.Orders))
	total := model.NewAmount(0)
	for _, line := range input.Orders {
		rate, exchangeID, err := s.quoteRate(ctx, line, input.BuyerCurrency)
		if err != nil {
			return nil, model.Amount{}, err
		}
		converted, err := convertToBuyer(line.TotalAmount, line.SellerCurrency, input.BuyerCurrency, rate)
		if err != nil {
			return nil, model.Amount{}, err
		}
		sum, ok := total.CheckedAdd(converted)
		if !ok {
			return nil, model.Amount{}, errs.New(errs.KindInternal, "invoice total overflow")
		}
		total = sum
		quotes = append(quotes, quotedLine{line: line, rate: rate, exchangeID: exchangeID})
	}
	return quotes, total, nil
}

func (s *InvoiceService) createOrderWithRate(ctx context.Context, f repository.Factory, invoiceID uuid.UUID, quote quotedLine) error {
	line := quote.line
	if _, err := f.Orders().Create(ctx, model.Order{
		ID:             line.ID,
		InvoiceID:      invoiceID,
		StoreID:        line.StoreID,
		SellerCurrency: line.SellerCurrency,
		TotalAmount:    line.TotalAmount,
		CashbackAmount: line.CashbackAmount,
		State:          model.PaymentStateInitial,
	}); err != nil {
		return err
	}
	_, err := f.Rates().AddNewActiveRate(ctx, line.ID, quote.exchangeID, quote.rate)
	return err
}

func (s *InvoiceService) quoteRate(ctx context.Context, line model.NewInvoiceOrder, buyerCurrency model.Currency) (decimal.Decimal, *uuid.UUID, error) {
	if line.SellerCurrency == buyerCurrency {
		return decimal.NewFromInt(1), nil, nil
	}
	quote, err := s.gateway.GetRate(ctx, payments.GetRateInput{
		ID:     uuid.New(),
		From:   line.SellerCurrency,
		To:     buyerCurrency,
		Amount: line.TotalAmount,
	})
	if err != nil {
		return decimal.Decimal{}, nil, err
	}
	quoteID := quote.ID
	return quote.Rate, &quoteID, nil
}

func (s *InvoiceService) createFiatInvoice(ctx context.Context, invoiceID uuid.UUID, input model.NewInvoice) error {
	quotes, total, err := s.quoteLines(ctx, input)
	if err != nil {
		return err
	}
	intent, err := s.cards.CreatePaymentIntent(ctx, total, input.BuyerCurrency)
	if err != nil {
		return err
	}
	return s.storage.InTransaction(ctx, func(f repository.Factory) error {
		if _, err := f.Invoices().Create(ctx, model.Invoice{
			ID:            invoiceID,
			BuyerUserID:   input.BuyerUserID,
			BuyerCurrency: input.BuyerCurrency,
			Status:        model.InvoiceStatusPaymentAwaited,
		}); err != nil {
			return err
		}
		for _, quote := range quotes {
			if err := s.createOrderWithRate(ctx, f, invoiceID, quote); err != nil {
				return err
			}
		}
		if intent.Amount < 0 {
			return errs.Newf(errs.KindInternal, "card processor returned negative amount %d", intent.Amount)
		}
		amount := model.NewAmount(uint64(intent.Amount))
		if _, err := f.PaymentIntents().Create(ctx, model.PaymentIntent{
			ID:           intent.ID,
			Amount:       amount,
			Currency:     input.BuyerCurrency,
			Status:       model.PaymentIntentStatus(intent.Status),
			ClientSecret: intent.ClientSecret,
		}); err != nil {
			return err
		}
		if err := f.PaymentIntents().LinkInvoice(ctx, invoiceID, intent.ID); err != nil {
			return err
		}
		return s.scheduleExpiry(ctx, f, invoiceID, s.expiry.FiatTimeoutMin)
	})
}

// scheduleExpiry enqueues the payment-window timeout for a fresh invoice.
func (s *InvoiceService) scheduleExpiry(ctx context.Context, f repository.Factory, invoiceID uuid.UUID, timeoutMin int) error {
	if timeoutMin <= 0 {
		return nil
	}
	event, err := model.NewEvent(model.EventKindInvoiceExpired, model.InvoiceExpiredPayload{InvoiceID: invoiceID})
	if err != nil {
		return err
	}
	_, err = f.EventStore().AddScheduledEvent(ctx, event, time.Now().Add(time.Duration(timeoutMin)*time.Minute))
	return err
}

// GetInvoice assembles the invoice read model, converting order totals into
// the buyer currency through the active rates.
func (s *InvoiceService) GetInvoice(ctx context.Context, id uuid.UUID) (model.InvoiceDump, error) {
	return s.dump(ctx, s.storage, id)
}

func (s *InvoiceService) dump(ctx context.Context, f repository.Factory, id uuid.UUID) (model.InvoiceDump, error) {
	invoice, err := f.Invoices().Get(ctx, id)
	if err != nil {
		return model.InvoiceDump{}, err
	}
	if invoice == nil {
		return model.InvoiceDump{}, errs.NotFound("invoice")
	}
	orders, err := f.Orders().GetByInvoiceID(ctx, id)
	if err != nil {
		return model.InvoiceDump{}, err
	}
	result := model.InvoiceDump{Invoice: *invoice}
	total := model.NewAmount(0)
	for _, order := range orders {
		line := model.InvoiceOrderDump{Order: order}
		rate, err := f.Rates().GetActiveByOrderID(ctx, order.ID)
		if err != nil {
			return model.InvoiceDump{}, err
		}
		if rate == nil {
			line.HasMissingRate = true
			result.HasMissingRates = true
		} else {
			converted, err := convertToBuyer(order.TotalAmount, order.SellerCurrency, invoice.BuyerCurrency, rate.ExchangeRate)
			if err != nil {
				return model.InvoiceDump{}, err
			}
			exchangeRate := rate.ExchangeRate
			line.ExchangeRate = &exchangeRate
			line.BuyerTotal = &converted
			if sum, ok := total.CheckedAdd(converted); ok {
				total = sum
			} else {
				return model.InvoiceDump{}, errs.New(errs.KindInternal, "required total overflow")
			}
		}
		result.Orders = append(result.Orders, line)
	}
	if !result.HasMissingRates {
		result.RequiredTotal = &total
	}
	if invoice.AccountID != nil {
		account, err := f.Accounts().Get(ctx, *invoice.AccountID)
		if err != nil {
			return model.InvoiceDump{}, err
		}
		if account != nil {
			address := account.WalletAddress
			result.WalletAddress = &address
		}
	}
	return result, nil
}

// requiredTotal sums the orders' totals in the buyer currency through the
// active rates. hasMissing reports orders without an active rate; the total
// is meaningless in that case.
func (s *InvoiceService) requiredTotal(ctx context.Context, f repository.Factory, invoice model.Invoice, orders []model.Order) (total model.Amount, hasMissing bool, err error) {
	total = model.NewAmount(0)
	for _, order := range orders {
		rate, err := f.Rates().GetActiveByOrderID(ctx, order.ID)
		if err != nil {
			return model.Amount{}, false, err
		}
		if rate == nil {
			hasMissing = true
			continue
		}
		converted, err := convertToBuyer(order.TotalAmount, order.SellerCurrency, invoice.BuyerCurrency, rate.ExchangeRate)
		if err != nil {
			return model.Amount{}, false, err
		}
		sum, ok := total.CheckedAdd(converted)
		if !ok {
			return model.Amount{}, false, errs.New(errs.KindInternal, "required total overflow")
		}
		total = sum
	}
	return total, hasMissing, nil
}

// ApplyCredit records one on-chain credit against the invoice linked to the
// account. Re-applying a known transaction id is a silent no-op. The paid
// transition itself happens in the worker; this path only enqueues it.
func (s *InvoiceService) ApplyCredit(ctx context.Context, accountID, transactionID uuid.UUID, amount model.Amount) error {
	var fresh model.Invoice
	err := s.storage.InTransaction(ctx, func(f repository.Factory) error {
		invoice, err := f.Invoices().GetByAccountID(ctx, accountID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return errs.NotFound("invoice")
		}
		if err := f.AmountsReceived().Create(ctx, model.AmountReceived{
			ID:             transactionID,
			InvoiceID:      invoice.ID,
			AmountReceived: amount,
		}); err != nil {
			return err
		}
		// relative increment: the captured total stays equal to the sum of
		// amounts_received under concurrent callbacks
		fresh, err = f.Invoices().AddAmountCaptured(ctx, invoice.ID, amount)
		if err != nil {
			return err
		}
		orders, err := f.Orders().GetByInvoiceID(ctx, fresh.ID)
		if err != nil {
			return err
		}
		required, hasMissing, err := s.requiredTotal(ctx, f, fresh, orders)
		if err != nil {
			return err
		}
		if hasMissing || fresh.Status == model.InvoiceStatusPaid || fresh.AmountCaptured.Cmp(required) < 0 {
			return nil
		}
		event, err := model.NewEvent(model.EventKindInvoicePaid, model.InvoicePaidPayload{InvoiceID: fresh.ID})
		if err != nil {
			return err
		}
		_, err = f.EventStore().AddEvent(ctx, event)
		return err
	})
	if err != nil {
		if errs.KindOf(err) == errs.KindConstraints {
			s.log.WithFields(logrus.Fields{
				"account_id":     accountID,
				"transaction_id": transactionID,
			}).Info("duplicate credit suppressed")
			return nil
		}
		return err
	}
	s.publisher.InvoiceStatus(ctx, fresh.ID, fresh.Status, fresh.AmountCaptured)
	return nil
}

// ExpireInvoice closes an invoice whose payment window elapsed without any
// funds arriving. Paid or partially funded invoices are left open; a
// redelivered timeout converges on the same state.
func (s *InvoiceService) ExpireInvoice(ctx context.Context, invoiceID uuid.UUID) error {
	var expired bool
	err := s.storage.InTransaction(ctx, func(f repository.Factory) error {
		invoice, err := f.Invoices().Get(ctx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return errs.NotFound("invoice")
		}
		if invoice.Status != model.InvoiceStatusPaymentAwaited || !invoice.AmountCaptured.IsZero() {
			return nil
		}
		if err := f.Invoices().MarkExpired(ctx, invoiceID); err != nil {
			return err
		}
		if invoice.AccountID != nil {
			// the deposit wallet returns to the pool
			if err := f.Invoices().UnlinkAccount(ctx, invoiceID); err != nil {
				return err
			}
		}
		expired = true
		return nil
	})
	if err != nil {
		return err
	}
	if !expired {
		return nil
	}
	s.publisher.InvoiceStatus(ctx, invoiceID, model.InvoiceStatusExpired, model.NewAmount(0))
	s.log.WithField("invoice_id", invoiceID).Info("invoice expired unpaid")
	return nil
}

// ExternalBillingInvoice is the crypto collaborator's view of an invoice,
// delivered through its callback.
type ExternalBillingInvoice struct {
	InvoiceID      uuid.UUID
	AmountCaptured model.Amount
	Paid           bool
}

// UpdateFromExternalBilling reconciles the local invoice with the
// collaborator's report.
func (s *InvoiceService) UpdateFromExternalBilling(ctx context.Context, update ExternalBillingInvoice) error {
	invoice, err := s.storage.Invoices().Get(ctx, update.InvoiceID)
	if err != nil {
		return err
	}
	if invoice == nil {
		return errs.NotFound("invoice")
	}
	return s.storage.InTransaction(ctx, func(f repository.Factory) error {
		if err := f.Invoices().SetAmountCaptured(ctx, invoice.ID, update.AmountCaptured); err != nil {
			return err
		}
		if !update.Paid || invoice.Status == model.InvoiceStatusPaid {
			return nil
		}
		event, err := model.NewEvent(model.EventKindInvoicePaid, model.InvoicePaidPayload{InvoiceID: invoice.ID})
		if err != nil {
			return err
		}
		_, err = f.EventStore().AddEvent(ctx, event)
		return err
	})
}

// RecalcInvoice re-quotes every cross-currency order rate, expiring the
// previous active rates.
func (s *InvoiceService) RecalcInvoice(ctx context.Context, id uuid.UUID) (model.InvoiceDump, error) {
	invoice, err := s.storage.Invoices().Get(ctx, id)
	if err != nil {
		return model.InvoiceDump{}, err
	}
	if invoice == nil {
		return model.InvoiceDump{}, errs.NotFound("invoice")
	}
	if invoice.Status == model.InvoiceStatusPaid {
		return model.InvoiceDump{}, errs.Validation("invoice", "already_paid", "paid invoices keep their rates")
	}
	orders, err := s.storage.Orders().GetByInvoiceID(ctx, id)
	if err != nil {
		return model.InvoiceDump{}, err
	}
	for _, order := range orders {
		if order.SellerCurrency == invoice.BuyerCurrency {
			continue
		}
		quote, err := s.gateway.GetRate(ctx, payments.GetRateInput{
			ID:     uuid.New(),
			From:   order.SellerCurrency,
			To:     invoice.BuyerCurrency,
			Amount: order.TotalAmount,
		})
		if err != nil {
			return model.InvoiceDump{}, err
		}
		quoteID := quote.ID
		if _, err := s.storage.Rates().AddNewActiveRate(ctx, order.ID, &quoteID, quote.Rate); err != nil {
			return model.InvoiceDump{}, err
		}
	}
	return s.GetInvoice(ctx, id)
}

// SettleInvoice performs the paid transition: drain and unlink the crypto
// account, advance and announce the orders, and synthesize fee rows. The
// three legs run concurrently and all must succeed; each leg is idempotent,
// so a retried event converges.
func (s *InvoiceService) SettleInvoice(ctx context.Context, invoiceID uuid.UUID) error {
	invoice, err := s.storage.Invoices().Get(ctx, invoiceID)
	if err != nil {
		return err
	}
	if invoice == nil {
		return errs.NotFound("invoice")
	}
	orders, err := s.storage.Orders().GetByInvoiceID(ctx, invoiceID)
	if err != nil {
		return err
	}

	legs := []func() error{
		func() error { return s.settleAccount(ctx, *invoice) },
		func() error { return s.settleOrders(ctx, invoice.BuyerCurrency, orders) },
		func() error { return s.settleFees(ctx, orders) },
	}
	errors := make([]error, len(legs))
	var wg sync.WaitGroup
	for i, leg := range legs {
		wg.Add(1)
		go func(i int, leg func() error) {
			defer wg.Done()
			errors[i] = leg()
		}(i, leg)
	}
	wg.Wait()
	for _, legErr := range errors {
		if legErr != nil {
			return legErr
		}
	}

	cashback, err := s.totalCashback(ctx, *invoice, orders)
	if err != nil {
		return err
	}
	if err := s.storage.Invoices().MarkPaid(ctx, invoiceID, invoice.AmountCaptured, cashback, time.Now()); err != nil {
		return err
	}
	s.publisher.InvoiceStatus(ctx, invoiceID, model.InvoiceStatusPaid, invoice.AmountCaptured)
	s.log.WithFields(logrus.Fields{
		"invoice_id": invoiceID,
		"captured":   invoice.AmountCaptured.String(),
	}).Info("invoice settled")
	return nil
}

func (s *InvoiceService) settleAccount(ctx context.Context, invoice model.Invoice) error {
	if invoice.AccountID == nil {
		return nil
	}
	if err := s.accounts.DrainAccount(ctx, *invoice.AccountID); err != nil {
		return err
	}
	return s.storage.Invoices().UnlinkAccount(ctx, invoice.ID)
}

func (s *InvoiceService) settleOrders(ctx context.Context, buyerCurrency model.Currency, orders []model.Order) error {
	for _, order := range orders {
		state := order.State
		for _, next := range []model.PaymentState{model.PaymentStateCaptured, model.PaymentStatePaymentToSellerNeeded} {
			if !model.CanTransition(state, next) {
				continue
			}
			if _, err := s.storage.Orders().UpdateState(ctx, order.ID, next); err != nil {
				return err
			}
			state = next
		}
		if err := s.saga.OrderStateChanged(ctx, order.ID, state); err != nil {
			return err
		}
	}
	return nil
}

func (s *InvoiceService) settleFees(ctx context.Context, orders []model.Order) error {
	for _, order := range orders {
		existing, err := s.storage.Fees().GetByOrderID(ctx, order.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		amount, err := feeAmount(order.TotalAmount, order.SellerCurrency, s.feePercent)
		if err != nil {
			return err
		}
		if _, err := s.storage.Fees().Create(ctx, model.NewFee{
			OrderID:  order.ID,
			Amount:   amount,
			Currency: order.SellerCurrency,
			Status:   model.FeeStatusNotPaid,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *InvoiceService) totalCashback(ctx context.Context, invoice model.Invoice, orders []model.Order) (model.Amount, error) {
	total := model.NewAmount(0)
	for _, order := range orders {
		if order.CashbackAmount.IsZero() {
			continue
		}
		rate, err := s.storage.Rates().GetActiveByOrderID(ctx, order.ID)
		if err != nil {
			return model.Amount{}, err
		}
		converted := order.CashbackAmount
		if rate != nil {
			if converted, err = convertToBuyer(order.CashbackAmount, order.SellerCurrency, invoice.BuyerCurrency, rate.ExchangeRate); err != nil {
				return model.Amount{}, err
			}
		}
		sum, ok := total.CheckedAdd(converted)
		if !ok {
			return model.Amount{}, errs.New(errs.KindInternal, "cashback total overflow")
		}
		total = sum
	}
	return total, nil
}

// UpdateOrderState applies one legal order state transition.
func (s *InvoiceService) UpdateOrderState(ctx context.Context, orderID uuid.UUID, next model.PaymentState) (model.Order, error) {
	order, err := s.storage.Orders().Get(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if order == nil {
		return model.Order{}, errs.NotFound("order")
	}
	if !model.CanTransition(order.State, next) {
		return model.Order{}, errs.Validation("state", "illegal_transition",
			string(order.State)+" cannot become "+string(next))
	}
	return s.storage.Orders().UpdateState(ctx, orderID, next)
}
