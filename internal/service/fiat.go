package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/StoriqaTeam/billing-sub000/internal/client/saga"
	"github.com/StoriqaTeam/billing-sub000/internal/client/stripe"
	"github.com/StoriqaTeam/billing-sub000/internal/events"
	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/internal/repository"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

// FiatService covers the card rail: customers, fee settlement, capture and
// refund of orders, and webhook ingestion into the outbox.
type FiatService struct {
	storage       repository.Storage
	cards         stripe.Client
	saga          saga.Client
	publisher     events.Publisher
	feePercent    int64
	signingSecret string
	log           *logrus.Entry
}

// NewFiatService builds the fiat service.
func NewFiatService(
	storage repository.Storage,
	cards stripe.Client,
	orchestrator saga.Client,
	publisher events.Publisher,
	feePercent int64,
	signingSecret string,
	log *logrus.Logger,
) *FiatService {
	return &FiatService{
		storage:       storage,
		cards:         cards,
		saga:          orchestrator,
		publisher:     publisher,
		feePercent:    feePercent,
		signingSecret: signingSecret,
		log:           log.WithField("component", "fiat_service"),
	}
}

// CreateCustomerWithSource registers the user's card token with the
// processor and stores the resulting customer handle. One customer per user.
func (s *FiatService) CreateCustomerWithSource(ctx context.Context, userID int64, email *string, cardToken string) (model.Customer, error) {
	existing, err := s.storage.Customers().GetByUserID(ctx, userID)
	if err != nil {
		return model.Customer{}, err
	}
	if existing != nil {
		return model.Customer{}, errs.Validation("customer", "already_exists", "user already has a customer")
	}
	remote, err := s.cards.CreateCustomerWithSource(ctx, userID, email, cardToken)
	if err != nil {
		return model.Customer{}, err
	}
	created, err := s.storage.Customers().Create(ctx, model.Customer{
		ID:     remote.ID,
		UserID: userID,
		Email:  remote.Email,
	})
	if err != nil {
		return model.Customer{}, errs.AsValidation(err)
	}
	return created, nil
}

// GetCustomer returns the caller's customer, or nil.
func (s *FiatService) GetCustomer(ctx context.Context, userID int64) (*model.Customer, error) {
	return s.storage.Customers().GetByUserID(ctx, userID)
}

// UpdateCustomer updates the stored customer profile.
func (s *FiatService) UpdateCustomer(ctx context.Context, userID int64, email *string) (model.Customer, error) {
	existing, err := s.storage.Customers().GetByUserID(ctx, userID)
	if err != nil {
		return model.Customer{}, err
	}
	if existing == nil {
		return model.Customer{}, errs.NotFound("customer")
	}
	existing.Email = email
	return s.storage.Customers().Update(ctx, *existing)
}

// DeleteCustomer removes the processor customer and the local row.
func (s *FiatService) DeleteCustomer(ctx context.Context, userID int64) error {
	existing, err := s.storage.Customers().GetByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if existing == nil {
		return errs.NotFound("customer")
	}
	if err := s.cards.DeleteCustomer(ctx, existing.ID); err != nil {
		return err
	}
	return s.storage.Customers().Delete(ctx, userID)
}

// CreatePaymentIntentForFee opens a manual-capture intent covering an unpaid
// fee and links it.
func (s *FiatService) CreatePaymentIntentForFee(ctx context.Context, feeID int64) (model.PaymentIntent, error) {
	fee, err := s.storage.Fees().Get(ctx, feeID)
	if err != nil {
		return model.PaymentIntent{}, err
	}
	if fee == nil {
		return model.PaymentIntent{}, errs.NotFound("fee")
	}
	if fee.Status != model.FeeStatusNotPaid {
		return model.PaymentIntent{}, errs.Validation("fee", "not_chargeable", "fee is not in not_paid status")
	}
	remote, err := s.cards.CreatePaymentIntent(ctx, fee.Amount, fee.Currency)
	if err != nil {
		return model.PaymentIntent{}, err
	}
	var created model.PaymentIntent
	err = s.storage.InTransaction(ctx, func(f repository.Factory) error {
		var txErr error
		created, txErr = f.PaymentIntents().Create(ctx, model.PaymentIntent{
			ID:           remote.ID,
			Amount:       fee.Amount,
			Currency:     fee.Currency,
			Status:       model.PaymentIntentStatus(remote.Status),
			ClientSecret: remote.ClientSecret,
		})
		if txErr != nil {
			return txErr
		}
		return f.PaymentIntents().LinkFee(ctx, feeID, remote.ID)
	})
	if err != nil {
		return model.PaymentIntent{}, err
	}
	return created, nil
}

func (s *FiatService) intentForOrder(ctx context.Context, order model.Order) (*model.PaymentIntent, error) {
	intent, err := s.storage.PaymentIntents().GetByInvoiceID(ctx, order.InvoiceID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, errs.Validation("order", "no_payment_intent", "order's invoice has no payment intent")
	}
	return intent, nil
}

// CaptureOrder captures the order's total on the invoice's payment intent
// and advances the order to Captured.
func (s *FiatService) CaptureOrder(ctx context.Context, orderID uuid.UUID) (model.Order, error) {
	order, err := s.storage.Orders().Get(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if order == nil {
		return model.Order{}, errs.NotFound("order")
	}
	if !model.CanTransition(order.State, model.PaymentStateCaptured) {
		return model.Order{}, errs.Validation("state", "illegal_transition",
			"order cannot be captured from state "+string(order.State))
	}
	intent, err := s.intentForOrder(ctx, *order)
	if err != nil {
		return model.Order{}, err
	}
	if _, err := s.cards.CapturePaymentIntent(ctx, intent.ID, order.TotalAmount); err != nil {
		return model.Order{}, err
	}
	return s.storage.Orders().UpdateState(ctx, orderID, model.PaymentStateCaptured)
}

// RefundOrder refunds the order's total against the intent's charge and
// advances the order through RefundNeeded to Refunded.
func (s *FiatService) RefundOrder(ctx context.Context, orderID uuid.UUID) (model.Order, error) {
	order, err := s.storage.Orders().Get(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if order == nil {
		return model.Order{}, errs.NotFound("order")
	}
	state := order.State
	if state == model.PaymentStateCaptured {
		updated, err := s.storage.Orders().UpdateState(ctx, orderID, model.PaymentStateRefundNeeded)
		if err != nil {
			return model.Order{}, err
		}
		state = updated.State
	}
	if state != model.PaymentStateRefundNeeded {
		return model.Order{}, errs.Validation("state", "illegal_transition",
			"order cannot be refunded from state "+string(order.State))
	}
	intent, err := s.intentForOrder(ctx, *order)
	if err != nil {
		return model.Order{}, err
	}
	if intent.ChargeID == nil {
		return model.Order{}, errs.Validation("order", "no_charge", "payment intent has no charge to refund")
	}
	if _, err := s.cards.RefundCharge(ctx, *intent.ChargeID, order.TotalAmount); err != nil {
		return model.Order{}, err
	}
	return s.storage.Orders().UpdateState(ctx, orderID, model.PaymentStateRefunded)
}

// ChargeFeesByOrders settles the fees of the given orders with one charge
// against the store's customer. All orders must share one store and one
// currency and every fee must be unpaid.
func (s *FiatService) ChargeFeesByOrders(ctx context.Context, orderIDs []uuid.UUID) ([]model.Fee, error) {
	if len(orderIDs) == 0 {
		return nil, errs.Validation("order_ids", "empty", "order id list must not be empty")
	}
	var (
		fees     []model.Fee
		storeID  int64
		currency model.Currency
		total    = model.NewAmount(0)
	)
	for i, orderID := range orderIDs {
		order, err := s.storage.Orders().Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if order == nil {
			return nil, errs.NotFound("order")
		}
		fee, err := s.storage.Fees().GetByOrderID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if fee == nil {
			return nil, errs.NotFound("fee")
		}
		if fee.Status != model.FeeStatusNotPaid {
			return nil, errs.Validation("fees", "not_chargeable",
				"fee for order "+orderID.String()+" is not unpaid")
		}
		if i == 0 {
			storeID, currency = order.StoreID, fee.Currency
		} else if order.StoreID != storeID {
			return nil, errs.Validation("order_ids", "store_mismatch", "orders belong to different stores")
		} else if fee.Currency != currency {
			return nil, errs.Validation("order_ids", "currency_mismatch", "fees are in different currencies")
		}
		sum, ok := total.CheckedAdd(fee.Amount)
		if !ok {
			return nil, errs.New(errs.KindInternal, "fee total overflow")
		}
		total = sum
		fees = append(fees, *fee)
	}

	customer, err := s.storage.Customers().GetForStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, errs.Validation("store_id", "no_customer", "store has no registered customer")
	}

	charge, chargeErr := s.cards.CreateCharge(ctx, customer.ID, total, currency, "platform fees")
	if chargeErr != nil {
		for _, fee := range fees {
			if err := s.storage.Fees().SetStatus(ctx, fee.ID, model.FeeStatusFail, nil); err != nil {
				s.log.WithError(err).WithField("fee_id", fee.ID).Error("mark fee failed")
			}
		}
		return nil, chargeErr
	}
	charged := make([]model.Fee, 0, len(fees))
	for _, fee := range fees {
		if err := s.storage.Fees().SetStatus(ctx, fee.ID, model.FeeStatusPaid, &charge.ID); err != nil {
			return nil, err
		}
		fee.Status = model.FeeStatusPaid
		chargeID := charge.ID
		fee.ChargeID = &chargeID
		charged = append(charged, fee)
	}
	return charged, nil
}

// ChargeFee settles a single fee by its id.
func (s *FiatService) ChargeFee(ctx context.Context, feeID int64) ([]model.Fee, error) {
	fee, err := s.storage.Fees().Get(ctx, feeID)
	if err != nil {
		return nil, err
	}
	if fee == nil {
		return nil, errs.NotFound("fee")
	}
	return s.ChargeFeesByOrders(ctx, []uuid.UUID{fee.OrderID})
}

// HandleWebhook verifies the processor's signature and wraps recognized
// events into outbox entries. It returns as soon as the entry is durable.
func (s *FiatService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := stripe.ConstructEvent(payload, signature, s.signingSecret, stripe.DefaultTolerance)
	if err != nil {
		return err
	}
	var kind model.EventKind
	switch event.Type {
	case "payment_intent.amount_capturable_updated":
		kind = model.EventKindPaymentIntentAmountCapturableUpdate
	case "payment_intent.payment_failed":
		kind = model.EventKindPaymentIntentPaymentFailed
	default:
		s.log.WithField("type", event.Type).Debug("ignoring unhandled webhook event")
		return nil
	}
	var remote stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Object, &remote); err != nil {
		return errs.Wrap(errs.KindValidation, err, "malformed payment intent object")
	}
	if remote.Amount < 0 || remote.AmountCapturable < 0 || remote.AmountReceived < 0 {
		return errs.New(errs.KindValidation, "negative amounts in payment intent object")
	}
	entry, err := model.NewEvent(kind, model.PaymentIntentPayload{
		ID:               remote.ID,
		Amount:           model.NewAmount(uint64(remote.Amount)),
		AmountCapturable: model.NewAmount(uint64(remote.AmountCapturable)),
		AmountReceived:   model.NewAmount(uint64(remote.AmountReceived)),
		Currency:         remote.Currency,
		ChargeID:         remote.ChargeID(),
		Status:           remote.Status,
		LastError:        remote.LastErrorMessage(),
	})
	if err != nil {
		return err
	}
	_, err = s.storage.EventStore().AddEvent(ctx, entry)
	return err
}

// PaymentIntentCapturableUpdated applies the processor's capturable report:
// for an invoice-backed intent the invoice is paid and its orders captured;
// for a fee-backed intent the fee is settled. Called by the outbox worker.
func (s *FiatService) PaymentIntentCapturableUpdated(ctx context.Context, payload model.PaymentIntentPayload) error {
	var settledOrders []model.Order
	err := s.storage.InTransaction(ctx, func(f repository.Factory) error {
		intent, err := f.PaymentIntents().Get(ctx, payload.ID)
		if err != nil {
			return err
		}
		if intent == nil {
			return errs.NotFound("payment_intent")
		}
		intent.Status = model.PaymentIntentStatus(payload.Status)
		intent.AmountReceived = payload.AmountReceived
		if payload.ChargeID != nil {
			intent.ChargeID = payload.ChargeID
		}
		if err := f.PaymentIntents().Update(ctx, *intent); err != nil {
			return err
		}

		invoiceID, err := f.PaymentIntents().InvoiceForIntent(ctx, payload.ID)
		if err != nil {
			return err
		}
		if invoiceID != nil {
			settledOrders, err = s.settleFiatInvoice(ctx, f, *invoiceID, payload)
			return err
		}
		feeID, err := f.PaymentIntents().FeeForIntent(ctx, payload.ID)
		if err != nil {
			return err
		}
		if feeID != nil {
			return f.Fees().SetStatus(ctx, *feeID, model.FeeStatusPaid, payload.ChargeID)
		}
		return errs.Newf(errs.KindInternal, "payment intent %s backs neither invoice nor fee", payload.ID)
	})
	if err != nil {
		return err
	}
	// saga updates are best-effort and must not roll back the settlement
	for _, order := range settledOrders {
		if err := s.saga.OrderStateChanged(ctx, order.ID, order.State); err != nil {
			s.log.WithError(err).WithField("order_id", order.ID).Warn("saga order update failed")
		}
	}
	return nil
}

func (s *FiatService) settleFiatInvoice(ctx context.Context, f repository.Factory, invoiceID uuid.UUID, payload model.PaymentIntentPayload) ([]model.Order, error) {
	invoice, err := f.Invoices().Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, errs.NotFound("invoice")
	}
	orders, err := f.Orders().GetByInvoiceID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	settled := make([]model.Order, 0, len(orders))
	for _, order := range orders {
		if model.CanTransition(order.State, model.PaymentStateCaptured) {
			updated, err := f.Orders().UpdateState(ctx, order.ID, model.PaymentStateCaptured)
			if err != nil {
				return nil, err
			}
			order = updated
		}
		settled = append(settled, order)

		existing, err := f.Fees().GetByOrderID(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			amount, err := feeAmount(order.TotalAmount, order.SellerCurrency, s.feePercent)
			if err != nil {
				return nil, err
			}
			if _, err := f.Fees().Create(ctx, model.NewFee{
				OrderID:  order.ID,
				Amount:   amount,
				Currency: order.SellerCurrency,
				Status:   model.FeeStatusNotPaid,
			}); err != nil {
				return nil, err
			}
		}
	}
	if err := f.Invoices().SetAmountCaptured(ctx, invoiceID, payload.AmountCapturable); err != nil {
		return nil, err
	}
	if err := f.Invoices().MarkPaid(ctx, invoiceID, payload.AmountCapturable, model.NewAmount(0), time.Now()); err != nil {
		return nil, err
	}
	s.publisher.InvoiceStatus(ctx, invoiceID, model.InvoiceStatusPaid, payload.AmountCapturable)
	return settled, nil
}
