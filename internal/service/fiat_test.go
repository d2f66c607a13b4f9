package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

func fiatInvoiceInput(total model.Amount, storeID int64) model.NewInvoice {
	return model.NewInvoice{
		BuyerUserID:   42,
		BuyerCurrency: model.CurrencyEUR,
		Orders: []model.NewInvoiceOrder{{
			ID:             uuid.New(),
			StoreID:        storeID,
			SellerCurrency: model.CurrencyEUR,
			TotalAmount:    total,
		}},
	}
}

func signedWebhookPayload(t *testing.T, secret string, eventType string, object interface{}) (payload []byte, header string) {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err = json.Marshal(map[string]interface{}{
		"id":   "evt_test",
		"type": eventType,
		"data": map[string]json.RawMessage{"object": raw},
	})
	require.NoError(t, err)
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	header = fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
	return payload, header
}

func TestCreateFiatInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	total := model.NewAmount(2500) // 25 EUR

	dump, err := env.invoices.CreateInvoice(ctx, fiatInvoiceInput(total, 3))
	require.NoError(t, err)

	assert.Equal(t, model.InvoiceStatusPaymentAwaited, dump.Invoice.Status)
	assert.Nil(t, dump.Invoice.AccountID, "fiat invoices have no deposit account")
	assert.Nil(t, dump.WalletAddress)
	require.NotNil(t, dump.RequiredTotal)
	assert.Zero(t, total.Cmp(*dump.RequiredTotal))

	intent, err := env.storage.PaymentIntents().GetByInvoiceID(ctx, dump.Invoice.ID)
	require.NoError(t, err)
	require.NotNil(t, intent, "the payment intent is linked on creation")
	assert.Zero(t, total.Cmp(intent.Amount))

	timeouts := env.pendingEvents(t, model.EventKindInvoiceExpired)
	require.Len(t, timeouts, 1, "creation schedules the fiat payment timeout")
	require.NotNil(t, timeouts[0].ScheduledOn)
}

func TestCreateFiatInvoiceCrossCurrency(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.gateway.SetRate(model.CurrencyUSD, model.CurrencyEUR, decimal.NewFromFloat(0.9))

	dump, err := env.invoices.CreateInvoice(ctx, model.NewInvoice{
		BuyerUserID:   31,
		BuyerCurrency: model.CurrencyEUR,
		Orders: []model.NewInvoiceOrder{
			{ID: uuid.New(), StoreID: 3, SellerCurrency: model.CurrencyEUR, TotalAmount: model.NewAmount(500)},
			{ID: uuid.New(), StoreID: 4, SellerCurrency: model.CurrencyUSD, TotalAmount: model.NewAmount(1000)},
		},
	})
	require.NoError(t, err)

	// 5.00 EUR + 10.00 USD at 0.9 EUR/USD
	expected := model.NewAmount(1400)
	require.NotNil(t, dump.RequiredTotal)
	assert.Zero(t, expected.Cmp(*dump.RequiredTotal))

	intent, err := env.storage.PaymentIntents().GetByInvoiceID(ctx, dump.Invoice.ID)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Zero(t, expected.Cmp(intent.Amount), "the card hold covers the converted sum")
	assert.Equal(t, model.CurrencyEUR, intent.Currency)
}

func TestFiatInvoicePaidThroughWebhook(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	total := model.NewAmount(2500)

	dump, err := env.invoices.CreateInvoice(ctx, fiatInvoiceInput(total, 3))
	require.NoError(t, err)
	invoiceID := dump.Invoice.ID
	orderID := dump.Orders[0].Order.ID

	intent, err := env.storage.PaymentIntents().GetByInvoiceID(ctx, invoiceID)
	require.NoError(t, err)
	require.NotNil(t, intent)

	payload, header := signedWebhookPayload(t, "whsec_test", "payment_intent.amount_capturable_updated", map[string]interface{}{
		"id":                intent.ID,
		"amount":            2500,
		"amount_capturable": 2500,
		"amount_received":   0,
		"currency":          "eur",
		"status":            "requires_capture",
		"charges":           map[string]interface{}{"data": []map[string]interface{}{{"id": "ch_hook_1"}}},
	})
	require.NoError(t, env.fiat.HandleWebhook(ctx, payload, header))

	entries := env.pendingEvents(t, model.EventKindPaymentIntentAmountCapturableUpdate)
	require.Len(t, entries, 1, "the webhook only enqueues the event")

	var intentPayload model.PaymentIntentPayload
	require.NoError(t, json.Unmarshal(entries[0].Event.Payload, &intentPayload))
	require.NoError(t, env.fiat.PaymentIntentCapturableUpdated(ctx, intentPayload))

	invoice, err := env.storage.Invoices().Get(ctx, invoiceID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusPaid, invoice.Status)
	require.NotNil(t, invoice.FinalAmountPaid)
	assert.Zero(t, total.Cmp(*invoice.FinalAmountPaid))

	order, err := env.storage.Orders().Get(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStateCaptured, order.State)
	assert.Contains(t, env.saga.statesFor(orderID), model.PaymentStateCaptured)

	fee, err := env.storage.Fees().GetByOrderID(ctx, orderID)
	require.NoError(t, err)
	require.NotNil(t, fee)
	assert.Equal(t, model.FeeStatusNotPaid, fee.Status)
	assert.Equal(t, "125", fee.Amount.String(), "5 percent of 2500 cents")

	updated, err := env.storage.PaymentIntents().Get(ctx, intent.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.ChargeID)
	assert.Equal(t, "ch_hook_1", *updated.ChargeID)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payload, _ := signedWebhookPayload(t, "whsec_test", "payment_intent.amount_capturable_updated", map[string]interface{}{"id": "pi_x"})
	_, wrongHeader := signedWebhookPayload(t, "whsec_other", "payment_intent.amount_capturable_updated", map[string]interface{}{"id": "pi_x"})

	err := env.fiat.HandleWebhook(ctx, payload, wrongHeader)
	require.Error(t, err)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
	assert.Empty(t, env.storage.Events(), "nothing is enqueued on a bad signature")
}

func TestWebhookIgnoresUnknownEventTypes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payload, header := signedWebhookPayload(t, "whsec_test", "customer.created", map[string]interface{}{"id": "cus_1"})
	require.NoError(t, env.fiat.HandleWebhook(ctx, payload, header))
	assert.Empty(t, env.storage.Events())
}

func TestCustomerLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	email := "buyer@example.com"

	created, err := env.fiat.CreateCustomerWithSource(ctx, 42, &email, "tok_visa")
	require.NoError(t, err)
	assert.Equal(t, int64(42), created.UserID)

	_, err = env.fiat.CreateCustomerWithSource(ctx, 42, &email, "tok_visa")
	require.Error(t, err, "one customer per user")
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	fetched, err := env.fiat.GetCustomer(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, created.ID, fetched.ID)

	updatedEmail := "new@example.com"
	updated, err := env.fiat.UpdateCustomer(ctx, 42, &updatedEmail)
	require.NoError(t, err)
	require.NotNil(t, updated.Email)
	assert.Equal(t, updatedEmail, *updated.Email)

	require.NoError(t, env.fiat.DeleteCustomer(ctx, 42))
	gone, err := env.fiat.GetCustomer(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

// seedStoreCustomer grants user 42 the store manager role for the store and
// registers a customer for them.
func seedStoreCustomer(t *testing.T, env *testEnv, storeID int64) model.Customer {
	t.Helper()
	ctx := context.Background()
	data, err := json.Marshal(storeID)
	require.NoError(t, err)
	_, err = env.storage.UserRoles().Create(ctx, model.NewUserRole{
		ID:     uuid.New(),
		UserID: 42,
		Role:   model.RoleStoreManager,
		Data:   data,
	})
	require.NoError(t, err)
	email := "store@example.com"
	customer, err := env.fiat.CreateCustomerWithSource(ctx, 42, &email, "tok_visa")
	require.NoError(t, err)
	return customer
}

func TestChargeFeesByOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const storeID = int64(3)
	seedStoreCustomer(t, env, storeID)

	dump, err := env.invoices.CreateInvoice(ctx, model.NewInvoice{
		BuyerUserID:   42,
		BuyerCurrency: model.CurrencyEUR,
		Orders: []model.NewInvoiceOrder{
			{ID: uuid.New(), StoreID: storeID, SellerCurrency: model.CurrencyEUR, TotalAmount: model.NewAmount(1000)},
			{ID: uuid.New(), StoreID: storeID, SellerCurrency: model.CurrencyEUR, TotalAmount: model.NewAmount(3000)},
		},
	})
	require.NoError(t, err)

	intent, err := env.storage.PaymentIntents().GetByInvoiceID(ctx, dump.Invoice.ID)
	require.NoError(t, err)
	require.NoError(t, env.fiat.PaymentIntentCapturableUpdated(ctx, model.PaymentIntentPayload{
		ID:               intent.ID,
		Amount:           model.NewAmount(4000),
		AmountCapturable: model.NewAmount(4000),
		Currency:         "eur",
		Status:           "requires_capture",
	}))

	orderIDs := []uuid.UUID{dump.Orders[0].Order.ID, dump.Orders[1].Order.ID}
	charged, err := env.fiat.ChargeFeesByOrders(ctx, orderIDs)
	require.NoError(t, err)
	require.Len(t, charged, 2)
	for _, fee := range charged {
		assert.Equal(t, model.FeeStatusPaid, fee.Status)
		require.NotNil(t, fee.ChargeID)
	}
	// one charge covering both fees: 5% of 1000 + 5% of 3000
	assert.Equal(t, "200", env.cards.lastChargeAmt.String())

	_, err = env.fiat.ChargeFeesByOrders(ctx, orderIDs)
	require.Error(t, err, "paid fees cannot be charged again")
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestChargeFeesFailureMarksFees(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const storeID = int64(7)
	seedStoreCustomer(t, env, storeID)

	dump, err := env.invoices.CreateInvoice(ctx, fiatInvoiceInput(model.NewAmount(1000), storeID))
	require.NoError(t, err)
	intent, err := env.storage.PaymentIntents().GetByInvoiceID(ctx, dump.Invoice.ID)
	require.NoError(t, err)
	require.NoError(t, env.fiat.PaymentIntentCapturableUpdated(ctx, model.PaymentIntentPayload{
		ID:               intent.ID,
		Amount:           model.NewAmount(1000),
		AmountCapturable: model.NewAmount(1000),
		Currency:         "eur",
		Status:           "requires_capture",
	}))

	env.cards.failCharge = true
	_, err = env.fiat.ChargeFeesByOrders(ctx, []uuid.UUID{dump.Orders[0].Order.ID})
	require.Error(t, err)

	fee, err := env.storage.Fees().GetByOrderID(ctx, dump.Orders[0].Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FeeStatusFail, fee.Status)
}

func TestRefundOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	dump, err := env.invoices.CreateInvoice(ctx, fiatInvoiceInput(model.NewAmount(1500), 4))
	require.NoError(t, err)
	orderID := dump.Orders[0].Order.ID
	intent, err := env.storage.PaymentIntents().GetByInvoiceID(ctx, dump.Invoice.ID)
	require.NoError(t, err)

	chargeID := "ch_refund_1"
	require.NoError(t, env.fiat.PaymentIntentCapturableUpdated(ctx, model.PaymentIntentPayload{
		ID:               intent.ID,
		Amount:           model.NewAmount(1500),
		AmountCapturable: model.NewAmount(1500),
		Currency:         "eur",
		ChargeID:         &chargeID,
		Status:           "requires_capture",
	}))

	refunded, err := env.fiat.RefundOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStateRefunded, refunded.State)
	require.Len(t, env.cards.refunds, 1)
	assert.Equal(t, int64(1500), env.cards.refunds[0].Amount)
}
