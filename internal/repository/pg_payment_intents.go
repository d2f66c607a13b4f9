package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/StoriqaTeam/billing-sub000/internal/acl"
	"github.com/StoriqaTeam/billing-sub000/internal/model"
)

type pgPaymentIntents struct {
	s *pgStorage
}

const intentColumns = `id, amount, amount_received, currency, charge_id, status,
	client_secret, last_payment_error_message, created_at, updated_at`

func (r *pgPaymentIntents) Create(ctx context.Context, intent model.PaymentIntent) (model.PaymentIntent, error) {
	if err := r.s.check(ctx, acl.ResourcePaymentIntent, acl.ActionWrite, nil); err != nil {
		return model.PaymentIntent{}, err
	}
	var created model.PaymentIntent
	err := sqlx.GetContext(ctx, r.s.ext, &created, `
		INSERT INTO payment_intents (id, amount, amount_received, currency, charge_id, status, client_secret, last_payment_error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+intentColumns,
		intent.ID, intent.Amount, intent.AmountReceived, intent.Currency,
		intent.ChargeID, intent.Status, intent.ClientSecret, intent.LastPaymentErrorMessage)
	if err != nil {
		return model.PaymentIntent{}, mapDBError(err, "payment_intent")
	}
	return created, nil
}

func (r *pgPaymentIntents) Get(ctx context.Context, id string) (*model.PaymentIntent, error) {
	var intent model.PaymentIntent
	err := sqlx.GetContext(ctx, r.s.ext, &intent,
		`SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id)
	found, err := noRowsToNil(&intent, err, "payment_intent")
	if err != nil || found == nil {
		return found, err
	}
	if err := r.s.check(ctx, acl.ResourcePaymentIntent, acl.ActionRead, r.ownerTarget(ctx, id)); err != nil {
		return nil, err
	}
	return found, nil
}

// ownerTarget resolves intent ownership through the linked invoice's buyer.
func (r *pgPaymentIntents) ownerTarget(ctx context.Context, intentID string) acl.ScopeChecker {
	var buyerID int64
	err := sqlx.GetContext(ctx, r.s.ext, &buyerID, `
		SELECT i.buyer_user_id FROM invoices i
		JOIN payment_intents_invoices pii ON pii.invoice_id = i.id
		WHERE pii.payment_intent_id = $1`, intentID)
	if err != nil {
		return nil
	}
	return acl.OwnedByUser(buyerID)
}

func (r *pgPaymentIntents) Update(ctx context.Context, intent model.PaymentIntent) error {
	if err := r.s.check(ctx, acl.ResourcePaymentIntent, acl.ActionWrite, nil); err != nil {
		return err
	}
	res, err := r.s.ext.ExecContext(ctx, `
		UPDATE payment_intents
		SET amount = $1, amount_received = $2, charge_id = $3, status = $4,
		    last_payment_error_message = $5, updated_at = now()
		WHERE id = $6`,
		intent.Amount, intent.AmountReceived, intent.ChargeID, intent.Status,
		intent.LastPaymentErrorMessage, intent.ID)
	if err != nil {
		return mapDBError(err, "payment_intent")
	}
	return ensureOneRow(res, "payment_intent")
}

func (r *pgPaymentIntents) LinkInvoice(ctx context.Context, invoiceID uuid.UUID, intentID string) error {
	if err := r.s.check(ctx, acl.ResourcePaymentIntentInvoice, acl.ActionWrite, nil); err != nil {
		return err
	}
	_, err := r.s.ext.ExecContext(ctx, `
		INSERT INTO payment_intents_invoices (invoice_id, payment_intent_id)
		VALUES ($1, $2)`, invoiceID, intentID)
	return mapDBError(err, "payment_intent_invoice")
}

func (r *pgPaymentIntents) LinkFee(ctx context.Context, feeID int64, intentID string) error {
	if err := r.s.check(ctx, acl.ResourcePaymentIntentFee, acl.ActionWrite, nil); err != nil {
		return err
	}
	_, err := r.s.ext.ExecContext(ctx, `
		INSERT INTO payment_intents_fees (fee_id, payment_intent_id)
		VALUES ($1, $2)`, feeID, intentID)
	return mapDBError(err, "payment_intent_fee")
}

func (r *pgPaymentIntents) GetByInvoiceID(ctx context.Context, invoiceID uuid.UUID) (*model.PaymentIntent, error) {
	if err := r.s.check(ctx, acl.ResourcePaymentIntent, acl.ActionRead, nil); err != nil {
		return nil, err
	}
	var intent model.PaymentIntent
	err := sqlx.GetContext(ctx, r.s.ext, &intent, `
		SELECT `+intentColumnsPrefixed("pi")+`
		FROM payment_intents pi
		JOIN payment_intents_invoices pii ON pii.payment_intent_id = pi.id
		WHERE pii.invoice_id = $1`, invoiceID)
	return noRowsToNil(&intent, err, "payment_intent")
}

func (r *pgPaymentIntents) InvoiceForIntent(ctx context.Context, intentID string) (*uuid.UUID, error) {
	if err := r.s.check(ctx, acl.ResourcePaymentIntentInvoice, acl.ActionRead, nil); err != nil {
		return nil, err
	}
	var invoiceID uuid.UUID
	err := sqlx.GetContext(ctx, r.s.ext, &invoiceID,
		`SELECT invoice_id FROM payment_intents_invoices WHERE payment_intent_id = $1`, intentID)
	return noRowsToNil(&invoiceID, err, "payment_intent_invoice")
}

func (r *pgPaymentIntents) FeeForIntent(ctx context.Context, intentID string) (*int64, error) {
	if err := r.s.check(ctx, acl.ResourcePaymentIntentFee, acl.ActionRead, nil); err != nil {
		return nil, err
	}
	var feeID int64
	err := sqlx.GetContext(ctx, r.s.ext, &feeID,
		`SELECT fee_id FROM payment_intents_fees WHERE payment_intent_id = $1`, intentID)
	return noRowsToNil(&feeID, err, "payment_intent_fee")
}

func intentColumnsPrefixed(alias string) string {
	return alias + `.id, ` + alias + `.amount, ` + alias + `.amount_received, ` +
		alias + `.currency, ` + alias + `.charge_id, ` + alias + `.status, ` +
		alias + `.client_secret, ` + alias + `.last_payment_error_message, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}

type pgFees struct {
	s *pgStorage
}

const feeColumns = `id, order_id, amount, currency, status, charge_id,
	crypto_amount, crypto_currency, metadata, created_at, updated_at`

func (r *pgFees) Create(ctx context.Context, fee model.NewFee) (model.Fee, error) {
	if err := r.s.check(ctx, acl.ResourceFee, acl.ActionWrite, nil); err != nil {
		return model.Fee{}, err
	}
	var created model.Fee
	err := sqlx.GetContext(ctx, r.s.ext, &created, `
		INSERT INTO fees (order_id, amount, currency, status, charge_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+feeColumns,
		fee.OrderID, fee.Amount, fee.Currency, fee.Status, fee.ChargeID, fee.Metadata)
	if err != nil {
		return model.Fee{}, mapDBError(err, "fee")
	}
	return created, nil
}

func (r *pgFees) storeTarget(ctx context.Context, orderID uuid.UUID) acl.ScopeChecker {
	var storeID int64
	if err := sqlx.GetContext(ctx, r.s.ext, &storeID,
		`SELECT store_id FROM orders WHERE id = $1`, orderID); err != nil {
		return nil
	}
	return acl.OwnedByStore(storeID)
}

func (r *pgFees) Get(ctx context.Context, id int64) (*model.Fee, error) {
	var fee model.Fee
	err := sqlx.GetContext(ctx, r.s.ext, &fee,
		`SELECT `+feeColumns+` FROM fees WHERE id = $1`, id)
	found, err := noRowsToNil(&fee, err, "fee")
	if err != nil || found == nil {
		return found, err
	}
	if err := r.s.check(ctx, acl.ResourceFee, acl.ActionRead, r.storeTarget(ctx, found.OrderID)); err != nil {
		return nil, err
	}
	return found, nil
}

func (r *pgFees) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*model.Fee, error) {
	var fee model.Fee
	err := sqlx.GetContext(ctx, r.s.ext, &fee,
		`SELECT `+feeColumns+` FROM fees WHERE order_id = $1`, orderID)
	found, err := noRowsToNil(&fee, err, "fee")
	if err != nil || found == nil {
		return found, err
	}
	if err := r.s.check(ctx, acl.ResourceFee, acl.ActionRead, r.storeTarget(ctx, orderID)); err != nil {
		return nil, err
	}
	return found, nil
}

func (r *pgFees) SetStatus(ctx context.Context, id int64, status model.FeeStatus, chargeID *string) error {
	if err := r.s.check(ctx, acl.ResourceFee, acl.ActionWrite, nil); err != nil {
		return err
	}
	res, err := r.s.ext.ExecContext(ctx, `
		UPDATE fees SET status = $1, charge_id = COALESCE($2, charge_id), updated_at = now()
		WHERE id = $3`, status, chargeID, id)
	if err != nil {
		return mapDBError(err, "fee")
	}
	return ensureOneRow(res, "fee")
}

type pgCustomers struct {
	s *pgStorage
}

const customerColumns = `id, user_id, email, created_at, updated_at`

func (r *pgCustomers) Create(ctx context.Context, customer model.Customer) (model.Customer, error) {
	if err := r.s.check(ctx, acl.ResourceCustomer, acl.ActionWrite, acl.OwnedByUser(customer.UserID)); err != nil {
		return model.Customer{}, err
	}
	var created model.Customer
	err := sqlx.GetContext(ctx, r.s.ext, &created, `
		INSERT INTO customers (id, user_id, email)
		VALUES ($1, $2, $3)
		RETURNING `+customerColumns,
		customer.ID, customer.UserID, customer.Email)
	if err != nil {
		return model.Customer{}, mapDBError(err, "customer")
	}
	return created, nil
}

func (r *pgCustomers) GetByUserID(ctx context.Context, userID int64) (*model.Customer, error) {
	var customer model.Customer
	err := sqlx.GetContext(ctx, r.s.ext, &customer,
		`SELECT `+customerColumns+` FROM customers WHERE user_id = $1`, userID)
	found, err := noRowsToNil(&customer, err, "customer")
	if err != nil || found == nil {
		return found, err
	}
	if err := r.s.check(ctx, acl.ResourceCustomer, acl.ActionRead, acl.OwnedByUser(userID)); err != nil {
		return nil, err
	}
	return found, nil
}

func (r *pgCustomers) GetForStore(ctx context.Context, storeID int64) (*model.Customer, error) {
	if err := r.s.check(ctx, acl.ResourceCustomer, acl.ActionRead, acl.OwnedByStore(storeID)); err != nil {
		return nil, err
	}
	var customer model.Customer
	err := sqlx.GetContext(ctx, r.s.ext, &customer, `
		SELECT c.id, c.user_id, c.email, c.created_at, c.updated_at
		FROM customers c
		JOIN user_roles ur ON ur.user_id = c.user_id
		WHERE ur.role = $1 AND ur.data = to_jsonb($2::bigint)
		ORDER BY c.created_at
		LIMIT 1`, model.RoleStoreManager, storeID)
	return noRowsToNil(&customer, err, "customer")
}

func (r *pgCustomers) Update(ctx context.Context, customer model.Customer) (model.Customer, error) {
	if err := r.s.check(ctx, acl.ResourceCustomer, acl.ActionWrite, acl.OwnedByUser(customer.UserID)); err != nil {
		return model.Customer{}, err
	}
	var updated model.Customer
	err := sqlx.GetContext(ctx, r.s.ext, &updated, `
		UPDATE customers SET email = $1, updated_at = now() WHERE user_id = $2
		RETURNING `+customerColumns, customer.Email, customer.UserID)
	if err != nil {
		return model.Customer{}, mapDBError(err, "customer")
	}
	return updated, nil
}

func (r *pgCustomers) Delete(ctx context.Context, userID int64) error {
	if err := r.s.check(ctx, acl.ResourceCustomer, acl.ActionWrite, acl.OwnedByUser(userID)); err != nil {
		return err
	}
	_, err := r.s.ext.ExecContext(ctx, `DELETE FROM customers WHERE user_id = $1`, userID)
	return mapDBError(err, "customer")
}
