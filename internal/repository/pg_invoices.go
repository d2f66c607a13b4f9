package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/StoriqaTeam/billing-sub000/internal/acl"
	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

type pgInvoices struct {
	s *pgStorage
}

const invoiceColumns = `id, buyer_user_id, buyer_currency, account_id, amount_captured,
	final_amount_paid, final_cashback_amount, paid_at, status, created_at, updated_at`

func (r *pgInvoices) Create(ctx context.Context, invoice model.Invoice) (model.Invoice, error) {
	if err := r.s.check(ctx, acl.ResourceInvoice, acl.ActionWrite, acl.OwnedByUser(invoice.BuyerUserID)); err != nil {
		return model.Invoice{}, err
	}
	var created model.Invoice
	err := sqlx.GetContext(ctx, r.s.ext, &created, `
		INSERT INTO invoices (id, buyer_user_id, buyer_currency, account_id, amount_captured, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+invoiceColumns,
		invoice.ID, invoice.BuyerUserID, invoice.BuyerCurrency, invoice.AccountID,
		invoice.AmountCaptured, invoice.Status)
	if err != nil {
		return model.Invoice{}, mapDBError(err, "invoice")
	}
	return created, nil
}

func (r *pgInvoices) Get(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	var invoice model.Invoice
	err := sqlx.GetContext(ctx, r.s.ext, &invoice,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	found, err := noRowsToNil(&invoice, err, "invoice")
	if err != nil || found == nil {
		return found, err
	}
	if err := r.s.check(ctx, acl.ResourceInvoice, acl.ActionRead, acl.OwnedByUser(found.BuyerUserID)); err != nil {
		return nil, err
	}
	return found, nil
}

func (r *pgInvoices) GetByAccountID(ctx context.Context, accountID uuid.UUID) (*model.Invoice, error) {
	var invoice model.Invoice
	err := sqlx.GetContext(ctx, r.s.ext, &invoice,
		`SELECT `+invoiceColumns+` FROM invoices WHERE account_id = $1`, accountID)
	found, err := noRowsToNil(&invoice, err, "invoice")
	if err != nil || found == nil {
		return found, err
	}
	if err := r.s.check(ctx, acl.ResourceInvoice, acl.ActionRead, acl.OwnedByUser(found.BuyerUserID)); err != nil {
		return nil, err
	}
	return found, nil
}

func (r *pgInvoices) ownerTarget(ctx context.Context, id uuid.UUID) (acl.ScopeChecker, error) {
	var buyerID int64
	err := sqlx.GetContext(ctx, r.s.ext, &buyerID, `SELECT buyer_user_id FROM invoices WHERE id = $1`, id)
	if err != nil {
		return nil, mapDBError(err, "invoice")
	}
	return acl.OwnedByUser(buyerID), nil
}

func (r *pgInvoices) SetAmountCaptured(ctx context.Context, id uuid.UUID, captured model.Amount) error {
	target, err := r.ownerTarget(ctx, id)
	if err != nil {
		return err
	}
	if err := r.s.check(ctx, acl.ResourceInvoice, acl.ActionWrite, target); err != nil {
		return err
	}
	res, err := r.s.ext.ExecContext(ctx, `
		UPDATE invoices SET amount_captured = $1, updated_at = now() WHERE id = $2`,
		captured, id)
	if err != nil {
		return mapDBError(err, "invoice")
	}
	return ensureOneRow(res, "invoice")
}

// AddAmountCaptured uses a relative UPDATE so concurrent deposit callbacks
// serialize on the row instead of overwriting each other's totals.
func (r *pgInvoices) AddAmountCaptured(ctx context.Context, id uuid.UUID, delta model.Amount) (model.Invoice, error) {
	target, err := r.ownerTarget(ctx, id)
	if err != nil {
		return model.Invoice{}, err
	}
	if err := r.s.check(ctx, acl.ResourceInvoice, acl.ActionWrite, target); err != nil {
		return model.Invoice{}, err
	}
	var updated model.Invoice
	err = sqlx.GetContext(ctx, r.s.ext, &updated, `
		UPDATE invoices SET amount_captured = amount_captured + $1, updated_at = now()
		WHERE id = $2
		RETURNING `+invoiceColumns,
		delta, id)
	if err != nil {
		return model.Invoice{}, mapDBError(err, "invoice")
	}
	return updated, nil
}

func (r *pgInvoices) MarkPaid(ctx context.Context, id uuid.UUID, finalAmount, finalCashback model.Amount, paidAt time.Time) error {
	target, err := r.ownerTarget(ctx, id)
	if err != nil {
		return err
	}
	if err := r.s.check(ctx, acl.ResourceInvoice, acl.ActionWrite, target); err != nil {
		return err
	}
	res, err := r.s.ext.ExecContext(ctx, `
		UPDATE invoices
		SET status = $1, final_amount_paid = $2, final_cashback_amount = $3, paid_at = $4, updated_at = now()
		WHERE id = $5 AND status <> $1`,
		model.InvoiceStatusPaid, finalAmount, finalCashback, paidAt, id)
	if err != nil {
		return mapDBError(err, "invoice")
	}
	// Zero rows means the invoice was already paid; the transition is
	// idempotent for retried events.
	_, _ = res.RowsAffected()
	return nil
}

func (r *pgInvoices) MarkExpired(ctx context.Context, id uuid.UUID) error {
	target, err := r.ownerTarget(ctx, id)
	if err != nil {
		return err
	}
	if err := r.s.check(ctx, acl.ResourceInvoice, acl.ActionWrite, target); err != nil {
		return err
	}
	res, err := r.s.ext.ExecContext(ctx, `
		UPDATE invoices SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		model.InvoiceStatusExpired, id, model.InvoiceStatusPaymentAwaited)
	if err != nil {
		return mapDBError(err, "invoice")
	}
	// Zero rows means the invoice was paid or expired in the meantime.
	_, _ = res.RowsAffected()
	return nil
}

func (r *pgInvoices) UnlinkAccount(ctx context.Context, id uuid.UUID) error {
	target, err := r.ownerTarget(ctx, id)
	if err != nil {
		return err
	}
	if err := r.s.check(ctx, acl.ResourceInvoice, acl.ActionWrite, target); err != nil {
		return err
	}
	if _, err := r.s.ext.ExecContext(ctx, `
		UPDATE invoices SET account_id = NULL, updated_at = now() WHERE id = $1`, id); err != nil {
		return mapDBError(err, "invoice")
	}
	return nil
}

type pgAmountsReceived struct {
	s *pgStorage
}

func (r *pgAmountsReceived) Create(ctx context.Context, received model.AmountReceived) error {
	if err := r.s.check(ctx, acl.ResourceInvoice, acl.ActionWrite, nil); err != nil {
		return err
	}
	_, err := r.s.ext.ExecContext(ctx, `
		INSERT INTO amounts_received (id, invoice_id, amount_received)
		VALUES ($1, $2, $3)`,
		received.ID, received.InvoiceID, received.AmountReceived)
	return mapDBError(err, "amount_received")
}

func (r *pgAmountsReceived) SumForInvoice(ctx context.Context, invoiceID uuid.UUID) (model.Amount, error) {
	if err := r.s.check(ctx, acl.ResourceInvoice, acl.ActionRead, nil); err != nil {
		return model.Amount{}, err
	}
	var sum model.Amount
	err := sqlx.GetContext(ctx, r.s.ext, &sum, `
		SELECT COALESCE(SUM(amount_received), 0) FROM amounts_received WHERE invoice_id = $1`,
		invoiceID)
	if err != nil {
		return model.Amount{}, mapDBError(err, "amount_received")
	}
	return sum, nil
}

func ensureOneRow(res interface{ RowsAffected() (int64, error) }, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Internal(err, entity+" rows affected")
	}
	if n == 0 {
		return errs.NotFound(entity)
	}
	return nil
}
