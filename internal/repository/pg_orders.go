package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/StoriqaTeam/billing-sub000/internal/acl"
	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

type pgOrders struct {
	s *pgStorage
}

const orderColumns = `id, invoice_id, store_id, seller_currency, total_amount,
	cashback_amount, state, stripe_fee, created_at, updated_at`

// orderTarget resolves order ownership: buyers own orders through the
// invoice, store managers through the store id.
type orderTarget struct {
	buyerUserID int64
	storeID     int64
}

func (t orderTarget) OwnedBy(ctx context.Context, userID int64, roles []model.UserRole) (bool, error) {
	if owned, _ := acl.OwnedByUser(t.buyerUserID).OwnedBy(ctx, userID, roles); owned {
		return true, nil
	}
	return acl.OwnedByStore(t.storeID).OwnedBy(ctx, userID, roles)
}

func (r *pgOrders) target(ctx context.Context, order *model.Order) (acl.ScopeChecker, error) {
	var buyerID int64
	err := sqlx.GetContext(ctx, r.s.ext, &buyerID,
		`SELECT buyer_user_id FROM invoices WHERE id = $1`, order.InvoiceID)
	if err != nil {
		return nil, mapDBError(err, "invoice")
	}
	return orderTarget{buyerUserID: buyerID, storeID: order.StoreID}, nil
}

func (r *pgOrders) Create(ctx context.Context, order model.Order) (model.Order, error) {
	if err := r.s.check(ctx, acl.ResourceOrder, acl.ActionWrite, nil); err != nil {
		return model.Order{}, err
	}
	var created model.Order
	err := sqlx.GetContext(ctx, r.s.ext, &created, `
		INSERT INTO orders (id, invoice_id, store_id, seller_currency, total_amount, cashback_amount, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+orderColumns,
		order.ID, order.InvoiceID, order.StoreID, order.SellerCurrency,
		order.TotalAmount, order.CashbackAmount, order.State)
	if err != nil {
		return model.Order{}, mapDBError(err, "order")
	}
	return created, nil
}

func (r *pgOrders) Get(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	var order model.Order
	err := sqlx.GetContext(ctx, r.s.ext, &order,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	found, err := noRowsToNil(&order, err, "order")
	if err != nil || found == nil {
		return found, err
	}
	target, err := r.target(ctx, found)
	if err != nil {
		return nil, err
	}
	if err := r.s.check(ctx, acl.ResourceOrder, acl.ActionRead, target); err != nil {
		return nil, err
	}
	return found, nil
}

func (r *pgOrders) GetByInvoiceID(ctx context.Context, invoiceID uuid.UUID) ([]model.Order, error) {
	var orders []model.Order
	err := sqlx.SelectContext(ctx, r.s.ext, &orders,
		`SELECT `+orderColumns+` FROM orders WHERE invoice_id = $1 ORDER BY created_at`, invoiceID)
	if err != nil {
		return nil, mapDBError(err, "order")
	}
	var buyerID int64
	if err := sqlx.GetContext(ctx, r.s.ext, &buyerID,
		`SELECT buyer_user_id FROM invoices WHERE id = $1`, invoiceID); err != nil {
		return nil, mapDBError(err, "invoice")
	}
	if err := r.s.check(ctx, acl.ResourceOrder, acl.ActionRead, acl.OwnedByUser(buyerID)); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *pgOrders) UpdateState(ctx context.Context, id uuid.UUID, state model.PaymentState) (model.Order, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return model.Order{}, err
	}
	if current == nil {
		return model.Order{}, errs.NotFound("order")
	}
	target, err := r.target(ctx, current)
	if err != nil {
		return model.Order{}, err
	}
	if err := r.s.check(ctx, acl.ResourceOrder, acl.ActionWrite, target); err != nil {
		return model.Order{}, err
	}
	var updated model.Order
	err = sqlx.GetContext(ctx, r.s.ext, &updated, `
		UPDATE orders SET state = $1, updated_at = now() WHERE id = $2
		RETURNING `+orderColumns, state, id)
	if err != nil {
		return model.Order{}, mapDBError(err, "order")
	}
	return updated, nil
}

func (r *pgOrders) SetStripeFee(ctx context.Context, id uuid.UUID, fee model.Amount) error {
	if err := r.s.check(ctx, acl.ResourceOrder, acl.ActionWrite, nil); err != nil {
		return err
	}
	res, err := r.s.ext.ExecContext(ctx,
		`UPDATE orders SET stripe_fee = $1, updated_at = now() WHERE id = $2`, fee, id)
	if err != nil {
		return mapDBError(err, "order")
	}
	return ensureOneRow(res, "order")
}

func (r *pgOrders) GetUnpaidToSeller(ctx context.Context, storeID int64) ([]model.Order, error) {
	if err := r.s.check(ctx, acl.ResourceOrder, acl.ActionRead, acl.OwnedByStore(storeID)); err != nil {
		return nil, err
	}
	var orders []model.Order
	err := sqlx.SelectContext(ctx, r.s.ext, &orders, `
		SELECT `+orderColumnsPrefixed("o")+`
		FROM orders o
		LEFT JOIN order_payouts op ON op.order_id = o.id
		WHERE o.store_id = $1 AND o.state = $2 AND op.order_id IS NULL
		ORDER BY o.created_at`,
		storeID, model.PaymentStatePaymentToSellerNeeded)
	if err != nil {
		return nil, mapDBError(err, "order")
	}
	return orders, nil
}

func orderColumnsPrefixed(alias string) string {
	return alias + `.id, ` + alias + `.invoice_id, ` + alias + `.store_id, ` +
		alias + `.seller_currency, ` + alias + `.total_amount, ` + alias + `.cashback_amount, ` +
		alias + `.state, ` + alias + `.stripe_fee, ` + alias + `.created_at, ` + alias + `.updated_at`
}

type pgRates struct {
	s *pgStorage
}

const rateColumns = `id, order_id, exchange_id, exchange_rate, status, created_at, updated_at`

func (r *pgRates) GetActiveByOrderID(ctx context.Context, orderID uuid.UUID) (*model.OrderExchangeRate, error) {
	if err := r.s.check(ctx, acl.ResourceInvoice, acl.ActionRead, nil); err != nil {
		return nil, err
	}
	var rate model.OrderExchangeRate
	err := sqlx.GetContext(ctx, r.s.ext, &rate, `
		SELECT `+rateColumns+` FROM order_exchange_rates
		WHERE order_id = $1 AND status = $2`, orderID, model.ExchangeRateStatusActive)
	return noRowsToNil(&rate, err, "order_exchange_rate")
}

// AddNewActiveRate locks the order's rate rows, expires the current active
// rate and inserts the replacement, so at most one Active row per order
// survives any interleaving. Invoice creation calls it with the order row
// still uncommitted, so it joins an open transaction instead of starting a
// second one; only top-level recalculation gets its own.
func (r *pgRates) AddNewActiveRate(ctx context.Context, orderID uuid.UUID, exchangeID *uuid.UUID, rate decimal.Decimal) (model.OrderExchangeRate, error) {
	if err := r.s.check(ctx, acl.ResourceInvoice, acl.ActionWrite, nil); err != nil {
		return model.OrderExchangeRate{}, err
	}
	var created model.OrderExchangeRate
	err := r.s.joinOrBegin(ctx, func(f Factory) error {
		tx := f.(*pgStorage).ext
		if _, err := tx.ExecContext(ctx, `
			SELECT id FROM order_exchange_rates WHERE order_id = $1 FOR UPDATE`, orderID); err != nil {
			return mapDBError(err, "order_exchange_rate")
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE order_exchange_rates SET status = $1, updated_at = now()
			WHERE order_id = $2 AND status = $3`,
			model.ExchangeRateStatusExpired, orderID, model.ExchangeRateStatusActive); err != nil {
			return mapDBError(err, "order_exchange_rate")
		}
		err := sqlx.GetContext(ctx, tx, &created, `
			INSERT INTO order_exchange_rates (order_id, exchange_id, exchange_rate, status)
			VALUES ($1, $2, $3, $4)
			RETURNING `+rateColumns,
			orderID, exchangeID, rate, model.ExchangeRateStatusActive)
		return mapDBError(err, "order_exchange_rate")
	})
	if err != nil {
		return model.OrderExchangeRate{}, err
	}
	return created, nil
}

func (r *pgRates) ExpireActiveRate(ctx context.Context, orderID uuid.UUID) error {
	if err := r.s.check(ctx, acl.ResourceInvoice, acl.ActionWrite, nil); err != nil {
		return err
	}
	_, err := r.s.ext.ExecContext(ctx, `
		UPDATE order_exchange_rates SET status = $1, updated_at = now()
		WHERE order_id = $2 AND status = $3`,
		model.ExchangeRateStatusExpired, orderID, model.ExchangeRateStatusActive)
	return mapDBError(err, "order_exchange_rate")
}
