package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/StoriqaTeam/billing-sub000/internal/acl"
	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

type pgPayouts struct {
	s *pgStorage
}

// payoutRow is the flat DB shape of a payout; the crypto target columns are
// embedded in the payouts table.
type payoutRow struct {
	ID            uuid.UUID          `db:"id"`
	GrossAmount   model.Amount       `db:"gross_amount"`
	NetAmount     model.Amount       `db:"net_amount"`
	Currency      model.Currency     `db:"currency"`
	WalletAddress string             `db:"wallet_address"`
	BlockchainFee model.Amount       `db:"blockchain_fee"`
	UserID        int64              `db:"user_id"`
	Status        model.PayoutStatus `db:"status"`
	InitiatedAt   time.Time          `db:"initiated_at"`
	CompletedAt   *time.Time         `db:"completed_at"`
}

const payoutColumns = `id, gross_amount, net_amount, currency, wallet_address,
	blockchain_fee, user_id, status, initiated_at, completed_at`

func (row payoutRow) toModel(orderIDs []uuid.UUID) model.Payout {
	return model.Payout{
		ID:          row.ID,
		GrossAmount: row.GrossAmount,
		NetAmount:   row.NetAmount,
		Target: model.CryptoPayoutTarget{
			Currency:      row.Currency,
			WalletAddress: row.WalletAddress,
			BlockchainFee: row.BlockchainFee,
		},
		UserID:      row.UserID,
		Status:      row.Status,
		InitiatedAt: row.InitiatedAt,
		CompletedAt: row.CompletedAt,
		OrderIDs:    orderIDs,
	}
}

func (r *pgPayouts) Create(ctx context.Context, payout model.Payout) (model.Payout, error) {
	if err := r.s.check(ctx, acl.ResourcePayout, acl.ActionWrite, acl.OwnedByUser(payout.UserID)); err != nil {
		return model.Payout{}, err
	}
	var row payoutRow
	err := sqlx.GetContext(ctx, r.s.ext, &row, `
		INSERT INTO payouts (id, gross_amount, net_amount, currency, wallet_address, blockchain_fee, user_id, status, initiated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+payoutColumns,
		payout.ID, payout.GrossAmount, payout.NetAmount, payout.Target.Currency,
		payout.Target.WalletAddress, payout.Target.BlockchainFee, payout.UserID,
		payout.Status, payout.InitiatedAt)
	if err != nil {
		return model.Payout{}, mapDBError(err, "payout")
	}
	for _, orderID := range payout.OrderIDs {
		if _, err := r.s.ext.ExecContext(ctx, `
			INSERT INTO order_payouts (order_id, payout_id) VALUES ($1, $2)`,
			orderID, payout.ID); err != nil {
			return model.Payout{}, mapDBError(err, "order_payout")
		}
	}
	return row.toModel(payout.OrderIDs), nil
}

func (r *pgPayouts) orderIDs(ctx context.Context, payoutID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := sqlx.SelectContext(ctx, r.s.ext, &ids,
		`SELECT order_id FROM order_payouts WHERE payout_id = $1 ORDER BY order_id`, payoutID)
	if err != nil {
		return nil, mapDBError(err, "order_payout")
	}
	return ids, nil
}

func (r *pgPayouts) Get(ctx context.Context, id uuid.UUID) (*model.Payout, error) {
	var row payoutRow
	err := sqlx.GetContext(ctx, r.s.ext, &row,
		`SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id)
	found, err := noRowsToNil(&row, err, "payout")
	if err != nil || found == nil {
		return nil, err
	}
	if err := r.s.check(ctx, acl.ResourcePayout, acl.ActionRead, acl.OwnedByUser(found.UserID)); err != nil {
		return nil, err
	}
	ids, err := r.orderIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	payout := found.toModel(ids)
	return &payout, nil
}

func (r *pgPayouts) GetByStoreID(ctx context.Context, storeID int64) ([]model.Payout, error) {
	if err := r.s.check(ctx, acl.ResourcePayout, acl.ActionRead, acl.OwnedByStore(storeID)); err != nil {
		return nil, err
	}
	var rows []payoutRow
	err := sqlx.SelectContext(ctx, r.s.ext, &rows, `
		SELECT DISTINCT p.id, p.gross_amount, p.net_amount, p.currency, p.wallet_address,
		       p.blockchain_fee, p.user_id, p.status, p.initiated_at, p.completed_at
		FROM payouts p
		JOIN order_payouts op ON op.payout_id = p.id
		JOIN orders o ON o.id = op.order_id
		WHERE o.store_id = $1
		ORDER BY p.initiated_at`, storeID)
	if err != nil {
		return nil, mapDBError(err, "payout")
	}
	payouts := make([]model.Payout, 0, len(rows))
	for _, row := range rows {
		ids, err := r.orderIDs(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, row.toModel(ids))
	}
	return payouts, nil
}

func (r *pgPayouts) ExistingForOrders(ctx context.Context, orderIDs []uuid.UUID) ([]uuid.UUID, error) {
	if err := r.s.check(ctx, acl.ResourcePayout, acl.ActionRead, nil); err != nil {
		return nil, err
	}
	if len(orderIDs) == 0 {
		return nil, errs.Validation("order_ids", "empty", "order id list must not be empty")
	}
	ids := make([]string, 0, len(orderIDs))
	for _, id := range orderIDs {
		ids = append(ids, id.String())
	}
	var existing []uuid.UUID
	err := sqlx.SelectContext(ctx, r.s.ext, &existing, `
		SELECT order_id FROM order_payouts WHERE order_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, mapDBError(err, "order_payout")
	}
	return existing, nil
}

func (r *pgPayouts) MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	if err := r.s.check(ctx, acl.ResourcePayout, acl.ActionWrite, nil); err != nil {
		return err
	}
	res, err := r.s.ext.ExecContext(ctx, `
		UPDATE payouts SET status = $1, completed_at = $2 WHERE id = $3`,
		model.PayoutStatusCompleted, completedAt, id)
	if err != nil {
		return mapDBError(err, "payout")
	}
	return ensureOneRow(res, "payout")
}
