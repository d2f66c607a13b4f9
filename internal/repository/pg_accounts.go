package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/StoriqaTeam/billing-sub000/internal/acl"
	"github.com/StoriqaTeam/billing-sub000/internal/model"
)

type pgAccounts struct {
	s *pgStorage
}

func (r *pgAccounts) Create(ctx context.Context, account model.NewAccount) (model.Account, error) {
	if err := r.s.check(ctx, acl.ResourceAccount, acl.ActionWrite, nil); err != nil {
		return model.Account{}, err
	}
	var created model.Account
	err := sqlx.GetContext(ctx, r.s.ext, &created, `
		INSERT INTO accounts (id, currency, is_pooled, wallet_address)
		VALUES ($1, $2, $3, $4)
		RETURNING id, currency, is_pooled, wallet_address, created_at`,
		account.ID, account.Currency, account.IsPooled, account.WalletAddress)
	if err != nil {
		return model.Account{}, mapDBError(err, "account")
	}
	return created, nil
}

func (r *pgAccounts) Get(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	var account model.Account
	err := sqlx.GetContext(ctx, r.s.ext, &account, `
		SELECT id, currency, is_pooled, wallet_address, created_at
		FROM accounts WHERE id = $1`, id)
	found, err := noRowsToNil(&account, err, "account")
	if err != nil || found == nil {
		return found, err
	}
	if err := r.s.check(ctx, acl.ResourceAccount, acl.ActionRead, nil); err != nil {
		return nil, err
	}
	return found, nil
}

func (r *pgAccounts) GetFreePooled(ctx context.Context, currency model.Currency) (*model.Account, error) {
	if err := r.s.check(ctx, acl.ResourceAccount, acl.ActionRead, nil); err != nil {
		return nil, err
	}
	var account model.Account
	err := sqlx.GetContext(ctx, r.s.ext, &account, `
		SELECT a.id, a.currency, a.is_pooled, a.wallet_address, a.created_at
		FROM accounts a
		LEFT JOIN invoices i ON i.account_id = a.id
		WHERE a.is_pooled AND a.currency = $1 AND i.id IS NULL
		ORDER BY a.created_at
		LIMIT 1
		FOR UPDATE OF a SKIP LOCKED`, currency)
	return noRowsToNil(&account, err, "account")
}

func (r *pgAccounts) CountPooled(ctx context.Context, currency model.Currency) (int, error) {
	if err := r.s.check(ctx, acl.ResourceAccount, acl.ActionRead, nil); err != nil {
		return 0, err
	}
	var count int
	err := sqlx.GetContext(ctx, r.s.ext, &count, `
		SELECT COUNT(*) FROM accounts WHERE is_pooled AND currency = $1`, currency)
	if err != nil {
		return 0, mapDBError(err, "account")
	}
	return count, nil
}

func (r *pgAccounts) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.s.check(ctx, acl.ResourceAccount, acl.ActionWrite, nil); err != nil {
		return err
	}
	if _, err := r.s.ext.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id); err != nil {
		return mapDBError(err, "account")
	}
	return nil
}
