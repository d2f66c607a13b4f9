package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/StoriqaTeam/billing-sub000/internal/acl"
	"github.com/StoriqaTeam/billing-sub000/internal/auth"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

// pgStorage is the PostgreSQL-backed Storage. The same struct serves as the
// transaction-free factory; InTransaction rebinds it to a tx.
type pgStorage struct {
	db  *sqlx.DB
	acl *acl.ACL
	ext sqlx.ExtContext
}

// NewStorage builds the PostgreSQL Storage over an open connection pool.
func NewStorage(db *sqlx.DB, guard *acl.ACL) Storage {
	return &pgStorage{db: db, acl: guard, ext: db}
}

func (s *pgStorage) InTransaction(ctx context.Context, fn func(Factory) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errs.Internal(err, "begin transaction")
	}
	bound := &pgStorage{db: s.db, acl: s.acl, ext: tx}
	if err := fn(bound); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Internal(err, "commit transaction")
	}
	return nil
}

// joinOrBegin runs fn on the current transaction when the storage is already
// tx-bound, and opens a new one otherwise.
func (s *pgStorage) joinOrBegin(ctx context.Context, fn func(Factory) error) error {
	if _, ok := s.ext.(*sqlx.Tx); ok {
		return fn(s)
	}
	return s.InTransaction(ctx, fn)
}

func (s *pgStorage) Accounts() AccountsRepo           { return &pgAccounts{s} }
func (s *pgStorage) Invoices() InvoicesRepo           { return &pgInvoices{s} }
func (s *pgStorage) AmountsReceived() AmountsReceivedRepo {
	return &pgAmountsReceived{s}
}
func (s *pgStorage) Orders() OrdersRepo                   { return &pgOrders{s} }
func (s *pgStorage) Rates() RatesRepo                     { return &pgRates{s} }
func (s *pgStorage) PaymentIntents() PaymentIntentsRepo   { return &pgPaymentIntents{s} }
func (s *pgStorage) Fees() FeesRepo                       { return &pgFees{s} }
func (s *pgStorage) Payouts() PayoutsRepo                 { return &pgPayouts{s} }
func (s *pgStorage) Subscriptions() SubscriptionsRepo     { return &pgSubscriptions{s} }
func (s *pgStorage) StoreSubscriptions() StoreSubscriptionsRepo {
	return &pgStoreSubscriptions{s}
}
func (s *pgStorage) SubscriptionPayments() SubscriptionPaymentsRepo {
	return &pgSubscriptionPayments{s}
}
func (s *pgStorage) EventStore() EventStoreRepo { return &pgEventStore{s} }
func (s *pgStorage) UserRoles() UserRolesRepo   { return &pgUserRoles{s} }
func (s *pgStorage) Customers() CustomersRepo   { return &pgCustomers{s} }

// check runs the ACL gate for the current context user.
func (s *pgStorage) check(ctx context.Context, resource acl.Resource, action acl.Action, target acl.ScopeChecker) error {
	userID, ok := auth.UserFromContext(ctx)
	if !ok {
		return errs.Forbidden()
	}
	return s.acl.Check(ctx, userID, resource, action, target)
}

// mapDBError converts driver errors into the repository error taxonomy.
// Unique violations become Constraints with a per-field payload; everything
// else is Internal.
func mapDBError(err error, entity string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFound(entity)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		field := pqErr.Constraint
		if field == "" {
			field = entity
		}
		return errs.Constraint(field, "already_exists", fmt.Sprintf("%s violates a uniqueness constraint", entity))
	}
	return errs.Internal(err, fmt.Sprintf("%s query failed", entity))
}

// noRowsToNil maps sql.ErrNoRows lookups to a nil result for callers that
// treat absence as a regular outcome.
func noRowsToNil[T any](row *T, err error, entity string) (*T, error) {
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapDBError(err, entity)
	}
	return row, nil
}
