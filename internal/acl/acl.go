// Package acl implements the role-scoped authorization layer wrapping every
// repository access. A permission is a (resource, action, scope) tuple; the
// Owned scope is resolved against DB-stored ownership metadata by the
// calling repository.
package acl

import (
	"context"

	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

// Resource names an entity class the ACL guards.
type Resource string

const (
	ResourceOrder                Resource = "order"
	ResourceUserRoles            Resource = "user_roles"
	ResourceInvoice              Resource = "invoice"
	ResourceAccount              Resource = "account"
	ResourcePaymentIntent        Resource = "payment_intent"
	ResourceFee                  Resource = "fee"
	ResourceCustomer             Resource = "customer"
	ResourcePayout               Resource = "payout"
	ResourceSubscription         Resource = "subscription"
	ResourceStoreBilling         Resource = "store_billing"
	ResourceBillingInfo          Resource = "billing_info"
	ResourcePaymentIntentInvoice Resource = "payment_intent_invoice"
	ResourcePaymentIntentFee     Resource = "payment_intent_fee"
	ResourceUserWallet           Resource = "user_wallet"
)

// Action is what the caller wants to do with the resource.
type Action string

const (
	ActionAll   Action = "all"
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

// Scope bounds a permission to everything or to entities the caller owns.
type Scope string

const (
	ScopeAll   Scope = "all"
	ScopeOwned Scope = "owned"
)

// Permission is one granted (resource, action, scope) tuple.
type Permission struct {
	Resource Resource
	Action   Action
	Scope    Scope
}

// SystemUserID marks internal callers (workers, bootstrap); they bypass
// scope checks the way a superuser does.
const SystemUserID int64 = -1

var allResources = []Resource{
	ResourceOrder, ResourceUserRoles, ResourceInvoice, ResourceAccount,
	ResourcePaymentIntent, ResourceFee, ResourceCustomer, ResourcePayout,
	ResourceSubscription, ResourceStoreBilling, ResourceBillingInfo,
	ResourcePaymentIntentInvoice, ResourcePaymentIntentFee, ResourceUserWallet,
}

func superuserPermissions() []Permission {
	perms := make([]Permission, 0, len(allResources))
	for _, res := range allResources {
		perms = append(perms, Permission{Resource: res, Action: ActionAll, Scope: ScopeAll})
	}
	return perms
}

var rolePermissions = map[model.Role][]Permission{
	model.RoleSuperuser: superuserPermissions(),
	model.RoleUser: {
		{ResourceUserRoles, ActionRead, ScopeOwned},
		{ResourceInvoice, ActionAll, ScopeOwned},
		{ResourceOrder, ActionAll, ScopeOwned},
		{ResourceCustomer, ActionAll, ScopeOwned},
		{ResourcePaymentIntent, ActionRead, ScopeOwned},
		{ResourceUserWallet, ActionAll, ScopeOwned},
	},
	model.RoleStoreManager: {
		{ResourceOrder, ActionRead, ScopeOwned},
		{ResourceFee, ActionAll, ScopeOwned},
		{ResourcePayout, ActionAll, ScopeOwned},
		{ResourceBillingInfo, ActionAll, ScopeOwned},
		{ResourceStoreBilling, ActionAll, ScopeOwned},
	},
}

// RolesSource loads the role grants of a user.
type RolesSource interface {
	RolesForUser(ctx context.Context, userID int64) ([]model.UserRole, error)
}

// ScopeChecker resolves whether the guarded target belongs to the caller.
// Repositories construct one from the ownership metadata they read.
type ScopeChecker interface {
	OwnedBy(ctx context.Context, userID int64, roles []model.UserRole) (bool, error)
}

// ACL checks permissions for the current user against the role table.
type ACL struct {
	source RolesSource
	cache  *RoleCache
}

// New builds an ACL over the given roles source. cache may be nil.
func New(source RolesSource, cache *RoleCache) *ACL {
	return &ACL{source: source, cache: cache}
}

func (a *ACL) roles(ctx context.Context, userID int64) ([]model.UserRole, error) {
	if a.cache != nil {
		if roles, ok := a.cache.Get(ctx, userID); ok {
			return roles, nil
		}
	}
	roles, err := a.source.RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		a.cache.Set(ctx, userID, roles)
	}
	return roles, nil
}

// Invalidate drops the cached roles of a user; called on every role mutation.
func (a *ACL) Invalidate(ctx context.Context, userID int64) {
	if a.cache != nil {
		a.cache.Invalidate(ctx, userID)
	}
}

// Check allows the operation iff some role of the user grants it. A nil
// target denies every Owned-scoped permission, so list operations that
// cannot name an owner need a ScopeAll grant.
func (a *ACL) Check(ctx context.Context, userID int64, resource Resource, action Action, target ScopeChecker) error {
	if userID == SystemUserID {
		return nil
	}
	roles, err := a.roles(ctx, userID)
	if err != nil {
		return errs.Internal(err, "load user roles")
	}
	for _, role := range roles {
		for _, perm := range rolePermissions[role.Role] {
			if perm.Resource != resource {
				continue
			}
			if perm.Action != ActionAll && perm.Action != action {
				continue
			}
			switch perm.Scope {
			case ScopeAll:
				return nil
			case ScopeOwned:
				if target == nil {
					continue
				}
				owned, err := target.OwnedBy(ctx, userID, roles)
				if err != nil {
					return errs.Internal(err, "resolve ownership scope")
				}
				if owned {
					return nil
				}
			}
		}
	}
	return errs.Forbidden()
}

// OwnedByUser scopes a target to a single owning user id.
type OwnedByUser int64

// OwnedBy implements ScopeChecker.
func (o OwnedByUser) OwnedBy(_ context.Context, userID int64, _ []model.UserRole) (bool, error) {
	return int64(o) == userID, nil
}

// OwnedByStore scopes a target to the managers of a store: the caller owns
// it iff one of their store-manager grants names the store.
type OwnedByStore int64

// OwnedBy implements ScopeChecker.
func (o OwnedByStore) OwnedBy(_ context.Context, _ int64, roles []model.UserRole) (bool, error) {
	for _, role := range roles {
		if storeID, ok := role.StoreID(); ok && storeID == int64(o) {
			return true, nil
		}
	}
	return false, nil
}
