package acl

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

type staticRoles map[int64][]model.UserRole

func (s staticRoles) RolesForUser(_ context.Context, userID int64) ([]model.UserRole, error) {
	return s[userID], nil
}

func storeManagerRole(t *testing.T, userID, storeID int64) model.UserRole {
	t.Helper()
	data, err := json.Marshal(storeID)
	require.NoError(t, err)
	return model.UserRole{ID: uuid.New(), UserID: userID, Role: model.RoleStoreManager, Data: data}
}

func TestCheckSystemUserBypasses(t *testing.T) {
	guard := New(staticRoles{}, nil)
	err := guard.Check(context.Background(), SystemUserID, ResourceAccount, ActionWrite, nil)
	require.NoError(t, err, "internal callers skip role resolution entirely")
}

func TestCheckSuperuser(t *testing.T) {
	guard := New(staticRoles{
		1: {{ID: uuid.New(), UserID: 1, Role: model.RoleSuperuser}},
	}, nil)
	ctx := context.Background()

	for _, resource := range allResources {
		require.NoError(t, guard.Check(ctx, 1, resource, ActionWrite, nil))
		require.NoError(t, guard.Check(ctx, 1, resource, ActionRead, OwnedByUser(999)))
	}
}

func TestCheckOwnedByUser(t *testing.T) {
	guard := New(staticRoles{
		7: {{ID: uuid.New(), UserID: 7, Role: model.RoleUser}},
	}, nil)
	ctx := context.Background()

	require.NoError(t, guard.Check(ctx, 7, ResourceInvoice, ActionWrite, OwnedByUser(7)))

	err := guard.Check(ctx, 7, ResourceInvoice, ActionWrite, OwnedByUser(8))
	require.Error(t, err, "someone else's invoice")
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))

	err = guard.Check(ctx, 7, ResourceInvoice, ActionWrite, nil)
	require.Error(t, err, "owned-scope grants cannot authorize unscoped access")
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
}

func TestCheckOwnedByStore(t *testing.T) {
	guard := New(staticRoles{
		7: {storeManagerRole(t, 7, 42)},
	}, nil)
	ctx := context.Background()

	require.NoError(t, guard.Check(ctx, 7, ResourcePayout, ActionWrite, OwnedByStore(42)))

	err := guard.Check(ctx, 7, ResourcePayout, ActionWrite, OwnedByStore(43))
	require.Error(t, err)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
}

func TestCheckActionMismatch(t *testing.T) {
	guard := New(staticRoles{
		7: {storeManagerRole(t, 7, 42)},
	}, nil)
	ctx := context.Background()

	// store managers may only read orders
	require.NoError(t, guard.Check(ctx, 7, ResourceOrder, ActionRead, OwnedByStore(42)))
	err := guard.Check(ctx, 7, ResourceOrder, ActionWrite, OwnedByStore(42))
	require.Error(t, err)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
}

func TestCheckNoRoles(t *testing.T) {
	guard := New(staticRoles{}, nil)
	err := guard.Check(context.Background(), 99, ResourceInvoice, ActionRead, OwnedByUser(99))
	require.Error(t, err)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
}

func TestCheckMultipleRoles(t *testing.T) {
	guard := New(staticRoles{
		7: {
			{ID: uuid.New(), UserID: 7, Role: model.RoleUser},
			storeManagerRole(t, 7, 42),
		},
	}, nil)
	ctx := context.Background()

	// each grant contributes independently
	require.NoError(t, guard.Check(ctx, 7, ResourceInvoice, ActionWrite, OwnedByUser(7)))
	require.NoError(t, guard.Check(ctx, 7, ResourceFee, ActionWrite, OwnedByStore(42)))
}

func TestStoreIDIgnoresNonManagerRoles(t *testing.T) {
	role := model.UserRole{ID: uuid.New(), UserID: 7, Role: model.RoleUser, Data: json.RawMessage("42")}
	_, ok := role.StoreID()
	assert.False(t, ok)

	owned, err := OwnedByStore(42).OwnedBy(context.Background(), 7, []model.UserRole{role})
	require.NoError(t, err)
	assert.False(t, owned)
}
