package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/StoriqaTeam/billing-sub000/internal/acl"
	"github.com/StoriqaTeam/billing-sub000/internal/model"
)

type pgUserRoles struct {
	s *pgStorage
}

const userRoleColumns = `id, user_id, role, data`

// RolesForUser is the ACL's own role source and therefore skips the gate;
// gating it would recurse into itself.
func (r *pgUserRoles) RolesForUser(ctx context.Context, userID int64) ([]model.UserRole, error) {
	var roles []model.UserRole
	err := sqlx.SelectContext(ctx, r.s.ext, &roles,
		`SELECT `+userRoleColumns+` FROM user_roles WHERE user_id = $1`, userID)
	if err != nil {
		return nil, mapDBError(err, "user_role")
	}
	return roles, nil
}

func (r *pgUserRoles) ListForUser(ctx context.Context, userID int64) ([]model.UserRole, error) {
	if err := r.s.check(ctx, acl.ResourceUserRoles, acl.ActionRead, acl.OwnedByUser(userID)); err != nil {
		return nil, err
	}
	return r.RolesForUser(ctx, userID)
}

func (r *pgUserRoles) Create(ctx context.Context, role model.NewUserRole) (model.UserRole, error) {
	if err := r.s.check(ctx, acl.ResourceUserRoles, acl.ActionWrite, nil); err != nil {
		return model.UserRole{}, err
	}
	var created model.UserRole
	err := sqlx.GetContext(ctx, r.s.ext, &created, `
		INSERT INTO user_roles (id, user_id, role, data)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userRoleColumns,
		role.ID, role.UserID, role.Role, role.Data)
	if err != nil {
		return model.UserRole{}, mapDBError(err, "user_role")
	}
	r.s.acl.Invalidate(ctx, role.UserID)
	return created, nil
}

func (r *pgUserRoles) DeleteByUserID(ctx context.Context, userID int64) ([]model.UserRole, error) {
	if err := r.s.check(ctx, acl.ResourceUserRoles, acl.ActionWrite, nil); err != nil {
		return nil, err
	}
	var deleted []model.UserRole
	err := sqlx.SelectContext(ctx, r.s.ext, &deleted, `
		DELETE FROM user_roles WHERE user_id = $1 RETURNING `+userRoleColumns, userID)
	if err != nil {
		return nil, mapDBError(err, "user_role")
	}
	r.s.acl.Invalidate(ctx, userID)
	return deleted, nil
}

func (r *pgUserRoles) DeleteByID(ctx context.Context, id uuid.UUID) (*model.UserRole, error) {
	if err := r.s.check(ctx, acl.ResourceUserRoles, acl.ActionWrite, nil); err != nil {
		return nil, err
	}
	var deleted model.UserRole
	err := sqlx.GetContext(ctx, r.s.ext, &deleted, `
		DELETE FROM user_roles WHERE id = $1 RETURNING `+userRoleColumns, id)
	found, err := noRowsToNil(&deleted, err, "user_role")
	if err != nil || found == nil {
		return found, err
	}
	r.s.acl.Invalidate(ctx, found.UserID)
	return found, nil
}
