package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/internal/repository"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

// RoleService manages role grants.
type RoleService struct {
	storage repository.Storage
	log     *logrus.Entry
}

// NewRoleService builds the role service.
func NewRoleService(storage repository.Storage, log *logrus.Logger) *RoleService {
	return &RoleService{storage: storage, log: log.WithField("component", "role_service")}
}

// RolesForUser lists a user's role grants.
func (s *RoleService) RolesForUser(ctx context.Context, userID int64) ([]model.UserRole, error) {
	return s.storage.UserRoles().ListForUser(ctx, userID)
}

// GrantRole grants a role to a user.
func (s *RoleService) GrantRole(ctx context.Context, userID int64, role model.Role, data []byte) (model.UserRole, error) {
	switch role {
	case model.RoleSuperuser, model.RoleUser, model.RoleStoreManager:
	default:
		return model.UserRole{}, errs.Validation("role", "unknown", "unknown role "+string(role))
	}
	created, err := s.storage.UserRoles().Create(ctx, model.NewUserRole{
		ID:     uuid.New(),
		UserID: userID,
		Role:   role,
		Data:   data,
	})
	if err != nil {
		return model.UserRole{}, errs.AsValidation(err)
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "role": role}).Info("role granted")
	return created, nil
}

// RevokeRolesByUser removes every role of a user.
func (s *RoleService) RevokeRolesByUser(ctx context.Context, userID int64) ([]model.UserRole, error) {
	return s.storage.UserRoles().DeleteByUserID(ctx, userID)
}

// RevokeRoleByID removes one role grant.
func (s *RoleService) RevokeRoleByID(ctx context.Context, id uuid.UUID) (model.UserRole, error) {
	deleted, err := s.storage.UserRoles().DeleteByID(ctx, id)
	if err != nil {
		return model.UserRole{}, err
	}
	if deleted == nil {
		return model.UserRole{}, errs.NotFound("user_role")
	}
	return *deleted, nil
}
