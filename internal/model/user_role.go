package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Role is a platform role granted to a user.
type Role string

const (
	RoleSuperuser    Role = "superuser"
	RoleUser         Role = "user"
	RoleStoreManager Role = "store_manager"
)

// UserRole is one role grant. For store managers Data holds the managed
// store id.
type UserRole struct {
	ID     uuid.UUID       `db:"id" json:"id"`
	UserID int64           `db:"user_id" json:"user_id"`
	Role   Role            `db:"role" json:"name"`
	Data   json.RawMessage `db:"data" json:"data,omitempty"`
}

// StoreID extracts the managed store id from a store-manager role row.
func (r UserRole) StoreID() (int64, bool) {
	if r.Role != RoleStoreManager || len(r.Data) == 0 {
		return 0, false
	}
	var storeID int64
	if err := json.Unmarshal(r.Data, &storeID); err != nil {
		return 0, false
	}
	return storeID, true
}

// NewUserRole is the role-grant request.
type NewUserRole struct {
	ID     uuid.UUID
	UserID int64
	Role   Role
	Data   json.RawMessage
}
