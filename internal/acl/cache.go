package acl

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/StoriqaTeam/billing-sub000/internal/model"
)

const roleCacheTTL = 5 * time.Minute

// RoleCache keeps per-user role grants in redis so repeated repository
// checks within and across requests skip the DB. A cache failure is never
// fatal; lookups fall through to the source.
type RoleCache struct {
	client *redis.Client
	logger *logrus.Logger
}

// NewRoleCache builds a redis-backed role cache.
func NewRoleCache(client *redis.Client, logger *logrus.Logger) *RoleCache {
	return &RoleCache{client: client, logger: logger}
}

func roleCacheKey(userID int64) string {
	return fmt.Sprintf("user_roles:%d", userID)
}

// Get returns the cached roles of a user, if present.
func (c *RoleCache) Get(ctx context.Context, userID int64) ([]model.UserRole, bool) {
	raw, err := c.client.Get(ctx, roleCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).WithField("user_id", userID).Warn("role cache read failed")
		}
		return nil, false
	}
	var roles []model.UserRole
	if err := json.Unmarshal(raw, &roles); err != nil {
		c.logger.WithError(err).WithField("user_id", userID).Warn("role cache entry corrupt")
		return nil, false
	}
	return roles, true
}

// Set stores the roles of a user.
func (c *RoleCache) Set(ctx context.Context, userID int64, roles []model.UserRole) {
	raw, err := json.Marshal(roles)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, roleCacheKey(userID), raw, roleCacheTTL).Err(); err != nil {
		c.logger.WithError(err).WithField("user_id", userID).Warn("role cache write failed")
	}
}

// Invalidate drops the cached roles of a user.
func (c *RoleCache) Invalidate(ctx context.Context, userID int64) {
	if err := c.client.Del(ctx, roleCacheKey(userID)).Err(); err != nil {
		c.logger.WithError(err).WithField("user_id", userID).Warn("role cache invalidation failed")
	}
}
