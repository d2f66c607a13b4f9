package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/StoriqaTeam/billing-sub000/internal/model"
)

func (h *Handler) rolesForUser(c *gin.Context) {
	userID, ok := pathInt64(c, "uid")
	if !ok {
		return
	}
	roles, err := h.roles.RolesForUser(c.Request.Context(), userID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, roles)
}

type grantRoleRequest struct {
	Role model.Role      `json:"name" binding:"required"`
	Data json.RawMessage `json:"data"`
}

func (h *Handler) grantRole(c *gin.Context) {
	userID, ok := pathInt64(c, "uid")
	if !ok {
		return
	}
	var req grantRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	granted, err := h.roles.GrantRole(c.Request.Context(), userID, req.Role, req.Data)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, granted)
}

func (h *Handler) revokeRolesByUser(c *gin.Context) {
	userID, ok := pathInt64(c, "uid")
	if !ok {
		return
	}
	revoked, err := h.roles.RevokeRolesByUser(c.Request.Context(), userID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, revoked)
}

func (h *Handler) revokeRoleByID(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	revoked, err := h.roles.RevokeRoleByID(c.Request.Context(), id)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, revoked)
}
