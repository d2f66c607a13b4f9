package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/internal/service"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

type createSubscriptionsRequest struct {
	Subscriptions []service.NewSubscriptionInput `json:"subscriptions" binding:"required,dive"`
}

// createSubscriptions records today's product-count snapshots, pushed by the
// platform cron.
func (h *Handler) createSubscriptions(c *gin.Context) {
	var req createSubscriptionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if err := h.subscriptions.CreateSubscriptions(c.Request.Context(), req.Subscriptions); err != nil {
		h.respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// paySubscriptions collects all due snapshots immediately.
func (h *Handler) paySubscriptions(c *gin.Context) {
	if err := h.subscriptions.PaySubscriptions(c.Request.Context()); err != nil {
		h.respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type storeSubscriptionRequest struct {
	Currency      string       `json:"currency" binding:"required,currency"`
	Value         model.Amount `json:"value"`
	WalletAddress *string      `json:"wallet_address"`
}

func (h *Handler) createStoreSubscription(c *gin.Context) {
	storeID, ok := pathInt64(c, "id")
	if !ok {
		return
	}
	var req storeSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	currency, err := model.ParseCurrency(req.Currency)
	if err != nil {
		h.respondErr(c, errs.Validation("currency", "unknown", err.Error()))
		return
	}
	created, err := h.subscriptions.CreateStoreSubscription(c.Request.Context(), storeID, currency, req.Value, req.WalletAddress)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) getStoreSubscription(c *gin.Context) {
	storeID, ok := pathInt64(c, "id")
	if !ok {
		return
	}
	storeSub, err := h.subscriptions.GetStoreSubscription(c.Request.Context(), storeID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, storeSub)
}

func (h *Handler) updateStoreSubscription(c *gin.Context) {
	storeID, ok := pathInt64(c, "id")
	if !ok {
		return
	}
	var req storeSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	currency, err := model.ParseCurrency(req.Currency)
	if err != nil {
		h.respondErr(c, errs.Validation("currency", "unknown", err.Error()))
		return
	}
	updated, err := h.subscriptions.UpdateStoreSubscription(c.Request.Context(), storeID, currency, req.Value, req.WalletAddress)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) subscriptionPayments(c *gin.Context) {
	storeID, ok := pathInt64(c, "id")
	if !ok {
		return
	}
	payments, err := h.subscriptions.SubscriptionPaymentsByStore(c.Request.Context(), storeID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, payments)
}
