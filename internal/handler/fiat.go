package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/StoriqaTeam/billing-sub000/internal/auth"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

type createCustomerRequest struct {
	Email     *string `json:"email" binding:"omitempty,email"`
	CardToken string  `json:"card_token" binding:"required"`
}

func (h *Handler) createCustomer(c *gin.Context) {
	userID, ok := auth.UserFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "missing user"})
		return
	}
	var req createCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	customer, err := h.fiat.CreateCustomerWithSource(c.Request.Context(), userID, req.Email, req.CardToken)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

func (h *Handler) getCustomer(c *gin.Context) {
	userID, ok := auth.UserFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "missing user"})
		return
	}
	customer, err := h.fiat.GetCustomer(c.Request.Context(), userID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	if customer == nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, customer)
}

type updateCustomerRequest struct {
	Email *string `json:"email" binding:"omitempty,email"`
}

func (h *Handler) updateCustomer(c *gin.Context) {
	userID, ok := auth.UserFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "missing user"})
		return
	}
	var req updateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	customer, err := h.fiat.UpdateCustomer(c.Request.Context(), userID, req.Email)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

func (h *Handler) deleteCustomer(c *gin.Context) {
	userID, ok := auth.UserFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "missing user"})
		return
	}
	if err := h.fiat.DeleteCustomer(c.Request.Context(), userID); err != nil {
		h.respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) chargeFee(c *gin.Context) {
	feeID, ok := pathInt64(c, "id")
	if !ok {
		return
	}
	fees, err := h.fiat.ChargeFee(c.Request.Context(), feeID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, fees)
}

func (h *Handler) feePaymentIntent(c *gin.Context) {
	feeID, ok := pathInt64(c, "id")
	if !ok {
		return
	}
	intent, err := h.fiat.CreatePaymentIntentForFee(c.Request.Context(), feeID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, intent)
}

type chargeFeesRequest struct {
	OrderIDs []uuid.UUID `json:"order_ids" binding:"required,min=1"`
}

func (h *Handler) chargeFeesByOrders(c *gin.Context) {
	var req chargeFeesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	fees, err := h.fiat.ChargeFeesByOrders(c.Request.Context(), req.OrderIDs)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, fees)
}

func (h *Handler) captureOrder(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	order, err := h.fiat.CaptureOrder(c.Request.Context(), id)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) refundOrder(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	order, err := h.fiat.RefundOrder(c.Request.Context(), id)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// stripeWebhook ingests the card processor's signed event stream. The
// signature is the authentication; a bad one is rejected before any work.
func (h *Handler) stripeWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "unreadable body"})
		return
	}
	signature := c.GetHeader("Stripe-Signature")
	if signature == "" {
		h.respondErr(c, errs.New(errs.KindForbidden, "missing webhook signature"))
		return
	}
	if err := h.fiat.HandleWebhook(c.Request.Context(), payload, signature); err != nil {
		h.respondErr(c, err)
		return
	}
	c.Status(http.StatusOK)
}
