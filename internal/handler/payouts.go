package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/StoriqaTeam/billing-sub000/internal/auth"
	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/internal/report"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

type payoutDetailsRequest struct {
	Currency      string       `json:"currency" binding:"required,currency"`
	WalletAddress string       `json:"wallet_address" binding:"required"`
	BlockchainFee model.Amount `json:"blockchain_fee"`
}

type createPayoutRequest struct {
	OrderIDs       []uuid.UUID          `json:"order_ids" binding:"required,min=1"`
	PaymentDetails payoutDetailsRequest `json:"payment_details" binding:"required"`
}

func (h *Handler) createPayout(c *gin.Context) {
	userID, ok := auth.UserFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "missing user"})
		return
	}
	var req createPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	currency, err := model.ParseCurrency(req.PaymentDetails.Currency)
	if err != nil {
		h.respondErr(c, errs.Validation("currency", "unknown", err.Error()))
		return
	}
	payout, err := h.payouts.PayOutToSeller(c.Request.Context(), model.PayOutToSellerPayload{
		OrderIDs: req.OrderIDs,
		UserID:   userID,
		PaymentDetails: model.PayoutDetails{
			Currency:      currency,
			WalletAddress: req.PaymentDetails.WalletAddress,
			BlockchainFee: req.PaymentDetails.BlockchainFee,
		},
	})
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, payout)
}

type calculatePayoutRequest struct {
	StoreID       int64  `json:"store_id" binding:"required"`
	Currency      string `json:"currency" binding:"required,currency"`
	WalletAddress string `json:"wallet_address" binding:"required"`
}

func (h *Handler) calculatePayout(c *gin.Context) {
	var req calculatePayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	currency, err := model.ParseCurrency(req.Currency)
	if err != nil {
		h.respondErr(c, errs.Validation("currency", "unknown", err.Error()))
		return
	}
	preview, err := h.payouts.CalculatePayout(c.Request.Context(), req.StoreID, currency, req.WalletAddress)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (h *Handler) getPayout(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	payout, err := h.payouts.GetPayout(c.Request.Context(), id)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, payout)
}

func (h *Handler) payoutsByStore(c *gin.Context) {
	storeID, ok := pathInt64(c, "id")
	if !ok {
		return
	}
	payouts, err := h.payouts.PayoutsByStore(c.Request.Context(), storeID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, payouts)
}

// payoutsReport streams the store's payout history as an xlsx download.
func (h *Handler) payoutsReport(c *gin.Context) {
	storeID, ok := pathInt64(c, "id")
	if !ok {
		return
	}
	payouts, err := h.payouts.PayoutsByStore(c.Request.Context(), storeID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	workbook, err := report.PayoutsXLSX(storeID, payouts)
	if err != nil {
		h.respondErr(c, errs.Internal(err, "render payout report"))
		return
	}
	filename := fmt.Sprintf("payouts-store-%d.xlsx", storeID)
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", workbook)
}

func (h *Handler) storeBalance(c *gin.Context) {
	storeID, ok := pathInt64(c, "id")
	if !ok {
		return
	}
	balances, err := h.payouts.GetBalance(c.Request.Context(), storeID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, balances)
}
