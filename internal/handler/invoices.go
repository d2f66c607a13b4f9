package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/internal/service"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

type createInvoiceOrder struct {
	ID             uuid.UUID    `json:"id" binding:"required"`
	StoreID        int64        `json:"store_id" binding:"required"`
	Currency       string       `json:"currency" binding:"required,currency"`
	TotalAmount    model.Amount `json:"total_amount"`
	CashbackAmount model.Amount `json:"cashback_amount"`
}

type createInvoiceRequest struct {
	BuyerUserID int64                `json:"buyer_user_id" binding:"required"`
	Currency    string               `json:"currency" binding:"required,currency"`
	Orders      []createInvoiceOrder `json:"orders" binding:"required,min=1,dive"`
}

func (h *Handler) createInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	buyerCurrency, err := model.ParseCurrency(req.Currency)
	if err != nil {
		h.respondErr(c, errs.Validation("currency", "unknown", err.Error()))
		return
	}
	input := model.NewInvoice{
		BuyerUserID:   req.BuyerUserID,
		BuyerCurrency: buyerCurrency,
	}
	for _, line := range req.Orders {
		sellerCurrency, err := model.ParseCurrency(line.Currency)
		if err != nil {
			h.respondErr(c, errs.Validation("orders", "unknown_currency", err.Error()))
			return
		}
		input.Orders = append(input.Orders, model.NewInvoiceOrder{
			ID:             line.ID,
			StoreID:        line.StoreID,
			SellerCurrency: sellerCurrency,
			TotalAmount:    line.TotalAmount,
			CashbackAmount: line.CashbackAmount,
		})
	}
	dump, err := h.invoices.CreateInvoice(c.Request.Context(), input)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, dump)
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "malformed " + name})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) getInvoice(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	dump, err := h.invoices.GetInvoice(c.Request.Context(), id)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, dump)
}

// invoiceQR renders the invoice's deposit address as a PNG QR code.
func (h *Handler) invoiceQR(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	dump, err := h.invoices.GetInvoice(c.Request.Context(), id)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	if dump.WalletAddress == nil {
		h.respondErr(c, errs.Validation("invoice", "no_wallet", "invoice has no deposit address"))
		return
	}
	png, err := qrcode.Encode(*dump.WalletAddress, qrcode.Medium, 256)
	if err != nil {
		h.respondErr(c, errs.Internal(err, "encode qr"))
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) recalcInvoice(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	dump, err := h.invoices.RecalcInvoice(c.Request.Context(), id)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, dump)
}

type updateOrderStateRequest struct {
	State model.PaymentState `json:"state" binding:"required"`
}

func (h *Handler) updateOrderState(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req updateOrderStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	order, err := h.invoices.UpdateOrderState(c.Request.Context(), id, req.State)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type inboundTxRequest struct {
	AccountID     uuid.UUID    `json:"account_id" binding:"required"`
	TransactionID uuid.UUID    `json:"transaction_id" binding:"required"`
	Amount        model.Amount `json:"amount"`
}

// inboundTx is the payments gateway's on-chain deposit callback.
func (h *Handler) inboundTx(c *gin.Context) {
	var req inboundTxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if err := h.invoices.ApplyCredit(c.Request.Context(), req.AccountID, req.TransactionID, req.Amount); err != nil {
		h.respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type externalInvoiceRequest struct {
	InvoiceID      uuid.UUID    `json:"invoice_id" binding:"required"`
	AmountCaptured model.Amount `json:"amount_captured"`
	Paid           bool         `json:"paid"`
}

// externalInvoice reconciles an invoice with the crypto collaborator's view.
func (h *Handler) externalInvoice(c *gin.Context) {
	var req externalInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	err := h.invoices.UpdateFromExternalBilling(c.Request.Context(), service.ExternalBillingInvoice{
		InvoiceID:      req.InvoiceID,
		AmountCaptured: req.AmountCaptured,
		Paid:           req.Paid,
	})
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
