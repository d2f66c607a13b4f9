// Package handler is the gin HTTP surface of the billing core.
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/StoriqaTeam/billing-sub000/internal/acl"
	"github.com/StoriqaTeam/billing-sub000/internal/auth"
	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/internal/service"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
			_, err := model.ParseCurrency(fl.Field().String())
			return err == nil
		})
	}
}

// Handler bundles the services behind the HTTP routes.
type Handler struct {
	invoices      *service.InvoiceService
	fiat          *service.FiatService
	payouts       *service.PayoutService
	subscriptions *service.SubscriptionService
	roles         *service.RoleService
	log           *logrus.Logger
}

// New builds the handler.
func New(
	invoices *service.InvoiceService,
	fiat *service.FiatService,
	payouts *service.PayoutService,
	subscriptions *service.SubscriptionService,
	roles *service.RoleService,
	log *logrus.Logger,
) *Handler {
	return &Handler{
		invoices:      invoices,
		fiat:          fiat,
		payouts:       payouts,
		subscriptions: subscriptions,
		roles:         roles,
		log:           log,
	}
}

// Router assembles the route tree.
func (h *Handler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	// external collaborators authenticate by signature or network boundary,
	// not by user header
	callbacks := router.Group("/v2/callback", h.systemCaller)
	callbacks.POST("/payments/inbound_tx", h.inboundTx)
	callbacks.POST("/payments/invoice", h.externalInvoice)
	callbacks.POST("/stripe", h.stripeWebhook)

	v2 := router.Group("/v2", h.authRequired)
	v2.POST("/invoices", h.createInvoice)
	v2.GET("/invoices/by-id/:id", h.getInvoice)
	v2.GET("/invoices/by-id/:id/qr", h.invoiceQR)
	v2.POST("/invoices/:id/recalc", h.recalcInvoice)
	v2.PUT("/orders/:id/status", h.updateOrderState)
	v2.POST("/orders/:id/capture", h.captureOrder)
	v2.POST("/orders/:id/refund", h.refundOrder)

	v1 := router.Group("/v1", h.authRequired)
	v1.POST("/customers", h.createCustomer)
	v1.GET("/customers", h.getCustomer)
	v1.PUT("/customers", h.updateCustomer)
	v1.DELETE("/customers", h.deleteCustomer)

	v1.POST("/fees/:id/charge", h.chargeFee)
	v1.POST("/fees/:id/payment_intent", h.feePaymentIntent)
	v1.POST("/fees/charge_by_orders", h.chargeFeesByOrders)

	v1.POST("/payouts", h.createPayout)
	v1.POST("/payouts/calculate", h.calculatePayout)
	v1.GET("/payouts/:id", h.getPayout)
	v1.GET("/payouts/by_store_id/:id", h.payoutsByStore)
	v1.GET("/payouts/by_store_id/:id/report", h.payoutsReport)

	v1.GET("/stores/:id/balance", h.storeBalance)
	v1.POST("/stores/:id/subscription", h.createStoreSubscription)
	v1.GET("/stores/:id/subscription", h.getStoreSubscription)
	v1.PUT("/stores/:id/subscription", h.updateStoreSubscription)
	v1.GET("/stores/:id/subscription/payments", h.subscriptionPayments)

	// periodic triggers from the platform cron
	triggers := router.Group("/v1/subscriptions", h.systemCaller)
	triggers.POST("", h.createSubscriptions)
	triggers.POST("/pay", h.paySubscriptions)

	roles := router.Group("/roles", h.authRequired)
	roles.GET("/by-user-id/:uid", h.rolesForUser)
	roles.POST("/by-user-id/:uid", h.grantRole)
	roles.DELETE("/by-user-id/:uid", h.revokeRolesByUser)
	roles.DELETE("/by-id/:id", h.revokeRoleByID)

	return router
}

// authRequired resolves the gateway-authenticated user id from the
// Authorization header into the request context.
func (h *Handler) authRequired(c *gin.Context) {
	raw := c.GetHeader("Authorization")
	if raw == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing authorization header"})
		return
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "malformed authorization header"})
		return
	}
	c.Request = c.Request.WithContext(auth.WithUser(c.Request.Context(), userID))
	c.Next()
}

// systemCaller marks collaborator and cron requests as internal.
func (h *Handler) systemCaller(c *gin.Context) {
	c.Request = c.Request.WithContext(auth.WithUser(c.Request.Context(), acl.SystemUserID))
	c.Next()
}

// respondErr maps a service error onto the wire: validation failures carry
// the structured field map, everything else a bare message.
func (h *Handler) respondErr(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	if fields := errs.FieldsOf(err); fields != nil {
		c.JSON(status, fields)
		return
	}
	if status == http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(status, gin.H{"message": "internal error"})
		return
	}
	c.JSON(status, gin.H{"message": err.Error()})
}

func pathInt64(c *gin.Context, name string) (int64, bool) {
	value, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "malformed " + name})
		return 0, false
	}
	return value, true
}
