// Package saga notifies the platform orchestrator of billing-side order
// state changes so the wider order workflow can advance.
package saga

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/StoriqaTeam/billing-sub000/internal/config"
	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

// Client pushes order state changes to the orchestrator.
type Client interface {
	OrderStateChanged(ctx context.Context, orderID uuid.UUID, state model.PaymentState) error
}

type httpClient struct {
	baseURL string
	http    *http.Client
	log     *logrus.Entry
}

// NewHTTPClient builds an orchestrator client.
func NewHTTPClient(cfg config.Config, log *logrus.Logger) Client {
	return &httpClient{
		baseURL: cfg.Client.SagaURL,
		http:    &http.Client{Timeout: cfg.HTTPTimeout()},
		log:     log.WithField("component", "saga_client"),
	}
}

type orderStatePayload struct {
	OrderID uuid.UUID          `json:"order_id"`
	State   model.PaymentState `json:"state"`
}

func (c *httpClient) OrderStateChanged(ctx context.Context, orderID uuid.UUID, state model.PaymentState) error {
	payload, err := json.Marshal(orderStatePayload{OrderID: orderID, State: state})
	if err != nil {
		return errs.Internal(err, "encode saga payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/orders/update_state", bytes.NewReader(payload))
	if err != nil {
		return errs.Internal(err, "build saga request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.TransientExternal(err, "saga unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		c.log.WithFields(logrus.Fields{
			"order_id": orderID,
			"state":    state,
			"status":   resp.StatusCode,
		}).Warn("saga rejected order state update")
		return errs.TransientExternal(
			fmt.Errorf("status %d: %s", resp.StatusCode, raw), "saga rejected update")
	}
	return nil
}

// Noop discards state updates; used when no orchestrator is configured.
type Noop struct{}

// OrderStateChanged implements Client.
func (Noop) OrderStateChanged(context.Context, uuid.UUID, model.PaymentState) error { return nil }
