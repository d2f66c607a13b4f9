// Package events publishes payment lifecycle notifications to redis so
// interested platform services can subscribe to invoice progress without
// polling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/StoriqaTeam/billing-sub000/internal/model"
)

// Publisher announces invoice status changes. Publishing is best-effort; a
// failure never blocks the billing flow.
type Publisher interface {
	InvoiceStatus(ctx context.Context, invoiceID uuid.UUID, status model.InvoiceStatus, captured model.Amount)
}

type redisPublisher struct {
	client *redis.Client
	logger *logrus.Logger
}

// NewRedisPublisher builds a redis channel publisher.
func NewRedisPublisher(client *redis.Client, logger *logrus.Logger) Publisher {
	return &redisPublisher{client: client, logger: logger}
}

type invoiceStatusMessage struct {
	InvoiceID      uuid.UUID           `json:"invoice_id"`
	Status         model.InvoiceStatus `json:"status"`
	AmountCaptured model.Amount        `json:"amount_captured"`
	At             time.Time           `json:"at"`
}

func (p *redisPublisher) InvoiceStatus(ctx context.Context, invoiceID uuid.UUID, status model.InvoiceStatus, captured model.Amount) {
	raw, err := json.Marshal(invoiceStatusMessage{
		InvoiceID:      invoiceID,
		Status:         status,
		AmountCaptured: captured,
		At:             time.Now(),
	})
	if err != nil {
		return
	}
	channel := fmt.Sprintf("billing_events:%s", invoiceID)
	if err := p.client.Publish(ctx, channel, raw).Err(); err != nil {
		p.logger.WithError(err).WithField("invoice_id", invoiceID).Warn("invoice status publish failed")
	}
}

// Noop discards notifications; used in tests and when redis is absent.
type Noop struct{}

// InvoiceStatus implements Publisher.
func (Noop) InvoiceStatus(context.Context, uuid.UUID, model.InvoiceStatus, model.Amount) {}
