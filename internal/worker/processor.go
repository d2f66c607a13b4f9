// Package worker drains the transactional outbox: one goroutine on a
// ticker claims due events, dispatches them by kind, and retires them.
// Handlers are idempotent, so at-least-once delivery converges.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/StoriqaTeam/billing-sub000/internal/acl"
	"github.com/StoriqaTeam/billing-sub000/internal/auth"
	"github.com/StoriqaTeam/billing-sub000/internal/config"
	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/internal/repository"
	"github.com/StoriqaTeam/billing-sub000/internal/service"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

// HandlerFunc processes one event payload.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// Processor is the outbox worker loop.
type Processor struct {
	store          repository.EventStoreRepo
	handlers       map[model.EventKind]HandlerFunc
	pollRate       time.Duration
	stuckThreshold time.Duration
	maxAttempts    int32
	log            *logrus.Entry
}

// NewProcessor builds an empty processor; handlers are attached with
// Register.
func NewProcessor(store repository.EventStoreRepo, cfg config.EventStore, log *logrus.Logger) *Processor {
	return &Processor{
		store:          store,
		handlers:       map[model.EventKind]HandlerFunc{},
		pollRate:       time.Duration(cfg.PollingRateSec) * time.Second,
		stuckThreshold: time.Duration(cfg.StuckThresholdSec) * time.Second,
		maxAttempts:    cfg.MaxProcessingAttempts,
		log:            log.WithField("component", "event_processor"),
	}
}

// Register attaches the handler for an event kind.
func (p *Processor) Register(kind model.EventKind, fn HandlerFunc) {
	p.handlers[kind] = fn
}

// Run polls until the context is canceled.
func (p *Processor) Run(ctx context.Context) {
	// worker operations bypass per-user ACL scoping
	ctx = auth.WithUser(ctx, acl.SystemUserID)
	ticker := time.NewTicker(p.pollRate)
	defer ticker.Stop()
	p.log.WithField("poll_rate", p.pollRate).Info("event processor started")
	for {
		select {
		case <-ctx.Done():
			p.log.Info("event processor stopped")
			return
		case <-ticker.C:
			p.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce performs one poll cycle: reclaim stuck events, claim one due
// event, dispatch and retire it.
func (p *Processor) ProcessOnce(ctx context.Context) {
	if err := p.store.ResetStuckEvents(ctx, p.stuckThreshold, p.maxAttempts); err != nil {
		p.log.WithError(err).Error("reset stuck events failed")
	}
	entries, err := p.store.GetEventsForProcessing(ctx, 1)
	if err != nil {
		p.log.WithError(err).Error("event claim failed")
		return
	}
	for _, entry := range entries {
		p.handle(ctx, entry)
	}
}

func (p *Processor) handle(ctx context.Context, entry model.EventEntry) {
	log := p.log.WithFields(logrus.Fields{
		"event_id": entry.ID,
		"kind":     entry.Event.Kind,
		"attempt":  entry.AttemptCount,
	})
	fn, known := p.handlers[entry.Event.Kind]
	if !known {
		log.Error("no handler for event kind")
		if err := p.store.FailEvent(ctx, entry.ID, p.maxAttempts); err != nil {
			log.WithError(err).Error("fail event write failed")
		}
		return
	}
	if err := fn(ctx, entry.Event.Payload); err != nil {
		log.WithError(err).WithField("transient", errs.IsTransient(err)).Warn("event handler failed")
		if err := p.store.FailEvent(ctx, entry.ID, p.maxAttempts); err != nil {
			log.WithError(err).Error("fail event write failed")
		}
		return
	}
	if err := p.store.CompleteEvent(ctx, entry.ID); err != nil {
		log.WithError(err).Error("complete event write failed")
		return
	}
	log.Info("event completed")
}

// RegisterBillingHandlers wires the billing services onto the processor.
func RegisterBillingHandlers(p *Processor, invoices *service.InvoiceService, fiat *service.FiatService, payouts *service.PayoutService, log *logrus.Logger) {
	p.Register(model.EventKindNoOp, func(context.Context, json.RawMessage) error {
		return nil
	})
	p.Register(model.EventKindInvoicePaid, func(ctx context.Context, raw json.RawMessage) error {
		var payload model.InvoicePaidPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return errs.Internal(err, "decode invoice paid payload")
		}
		return invoices.SettleInvoice(ctx, payload.InvoiceID)
	})
	p.Register(model.EventKindInvoiceExpired, func(ctx context.Context, raw json.RawMessage) error {
		var payload model.InvoiceExpiredPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return errs.Internal(err, "decode invoice expired payload")
		}
		return invoices.ExpireInvoice(ctx, payload.InvoiceID)
	})
	p.Register(model.EventKindPaymentIntentAmountCapturableUpdate, func(ctx context.Context, raw json.RawMessage) error {
		var payload model.PaymentIntentPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return errs.Internal(err, "decode payment intent payload")
		}
		return fiat.PaymentIntentCapturableUpdated(ctx, payload)
	})
	p.Register(model.EventKindPaymentIntentPaymentFailed, func(_ context.Context, raw json.RawMessage) error {
		var payload model.PaymentIntentPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return errs.Internal(err, "decode payment intent payload")
		}
		log.WithFields(logrus.Fields{
			"intent_id": payload.ID,
			"error":     payload.LastError,
		}).Warn("payment intent failed")
		return nil
	})
	p.Register(model.EventKindPayoutInitiated, func(ctx context.Context, raw json.RawMessage) error {
		var payload model.PayoutInitiatedPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return errs.Internal(err, "decode payout payload")
		}
		return payouts.ExecutePayout(ctx, payload.PayoutID)
	})
}
