package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventStatus is the outbox entry lifecycle.
type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusInProgress EventStatus = "in_progress"
	EventStatusCompleted  EventStatus = "completed"
	EventStatusFailed     EventStatus = "failed"
)

// EventKind discriminates outbox payloads.
type EventKind string

const (
	EventKindNoOp                                EventKind = "no_op"
	EventKindInvoicePaid                         EventKind = "invoice_paid"
	EventKindInvoiceExpired                      EventKind = "invoice_expired"
	EventKindPaymentIntentAmountCapturableUpdate EventKind = "payment_intent_amount_capturable_updated"
	EventKindPaymentIntentPaymentFailed          EventKind = "payment_intent_payment_failed"
	EventKindPayoutInitiated                     EventKind = "payout_initiated"
)

// Event is the JSON envelope stored in the outbox.
type Event struct {
	Kind    EventKind       `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InvoicePaidPayload announces that an invoice's captured amount reached its
// required total.
type InvoicePaidPayload struct {
	InvoiceID uuid.UUID `json:"invoice_id"`
}

// InvoiceExpiredPayload asks for an unpaid invoice to be timed out.
type InvoiceExpiredPayload struct {
	InvoiceID uuid.UUID `json:"invoice_id"`
}

// PaymentIntentPayload carries the provider's intent object for webhook
// driven events.
type PaymentIntentPayload struct {
	ID               string  `json:"id"`
	Amount           Amount  `json:"amount"`
	AmountCapturable Amount  `json:"amount_capturable"`
	AmountReceived   Amount  `json:"amount_received"`
	Currency         string  `json:"currency"`
	ChargeID         *string `json:"charge_id,omitempty"`
	Status           string  `json:"status"`
	LastError        *string `json:"last_error,omitempty"`
}

// PayoutInitiatedPayload announces a payout awaiting its external transfer.
type PayoutInitiatedPayload struct {
	PayoutID uuid.UUID `json:"payout_id"`
}

// NewEvent builds an envelope for the given kind and payload.
func NewEvent(kind EventKind, payload interface{}) (Event, error) {
	if payload == nil {
		return Event{Kind: kind}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Event{Kind: kind, Payload: raw}, nil
}

// EventEntry is one outbox row.
type EventEntry struct {
	ID              int64       `db:"id" json:"id"`
	Event           Event       `json:"event"`
	Status          EventStatus `db:"status" json:"status"`
	AttemptCount    int32       `db:"attempt_count" json:"attempt_count"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	StatusUpdatedAt time.Time   `db:"status_updated_at" json:"status_updated_at"`
	ScheduledOn     *time.Time  `db:"scheduled_on" json:"scheduled_on,omitempty"`
}
