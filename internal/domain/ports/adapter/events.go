package adapter

import (
	"context"
	"time"
)

const (
	EventPaymentSucceeded   = "payment.succeeded"
	EventPaymentFailed      = "payment.failed"
	EventFulfillmentFailed  = "payment.fulfillment_failed"
	EventFulfillmentApplied = "payment.fulfilled"
	EventMilestoneSent      = "expiry.milestone_sent"
)

type Event struct {
	Type       string            `json:"type"`
	Key        string            `json:"key"`
	OccurredAt time.Time         `json:"occurred_at"`
	Data       map[string]string `json:"data,omitempty"`
}

// EventPublisher emits best-effort domain events.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}
