package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusFailed
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusSucceeded, PaymentStatusFailed:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodGateway PaymentMethod = "gateway"
	PaymentMethodCredit  PaymentMethod = "credit"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodGateway || m == PaymentMethodCredit
}

// FulfillmentState tracks the side effect applied after a payment succeeded.
// It is independent from PaymentStatus: a succeeded payment stays succeeded
// even when fulfillment fails.
type FulfillmentState string

const (
	FulfillmentNone   FulfillmentState = "none"
	FulfillmentDone   FulfillmentState = "done"
	FulfillmentFailed FulfillmentState = "failed"
)

// Failure codes recorded locally when the gateway never produced one.
const (
	FailureCodeInsufficientCredit = "insufficient_credit"
	FailureCodeAbandoned          = "abandoned"
	FailureCodeReferenceExhausted = "reference_exhausted"
)

// Payment is one purchase attempt. Rows are never deleted.
type Payment struct {
	ID           string
	UserID       string
	PlanKind     PlanKind
	PlanID       string
	Period       string
	Description  string
	Amount       decimal.Decimal
	CreditAmount decimal.Decimal // wallet top-up granted by a service bought through the gateway
	DurationDays int
	Method       PaymentMethod
	Status       PaymentStatus

	Authority   string  // gateway correlation key; empty until the request succeeded
	RefID       *string // gateway reference, or a local ticket on the credit path
	FailureCode string

	// snapshot of the purchasing context
	DeviceID   string
	OwnerPhone string
	OwnerName  string

	CardPan string
	FeeType string
	Fee     int64

	Fulfillment      FulfillmentState
	FulfillmentError string

	CreatedAt time.Time
	UpdatedAt time.Time
	PaidAt    *time.Time
}

// Reference returns the recorded reference or "".
func (p *Payment) Reference() string {
	if p.RefID == nil {
		return ""
	}
	return *p.RefID
}

// GrantsCredit reports whether a successful payment tops up the wallet
// instead of extending a device.
func (p *Payment) GrantsCredit() bool {
	return p.Method == PaymentMethodGateway && p.PlanKind == PlanKindService
}

// AmountMinor is the integer rial amount sent to the gateway.
func (p *Payment) AmountMinor() int64 {
	return p.Amount.IntPart()
}

// VerifyOutcome is the gateway-side metadata captured on a verification.
type VerifyOutcome struct {
	RefID   string
	CardPan string
	FeeType string
	Fee     int64
	Code    string
	Message string
}
