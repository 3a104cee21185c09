package repository

import (
	"context"
	"time"

	"fleet-billing/internal/domain/model"
)

// StatusUpdate carries what a terminal transition records.
type StatusUpdate struct {
	Status      model.PaymentStatus
	RefID       *string
	FailureCode string
	CardPan     string
	FeeType     string
	Fee         int64
	PaidAt      *time.Time
}

// PaymentFilter narrows list queries. Zero values mean "any".
type PaymentFilter struct {
	Status        model.PaymentStatus
	WithAuthority bool
	Limit         int
}

type PaymentRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	FindByAuthority(ctx context.Context, tx Tx, authority string) (*model.Payment, error)

	// SetAuthority stores the gateway authority on a pending payment that has none yet.
	SetAuthority(ctx context.Context, tx Tx, id, authority string) (bool, error)
	// UpdateStatusIfPending performs the single pending -> terminal transition.
	// It reports false when another caller already moved the payment.
	UpdateStatusIfPending(ctx context.Context, tx Tx, id string, upd StatusUpdate) (bool, error)
	// RefExists reports whether a local credit ticket is already taken.
	// Gateway references are not checked; the provider owns their space.
	RefExists(ctx context.Context, tx Tx, ref string) (bool, error)

	// ClaimFulfillment flips a succeeded payment to fulfillment=done unless it already is.
	ClaimFulfillment(ctx context.Context, tx Tx, id string) (bool, error)
	SetFulfillment(ctx context.Context, tx Tx, id string, state model.FulfillmentState, errText string) error

	List(ctx context.Context, tx Tx, f PaymentFilter) ([]*model.Payment, error)
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)
	ListFulfillmentFailed(ctx context.Context, tx Tx, limit int) ([]*model.Payment, error)
}
