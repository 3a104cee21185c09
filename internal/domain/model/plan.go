package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PlanKind string

const (
	PlanKindAccountCharge PlanKind = "account_charge"
	PlanKindService       PlanKind = "service"
)

func (k PlanKind) Valid() bool {
	return k == PlanKindAccountCharge || k == PlanKindService
}

// AccountCharge is a prepaid device-duration package. Immutable after creation.
type AccountCharge struct {
	ID           string
	Period       string
	Description  string
	Amount       decimal.Decimal
	CreditCost   decimal.Decimal
	DurationDays int
	CreatedAt    time.Time
}

// Service is a one-off product. Bought through the gateway it tops up the
// wallet by CreditCost; bought with credit it extends the device.
type Service struct {
	ID           string
	Name         string
	Description  string
	Price        decimal.Decimal
	CreditCost   decimal.Decimal
	DurationDays int
	CreatedAt    time.Time
}

// Plan is the resolved, server-side view of a catalog row.
type Plan struct {
	Kind         PlanKind
	ID           string
	Period       string
	Description  string
	Price        decimal.Decimal // gateway charge
	CreditCost   decimal.Decimal // credit-path charge, and top-up for services
	DurationDays int
}

func (a *AccountCharge) Plan() Plan {
	cost := a.CreditCost
	if cost.IsZero() {
		cost = a.Amount
	}
	return Plan{
		Kind:         PlanKindAccountCharge,
		ID:           a.ID,
		Period:       a.Period,
		Description:  a.Description,
		Price:        a.Amount,
		CreditCost:   cost,
		DurationDays: a.DurationDays,
	}
}

func (s *Service) Plan() Plan {
	desc := s.Description
	if desc == "" {
		desc = s.Name
	}
	return Plan{
		Kind:         PlanKindService,
		ID:           s.ID,
		Description:  desc,
		Price:        s.Price,
		CreditCost:   s.CreditCost,
		DurationDays: s.DurationDays,
	}
}

// ChargeFor returns what the given method charges for this plan.
func (p Plan) ChargeFor(m PaymentMethod) decimal.Decimal {
	if m == PaymentMethodCredit {
		return p.CreditCost
	}
	return p.Price
}
