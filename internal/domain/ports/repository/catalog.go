package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"fleet-billing/internal/domain/model"
)

type CatalogRepository interface {
	FindAccountChargeByID(ctx context.Context, tx Tx, id string) (*model.AccountCharge, error)
	// FindAccountCharge returns the newest charge matching amount and period.
	FindAccountCharge(ctx context.Context, tx Tx, amount decimal.Decimal, period string) (*model.AccountCharge, error)
	FindServiceByID(ctx context.Context, tx Tx, id string) (*model.Service, error)

	SaveAccountCharge(ctx context.Context, tx Tx, a *model.AccountCharge) error
	SaveService(ctx context.Context, tx Tx, s *model.Service) error
	ListAccountCharges(ctx context.Context, tx Tx) ([]*model.AccountCharge, error)
	ListServices(ctx context.Context, tx Tx) ([]*model.Service, error)
}
