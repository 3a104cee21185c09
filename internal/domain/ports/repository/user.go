package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"fleet-billing/internal/domain/model"
)

type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)

	// DebitIfSufficient subtracts amount only when the balance covers it.
	DebitIfSufficient(ctx context.Context, tx Tx, id string, amount decimal.Decimal) (bool, error)
	AddCredit(ctx context.Context, tx Tx, id string, amount decimal.Decimal) error
}

type CreditTransactionRepository interface {
	Append(ctx context.Context, tx Tx, ct *model.CreditTransaction) error
	ListByUser(ctx context.Context, tx Tx, userID string, limit int) ([]*model.CreditTransaction, error)
}
