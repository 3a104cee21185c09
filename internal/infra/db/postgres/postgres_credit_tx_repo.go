package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/repository"
)

var _ repository.CreditTransactionRepository = (*creditTxRepo)(nil)

type creditTxRepo struct{ pool *pgxpool.Pool }

func NewCreditTransactionRepo(pool *pgxpool.Pool) *creditTxRepo {
	return &creditTxRepo{pool: pool}
}

func (r *creditTxRepo) Append(ctx context.Context, tx repository.Tx, ct *model.CreditTransaction) error {
	const q = `
INSERT INTO credit_transactions (id, user_id, payment_id, kind, amount, description, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7);`
	_, err := execSQL(ctx, r.pool, tx, q, ct.ID, ct.UserID, nullString(ct.PaymentID), ct.Kind, ct.Amount, ct.Description, ct.CreatedAt)
	return mapErr(err)
}

func (r *creditTxRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, user_id, payment_id, kind, amount, description, created_at
  FROM credit_transactions WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*model.CreditTransaction
	for rows.Next() {
		var (
			ct  model.CreditTransaction
			pid *string
		)
		if err := rows.Scan(&ct.ID, &ct.UserID, &pid, &ct.Kind, &ct.Amount, &ct.Description, &ct.CreatedAt); err != nil {
			return nil, scanErr(err)
		}
		ct.PaymentID = derefString(pid)
		out = append(out, &ct)
	}
	return out, mapErr(rows.Err())
}
