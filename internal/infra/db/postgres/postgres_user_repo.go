package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"fleet-billing/internal/domain"
	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

func (r *PostgresUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (id, phone, first_name, last_name, credit, traccar_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  phone=$2, first_name=$3, last_name=$4, traccar_id=$6, updated_at=$8;`
	_, err := execSQL(ctx, r.pool, tx, q, u.ID, u.Phone, u.FirstName, u.LastName, u.Credit, u.TraccarID, u.CreatedAt, u.UpdatedAt)
	return mapErr(err)
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	q := forUpdate(`SELECT id, phone, first_name, last_name, credit, traccar_id, created_at, updated_at FROM users WHERE id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var u model.User
	if err := row.Scan(&u.ID, &u.Phone, &u.FirstName, &u.LastName, &u.Credit, &u.TraccarID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, scanErr(err)
	}
	return &u, nil
}

// DebitIfSufficient is a single conditional UPDATE, so concurrent debits
// against the same balance serialize on the row and at most one of two
// equal-sized debits succeeds when only one fits.
func (r *PostgresUserRepo) DebitIfSufficient(ctx context.Context, tx repository.Tx, id string, amount decimal.Decimal) (bool, error) {
	if amount.IsNegative() {
		return false, domain.ErrInvalidArgument
	}
	const q = `UPDATE users SET credit = credit - $2, updated_at=NOW() WHERE id=$1 AND credit >= $2;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, amount)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *PostgresUserRepo) AddCredit(ctx context.Context, tx repository.Tx, id string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidArgument
	}
	cmd, err := execSQL(ctx, r.pool, tx, `UPDATE users SET credit = credit + $2, updated_at=NOW() WHERE id=$1;`, id, amount)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
