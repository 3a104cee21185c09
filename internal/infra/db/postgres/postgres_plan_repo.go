package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/repository"
)

var _ repository.CatalogRepository = (*PostgresCatalogRepo)(nil)

// PostgresCatalogRepo serves the account charge and service catalogs.
type PostgresCatalogRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresCatalogRepo(pool *pgxpool.Pool) *PostgresCatalogRepo {
	return &PostgresCatalogRepo{pool: pool}
}

const (
	accountChargeCols = `id, period, description, amount, credit_cost, duration_days, created_at`
	serviceCols       = `id, name, description, price, credit_cost, duration_days, created_at`
)

func scanAccountCharge(row pgx.Row) (*model.AccountCharge, error) {
	var a model.AccountCharge
	if err := row.Scan(&a.ID, &a.Period, &a.Description, &a.Amount, &a.CreditCost, &a.DurationDays, &a.CreatedAt); err != nil {
		return nil, scanErr(err)
	}
	return &a, nil
}

func scanService(row pgx.Row) (*model.Service, error) {
	var s model.Service
	if err := row.Scan(&s.ID, &s.Name, &s.Description, &s.Price, &s.CreditCost, &s.DurationDays, &s.CreatedAt); err != nil {
		return nil, scanErr(err)
	}
	return &s, nil
}

func (r *PostgresCatalogRepo) FindAccountChargeByID(ctx context.Context, tx repository.Tx, id string) (*model.AccountCharge, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+accountChargeCols+` FROM account_charges WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	return scanAccountCharge(row)
}

func (r *PostgresCatalogRepo) FindAccountCharge(ctx context.Context, tx repository.Tx, amount decimal.Decimal, period string) (*model.AccountCharge, error) {
	const q = `SELECT ` + accountChargeCols + ` FROM account_charges WHERE amount=$1 AND period=$2 ORDER BY created_at DESC LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, amount, period)
	if err != nil {
		return nil, err
	}
	return scanAccountCharge(row)
}

func (r *PostgresCatalogRepo) FindServiceByID(ctx context.Context, tx repository.Tx, id string) (*model.Service, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+serviceCols+` FROM services WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	return scanService(row)
}

func (r *PostgresCatalogRepo) SaveAccountCharge(ctx context.Context, tx repository.Tx, a *model.AccountCharge) error {
	const q = `INSERT INTO account_charges (` + accountChargeCols + `) VALUES ($1,$2,$3,$4,$5,$6,$7);`
	_, err := execSQL(ctx, r.pool, tx, q, a.ID, a.Period, a.Description, a.Amount, a.CreditCost, a.DurationDays, a.CreatedAt)
	return mapErr(err)
}

func (r *PostgresCatalogRepo) SaveService(ctx context.Context, tx repository.Tx, s *model.Service) error {
	const q = `INSERT INTO services (` + serviceCols + `) VALUES ($1,$2,$3,$4,$5,$6,$7);`
	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.Name, s.Description, s.Price, s.CreditCost, s.DurationDays, s.CreatedAt)
	return mapErr(err)
}

func (r *PostgresCatalogRepo) ListAccountCharges(ctx context.Context, tx repository.Tx) ([]*model.AccountCharge, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+accountChargeCols+` FROM account_charges ORDER BY amount ASC;`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.AccountCharge
	for rows.Next() {
		a, err := scanAccountCharge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, mapErr(rows.Err())
}

func (r *PostgresCatalogRepo) ListServices(ctx context.Context, tx repository.Tx) ([]*model.Service, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+serviceCols+` FROM services ORDER BY name ASC;`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, mapErr(rows.Err())
}
