package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentCols = `id, user_id, plan_kind, plan_id, period, description, amount, credit_amount, duration_days,
  method, status, authority, ref_id, failure_code, device_id, owner_phone, owner_name,
  card_pan, fee_type, fee, fulfillment, fulfillment_error, created_at, updated_at, paid_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p         model.Payment
		authority *string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.PlanKind, &p.PlanID, &p.Period, &p.Description, &p.Amount, &p.CreditAmount, &p.DurationDays,
		&p.Method, &p.Status, &authority, &p.RefID, &p.FailureCode, &p.DeviceID, &p.OwnerPhone, &p.OwnerName,
		&p.CardPan, &p.FeeType, &p.Fee, &p.Fulfillment, &p.FulfillmentError, &p.CreatedAt, &p.UpdatedAt, &p.PaidAt)
	if err != nil {
		return nil, scanErr(err)
	}
	p.Authority = derefString(authority)
	return &p, nil
}

// Save inserts a new payment. Payments are append-only; updates go through
// the conditional methods below.
func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (` + paymentCols + `) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25
);`
	if p.Fulfillment == "" {
		p.Fulfillment = model.FulfillmentNone
	}
	_, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.UserID, p.PlanKind, p.PlanID, p.Period, p.Description, p.Amount, p.CreditAmount, p.DurationDays,
		p.Method, p.Status, nullString(p.Authority), p.RefID, p.FailureCode, p.DeviceID, p.OwnerPhone, p.OwnerName,
		p.CardPan, p.FeeType, p.Fee, p.Fulfillment, p.FulfillmentError, p.CreatedAt, p.UpdatedAt, p.PaidAt)
	return mapErr(err)
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := forUpdate(`SELECT `+paymentCols+` FROM payments WHERE id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindByAuthority(ctx context.Context, tx repository.Tx, authority string) (*model.Payment, error) {
	q := forUpdate(`SELECT `+paymentCols+` FROM payments WHERE authority=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, authority)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) SetAuthority(ctx context.Context, tx repository.Tx, id, authority string) (bool, error) {
	const q = `
UPDATE payments SET authority=$2, updated_at=NOW()
 WHERE id=$1 AND status='pending' AND authority IS NULL;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, authority)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

// UpdateStatusIfPending atomically moves a pending payment to a terminal status.
func (r *paymentRepo) UpdateStatusIfPending(ctx context.Context, tx repository.Tx, id string, upd repository.StatusUpdate) (bool, error) {
	const q = `
UPDATE payments
   SET status = $2,
       ref_id = COALESCE($3, ref_id),
       failure_code = $4,
       card_pan = $5,
       fee_type = $6,
       fee = $7,
       paid_at = $8,
       updated_at = NOW()
 WHERE id = $1
   AND status = 'pending';`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, upd.Status, upd.RefID, upd.FailureCode, upd.CardPan, upd.FeeType, upd.Fee, upd.PaidAt)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *paymentRepo) RefExists(ctx context.Context, tx repository.Tx, ref string) (bool, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT EXISTS(SELECT 1 FROM payments WHERE ref_id=$1 AND method='credit');`, ref)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := row.Scan(&ok); err != nil {
		return false, scanErr(err)
	}
	return ok, nil
}

func (r *paymentRepo) ClaimFulfillment(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	const q = `
UPDATE payments SET fulfillment='done', fulfillment_error='', updated_at=NOW()
 WHERE id=$1 AND status='succeeded' AND fulfillment <> 'done';`
	cmd, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *paymentRepo) SetFulfillment(ctx context.Context, tx repository.Tx, id string, state model.FulfillmentState, errText string) error {
	const q = `UPDATE payments SET fulfillment=$2, fulfillment_error=$3, updated_at=NOW() WHERE id=$1 AND status='succeeded';`
	_, err := execSQL(ctx, r.pool, tx, q, id, state, errText)
	return mapErr(err)
}

func (r *paymentRepo) List(ctx context.Context, tx repository.Tx, f repository.PaymentFilter) ([]*model.Payment, error) {
	q := `SELECT ` + paymentCols + ` FROM payments WHERE ($1 = '' OR status = $1)`
	if f.WithAuthority {
		q += ` AND authority IS NOT NULL AND authority <> ''`
	}
	q += ` ORDER BY created_at DESC`
	args := []any{string(f.Status)}
	if f.Limit > 0 {
		q += ` LIMIT $2`
		args = append(args, f.Limit)
	}
	return r.list(ctx, tx, q, args...)
}

func (r *paymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + paymentCols + ` FROM payments WHERE status='pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	return r.list(ctx, tx, q, olderThan, limit)
}

func (r *paymentRepo) ListFulfillmentFailed(ctx context.Context, tx repository.Tx, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + paymentCols + ` FROM payments WHERE status='succeeded' AND fulfillment='failed' ORDER BY updated_at ASC LIMIT $1;`
	return r.list(ctx, tx, q, limit)
}

func (r *paymentRepo) list(ctx context.Context, tx repository.Tx, q string, args ...any) ([]*model.Payment, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}
