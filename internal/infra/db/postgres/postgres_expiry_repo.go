package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"fleet-billing/internal/domain"
	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/repository"
)

var (
	_ repository.ExpiredDeviceRepository = (*expiredDeviceRepo)(nil)
	_ repository.ExpiredUserRepository   = (*expiredUserRepo)(nil)
)

const milestoneCols = `sms_3_days_before_sent, sms_3_days_before_sent_at,
  sms_expire_day_sent, sms_expire_day_sent_at,
  sms_3_days_after_sent, sms_3_days_after_sent_at,
  sms_30_days_after_sent, sms_30_days_after_sent_at`

const resetMilestonesSet = `sms_3_days_before_sent=FALSE, sms_3_days_before_sent_at=NULL,
  sms_expire_day_sent=FALSE, sms_expire_day_sent_at=NULL,
  sms_3_days_after_sent=FALSE, sms_3_days_after_sent_at=NULL,
  sms_30_days_after_sent=FALSE, sms_30_days_after_sent_at=NULL`

// milestoneColumn maps a milestone to its flag column. Only these literals
// ever reach SQL text.
func milestoneColumn(m model.Milestone) (string, error) {
	switch m {
	case model.MilestoneThreeDaysBefore:
		return "sms_3_days_before_sent", nil
	case model.MilestoneExpireDay:
		return "sms_expire_day_sent", nil
	case model.MilestoneThreeDaysAfter:
		return "sms_3_days_after_sent", nil
	case model.MilestoneThirtyDaysAfter:
		return "sms_30_days_after_sent", nil
	}
	return "", domain.ErrInvalidArgument
}

func milestoneDest(f *model.MilestoneFlags) []any {
	return []any{
		&f.ThreeDaysBefore.Sent, &f.ThreeDaysBefore.SentAt,
		&f.ExpireDay.Sent, &f.ExpireDay.SentAt,
		&f.ThreeDaysAfter.Sent, &f.ThreeDaysAfter.SentAt,
		&f.ThirtyDaysAfter.Sent, &f.ThirtyDaysAfter.SentAt,
	}
}

// -----------------------------
// Devices
// -----------------------------

type expiredDeviceRepo struct{ pool *pgxpool.Pool }

func NewExpiredDeviceRepo(pool *pgxpool.Pool) *expiredDeviceRepo {
	return &expiredDeviceRepo{pool: pool}
}

const expiredDeviceCols = `traccar_user_id, traccar_device_id, user_name, user_email, user_phone,
  device_name, unique_id, device_phone, expiration_time, ` + milestoneCols + `, detected_at, updated_at`

func scanExpiredDevice(row pgx.Row) (*model.ExpiredDevice, error) {
	var d model.ExpiredDevice
	dest := []any{&d.TraccarUserID, &d.TraccarDeviceID, &d.UserName, &d.UserEmail, &d.UserPhone,
		&d.DeviceName, &d.UniqueID, &d.DevicePhone, &d.ExpirationTime}
	dest = append(dest, milestoneDest(&d.Milestones)...)
	dest = append(dest, &d.DetectedAt, &d.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, scanErr(err)
	}
	return &d, nil
}

func (r *expiredDeviceRepo) Upsert(ctx context.Context, tx repository.Tx, d *model.ExpiredDevice) error {
	const q = `
INSERT INTO expired_devices (traccar_user_id, traccar_device_id, user_name, user_email, user_phone,
  device_name, unique_id, device_phone, expiration_time, detected_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
ON CONFLICT (traccar_user_id, traccar_device_id) DO UPDATE SET
  user_name=EXCLUDED.user_name, user_email=EXCLUDED.user_email, user_phone=EXCLUDED.user_phone,
  device_name=EXCLUDED.device_name, unique_id=EXCLUDED.unique_id, device_phone=EXCLUDED.device_phone,
  expiration_time=EXCLUDED.expiration_time, detected_at=EXCLUDED.detected_at, updated_at=EXCLUDED.updated_at;`
	_, err := execSQL(ctx, r.pool, tx, q, d.TraccarUserID, d.TraccarDeviceID, d.UserName, d.UserEmail, d.UserPhone,
		d.DeviceName, d.UniqueID, d.DevicePhone, d.ExpirationTime, d.DetectedAt)
	return mapErr(err)
}

func (r *expiredDeviceRepo) Ensure(ctx context.Context, tx repository.Tx, d *model.ExpiredDevice) error {
	const q = `
INSERT INTO expired_devices (traccar_user_id, traccar_device_id, user_name, user_email, user_phone,
  device_name, unique_id, device_phone, expiration_time, detected_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
ON CONFLICT (traccar_user_id, traccar_device_id) DO UPDATE SET
  user_name=EXCLUDED.user_name, user_email=EXCLUDED.user_email, user_phone=EXCLUDED.user_phone,
  device_name=EXCLUDED.device_name, unique_id=EXCLUDED.unique_id, device_phone=EXCLUDED.device_phone,
  expiration_time=EXCLUDED.expiration_time, updated_at=EXCLUDED.updated_at;`
	_, err := execSQL(ctx, r.pool, tx, q, d.TraccarUserID, d.TraccarDeviceID, d.UserName, d.UserEmail, d.UserPhone,
		d.DeviceName, d.UniqueID, d.DevicePhone, d.ExpirationTime, d.DetectedAt)
	return mapErr(err)
}

func (r *expiredDeviceRepo) Find(ctx context.Context, tx repository.Tx, key repository.DeviceKey) (*model.ExpiredDevice, error) {
	q := forUpdate(`SELECT `+expiredDeviceCols+` FROM expired_devices WHERE traccar_user_id=$1 AND traccar_device_id=$2`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, key.UserID, key.DeviceID)
	if err != nil {
		return nil, err
	}
	return scanExpiredDevice(row)
}

func (r *expiredDeviceRepo) FindMany(ctx context.Context, tx repository.Tx, keys []repository.DeviceKey) (map[repository.DeviceKey]*model.ExpiredDevice, error) {
	out := make(map[repository.DeviceKey]*model.ExpiredDevice, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	users := make([]int64, len(keys))
	devices := make([]int64, len(keys))
	for i, k := range keys {
		users[i], devices[i] = k.UserID, k.DeviceID
	}
	const q = `
SELECT ` + expiredDeviceCols + ` FROM expired_devices
 WHERE (traccar_user_id, traccar_device_id) IN (SELECT * FROM unnest($1::bigint[], $2::bigint[]));`
	rows, err := queryRows(ctx, r.pool, tx, q, users, devices)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		d, err := scanExpiredDevice(rows)
		if err != nil {
			return nil, err
		}
		out[repository.DeviceKey{UserID: d.TraccarUserID, DeviceID: d.TraccarDeviceID}] = d
	}
	return out, mapErr(rows.Err())
}

// MarkMilestoneSent flips one flag false -> true. A second call is a no-op
// and reports false.
func (r *expiredDeviceRepo) MarkMilestoneSent(ctx context.Context, tx repository.Tx, key repository.DeviceKey, m model.Milestone, at time.Time) (bool, error) {
	col, err := milestoneColumn(m)
	if err != nil {
		return false, err
	}
	q := `UPDATE expired_devices SET ` + col + `=TRUE, ` + col + `_at=$3, updated_at=NOW()
 WHERE traccar_user_id=$1 AND traccar_device_id=$2 AND ` + col + `=FALSE;`
	cmd, err := execSQL(ctx, r.pool, tx, q, key.UserID, key.DeviceID, at)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *expiredDeviceRepo) ResetMilestones(ctx context.Context, tx repository.Tx, key repository.DeviceKey) error {
	q := `UPDATE expired_devices SET ` + resetMilestonesSet + `, updated_at=NOW() WHERE traccar_user_id=$1 AND traccar_device_id=$2;`
	cmd, err := execSQL(ctx, r.pool, tx, q, key.UserID, key.DeviceID)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *expiredDeviceRepo) DeleteDetectedBefore(ctx context.Context, tx repository.Tx, before time.Time) (int64, error) {
	cmd, err := execSQL(ctx, r.pool, tx, `DELETE FROM expired_devices WHERE detected_at < $1;`, before)
	if err != nil {
		return 0, mapErr(err)
	}
	return cmd.RowsAffected(), nil
}

// -----------------------------
// Users
// -----------------------------

type expiredUserRepo struct{ pool *pgxpool.Pool }

func NewExpiredUserRepo(pool *pgxpool.Pool) *expiredUserRepo {
	return &expiredUserRepo{pool: pool}
}

const expiredUserCols = `traccar_user_id, name, email, phone, administrator, disabled, expiration_time,
  device_limit, user_limit, ` + milestoneCols + `, detected_at, updated_at`

func scanExpiredUser(row pgx.Row) (*model.ExpiredUser, error) {
	var u model.ExpiredUser
	dest := []any{&u.TraccarUserID, &u.Name, &u.Email, &u.Phone, &u.Administrator, &u.Disabled, &u.ExpirationTime,
		&u.DeviceLimit, &u.UserLimit}
	dest = append(dest, milestoneDest(&u.Milestones)...)
	dest = append(dest, &u.DetectedAt, &u.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, scanErr(err)
	}
	return &u, nil
}

const upsertUserPrefix = `
INSERT INTO expired_users (traccar_user_id, name, email, phone, administrator, disabled, expiration_time,
  device_limit, user_limit, detected_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
ON CONFLICT (traccar_user_id) DO UPDATE SET
  name=EXCLUDED.name, email=EXCLUDED.email, phone=EXCLUDED.phone, administrator=EXCLUDED.administrator,
  disabled=EXCLUDED.disabled, expiration_time=EXCLUDED.expiration_time, device_limit=EXCLUDED.device_limit,
  user_limit=EXCLUDED.user_limit, updated_at=EXCLUDED.updated_at`

func (r *expiredUserRepo) Upsert(ctx context.Context, tx repository.Tx, u *model.ExpiredUser) error {
	_, err := execSQL(ctx, r.pool, tx, upsertUserPrefix+`, detected_at=EXCLUDED.detected_at;`,
		u.TraccarUserID, u.Name, u.Email, u.Phone, u.Administrator, u.Disabled, u.ExpirationTime,
		u.DeviceLimit, u.UserLimit, u.DetectedAt)
	return mapErr(err)
}

func (r *expiredUserRepo) Ensure(ctx context.Context, tx repository.Tx, u *model.ExpiredUser) error {
	_, err := execSQL(ctx, r.pool, tx, upsertUserPrefix+`;`,
		u.TraccarUserID, u.Name, u.Email, u.Phone, u.Administrator, u.Disabled, u.ExpirationTime,
		u.DeviceLimit, u.UserLimit, u.DetectedAt)
	return mapErr(err)
}

func (r *expiredUserRepo) Find(ctx context.Context, tx repository.Tx, id int64) (*model.ExpiredUser, error) {
	q := forUpdate(`SELECT `+expiredUserCols+` FROM expired_users WHERE traccar_user_id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanExpiredUser(row)
}

func (r *expiredUserRepo) FindMany(ctx context.Context, tx repository.Tx, ids []int64) (map[int64]*model.ExpiredUser, error) {
	out := make(map[int64]*model.ExpiredUser, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+expiredUserCols+` FROM expired_users WHERE traccar_user_id = ANY($1);`, ids)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		u, err := scanExpiredUser(rows)
		if err != nil {
			return nil, err
		}
		out[u.TraccarUserID] = u
	}
	return out, mapErr(rows.Err())
}

func (r *expiredUserRepo) MarkMilestoneSent(ctx context.Context, tx repository.Tx, id int64, m model.Milestone, at time.Time) (bool, error) {
	col, err := milestoneColumn(m)
	if err != nil {
		return false, err
	}
	q := `UPDATE expired_users SET ` + col + `=TRUE, ` + col + `_at=$2, updated_at=NOW()
 WHERE traccar_user_id=$1 AND ` + col + `=FALSE;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, at)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *expiredUserRepo) ResetMilestones(ctx context.Context, tx repository.Tx, id int64) error {
	q := `UPDATE expired_users SET ` + resetMilestonesSet + `, updated_at=NOW() WHERE traccar_user_id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *expiredUserRepo) DeleteDetectedBefore(ctx context.Context, tx repository.Tx, before time.Time) (int64, error) {
	cmd, err := execSQL(ctx, r.pool, tx, `DELETE FROM expired_users WHERE detected_at < $1;`, before)
	if err != nil {
		return 0, mapErr(err)
	}
	return cmd.RowsAffected(), nil
}
