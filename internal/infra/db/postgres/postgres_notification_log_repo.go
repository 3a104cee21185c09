package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/repository"
)

var _ repository.NotificationLogRepository = (*notificationLogRepo)(nil)

type notificationLogRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationLogRepo(pool *pgxpool.Pool) *notificationLogRepo {
	return &notificationLogRepo{pool: pool}
}

func (r *notificationLogRepo) Save(ctx context.Context, tx repository.Tx, e *model.NotificationLog) error {
	const q = `
INSERT INTO notification_log (id, subject, subject_id, milestone, channel, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := execSQL(ctx, r.pool, tx, q, e.ID, e.Subject, e.SubjectID, e.Milestone, e.Channel, e.Error, e.CreatedAt)
	return mapErr(err)
}

func (r *notificationLogRepo) DeleteBefore(ctx context.Context, tx repository.Tx, before time.Time) (int64, error) {
	cmd, err := execSQL(ctx, r.pool, tx, `DELETE FROM notification_log WHERE created_at < $1`, before)
	if err != nil {
		return 0, mapErr(err)
	}
	return cmd.RowsAffected(), nil
}
