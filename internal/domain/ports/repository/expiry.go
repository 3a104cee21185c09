package repository

import (
	"context"
	"time"

	"fleet-billing/internal/domain/model"
)

// DeviceKey identifies a shadow device row.
type DeviceKey struct {
	UserID   int64
	DeviceID int64
}

type ExpiredDeviceRepository interface {
	// Upsert records a detection: profile, expiration and detected_at are
	// refreshed, milestone flags are never touched.
	Upsert(ctx context.Context, tx Tx, d *model.ExpiredDevice) error
	// Ensure creates the row if missing and refreshes the profile, keeping
	// detected_at and flags.
	Ensure(ctx context.Context, tx Tx, d *model.ExpiredDevice) error
	Find(ctx context.Context, tx Tx, key DeviceKey) (*model.ExpiredDevice, error)
	FindMany(ctx context.Context, tx Tx, keys []DeviceKey) (map[DeviceKey]*model.ExpiredDevice, error)
	MarkMilestoneSent(ctx context.Context, tx Tx, key DeviceKey, m model.Milestone, at time.Time) (bool, error)
	ResetMilestones(ctx context.Context, tx Tx, key DeviceKey) error
	DeleteDetectedBefore(ctx context.Context, tx Tx, before time.Time) (int64, error)
}

type ExpiredUserRepository interface {
	Upsert(ctx context.Context, tx Tx, u *model.ExpiredUser) error
	Ensure(ctx context.Context, tx Tx, u *model.ExpiredUser) error
	Find(ctx context.Context, tx Tx, traccarUserID int64) (*model.ExpiredUser, error)
	FindMany(ctx context.Context, tx Tx, ids []int64) (map[int64]*model.ExpiredUser, error)
	MarkMilestoneSent(ctx context.Context, tx Tx, traccarUserID int64, m model.Milestone, at time.Time) (bool, error)
	ResetMilestones(ctx context.Context, tx Tx, traccarUserID int64) error
	DeleteDetectedBefore(ctx context.Context, tx Tx, before time.Time) (int64, error)
}

// NotificationLogRepository keeps the reminder audit trail.
type NotificationLogRepository interface {
	Save(ctx context.Context, tx Tx, e *model.NotificationLog) error
	DeleteBefore(ctx context.Context, tx Tx, before time.Time) (int64, error)
}
