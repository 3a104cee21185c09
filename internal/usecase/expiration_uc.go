package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fleet-billing/internal/domain"
	"fleet-billing/internal/domain/ports/adapter"
	"fleet-billing/internal/infra/logging"
)

// Compile-time check
var _ ExpirationSynchronizer = (*expirationUC)(nil)

// ExpirationSynchronizer extends expirations on the tracking platform.
type ExpirationSynchronizer interface {
	// ExtendDevice sets the device expiration to now + days and returns it.
	// The new value is re-based on the current time; remaining time on the
	// device is not carried over.
	ExtendDevice(ctx context.Context, deviceID int64, days int) (time.Time, error)
	ExtendUser(ctx context.Context, userID int64, days int) (time.Time, error)
}

// ExpirationSyncError reports a failed read or write of an external record.
type ExpirationSyncError struct {
	DeviceID int64
	Op       string // get|put
	Err      error
}

func (e *ExpirationSyncError) Error() string {
	return fmt.Sprintf("expiration sync %d (%s): %v", e.DeviceID, e.Op, e.Err)
}

func (e *ExpirationSyncError) Unwrap() error { return e.Err }

type expirationUC struct {
	platform adapter.TrackingPlatform
	now      func() time.Time
	log      *zerolog.Logger
}

func NewExpirationUseCase(platform adapter.TrackingPlatform, logger *zerolog.Logger) *expirationUC {
	l := logger.With().Str("component", "ExpirationSync").Logger()
	return &expirationUC{platform: platform, now: time.Now, log: &l}
}

// WithClock replaces the wall clock.
func (u *expirationUC) WithClock(now func() time.Time) *expirationUC {
	u.now = now
	return u
}

func (u *expirationUC) ExtendDevice(ctx context.Context, deviceID int64, days int) (time.Time, error) {
	defer logging.TraceDuration(u.log, "ExpirationUC.ExtendDevice")()
	if deviceID <= 0 || days <= 0 {
		return time.Time{}, domain.ErrInvalidArgument
	}

	rec, err := u.platform.GetDevice(ctx, deviceID)
	if err != nil {
		return time.Time{}, &ExpirationSyncError{DeviceID: deviceID, Op: "get", Err: err}
	}
	newExp := u.now().UTC().Add(time.Duration(days) * 24 * time.Hour)
	rec["expirationTime"] = adapter.FormatExpiration(newExp)

	// GET and PUT are not atomic on the platform; a concurrent edit in
	// between is overwritten.
	if err := u.platform.UpdateDevice(ctx, deviceID, rec); err != nil {
		return time.Time{}, &ExpirationSyncError{DeviceID: deviceID, Op: "put", Err: err}
	}
	u.log.Info().Int64("device_id", deviceID).Int("days", days).Time("expiration", newExp).Msg("device expiration extended")
	return newExp, nil
}

func (u *expirationUC) ExtendUser(ctx context.Context, userID int64, days int) (time.Time, error) {
	defer logging.TraceDuration(u.log, "ExpirationUC.ExtendUser")()
	if userID <= 0 || days <= 0 {
		return time.Time{}, domain.ErrInvalidArgument
	}
	rec, err := u.platform.GetUser(ctx, userID)
	if err != nil {
		return time.Time{}, &ExpirationSyncError{DeviceID: userID, Op: "get", Err: err}
	}
	newExp := u.now().UTC().Add(time.Duration(days) * 24 * time.Hour)
	rec["expirationTime"] = adapter.FormatExpiration(newExp)
	if err := u.platform.UpdateUser(ctx, userID, rec); err != nil {
		return time.Time{}, &ExpirationSyncError{DeviceID: userID, Op: "put", Err: err}
	}
	u.log.Info().Int64("traccar_user_id", userID).Int("days", days).Time("expiration", newExp).Msg("user expiration extended")
	return newExp, nil
}
