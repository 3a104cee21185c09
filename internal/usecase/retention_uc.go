package usecase

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fleet-billing/internal/domain"
	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/repository"
	"fleet-billing/internal/infra/logging"
)

// Compile-time check
var _ RetentionUseCase = (*retentionUC)(nil)

// RetentionUseCase purges old shadow rows and resets milestone flags on
// administrative request.
type RetentionUseCase interface {
	CleanupExpiredUsers(ctx context.Context, dryRun bool) (int64, error)
	CleanupExpiredDevices(ctx context.Context, dryRun bool) (int64, error)
	// ResetMilestones clears the sent flags of one shadow row. Device rows
	// are addressed as "<user id>:<device id>", users by their id.
	ResetMilestones(ctx context.Context, kind model.ShadowKind, ref string) error
}

type RetentionConfig struct {
	ExpiredUsersDays   int
	ExpiredDevicesDays int // 0 keeps device rows
}

type retentionUC struct {
	devices repository.ExpiredDeviceRepository
	users   repository.ExpiredUserRepository
	cfg     RetentionConfig
	log     *zerolog.Logger
	now     func() time.Time
}

func NewRetentionUseCase(devices repository.ExpiredDeviceRepository, users repository.ExpiredUserRepository, cfg RetentionConfig, logger *zerolog.Logger) *retentionUC {
	if cfg.ExpiredUsersDays <= 0 {
		cfg.ExpiredUsersDays = 30
	}
	l := logger.With().Str("component", "RetentionUC").Logger()
	return &retentionUC{devices: devices, users: users, cfg: cfg, log: &l, now: time.Now}
}

// WithClock replaces the wall clock.
func (u *retentionUC) WithClock(now func() time.Time) *retentionUC {
	u.now = now
	return u
}

func (u *retentionUC) CleanupExpiredUsers(ctx context.Context, dryRun bool) (int64, error) {
	defer logging.TraceDuration(u.log, "RetentionUC.CleanupExpiredUsers")()
	cutoff := u.now().AddDate(0, 0, -u.cfg.ExpiredUsersDays)
	if dryRun {
		u.log.Info().Time("cutoff", cutoff).Msg("dry run: would purge expired users")
		return 0, nil
	}
	n, err := u.users.DeleteDetectedBefore(ctx, repository.NoTX, cutoff)
	if err != nil {
		return 0, err
	}
	u.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("expired users purged")
	return n, nil
}

func (u *retentionUC) CleanupExpiredDevices(ctx context.Context, dryRun bool) (int64, error) {
	defer logging.TraceDuration(u.log, "RetentionUC.CleanupExpiredDevices")()
	if u.cfg.ExpiredDevicesDays <= 0 {
		return 0, nil
	}
	cutoff := u.now().AddDate(0, 0, -u.cfg.ExpiredDevicesDays)
	if dryRun {
		u.log.Info().Time("cutoff", cutoff).Msg("dry run: would purge expired devices")
		return 0, nil
	}
	n, err := u.devices.DeleteDetectedBefore(ctx, repository.NoTX, cutoff)
	if err != nil {
		return 0, err
	}
	u.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("expired devices purged")
	return n, nil
}

func (u *retentionUC) ResetMilestones(ctx context.Context, kind model.ShadowKind, ref string) error {
	switch kind {
	case model.ShadowKindDevice:
		key, err := ParseDeviceKey(ref)
		if err != nil {
			return err
		}
		if err := u.devices.ResetMilestones(ctx, repository.NoTX, key); err != nil {
			return err
		}
		u.log.Info().Int64("user_id", key.UserID).Int64("device_id", key.DeviceID).Msg("device milestones reset")
		return nil
	case model.ShadowKindUser:
		id, err := strconv.ParseInt(ref, 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("%w: user id %q", domain.ErrInvalidArgument, ref)
		}
		if err := u.users.ResetMilestones(ctx, repository.NoTX, id); err != nil {
			return err
		}
		u.log.Info().Int64("traccar_user_id", id).Msg("user milestones reset")
		return nil
	}
	return fmt.Errorf("%w: kind %q", domain.ErrInvalidArgument, kind)
}

// ParseDeviceKey reads "<user id>:<device id>".
func ParseDeviceKey(ref string) (repository.DeviceKey, error) {
	us, ds, ok := strings.Cut(ref, ":")
	if !ok {
		return repository.DeviceKey{}, fmt.Errorf("%w: device ref %q, want user:device", domain.ErrInvalidArgument, ref)
	}
	uid, err1 := strconv.ParseInt(us, 10, 64)
	did, err2 := strconv.ParseInt(ds, 10, 64)
	if err1 != nil || err2 != nil || uid <= 0 || did <= 0 {
		return repository.DeviceKey{}, fmt.Errorf("%w: device ref %q", domain.ErrInvalidArgument, ref)
	}
	return repository.DeviceKey{UserID: uid, DeviceID: did}, nil
}
