package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"fleet-billing/internal/domain"
	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/adapter"
	"fleet-billing/internal/domain/ports/repository"
	"fleet-billing/internal/infra/logging"
)

// Compile-time check
var _ ExpiryScanUseCase = (*expiryScanUC)(nil)

// ExpiryScanUseCase records devices and users that are past their
// expiration into the shadow tables.
type ExpiryScanUseCase interface {
	DetectExpiredDevices(ctx context.Context, opts ScanOptions) (ScanReport, error)
	DetectExpiredUsers(ctx context.Context, opts ScanOptions) (ScanReport, error)
}

type ScanOptions struct {
	DryRun            bool
	MaxDevicesPerUser int   // 0 uses the configured default
	ForceDeviceID     int64 // restricts the pass to one device
}

type ScanReport struct {
	Users   int
	Scanned int
	Expired int
	Saved   int
	Capped  int
	Errors  int
}

type ScanConfig struct {
	MaxDevicesPerUser int
	PageSize          int
}

type expiryScanUC struct {
	inventory adapter.DeviceInventory
	platform  adapter.TrackingPlatform
	devices   repository.ExpiredDeviceRepository
	users     repository.ExpiredUserRepository
	cfg       ScanConfig
	log       *zerolog.Logger
	now       func() time.Time
}

func NewExpiryScanUseCase(
	inventory adapter.DeviceInventory,
	platform adapter.TrackingPlatform,
	devices repository.ExpiredDeviceRepository,
	users repository.ExpiredUserRepository,
	cfg ScanConfig,
	logger *zerolog.Logger,
) *expiryScanUC {
	if cfg.MaxDevicesPerUser <= 0 {
		cfg.MaxDevicesPerUser = 4
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	l := logger.With().Str("component", "ExpiryScanUC").Logger()
	return &expiryScanUC{
		inventory: inventory,
		platform:  platform,
		devices:   devices,
		users:     users,
		cfg:       cfg,
		log:       &l,
		now:       time.Now,
	}
}

// WithClock replaces the wall clock.
func (u *expiryScanUC) WithClock(now func() time.Time) *expiryScanUC {
	u.now = now
	return u
}

func (u *expiryScanUC) DetectExpiredDevices(ctx context.Context, opts ScanOptions) (ScanReport, error) {
	defer logging.TraceDuration(u.log, "ExpiryScanUC.DetectExpiredDevices")()
	var rep ScanReport
	now := u.now()
	w := &inventoryWalker{inventory: u.inventory, pageSize: u.cfg.PageSize, maxPerUser: pick(opts.MaxDevicesPerUser, u.cfg.MaxDevicesPerUser)}

	err := w.walk(ctx, opts.ForceDeviceID, func(batch []adapter.InventoryDevice) error {
		for _, d := range batch {
			rep.Scanned++
			if d.ExpirationTime == nil || d.ExpirationTime.After(now) {
				continue
			}
			rep.Expired++
			if opts.DryRun {
				u.log.Info().Int64("user_id", d.UserID).Int64("device_id", d.DeviceID).Time("expiration", *d.ExpirationTime).Msg("dry run: would record expired device")
				continue
			}
			row := shadowFromInventory(d)
			row.DetectedAt = now
			if err := u.devices.Upsert(ctx, repository.NoTX, row); err != nil {
				rep.Errors++
				u.log.Error().Err(err).Int64("user_id", d.UserID).Int64("device_id", d.DeviceID).Msg("upsert expired device")
				continue
			}
			rep.Saved++
		}
		return nil
	})
	rep.Users, rep.Capped = w.users, w.capped
	if err != nil {
		return rep, err
	}
	u.log.Info().Int("scanned", rep.Scanned).Int("expired", rep.Expired).Int("saved", rep.Saved).Int("capped", rep.Capped).Bool("dry_run", opts.DryRun).Msg("device detection done")
	return rep, nil
}

func (u *expiryScanUC) DetectExpiredUsers(ctx context.Context, opts ScanOptions) (ScanReport, error) {
	defer logging.TraceDuration(u.log, "ExpiryScanUC.DetectExpiredUsers")()
	var rep ScanReport
	now := u.now()
	list, err := u.platform.ListUsers(ctx)
	if err != nil {
		return rep, err
	}
	for _, tu := range list {
		rep.Users++
		rep.Scanned++
		if tu.ExpirationTime == nil || tu.ExpirationTime.After(now) {
			continue
		}
		rep.Expired++
		if opts.DryRun {
			u.log.Info().Int64("traccar_user_id", tu.ID).Time("expiration", *tu.ExpirationTime).Msg("dry run: would record expired user")
			continue
		}
		row := expiredUserFrom(tu)
		row.DetectedAt = now
		if err := u.users.Upsert(ctx, repository.NoTX, row); err != nil {
			rep.Errors++
			u.log.Error().Err(err).Int64("traccar_user_id", tu.ID).Msg("upsert expired user")
			continue
		}
		rep.Saved++
	}
	u.log.Info().Int("scanned", rep.Scanned).Int("expired", rep.Expired).Int("saved", rep.Saved).Bool("dry_run", opts.DryRun).Msg("user detection done")
	return rep, nil
}

// inventoryWalker pages through the platform inventory in (user, device)
// order and keeps at most maxPerUser rows of each user.
type inventoryWalker struct {
	inventory  adapter.DeviceInventory
	pageSize   int
	maxPerUser int

	users  int
	capped int
}

func (w *inventoryWalker) walk(ctx context.Context, forceDeviceID int64, fn func([]adapter.InventoryDevice) error) error {
	var (
		lastUser int64 = -1
		perUser  int
	)
	keep := func(rows []adapter.InventoryDevice) []adapter.InventoryDevice {
		out := rows[:0:0]
		for _, r := range rows {
			if r.UserID != lastUser {
				lastUser, perUser = r.UserID, 0
				w.users++
			}
			if perUser >= w.maxPerUser {
				w.capped++
				continue
			}
			perUser++
			out = append(out, r)
		}
		return out
	}

	if forceDeviceID > 0 {
		rows, err := w.inventory.DeviceOwners(ctx, forceDeviceID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return domain.ErrNotFound
		}
		return fn(keep(rows))
	}

	var cursor adapter.InventoryCursor
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := w.inventory.ListDevices(ctx, cursor, w.pageSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		last := rows[len(rows)-1]
		cursor = adapter.InventoryCursor{UserID: last.UserID, DeviceID: last.DeviceID}
		if err := fn(keep(rows)); err != nil {
			return err
		}
		if len(rows) < w.pageSize {
			return nil
		}
	}
}

func shadowFromInventory(d adapter.InventoryDevice) *model.ExpiredDevice {
	row := &model.ExpiredDevice{
		TraccarUserID:   d.UserID,
		TraccarDeviceID: d.DeviceID,
		UserName:        d.UserName,
		UserEmail:       d.UserEmail,
		UserPhone:       d.UserPhone,
		DeviceName:      d.DeviceName,
		UniqueID:        d.UniqueID,
		DevicePhone:     d.DevicePhone,
	}
	if d.ExpirationTime != nil {
		row.ExpirationTime = *d.ExpirationTime
	}
	return row
}

func expiredUserFrom(tu adapter.TrackingUser) *model.ExpiredUser {
	row := &model.ExpiredUser{
		TraccarUserID: tu.ID,
		Name:          tu.Name,
		Email:         tu.Email,
		Phone:         tu.Phone,
		Administrator: tu.Administrator,
		Disabled:      tu.Disabled,
		DeviceLimit:   tu.DeviceLimit,
		UserLimit:     tu.UserLimit,
	}
	if tu.ExpirationTime != nil {
		row.ExpirationTime = *tu.ExpirationTime
	}
	return row
}

func pick(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
