package traccar

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fleet-billing/internal/domain/ports/adapter"
)

var _ adapter.DeviceInventory = (*Inventory)(nil)

// Inventory reads device ownership straight from the tracking platform's
// MySQL database. It never writes; expiration changes go through the REST API.
type Inventory struct {
	db *gorm.DB
}

// Open connects with a DSN like "user:pass@tcp(host:3306)/traccar".
// parseTime is forced so DATETIME columns scan into time.Time.
func Open(dsn string) (*Inventory, error) {
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       withParseTime(dsn),
		SkipInitializeWithVersion: false,
	}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open traccar db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return &Inventory{db: db}, nil
}

func NewInventory(db *gorm.DB) *Inventory { return &Inventory{db: db} }

func (i *Inventory) Close() error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type inventoryRow struct {
	UserID         int64          `gorm:"column:user_id"`
	UserName       sql.NullString `gorm:"column:user_name"`
	UserEmail      sql.NullString `gorm:"column:user_email"`
	UserPhone      sql.NullString `gorm:"column:user_phone"`
	UserDisabled   bool           `gorm:"column:user_disabled"`
	DeviceID       int64          `gorm:"column:device_id"`
	DeviceName     sql.NullString `gorm:"column:device_name"`
	UniqueID       sql.NullString `gorm:"column:uniqueid"`
	DevicePhone    sql.NullString `gorm:"column:device_phone"`
	ExpirationTime sql.NullTime   `gorm:"column:expirationtime"`
	DeviceDisabled bool           `gorm:"column:device_disabled"`
	Status         sql.NullString `gorm:"column:device_status"`
}

const inventorySelect = `
SELECT u.id AS user_id, u.name AS user_name, u.email AS user_email, u.phone AS user_phone,
       u.disabled AS user_disabled,
       d.id AS device_id, d.name AS device_name, d.uniqueid, d.phone AS device_phone,
       d.expirationtime, d.disabled AS device_disabled, d.status AS device_status
  FROM tc_users u
  JOIN tc_user_device ud ON u.id = ud.userid
  JOIN tc_devices d ON ud.deviceid = d.id
 WHERE d.expirationtime IS NOT NULL`

// ListDevices returns up to limit rows after the cursor in (user id, device id) order.
func (i *Inventory) ListDevices(ctx context.Context, after adapter.InventoryCursor, limit int) ([]adapter.InventoryDevice, error) {
	if limit <= 0 {
		limit = 500
	}
	q := inventorySelect + `
   AND (u.id > ? OR (u.id = ? AND d.id > ?))
 ORDER BY u.id, d.id
 LIMIT ?`
	var rows []inventoryRow
	if err := i.db.WithContext(ctx).Raw(q, after.UserID, after.UserID, after.DeviceID, limit).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	return toInventory(rows), nil
}

// DeviceOwners returns every owner row of one device.
func (i *Inventory) DeviceOwners(ctx context.Context, deviceID int64) ([]adapter.InventoryDevice, error) {
	q := inventorySelect + `
   AND d.id = ?
 ORDER BY u.id`
	var rows []inventoryRow
	if err := i.db.WithContext(ctx).Raw(q, deviceID).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("device owners: %w", err)
	}
	return toInventory(rows), nil
}

func toInventory(rows []inventoryRow) []adapter.InventoryDevice {
	out := make([]adapter.InventoryDevice, 0, len(rows))
	for _, r := range rows {
		d := adapter.InventoryDevice{
			UserID:         r.UserID,
			UserName:       r.UserName.String,
			UserEmail:      r.UserEmail.String,
			UserPhone:      r.UserPhone.String,
			UserDisabled:   r.UserDisabled,
			DeviceID:       r.DeviceID,
			DeviceName:     r.DeviceName.String,
			UniqueID:       r.UniqueID.String,
			DevicePhone:    r.DevicePhone.String,
			DeviceDisabled: r.DeviceDisabled,
			Status:         r.Status.String,
		}
		if r.ExpirationTime.Valid {
			t := r.ExpirationTime.Time
			d.ExpirationTime = &t
		}
		out = append(out, d)
	}
	return out
}

func withParseTime(dsn string) string {
	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return dsn
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}

// Disabled is an empty inventory for deployments without platform DB access.
type Disabled struct{}

var _ adapter.DeviceInventory = Disabled{}

func (Disabled) ListDevices(context.Context, adapter.InventoryCursor, int) ([]adapter.InventoryDevice, error) {
	return nil, nil
}

func (Disabled) DeviceOwners(context.Context, int64) ([]adapter.InventoryDevice, error) {
	return nil, nil
}
