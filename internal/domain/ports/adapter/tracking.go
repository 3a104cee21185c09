package adapter

import (
	"context"
	"fmt"
	"time"
)

// DeviceRecord is the full device document as returned by the tracking
// platform. Unknown fields are kept so a PUT can send the record back intact.
type DeviceRecord map[string]any

// TrackingUser is an account on the tracking platform.
type TrackingUser struct {
	ID             int64
	Name           string
	Email          string
	Phone          string
	Administrator  bool
	Disabled       bool
	ExpirationTime *time.Time
	DeviceLimit    int
	UserLimit      int
	Raw            map[string]any
}

// TrackingPlatform is the REST surface used to read and patch records.
type TrackingPlatform interface {
	GetDevice(ctx context.Context, id int64) (DeviceRecord, error)
	UpdateDevice(ctx context.Context, id int64, rec DeviceRecord) error
	ListUsers(ctx context.Context) ([]TrackingUser, error)
	GetUser(ctx context.Context, id int64) (map[string]any, error)
	UpdateUser(ctx context.Context, id int64, rec map[string]any) error
}

// InventoryDevice is one owner/device row of the bulk inventory.
type InventoryDevice struct {
	UserID         int64
	UserName       string
	UserEmail      string
	UserPhone      string
	UserDisabled   bool
	DeviceID       int64
	DeviceName     string
	UniqueID       string
	DevicePhone    string
	ExpirationTime *time.Time
	DeviceDisabled bool
	Status         string
}

// InventoryCursor is the keyset position after the last row read.
type InventoryCursor struct {
	UserID   int64
	DeviceID int64
}

// DeviceInventory reads the platform's device ownership in bulk. Rows are
// ordered by (user id, device id) and only carry devices with an expiration.
type DeviceInventory interface {
	ListDevices(ctx context.Context, after InventoryCursor, limit int) ([]InventoryDevice, error)
	DeviceOwners(ctx context.Context, deviceID int64) ([]InventoryDevice, error)
}

// TrackingError is a non-2xx or undecodable answer from the platform.
type TrackingError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TrackingError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("tracking %s: http %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("tracking %s: %v", e.Op, e.Err)
}

func (e *TrackingError) Unwrap() error { return e.Err }

// ExpirationLayout is the timestamp format the platform stores in expirationTime.
const ExpirationLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatExpiration renders t in UTC with millisecond precision.
func FormatExpiration(t time.Time) string { return t.UTC().Format(ExpirationLayout) }
