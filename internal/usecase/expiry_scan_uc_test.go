//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/adapter"
	"fleet-billing/internal/domain/ports/repository"
	"fleet-billing/internal/usecase"
)

func tp(t time.Time) *time.Time { return &t }

var scanNow = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

func inventoryFixture() *MockInventory {
	past, future := tp(scanNow.Add(-48*time.Hour)), tp(scanNow.Add(48*time.Hour))
	inv := &MockInventory{}
	// user 1 owns six devices, all expired
	for d := int64(1); d <= 6; d++ {
		inv.Rows = append(inv.Rows, adapter.InventoryDevice{UserID: 1, UserName: "Ali", UserPhone: "0912", DeviceID: d, DeviceName: "car", ExpirationTime: past})
	}
	inv.Rows = append(inv.Rows,
		adapter.InventoryDevice{UserID: 2, DeviceID: 10, ExpirationTime: future},
		adapter.InventoryDevice{UserID: 2, DeviceID: 11, ExpirationTime: tp(scanNow)},
	)
	return inv
}

func newScanUC(inv adapter.DeviceInventory, platform adapter.TrackingPlatform, devices repository.ExpiredDeviceRepository, users repository.ExpiredUserRepository) usecase.ExpiryScanUseCase {
	return usecase.NewExpiryScanUseCase(inv, platform, devices, users, usecase.ScanConfig{MaxDevicesPerUser: 4, PageSize: 3}, newTestLogger()).
		WithClock(func() time.Time { return scanNow })
}

func TestDetectExpiredDevices(t *testing.T) {
	ctx := context.Background()
	inv := inventoryFixture()
	devices := NewMockExpiredDeviceRepo()

	rep, err := newScanUC(inv, NewMockTrackingPlatform(), devices, NewMockExpiredUserRepo()).DetectExpiredDevices(ctx, usecase.ScanOptions{})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	// four of user 1 are kept by the cap; device 11 expires exactly now
	if rep.Scanned != 6 || rep.Expired != 5 || rep.Saved != 5 || rep.Capped != 2 || rep.Users != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if devices.Len() != 5 {
		t.Fatalf("rows = %d", devices.Len())
	}
	if _, err := devices.Find(ctx, nil, repository.DeviceKey{UserID: 2, DeviceID: 10}); err == nil {
		t.Error("non-expired device must not be shadowed")
	}
	if inv.Pages < 3 {
		t.Errorf("expected several pages, got %d", inv.Pages)
	}
}

func TestDetectExpiredDevices_KeepsFlagsAndHonoursDryRun(t *testing.T) {
	ctx := context.Background()
	devices := NewMockExpiredDeviceRepo()
	key := repository.DeviceKey{UserID: 1, DeviceID: 1}
	_ = devices.Upsert(ctx, nil, &model.ExpiredDevice{TraccarUserID: 1, TraccarDeviceID: 1})
	_, _ = devices.MarkMilestoneSent(ctx, nil, key, model.MilestoneExpireDay, scanNow)

	uc := newScanUC(inventoryFixture(), NewMockTrackingPlatform(), devices, NewMockExpiredUserRepo())
	if _, err := uc.DetectExpiredDevices(ctx, usecase.ScanOptions{DryRun: true}); err != nil {
		t.Fatal(err)
	}
	if devices.Len() != 1 {
		t.Fatalf("dry run wrote rows: %d", devices.Len())
	}

	if _, err := uc.DetectExpiredDevices(ctx, usecase.ScanOptions{}); err != nil {
		t.Fatal(err)
	}
	row, _ := devices.Find(ctx, nil, key)
	if !row.Milestones.ExpireDay.Sent || row.UserName != "Ali" {
		t.Fatalf("row = %+v", row)
	}
}

func TestDetectExpiredDevices_ForceDeviceAndItemErrors(t *testing.T) {
	ctx := context.Background()
	devices := NewMockExpiredDeviceRepo()
	calls := 0
	devices.UpsertFunc = func(ctx context.Context, tx repository.Tx, d *model.ExpiredDevice) error {
		calls++
		return errors.New("db down")
	}
	uc := newScanUC(inventoryFixture(), NewMockTrackingPlatform(), devices, NewMockExpiredUserRepo())

	rep, err := uc.DetectExpiredDevices(ctx, usecase.ScanOptions{ForceDeviceID: 3})
	if err != nil {
		t.Fatalf("per-item errors must not fail the pass: %v", err)
	}
	if calls != 1 || rep.Errors != 1 || rep.Scanned != 1 {
		t.Fatalf("report = %+v calls=%d", rep, calls)
	}
}

func TestDetectExpiredUsers(t *testing.T) {
	ctx := context.Background()
	platform := NewMockTrackingPlatform()
	platform.Users = []adapter.TrackingUser{
		{ID: 1, Name: "old", Phone: "0912", ExpirationTime: tp(scanNow.Add(-time.Hour))},
		{ID: 2, Name: "fresh", ExpirationTime: tp(scanNow.Add(time.Hour))},
		{ID: 3, Name: "forever"},
	}
	users := NewMockExpiredUserRepo()

	rep, err := newScanUC(&MockInventory{}, platform, NewMockExpiredDeviceRepo(), users).DetectExpiredUsers(ctx, usecase.ScanOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Scanned != 3 || rep.Expired != 1 || rep.Saved != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if u, err := users.Find(ctx, nil, 1); err != nil || u.Name != "old" || !u.DetectedAt.Equal(scanNow) {
		t.Fatalf("user row = %+v, %v", u, err)
	}
}
