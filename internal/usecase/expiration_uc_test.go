//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleet-billing/internal/domain"
	"fleet-billing/internal/domain/ports/adapter"
	"fleet-billing/internal/usecase"
)

func TestExtendDevice_RebasesOnNow(t *testing.T) {
	ctx := context.Background()
	platform := NewMockTrackingPlatform()
	// still 200 days left on the device
	platform.Devices[7] = adapter.DeviceRecord{"id": float64(7), "expirationTime": "2025-07-20T00:00:00.000+00:00", "attributes": map[string]any{"speedLimit": 80}}
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	uc := usecase.NewExpirationUseCase(platform, newTestLogger()).WithClock(func() time.Time { return now })

	got, err := uc.ExtendDevice(ctx, 7, 30)
	if err != nil {
		t.Fatalf("ExtendDevice: %v", err)
	}
	want := now.Add(30 * 24 * time.Hour)
	if !got.Equal(want) {
		t.Fatalf("expiration = %s, want %s", got, want)
	}
	rec := platform.Devices[7]
	if rec["expirationTime"] != "2025-01-31T12:00:00.000Z" {
		t.Errorf("stored expiration = %v", rec["expirationTime"])
	}
	if _, ok := rec["attributes"]; !ok {
		t.Error("unrelated fields must survive the PUT")
	}
}

func TestExtendDevice_Errors(t *testing.T) {
	ctx := context.Background()
	platform := NewMockTrackingPlatform()
	uc := usecase.NewExpirationUseCase(platform, newTestLogger())

	if _, err := uc.ExtendDevice(ctx, 0, 30); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("zero id: %v", err)
	}

	_, err := uc.ExtendDevice(ctx, 99, 30)
	var se *usecase.ExpirationSyncError
	if !errors.As(err, &se) || se.Op != "get" || se.DeviceID != 99 {
		t.Fatalf("missing device: %v", err)
	}
	var te *adapter.TrackingError
	if !errors.As(err, &te) || te.StatusCode != 404 {
		t.Errorf("tracking error not wrapped: %v", err)
	}

	platform.Devices[5] = adapter.DeviceRecord{"id": float64(5)}
	platform.PutErr = errors.New("timeout")
	if _, err := uc.ExtendDevice(ctx, 5, 30); !errors.As(err, &se) || se.Op != "put" {
		t.Fatalf("put failure: %v", err)
	}
}

func TestExtendUser_RebasesOnNow(t *testing.T) {
	ctx := context.Background()
	platform := NewMockTrackingPlatform()
	platform.UserRecs[3] = map[string]any{"id": float64(3), "name": "Ali", "expirationTime": "2024-11-01T00:00:00.000+00:00", "deviceLimit": float64(4)}
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	uc := usecase.NewExpirationUseCase(platform, newTestLogger()).WithClock(func() time.Time { return now })

	got, err := uc.ExtendUser(ctx, 3, 90)
	if err != nil {
		t.Fatalf("ExtendUser: %v", err)
	}
	if want := now.Add(90 * 24 * time.Hour); !got.Equal(want) {
		t.Fatalf("expiration = %s, want %s", got, want)
	}
	rec := platform.UserRecs[3]
	if rec["expirationTime"] != "2025-04-01T12:00:00.000Z" {
		t.Errorf("stored expiration = %v", rec["expirationTime"])
	}
	if rec["deviceLimit"] != float64(4) || rec["name"] != "Ali" {
		t.Errorf("unrelated fields must survive the PUT: %v", rec)
	}
	if platform.PutCount() != 0 {
		t.Error("no device may be touched")
	}
}

func TestExtendUser_Errors(t *testing.T) {
	ctx := context.Background()
	platform := NewMockTrackingPlatform()
	uc := usecase.NewExpirationUseCase(platform, newTestLogger())

	if _, err := uc.ExtendUser(ctx, 0, 30); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("zero id: %v", err)
	}
	if _, err := uc.ExtendUser(ctx, 3, 0); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("zero days: %v", err)
	}

	_, err := uc.ExtendUser(ctx, 99, 30)
	var se *usecase.ExpirationSyncError
	if !errors.As(err, &se) || se.Op != "get" {
		t.Fatalf("missing user: %v", err)
	}

	platform.Users = []adapter.TrackingUser{{ID: 5, Name: "Sara"}}
	platform.PutErr = errors.New("timeout")
	if _, err := uc.ExtendUser(ctx, 5, 30); !errors.As(err, &se) || se.Op != "put" {
		t.Fatalf("put failure: %v", err)
	}
	if _, ok := platform.UserRecs[5]; ok {
		t.Error("failed PUT must not store the record")
	}
}
