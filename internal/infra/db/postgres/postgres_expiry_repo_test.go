//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/repository"
)

func TestExpiredDeviceRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewExpiredDeviceRepo(testPool)
	key := repository.DeviceKey{UserID: 7, DeviceID: 99}
	exp := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	t.Run("upsert keeps milestone flags", func(t *testing.T) {
		cleanup(t)
		d := &model.ExpiredDevice{TraccarUserID: 7, TraccarDeviceID: 99, UserName: "ali", DeviceName: "car", ExpirationTime: exp, DetectedAt: time.Now()}
		if err := repo.Upsert(ctx, nil, d); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		ok, err := repo.MarkMilestoneSent(ctx, nil, key, model.MilestoneThreeDaysBefore, time.Now())
		if err != nil || !ok {
			t.Fatalf("Mark = %v, %v", ok, err)
		}
		again, _ := repo.MarkMilestoneSent(ctx, nil, key, model.MilestoneThreeDaysBefore, time.Now())
		if again {
			t.Fatal("flag must flip once")
		}

		d.DeviceName = "truck"
		if err := repo.Upsert(ctx, nil, d); err != nil {
			t.Fatalf("second Upsert: %v", err)
		}
		got, err := repo.Find(ctx, nil, key)
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if got.DeviceName != "truck" || !got.Milestones.ThreeDaysBefore.Sent {
			t.Fatalf("unexpected record: %+v", got)
		}

		many, err := repo.FindMany(ctx, nil, []repository.DeviceKey{key, {UserID: 1, DeviceID: 1}})
		if err != nil || len(many) != 1 {
			t.Fatalf("FindMany = %v, %v", many, err)
		}
	})

	t.Run("reset clears flags", func(t *testing.T) {
		cleanup(t)
		d := &model.ExpiredDevice{TraccarUserID: 7, TraccarDeviceID: 99, ExpirationTime: exp, DetectedAt: time.Now()}
		_ = repo.Upsert(ctx, nil, d)
		_, _ = repo.MarkMilestoneSent(ctx, nil, key, model.MilestoneExpireDay, time.Now())
		if err := repo.ResetMilestones(ctx, nil, key); err != nil {
			t.Fatalf("Reset: %v", err)
		}
		got, _ := repo.Find(ctx, nil, key)
		if got.Milestones.ExpireDay.Sent || got.Milestones.ExpireDay.SentAt != nil {
			t.Fatalf("flags not reset: %+v", got.Milestones)
		}
	})

	t.Run("retention purge", func(t *testing.T) {
		cleanup(t)
		_ = repo.Upsert(ctx, nil, &model.ExpiredDevice{TraccarUserID: 1, TraccarDeviceID: 1, ExpirationTime: exp, DetectedAt: time.Now().Add(-40 * 24 * time.Hour)})
		_ = repo.Upsert(ctx, nil, &model.ExpiredDevice{TraccarUserID: 1, TraccarDeviceID: 2, ExpirationTime: exp, DetectedAt: time.Now()})
		n, err := repo.DeleteDetectedBefore(ctx, nil, time.Now().Add(-30*24*time.Hour))
		if err != nil || n != 1 {
			t.Fatalf("purged = %d, %v", n, err)
		}
	})
}

func TestExpiredUserRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewExpiredUserRepo(testPool)
	cleanup(t)

	u := &model.ExpiredUser{TraccarUserID: 3, Name: "reseller", Phone: "0935", ExpirationTime: time.Now().Add(-time.Hour), DetectedAt: time.Now()}
	if err := repo.Ensure(ctx, nil, u); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	ok, err := repo.MarkMilestoneSent(ctx, nil, 3, model.MilestoneExpireDay, time.Now())
	if err != nil || !ok {
		t.Fatalf("Mark = %v, %v", ok, err)
	}
	got, err := repo.FindMany(ctx, nil, []int64{3, 4})
	if err != nil || len(got) != 1 || !got[3].Milestones.ExpireDay.Sent {
		t.Fatalf("FindMany = %v, %v", got, err)
	}
}
