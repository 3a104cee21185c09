//go:build !integration

package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/repository"
)

func TestCatalogCacheDecorator(t *testing.T) {
	ctx := context.Background()
	charge := &model.AccountCharge{ID: "ac-1", Period: "1m", Amount: decimal.NewFromInt(50000), DurationDays: 30}
	chargeJSON, _ := json.Marshal(charge)

	t.Run("FindAccountChargeByID should return from cache on hit", func(t *testing.T) {
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				return string(chargeJSON), nil
			},
		}
		innerCalled := false
		inner := &mockInnerCatalogRepo{
			FindAccountChargeByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.AccountCharge, error) {
				innerCalled = true
				return nil, nil
			},
		}

		got, err := NewCatalogCacheDecorator(inner, mockRedis, time.Minute).FindAccountChargeByID(ctx, nil, "ac-1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if innerCalled {
			t.Error("inner repository should not be called on a cache hit")
		}
		if got.ID != "ac-1" || !got.Amount.Equal(charge.Amount) {
			t.Errorf("unexpected charge from cache: %+v", got)
		}
	})

	t.Run("FindAccountCharge should load and store on miss", func(t *testing.T) {
		var storedKey string
		mockRedis := &mockRedisClient{
			SetFunc: func(ctx context.Context, key string, value interface{}, exp time.Duration) error {
				storedKey = key
				return nil
			},
		}
		inner := &mockInnerCatalogRepo{
			FindAccountChargeFunc: func(ctx context.Context, tx repository.Tx, amount decimal.Decimal, period string) (*model.AccountCharge, error) {
				return charge, nil
			},
		}

		got, err := NewCatalogCacheDecorator(inner, mockRedis, time.Minute).FindAccountCharge(ctx, nil, decimal.NewFromInt(50000), "1m")
		if err != nil || got.ID != "ac-1" {
			t.Fatalf("got %v, %v", got, err)
		}
		if storedKey != "catalog:ac:50000:1m" {
			t.Errorf("stored under %q", storedKey)
		}
	})

	t.Run("SaveAccountCharge should invalidate the amount/period key", func(t *testing.T) {
		var deleted []string
		mockRedis := &mockRedisClient{
			DelFunc: func(ctx context.Context, keys ...string) error {
				deleted = append(deleted, keys...)
				return nil
			},
		}
		inner := &mockInnerCatalogRepo{
			SaveAccountChargeFunc: func(ctx context.Context, tx repository.Tx, a *model.AccountCharge) error { return nil },
		}
		if err := NewCatalogCacheDecorator(inner, mockRedis, time.Minute).SaveAccountCharge(ctx, nil, charge); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if len(deleted) != 1 || deleted[0] != "catalog:ac:50000:1m" {
			t.Fatalf("deleted = %v", deleted)
		}
	})
}
