//go:build !integration

package postgres

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/repository"
	red "fleet-billing/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

type mockInnerCatalogRepo struct {
	FindAccountChargeByIDFunc func(ctx context.Context, tx repository.Tx, id string) (*model.AccountCharge, error)
	FindAccountChargeFunc     func(ctx context.Context, tx repository.Tx, amount decimal.Decimal, period string) (*model.AccountCharge, error)
	FindServiceByIDFunc       func(ctx context.Context, tx repository.Tx, id string) (*model.Service, error)
	SaveAccountChargeFunc     func(ctx context.Context, tx repository.Tx, a *model.AccountCharge) error
}

func (m *mockInnerCatalogRepo) FindAccountChargeByID(ctx context.Context, tx repository.Tx, id string) (*model.AccountCharge, error) {
	return m.FindAccountChargeByIDFunc(ctx, tx, id)
}
func (m *mockInnerCatalogRepo) FindAccountCharge(ctx context.Context, tx repository.Tx, amount decimal.Decimal, period string) (*model.AccountCharge, error) {
	return m.FindAccountChargeFunc(ctx, tx, amount, period)
}
func (m *mockInnerCatalogRepo) FindServiceByID(ctx context.Context, tx repository.Tx, id string) (*model.Service, error) {
	return m.FindServiceByIDFunc(ctx, tx, id)
}
func (m *mockInnerCatalogRepo) SaveAccountCharge(ctx context.Context, tx repository.Tx, a *model.AccountCharge) error {
	return m.SaveAccountChargeFunc(ctx, tx, a)
}
func (m *mockInnerCatalogRepo) SaveService(ctx context.Context, tx repository.Tx, s *model.Service) error {
	return nil
}
func (m *mockInnerCatalogRepo) ListAccountCharges(ctx context.Context, tx repository.Tx) ([]*model.AccountCharge, error) {
	return nil, nil
}
func (m *mockInnerCatalogRepo) ListServices(ctx context.Context, tx repository.Tx) ([]*model.Service, error) {
	return nil, nil
}

// mockRedisClient implements red.RedisClient with overridable funcs.
type mockRedisClient struct {
	GetFunc func(ctx context.Context, key string) (string, error)
	SetFunc func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc func(ctx context.Context, keys ...string) error
}

var _ red.RedisClient = (*mockRedisClient)(nil)

func (m *mockRedisClient) Ping(ctx context.Context) error { return nil }
func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	return "", redis.Nil
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, expiration)
	}
	return nil
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	if m.DelFunc != nil {
		return m.DelFunc(ctx, keys...)
	}
	return nil
}
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) { return 1, nil }
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return nil
}
func (m *mockRedisClient) Close() error { return nil }
